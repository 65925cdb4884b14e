package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjun/sherpa/internal/observability"
	"github.com/arjun/sherpa/internal/trajectory"
)

func newTestOrchestrator(o *fakeOracle, act *fakeActuator, snaps *fakeSnapshots, sink *memSink, opts Options) *Orchestrator {
	prompts := NewPromptManager("")
	return &Orchestrator{
		Planner:   NewPlanner(o, prompts, nil),
		Executor:  NewStepExecutor(o, act, prompts, nil),
		Snapshots: snaps,
		Sink:      sink,
		Options:   opts,
	}
}

func defaultOptions() Options {
	return Options{MaxSteps: 30, MaxStepsPerSubgoal: 8, HistoryWindow: 5}
}

const wifiPlan = `{"reasoning": "settings flow", "subgoals": ["open wifi settings", "enable wifi"]}`

func TestRunCompletesPlan(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: wifiPlan},
		{resp: `{"action":"tap_by_index","params":{"index":2},"reasoning":"the Wi-Fi row"}`},
		{resp: `{"action":"complete","params":{"message":"wifi screen open"}}`},
		{resp: `{"action":"complete","params":{"message":"wifi enabled"}}`},
	}}
	act := &fakeActuator{}
	snaps := &fakeSnapshots{snap: settingsSnapshot(), evidence: []byte("png")}
	sink := &memSink{}
	evidence := &memEvidence{}

	orch := newTestOrchestrator(o, act, snaps, sink, defaultOptions())
	orch.Evidence = evidence

	result := orch.Run(context.Background(), "enable wifi")

	assert.True(t, result.Success)
	assert.NoError(t, result.Err)
	assert.Equal(t, "goal achieved in 3 steps", result.Message)
	assert.Equal(t, 3, result.TotalSteps)
	assert.Equal(t, []string{"tap_by_index(2)"}, act.calls)

	traj := sink.last()
	require.NotNil(t, traj)
	assert.True(t, traj.Finished())
	assert.True(t, traj.Success)
	assert.Equal(t, "com.android.settings", traj.Session["app"])
	require.Len(t, traj.Steps, 3)
	assert.Equal(t, "tap_by_index", traj.Steps[0].Kind)
	assert.Equal(t, trajectory.StepSuccess, traj.Steps[0].Status)
	assert.Equal(t, "complete", traj.Steps[2].Kind)

	// Every step captured evidence.
	assert.Len(t, evidence.saved, 3)
	assert.Len(t, result.Evidence, 3)
}

func TestRunFailsAfterAttemptBudget(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: `{"reasoning": "r", "subgoals": ["open settings", "open wifi", "enable wifi"]}`},
		{resp: `{"action":"tap_by_index","params":{"index":1}}`},
	}}
	act := &fakeActuator{err: fmt.Errorf("element 1 not found")}
	sink := &memSink{}

	orch := newTestOrchestrator(o, act, &fakeSnapshots{snap: settingsSnapshot()}, sink, defaultOptions())

	result := orch.Run(context.Background(), "enable wifi")

	assert.False(t, result.Success)
	assert.NoError(t, result.Err)
	assert.Contains(t, result.Message, "plan failed: subgoal 1")
	assert.Contains(t, result.Message, "failed after 3 attempts")
	assert.Equal(t, 3, result.TotalSteps)

	traj := sink.last()
	require.NotNil(t, traj)
	assert.True(t, traj.Finished())
	assert.False(t, traj.Success)
	require.Len(t, traj.Steps, 3)
	for _, st := range traj.Steps {
		assert.Equal(t, trajectory.StepFailed, st.Status)
		assert.Equal(t, "element 1 not found", st.Error)
	}
}

func TestRunLaterSubgoalsUntouchedAfterFailure(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: `{"reasoning": "r", "subgoals": ["a", "b", "c"]}`},
		{resp: `{"action":"back","params":{}}`},
	}}
	act := &fakeActuator{err: fmt.Errorf("device gone")}

	orch := newTestOrchestrator(o, act, &fakeSnapshots{snap: settingsSnapshot()}, &memSink{}, defaultOptions())
	orch.Run(context.Background(), "g")

	// Only the first subgoal was ever driven: 1 plan call + 3 step calls.
	assert.Len(t, o.calls, 4)
	assert.Len(t, act.calls, 3)
}

func TestRunZeroStepBudget(t *testing.T) {
	o := &fakeOracle{}
	sink := &memSink{}

	orch := newTestOrchestrator(o, &fakeActuator{}, &fakeSnapshots{snap: settingsSnapshot()}, sink, Options{MaxSteps: 0})

	result := orch.Run(context.Background(), "enable wifi")

	assert.False(t, result.Success)
	assert.NoError(t, result.Err)
	assert.Contains(t, result.Message, "step budget exhausted")
	assert.Zero(t, result.TotalSteps)
	assert.Empty(t, o.calls)

	traj := sink.last()
	require.NotNil(t, traj)
	assert.True(t, traj.Finished())
	assert.Empty(t, traj.Steps)
}

func TestRunBudgetExhaustedMidPlan(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: `{"reasoning": "r", "subgoals": ["never finishes"]}`},
		{resp: `{"action":"scroll_down","params":{}}`},
	}}
	sink := &memSink{}

	orch := newTestOrchestrator(o, &fakeActuator{}, &fakeSnapshots{snap: settingsSnapshot()}, sink,
		Options{MaxSteps: 2, MaxStepsPerSubgoal: 0, HistoryWindow: 5})

	result := orch.Run(context.Background(), "g")

	assert.False(t, result.Success)
	assert.NoError(t, result.Err)
	assert.Equal(t, "step budget exhausted after 2 steps (0/1 subgoals done)", result.Message)
	assert.Equal(t, 2, result.TotalSteps)
	assert.True(t, sink.last().Finished())
}

func TestRunSubgoalStepCeiling(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: `{"reasoning": "r", "subgoals": ["never finishes"]}`},
		{resp: `{"action":"scroll_down","params":{}}`},
	}}

	orch := newTestOrchestrator(o, &fakeActuator{}, &fakeSnapshots{snap: settingsSnapshot()}, &memSink{},
		Options{MaxSteps: 30, MaxStepsPerSubgoal: 2, HistoryWindow: 5})

	result := orch.Run(context.Background(), "g")

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "plan failed")
	assert.Contains(t, result.Message, "subgoal step ceiling (2) exhausted")
	assert.Equal(t, 2, result.TotalSteps)
}

func TestRunGarbageOracleOutputContinues(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: `{"reasoning": "r", "subgoals": ["only step"]}`},
		{resp: "I am not sure what to do here."},
		{resp: `{"action":"complete","params":{"message":"done"}}`},
	}}
	sink := &memSink{}

	orch := newTestOrchestrator(o, &fakeActuator{}, &fakeSnapshots{snap: settingsSnapshot()}, sink, defaultOptions())

	result := orch.Run(context.Background(), "g")

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TotalSteps)

	traj := sink.last()
	require.Len(t, traj.Steps, 2)
	// The unusable output degraded to a recorded wait step, not an abort.
	assert.Equal(t, "wait", traj.Steps[0].Kind)
	assert.Equal(t, trajectory.StepSuccess, traj.Steps[0].Status)
}

func TestRunInitialSnapshotFailure(t *testing.T) {
	o := &fakeOracle{}
	sink := &memSink{}
	snaps := &fakeSnapshots{snapErr: fmt.Errorf("no device attached")}

	orch := newTestOrchestrator(o, &fakeActuator{}, snaps, sink, defaultOptions())

	result := orch.Run(context.Background(), "g")

	assert.False(t, result.Success)
	require.Error(t, result.Err)
	assert.Contains(t, result.Message, "run aborted by internal error")
	assert.Contains(t, result.Message, "initial snapshot")
	assert.Empty(t, o.calls)

	traj := sink.last()
	require.NotNil(t, traj)
	assert.True(t, traj.Finished())
	assert.False(t, traj.Success)
}

func TestRunMidRunSnapshotFailurePersistsPartialRecord(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: `{"reasoning": "r", "subgoals": ["a", "b"]}`},
		{resp: `{"action":"tap_by_index","params":{"index":1}}`},
	}}
	sink := &memSink{}
	// Plan snapshot and the first step snapshot succeed, the next one fails.
	snaps := &fakeSnapshots{snap: settingsSnapshot(), failAfter: 2}

	orch := newTestOrchestrator(o, &fakeActuator{}, snaps, sink, defaultOptions())

	result := orch.Run(context.Background(), "g")

	assert.False(t, result.Success)
	require.Error(t, result.Err)
	assert.Contains(t, result.Message, "run aborted by internal error")
	assert.Contains(t, result.Err.Error(), "snapshot before step 2")

	traj := sink.last()
	require.NotNil(t, traj)
	assert.True(t, traj.Finished())
	require.Len(t, traj.Steps, 1)
	assert.Equal(t, "tap_by_index", traj.Steps[0].Kind)
}

func TestRunPlanCreationFailure(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{{resp: "no plan for you"}}}
	sink := &memSink{}

	orch := newTestOrchestrator(o, &fakeActuator{}, &fakeSnapshots{snap: settingsSnapshot()}, sink, defaultOptions())

	result := orch.Run(context.Background(), "g")

	assert.False(t, result.Success)
	require.Error(t, result.Err)
	assert.Contains(t, result.Message, "run aborted by internal error")
	assert.Contains(t, result.Err.Error(), "create plan")
	assert.True(t, sink.last().Finished())
}

func TestRunCancelled(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{{resp: wifiPlan}}}
	sink := &memSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := newTestOrchestrator(o, &fakeActuator{}, &fakeSnapshots{snap: settingsSnapshot()}, sink, defaultOptions())
	result := orch.Run(ctx, "g")

	assert.False(t, result.Success)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "run cancelled")
	assert.True(t, sink.last().Finished())
}

func TestRunProgressAdviceCompletesRemainingSubgoal(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: wifiPlan},
		{resp: `{"action":"complete","params":{"message":"wifi screen open"}}`},
		{resp: `{"decision": "complete", "reasoning": "the toggle is already on"}`},
	}}
	sink := &memSink{}

	opts := defaultOptions()
	opts.EvaluateEvery = 1
	orch := newTestOrchestrator(o, &fakeActuator{}, &fakeSnapshots{snap: settingsSnapshot()}, sink, opts)

	result := orch.Run(context.Background(), "enable wifi")

	assert.True(t, result.Success)
	assert.Equal(t, "goal achieved in 1 steps", result.Message)
	assert.Len(t, o.calls, 3)
}

func TestRunProgressAdviceSkipsSubgoal(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: wifiPlan},
		{resp: `{"action":"complete","params":{"message":"wifi screen open"}}`},
		{resp: `{"decision": "advance"}`},
	}}

	opts := defaultOptions()
	opts.EvaluateEvery = 1
	orch := newTestOrchestrator(o, &fakeActuator{}, &fakeSnapshots{snap: settingsSnapshot()}, &memSink{}, opts)

	result := orch.Run(context.Background(), "enable wifi")

	// A skipped subgoal counts as done.
	assert.True(t, result.Success)
}

func TestRunProgressAdviceFailVerdictTerminates(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: `{"reasoning": "r", "subgoals": ["open settings", "open wifi", "enable wifi"]}`},
		{resp: `{"action":"complete","params":{"message":"settings open"}}`},
		{resp: `{"decision": "fail", "reasoning": "the device rebooted"}`},
		// Any further evaluation would see this verdict endlessly.
		{resp: `{"decision": "continue"}`},
	}}
	sink := &memSink{}

	opts := defaultOptions()
	opts.EvaluateEvery = 1
	orch := newTestOrchestrator(o, &fakeActuator{}, &fakeSnapshots{snap: settingsSnapshot()}, sink, opts)

	result := orch.Run(context.Background(), "enable wifi")

	assert.False(t, result.Success)
	assert.NoError(t, result.Err)
	assert.Contains(t, result.Message, "plan failed: subgoal 2")
	assert.Contains(t, result.Message, "judged unrecoverable by progress evaluation")
	// No oracle calls after the fail verdict: plan + step + one evaluation.
	assert.Len(t, o.calls, 3)
	assert.Equal(t, 1, result.TotalSteps)
	assert.True(t, sink.last().Finished())
}

func TestRunReportsProgress(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: `{"reasoning": "r", "subgoals": ["only step"]}`},
		{resp: `{"action":"complete","params":{"message":"done"}}`},
	}}

	orch := newTestOrchestrator(o, &fakeActuator{}, &fakeSnapshots{snap: settingsSnapshot()}, &memSink{}, defaultOptions())

	var statuses []observability.RunStatus
	orch.Progress = func(s observability.RunStatus) { statuses = append(statuses, s) }

	result := orch.Run(context.Background(), "g")
	require.True(t, result.Success)
	require.NotEmpty(t, statuses)
	last := statuses[len(statuses)-1]
	assert.Equal(t, 1, last.Step)
	assert.Equal(t, "only step", last.Subgoal)
	assert.Equal(t, 1, last.SubgoalCount)
}
