package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjun/sherpa/internal/plan"
)

func TestCreatePlan(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: `{"reasoning": "settings flow", "subgoals": ["open settings", "open wifi", "enable wifi"]}`},
	}}
	p := NewPlanner(o, NewPromptManager(""), nil)

	ep, err := p.CreatePlan(context.Background(), "enable wifi", settingsSnapshot())
	require.NoError(t, err)

	assert.Equal(t, "enable wifi", ep.Goal)
	assert.Equal(t, "settings flow", ep.Reasoning)
	require.Len(t, ep.Subgoals, 3)
	assert.Equal(t, "open settings", ep.Subgoals[0].Description)
	for _, sg := range ep.Subgoals {
		assert.Equal(t, plan.StatusPending, sg.Status)
		assert.Equal(t, plan.DefaultMaxAttempts, sg.MaxAttempts)
	}

	// One oracle call; the user prompt carries the goal and the UI state.
	require.Len(t, o.calls, 1)
	assert.Contains(t, o.calls[0].user, "GOAL: enable wifi")
	assert.Contains(t, o.calls[0].user, "CURRENT UI STATE:")
	assert.Contains(t, o.calls[0].user, "Wi-Fi")
	assert.Nil(t, o.calls[0].image)
}

func TestCreatePlanFencedResponse(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{
		{resp: "```json\n{\"reasoning\": \"r\", \"subgoals\": [\"only step\"]}\n```"},
	}}
	p := NewPlanner(o, NewPromptManager(""), nil)

	ep, err := p.CreatePlan(context.Background(), "g", nil)
	require.NoError(t, err)
	require.Len(t, ep.Subgoals, 1)
}

func TestCreatePlanErrors(t *testing.T) {
	cases := map[string]oracleTurn{
		"oracle unavailable": {err: fmt.Errorf("timeout")},
		"no json":            {resp: "I cannot plan this."},
		"broken json":        {resp: `{"subgoals": [`},
		"empty subgoals":     {resp: `{"reasoning": "r", "subgoals": []}`},
	}
	for name, turn := range cases {
		t.Run(name, func(t *testing.T) {
			o := &fakeOracle{script: []oracleTurn{turn}}
			p := NewPlanner(o, NewPromptManager(""), nil)

			_, err := p.CreatePlan(context.Background(), "g", nil)
			assert.Error(t, err)
			// No internal retries.
			assert.Len(t, o.calls, 1)
		})
	}
}

func TestEvaluateProgress(t *testing.T) {
	for _, want := range []ProgressDecision{
		ProgressContinue, ProgressAdvance, ProgressRetry,
		ProgressReplan, ProgressComplete, ProgressFail,
	} {
		o := &fakeOracle{script: []oracleTurn{
			{resp: fmt.Sprintf(`{"decision": "%s", "reasoning": "r"}`, want)},
		}}
		p := NewPlanner(o, NewPromptManager(""), nil)
		ep := plan.New("g", "", []string{"a", "b"})

		got, err := p.EvaluateProgress(context.Background(), ep, []string{"step 1: wait -> success"}, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEvaluateProgressNormalizesCase(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{{resp: `{"decision": " Advance "}`}}}
	p := NewPlanner(o, NewPromptManager(""), nil)

	got, err := p.EvaluateProgress(context.Background(), plan.New("g", "", []string{"a"}), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ProgressAdvance, got)
}

func TestEvaluateProgressDegradesToContinue(t *testing.T) {
	for name, resp := range map[string]string{
		"no json":          "everything looks fine to me",
		"broken json":      `{"decision":`,
		"unknown decision": `{"decision": "pivot"}`,
	} {
		t.Run(name, func(t *testing.T) {
			o := &fakeOracle{script: []oracleTurn{{resp: resp}}}
			p := NewPlanner(o, NewPromptManager(""), nil)

			got, err := p.EvaluateProgress(context.Background(), plan.New("g", "", []string{"a"}), nil, nil)
			require.NoError(t, err)
			assert.Equal(t, ProgressContinue, got)
		})
	}
}

func TestEvaluateProgressOracleError(t *testing.T) {
	o := &fakeOracle{script: []oracleTurn{{err: fmt.Errorf("timeout")}}}
	p := NewPlanner(o, NewPromptManager(""), nil)

	got, err := p.EvaluateProgress(context.Background(), plan.New("g", "", []string{"a"}), nil, nil)
	assert.Error(t, err)
	assert.Equal(t, ProgressContinue, got)
}
