package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/arjun/sherpa/internal/device"
	"github.com/arjun/sherpa/internal/observability"
	"github.com/arjun/sherpa/internal/plan"
	"github.com/arjun/sherpa/internal/trajectory"
)

// RecordSink receives the trajectory at terminal points.
type RecordSink interface {
	Persist(ctx context.Context, t *trajectory.Trajectory) (string, error)
}

// EvidenceStore persists per-step evidence blobs and returns a reference.
type EvidenceStore interface {
	SaveEvidence(runID string, seq int, data []byte) (string, error)
}

// ExecutionResult is the final, immutable output of one run.
type ExecutionResult struct {
	Success     bool
	Message     string
	StepResults []string
	TotalSteps  int
	Elapsed     time.Duration
	Evidence    []string
	Err         error
}

// Options are the orchestrator's run budgets and pacing knobs.
type Options struct {
	// MaxSteps is the global step budget for the whole run.
	MaxSteps int
	// MaxStepsPerSubgoal caps raw steps spent on one subgoal before it is
	// marked failed. Independent of the subgoal's failure-attempt budget.
	MaxStepsPerSubgoal int
	// HistoryWindow is how many recent steps the step prompt carries.
	HistoryWindow int
	// StepDelay is the fixed pause applied after every step.
	StepDelay time.Duration
	// EvaluateEvery enables the advisory progress evaluation at subgoal
	// boundaries when > 0. Zero leaves the base loop untouched.
	EvaluateEvery int
}

// Orchestrator owns one run: it creates the plan, drives the subgoal and
// step loops under the three budgets, owns the trajectory and produces the
// final result. One orchestrator instance per run.
type Orchestrator struct {
	Planner   *Planner
	Executor  *StepExecutor
	Snapshots device.SnapshotProvider
	Sink      RecordSink
	Evidence  EvidenceStore
	Logger    *observability.Logger
	Progress  func(observability.RunStatus)
	Options   Options
}

// Run executes the goal to one of exactly three terminal classifications:
// success (plan complete), failed (a subgoal exhausted its attempts) or
// budget exhausted. The trajectory is persisted on every terminal path,
// including the error boundary.
func (o *Orchestrator) Run(ctx context.Context, goal string) *ExecutionResult {
	traj := trajectory.New(goal)
	start := time.Now()

	result, err := o.run(ctx, goal, traj)
	if err != nil {
		// The single outer error boundary: snapshot capture, plan creation
		// or any other escaping fault lands here exactly once.
		msg := fmt.Sprintf("run aborted by internal error: %v", err)
		traj.Finish(false, msg)
		result = &ExecutionResult{
			Success:     false,
			Message:     msg,
			StepResults: stepResults(traj),
			TotalSteps:  len(traj.Steps),
			Evidence:    traj.EvidenceRefs(),
			Err:         err,
		}
	}
	result.Elapsed = time.Since(start)

	o.persist(ctx, traj)
	o.Logger.LogRun(traj.RunID, outcomeLabel(result), result.Message, result.TotalSteps)
	return result
}

func (o *Orchestrator) run(ctx context.Context, goal string, traj *trajectory.Trajectory) (*ExecutionResult, error) {
	if o.Options.MaxSteps <= 0 {
		msg := "step budget exhausted before any action was taken"
		traj.Finish(false, msg)
		return &ExecutionResult{Success: false, Message: msg}, nil
	}

	planSnap, err := o.Snapshots.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}
	traj.Session["app"] = planSnap.App

	p, err := o.Planner.CreatePlan(ctx, goal, planSnap)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	o.Logger.LogPlan(traj.RunID, goal, subgoalDescriptions(p), p.Reasoning)

	globalSteps := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run cancelled: %w", err)
		}

		sg := p.CurrentSubgoal()
		if sg == nil {
			break
		}

		if o.Options.EvaluateEvery > 0 && globalSteps > 0 && globalSteps%o.Options.EvaluateEvery == 0 {
			o.applyProgressAdvice(ctx, p, traj, planSnap)
			// A fail verdict ends the run; re-checking advice on a failed
			// plan would loop without consuming any budget.
			if p.HasFailed() {
				break
			}
			if sg = p.CurrentSubgoal(); sg == nil {
				break
			}
		}

		p.MarkCurrentInProgress()
		o.report(goal, p, sg, globalSteps)

		stepsOnSubgoal := 0
		for {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("run cancelled: %w", err)
			}
			if globalSteps >= o.Options.MaxSteps {
				msg := fmt.Sprintf("step budget exhausted after %d steps (%d/%d subgoals done)",
					globalSteps, p.CompletedCount(), len(p.Subgoals))
				traj.Finish(false, msg)
				return &ExecutionResult{
					Success:     false,
					Message:     msg,
					StepResults: stepResults(traj),
					TotalSteps:  globalSteps,
					Evidence:    traj.EvidenceRefs(),
				}, nil
			}
			if o.Options.MaxStepsPerSubgoal > 0 && stepsOnSubgoal >= o.Options.MaxStepsPerSubgoal {
				p.MarkCurrentFailed(fmt.Sprintf("subgoal step ceiling (%d) exhausted", o.Options.MaxStepsPerSubgoal))
				break
			}

			snap, err := o.Snapshots.Snapshot(ctx)
			if err != nil {
				return nil, fmt.Errorf("snapshot before step %d: %w", globalSteps+1, err)
			}
			planSnap = snap
			evidence := o.captureEvidence(ctx)

			history := traj.RecentHistory(o.Options.HistoryWindow)
			outcome := o.Executor.ExecuteStep(ctx, sg.Description, snap, evidence, history)

			seq := traj.AddStep(string(outcome.Decision.Kind), outcome.Decision.EncodeParams(), outcome.Decision.Rationale)
			o.Logger.LogAction(traj.RunID, sg.ID, string(outcome.Decision.Kind), outcome.Decision.EncodeParams(), outcome.Decision.Rationale)
			evidenceRef := o.saveEvidence(traj, seq, evidence)
			status := trajectory.StepSuccess
			errText := ""
			if !outcome.Success {
				status = trajectory.StepFailed
				if outcome.Err != nil {
					errText = outcome.Err.Error()
				}
			}
			traj.FinishStep(seq, status, outcome.Message, errText, evidenceRef)

			globalSteps++
			stepsOnSubgoal++
			o.Logger.LogStep(traj.RunID, sg.ID, seq, string(outcome.Decision.Kind), status, outcome.Message)
			o.report(goal, p, sg, globalSteps)

			if outcome.SubgoalComplete {
				p.MarkCurrentCompleted(outcome.Message)
				o.delay(ctx)
				break
			}
			if !outcome.Success {
				if p.RecordAttempt(outcome.Message) {
					o.delay(ctx)
					break
				}
			}
			o.delay(ctx)
		}

		if p.HasFailed() {
			break
		}
	}

	// Exactly one terminal classification.
	switch {
	case p.IsComplete():
		msg := fmt.Sprintf("goal achieved in %d steps", globalSteps)
		traj.Finish(true, msg)
		return &ExecutionResult{
			Success:     true,
			Message:     msg,
			StepResults: stepResults(traj),
			TotalSteps:  globalSteps,
			Evidence:    traj.EvidenceRefs(),
		}, nil
	case p.HasFailed():
		msg := fmt.Sprintf("plan failed: %s", failedSubgoalSummary(p))
		traj.Finish(false, msg)
		return &ExecutionResult{
			Success:     false,
			Message:     msg,
			StepResults: stepResults(traj),
			TotalSteps:  globalSteps,
			Evidence:    traj.EvidenceRefs(),
		}, nil
	default:
		msg := fmt.Sprintf("step budget exhausted after %d steps (%d/%d subgoals done)",
			globalSteps, p.CompletedCount(), len(p.Subgoals))
		traj.Finish(false, msg)
		return &ExecutionResult{
			Success:     false,
			Message:     msg,
			StepResults: stepResults(traj),
			TotalSteps:  globalSteps,
			Evidence:    traj.EvidenceRefs(),
		}, nil
	}
}

// applyProgressAdvice translates the planner's advisory verdict into plan
// transitions. Unsupported verdicts (retry, replan) and continue leave the
// plan untouched.
func (o *Orchestrator) applyProgressAdvice(ctx context.Context, p *plan.ExecutionPlan, traj *trajectory.Trajectory, snap *device.Snapshot) {
	decision, err := o.Planner.EvaluateProgress(ctx, p, traj.RecentHistory(o.Options.HistoryWindow), snap)
	if err != nil {
		return
	}
	switch decision {
	case ProgressComplete:
		p.MarkCurrentCompleted("judged complete by progress evaluation")
	case ProgressFail:
		p.MarkCurrentFailed("judged unrecoverable by progress evaluation")
	case ProgressAdvance:
		p.SkipCurrent("skipped by progress evaluation")
	}
}

// captureEvidence takes a screenshot; evidence is best-effort and never
// aborts the run.
func (o *Orchestrator) captureEvidence(ctx context.Context) []byte {
	if o.Snapshots == nil {
		return nil
	}
	data, err := o.Snapshots.CaptureEvidence(ctx)
	if err != nil {
		return nil
	}
	return data
}

func (o *Orchestrator) saveEvidence(traj *trajectory.Trajectory, seq int, data []byte) string {
	if o.Evidence == nil || len(data) == 0 {
		return ""
	}
	ref, err := o.Evidence.SaveEvidence(traj.RunID, seq, data)
	if err != nil {
		return ""
	}
	return ref
}

func (o *Orchestrator) delay(ctx context.Context) {
	if o.Options.StepDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(o.Options.StepDelay):
	}
}

// persist hands the trajectory to the sink; persistence failures are logged,
// not raised, because every caller is already on a terminal path.
func (o *Orchestrator) persist(ctx context.Context, traj *trajectory.Trajectory) {
	if o.Sink == nil {
		return
	}
	if _, err := o.Sink.Persist(ctx, traj); err != nil {
		o.Logger.Log(observability.Event{
			Type:  observability.EventTypeRun,
			RunID: traj.RunID,
			Data:  map[string]string{"persist_error": err.Error()},
		})
	}
}

func (o *Orchestrator) report(goal string, p *plan.ExecutionPlan, sg *plan.Subgoal, steps int) {
	if o.Progress == nil {
		return
	}
	o.Progress(observability.RunStatus{
		Goal:         goal,
		Subgoal:      sg.Description,
		SubgoalIndex: sg.ID,
		SubgoalCount: len(p.Subgoals),
		Step:         steps,
		MaxSteps:     o.Options.MaxSteps,
	})
}

func subgoalDescriptions(p *plan.ExecutionPlan) []string {
	out := make([]string, len(p.Subgoals))
	for i := range p.Subgoals {
		out[i] = p.Subgoals[i].Description
	}
	return out
}

func stepResults(traj *trajectory.Trajectory) []string {
	var out []string
	for _, st := range traj.Steps {
		out = append(out, fmt.Sprintf("step %d: %s [%s] %s", st.Seq, st.Kind, st.Status, st.Result))
	}
	return out
}

func failedSubgoalSummary(p *plan.ExecutionPlan) string {
	for i := range p.Subgoals {
		sg := &p.Subgoals[i]
		if sg.Status == plan.StatusFailed {
			return fmt.Sprintf("subgoal %d (%s) failed after %d attempts: %s",
				sg.ID, sg.Description, sg.Attempts, sg.Result)
		}
	}
	return "a subgoal failed"
}

func outcomeLabel(r *ExecutionResult) string {
	if r.Success {
		return "success"
	}
	if r.Err != nil {
		return "error"
	}
	return "failed"
}
