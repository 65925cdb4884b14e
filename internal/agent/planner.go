package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arjun/sherpa/internal/action"
	"github.com/arjun/sherpa/internal/device"
	"github.com/arjun/sherpa/internal/observability"
	"github.com/arjun/sherpa/internal/oracle"
	"github.com/arjun/sherpa/internal/plan"
)

// ProgressDecision is the planner's advisory verdict on a running plan.
type ProgressDecision string

const (
	ProgressContinue ProgressDecision = "continue"
	ProgressAdvance  ProgressDecision = "advance"
	ProgressRetry    ProgressDecision = "retry"
	ProgressReplan   ProgressDecision = "replan"
	ProgressComplete ProgressDecision = "complete"
	ProgressFail     ProgressDecision = "fail"
)

// Planner turns a goal into an ordered subgoal plan via one oracle call.
// It performs no internal retries: a malformed oracle response is returned
// to the caller as a recoverable parse error.
type Planner struct {
	Oracle         oracle.Oracle
	Prompts        *PromptManager
	Logger         *observability.Logger
	SnapshotBudget int
	MaxAttempts    int
}

func NewPlanner(o oracle.Oracle, prompts *PromptManager, logger *observability.Logger) *Planner {
	return &Planner{
		Oracle:         o,
		Prompts:        prompts,
		Logger:         logger,
		SnapshotBudget: 6000,
		MaxAttempts:    plan.DefaultMaxAttempts,
	}
}

// planResponse is the expected oracle output for CreatePlan.
type planResponse struct {
	Reasoning string   `json:"reasoning"`
	Subgoals  []string `json:"subgoals"`
}

// CreatePlan decomposes the goal into an ExecutionPlan, all subgoals
// pending in response order. The snapshot is optional context.
func (p *Planner) CreatePlan(ctx context.Context, goal string, snap *device.Snapshot) (*plan.ExecutionPlan, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "GOAL: %s\n", goal)
	if snap != nil {
		fmt.Fprintf(&user, "\nCURRENT UI STATE:\n%s", snap.Render(p.SnapshotBudget))
	}

	raw, err := p.Oracle.Decide(ctx, p.Prompts.PlannerPrompt(), user.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("plan decomposition: %w", err)
	}
	p.Logger.LogLLM(user.String(), raw)

	payload := action.ExtractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("plan decomposition: no JSON object in oracle output")
	}
	var resp planResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("plan decomposition: %w", err)
	}
	if len(resp.Subgoals) == 0 {
		return nil, fmt.Errorf("plan decomposition: oracle returned no subgoals")
	}

	ep := plan.New(goal, resp.Reasoning, resp.Subgoals)
	if p.MaxAttempts > 0 {
		for i := range ep.Subgoals {
			ep.Subgoals[i].MaxAttempts = p.MaxAttempts
		}
	}
	return ep, nil
}

// progressResponse is the expected oracle output for EvaluateProgress.
type progressResponse struct {
	Decision  string `json:"decision"`
	Reasoning string `json:"reasoning"`
}

var validProgress = map[ProgressDecision]bool{
	ProgressContinue: true,
	ProgressAdvance:  true,
	ProgressRetry:    true,
	ProgressReplan:   true,
	ProgressComplete: true,
	ProgressFail:     true,
}

// EvaluateProgress asks the oracle how the run should proceed. The verdict
// is advisory only; the orchestrator decides whether and how to act on it.
// A malformed response degrades to continue.
func (p *Planner) EvaluateProgress(ctx context.Context, ep *plan.ExecutionPlan, history []string, snap *device.Snapshot) (ProgressDecision, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "GOAL: %s\n\nPLAN:\n%s", ep.Goal, ep.Summary())
	if len(history) > 0 {
		fmt.Fprintf(&user, "\nRECENT HISTORY:\n%s\n", strings.Join(history, "\n"))
	}
	if snap != nil {
		fmt.Fprintf(&user, "\nCURRENT UI STATE:\n%s", snap.Render(p.SnapshotBudget))
	}

	raw, err := p.Oracle.Decide(ctx, p.Prompts.ProgressPrompt(), user.String(), nil)
	if err != nil {
		return ProgressContinue, fmt.Errorf("progress evaluation: %w", err)
	}

	payload := action.ExtractJSON(raw)
	if payload == "" {
		return ProgressContinue, nil
	}
	var resp progressResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return ProgressContinue, nil
	}
	d := ProgressDecision(strings.ToLower(strings.TrimSpace(resp.Decision)))
	if !validProgress[d] {
		return ProgressContinue, nil
	}
	return d, nil
}
