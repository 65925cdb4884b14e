package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arjun/sherpa/internal/action"
	"github.com/arjun/sherpa/internal/device"
	"github.com/arjun/sherpa/internal/governance"
	"github.com/arjun/sherpa/internal/observability"
	"github.com/arjun/sherpa/internal/oracle"
)

// StepOutcome classifies one executed step.
type StepOutcome struct {
	Decision        action.Decision
	Success         bool
	Message         string
	Err             error
	SubgoalComplete bool
}

// StepExecutor obtains one action decision per step and dispatches it to
// the actuator. Oracle faults never escape: any unusable oracle output
// degrades to a one-second wait so the run can continue.
type StepExecutor struct {
	Oracle         oracle.Oracle
	Actuator       device.Actuator
	Policy         governance.PolicyEngine
	Prompts        *PromptManager
	Logger         *observability.Logger
	SnapshotBudget int
	ActionTimeout  time.Duration
}

func NewStepExecutor(o oracle.Oracle, act device.Actuator, prompts *PromptManager, logger *observability.Logger) *StepExecutor {
	return &StepExecutor{
		Oracle:         o,
		Actuator:       act,
		Prompts:        prompts,
		Logger:         logger,
		SnapshotBudget: 6000,
		ActionTimeout:  30 * time.Second,
	}
}

// ExecuteStep runs one decide-then-act cycle for the given subgoal.
func (e *StepExecutor) ExecuteStep(ctx context.Context, subgoal string, snap *device.Snapshot, evidence []byte, history []string) StepOutcome {
	decision := e.decide(ctx, subgoal, snap, evidence, history)
	return e.dispatch(ctx, decision)
}

// decide builds the bounded step prompt and turns the oracle's answer into
// an action decision, falling back to wait on any reasoning-layer fault.
func (e *StepExecutor) decide(ctx context.Context, subgoal string, snap *device.Snapshot, evidence []byte, history []string) action.Decision {
	var user strings.Builder
	fmt.Fprintf(&user, "SUBGOAL: %s\n", subgoal)
	if len(history) > 0 {
		fmt.Fprintf(&user, "\nRECENT HISTORY:\n%s\n", strings.Join(history, "\n"))
	}
	if snap != nil {
		fmt.Fprintf(&user, "\nCURRENT UI STATE:\n%s", snap.Render(e.SnapshotBudget))
	}

	raw, err := e.Oracle.Decide(ctx, e.Prompts.StepPrompt(), user.String(), evidence)
	if err != nil {
		return action.Wait(1, fmt.Sprintf("oracle unavailable (%v), waiting before retry", err))
	}
	e.Logger.LogLLM(user.String(), raw)

	decision, err := action.Decode(raw)
	if err != nil {
		return action.Wait(1, fmt.Sprintf("unparseable oracle output (%v), waiting before retry", err))
	}
	return decision
}

// dispatch routes the decision to the actuator operation for its kind and
// classifies the outcome.
func (e *StepExecutor) dispatch(ctx context.Context, d action.Decision) StepOutcome {
	// complete and wait never touch the actuator.
	switch d.Kind {
	case action.KindComplete:
		msg := d.Params.Message
		if msg == "" {
			msg = "subgoal reported complete"
		}
		return StepOutcome{Decision: d, Success: true, Message: msg, SubgoalComplete: true}
	case action.KindWait:
		secs := d.Params.Seconds
		if secs <= 0 {
			secs = 1
		}
		select {
		case <-ctx.Done():
			return StepOutcome{Decision: d, Success: false, Message: "wait interrupted", Err: ctx.Err()}
		case <-time.After(time.Duration(secs) * time.Second):
		}
		return StepOutcome{Decision: d, Success: true, Message: fmt.Sprintf("waited %ds", secs)}
	case action.KindUnknown:
		return StepOutcome{Decision: d, Success: false, Message: "unknown action"}
	}

	if e.Policy != nil {
		res, err := e.Policy.Evaluate(ctx, governance.Request{
			Action:  string(d.Kind),
			Package: d.Params.Package,
			Text:    d.Params.Text,
		})
		if err == nil {
			e.Logger.LogPolicyCheck(string(d.Kind), string(res.Effect), res.Reason)
			if res.Effect == governance.EffectDeny {
				return StepOutcome{Decision: d, Success: false, Message: res.Reason}
			}
		}
	}

	actCtx := ctx
	if e.ActionTimeout > 0 {
		var cancel context.CancelFunc
		actCtx, cancel = context.WithTimeout(ctx, e.ActionTimeout)
		defer cancel()
	}

	var msg string
	var err error
	switch d.Kind {
	case action.KindTapByIndex:
		msg, err = e.Actuator.TapByIndex(actCtx, d.Params.Index)
	case action.KindTapAtPoint:
		msg, err = e.Actuator.TapAtPoint(actCtx, d.Params.X, d.Params.Y)
	case action.KindSwipe:
		msg, err = e.Actuator.Swipe(actCtx, d.Params.StartX, d.Params.StartY, d.Params.EndX, d.Params.EndY, d.Params.DurationMs)
	case action.KindScrollUp:
		msg, err = e.Actuator.ScrollUp(actCtx)
	case action.KindScrollDown:
		msg, err = e.Actuator.ScrollDown(actCtx)
	case action.KindInputText:
		msg, err = e.Actuator.InputText(actCtx, d.Params.Text)
	case action.KindPressKey:
		var code int
		code, err = action.KeyCode(d.Params.Key)
		if err == nil {
			msg, err = e.Actuator.PressKey(actCtx, code)
		}
	case action.KindStartApp:
		msg, err = e.Actuator.StartApp(actCtx, d.Params.Package)
	case action.KindBack:
		msg, err = e.Actuator.Back(actCtx)
	default:
		return StepOutcome{Decision: d, Success: false, Message: "unknown action"}
	}

	if err != nil {
		return StepOutcome{Decision: d, Success: false, Message: err.Error(), Err: err}
	}
	return StepOutcome{Decision: d, Success: true, Message: msg}
}
