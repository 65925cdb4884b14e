package plan

import "fmt"

// Status values for a Subgoal.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

// DefaultMaxAttempts is how many failed steps a subgoal absorbs before it is
// marked failed.
const DefaultMaxAttempts = 3

// Subgoal is one atomic unit of the decomposed goal. It is owned by its
// ExecutionPlan and mutated only through the plan's transition methods.
type Subgoal struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Result      string `json:"result"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
}

// Terminal reports whether the subgoal can no longer change status.
func (s *Subgoal) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed || s.Status == StatusSkipped
}

// ExecutionPlan is the ordered decomposition of one goal. One instance per
// run; not safe for concurrent use.
type ExecutionPlan struct {
	Goal      string    `json:"goal"`
	Subgoals  []Subgoal `json:"subgoals"`
	Reasoning string    `json:"reasoning"`
}

// New builds a plan from the planner's subgoal descriptions, all pending,
// in response order. IDs are 1-based positions.
func New(goal string, reasoning string, descriptions []string) *ExecutionPlan {
	p := &ExecutionPlan{Goal: goal, Reasoning: reasoning}
	for i, d := range descriptions {
		p.Subgoals = append(p.Subgoals, Subgoal{
			ID:          i + 1,
			Description: d,
			Status:      StatusPending,
			MaxAttempts: DefaultMaxAttempts,
		})
	}
	return p
}

// CurrentSubgoal returns the first subgoal in order that is pending or
// in progress, or nil when none remains. This is the sole selection rule;
// subgoals are never reordered.
func (p *ExecutionPlan) CurrentSubgoal() *Subgoal {
	for i := range p.Subgoals {
		if p.Subgoals[i].Status == StatusPending || p.Subgoals[i].Status == StatusInProgress {
			return &p.Subgoals[i]
		}
	}
	return nil
}

// MarkCurrentInProgress transitions the current subgoal from pending to
// in_progress. Returns false when there is no current subgoal.
func (p *ExecutionPlan) MarkCurrentInProgress() bool {
	sg := p.CurrentSubgoal()
	if sg == nil {
		return false
	}
	sg.Status = StatusInProgress
	return true
}

// MarkCurrentCompleted marks the current subgoal completed with the given
// result text. Returns false when there is no current subgoal.
func (p *ExecutionPlan) MarkCurrentCompleted(result string) bool {
	sg := p.CurrentSubgoal()
	if sg == nil {
		return false
	}
	sg.Status = StatusCompleted
	sg.Result = result
	return true
}

// MarkCurrentFailed marks the current subgoal failed with the given reason.
// Returns false when there is no current subgoal.
func (p *ExecutionPlan) MarkCurrentFailed(reason string) bool {
	sg := p.CurrentSubgoal()
	if sg == nil {
		return false
	}
	sg.Status = StatusFailed
	sg.Result = reason
	return true
}

// SkipCurrent marks the current subgoal skipped. Skipped subgoals count as
// done for completion purposes. Returns false when there is no current
// subgoal.
func (p *ExecutionPlan) SkipCurrent(reason string) bool {
	sg := p.CurrentSubgoal()
	if sg == nil {
		return false
	}
	sg.Status = StatusSkipped
	sg.Result = reason
	return true
}

// RecordAttempt counts one failed step against the current subgoal. When the
// attempt budget is exhausted the subgoal transitions to failed and
// RecordAttempt returns true; otherwise it stays in_progress and false is
// returned. A no-op returning false when there is no current subgoal.
func (p *ExecutionPlan) RecordAttempt(reason string) bool {
	sg := p.CurrentSubgoal()
	if sg == nil {
		return false
	}
	if sg.Attempts < sg.MaxAttempts {
		sg.Attempts++
	}
	if sg.Attempts >= sg.MaxAttempts {
		sg.Status = StatusFailed
		sg.Result = reason
		return true
	}
	sg.Status = StatusInProgress
	return false
}

// IsComplete reports whether every subgoal finished as completed or skipped.
func (p *ExecutionPlan) IsComplete() bool {
	if len(p.Subgoals) == 0 {
		return false
	}
	for i := range p.Subgoals {
		st := p.Subgoals[i].Status
		if st != StatusCompleted && st != StatusSkipped {
			return false
		}
	}
	return true
}

// HasFailed reports whether any subgoal failed. Failed is a terminal status,
// so once true this stays true. IsComplete and HasFailed are mutually
// exclusive: a failed subgoal is never completed or skipped.
func (p *ExecutionPlan) HasFailed() bool {
	for i := range p.Subgoals {
		if p.Subgoals[i].Status == StatusFailed {
			return true
		}
	}
	return false
}

// CompletedCount returns how many subgoals are completed or skipped.
func (p *ExecutionPlan) CompletedCount() int {
	n := 0
	for i := range p.Subgoals {
		if p.Subgoals[i].Status == StatusCompleted || p.Subgoals[i].Status == StatusSkipped {
			n++
		}
	}
	return n
}

// Summary renders a one-line-per-subgoal progress listing for prompts and
// logs.
func (p *ExecutionPlan) Summary() string {
	out := ""
	for i := range p.Subgoals {
		sg := &p.Subgoals[i]
		out += fmt.Sprintf("%d. [%s] %s\n", sg.ID, sg.Status, sg.Description)
	}
	return out
}
