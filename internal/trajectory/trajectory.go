// Package trajectory is the append-only ledger of every action attempted
// during one run. The orchestrator owns the trajectory for the run's
// lifetime and hands it to the record sink only at terminal points.
package trajectory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Step statuses.
const (
	StepPending = "pending"
	StepRunning = "running"
	StepSuccess = "success"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

// Step records one attempted action. Terminal fields (Status, Result, Error,
// Duration) are set once via Finish.
type Step struct {
	Seq       int           `json:"seq"`
	Kind      string        `json:"kind"`
	Params    string        `json:"params,omitempty"`
	Rationale string        `json:"rationale,omitempty"`
	Status    string        `json:"status"`
	Result    string        `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Evidence  string        `json:"evidence,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Trajectory is the full record of one run.
type Trajectory struct {
	RunID        string            `json:"run_id"`
	Goal         string            `json:"goal"`
	Steps        []Step            `json:"steps"`
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      time.Time         `json:"ended_at,omitempty"`
	Success      bool              `json:"success"`
	FinalMessage string            `json:"final_message,omitempty"`
	Session      map[string]string `json:"session,omitempty"`

	finished bool
}

// New starts a trajectory for the given goal with a fresh run id.
func New(goal string) *Trajectory {
	return &Trajectory{
		RunID:     uuid.NewString(),
		Goal:      goal,
		StartedAt: time.Now().UTC(),
		Session:   map[string]string{},
	}
}

// AddStep appends a new running step and returns its sequence number.
// Sequence numbers are 1..N with no gaps.
func (t *Trajectory) AddStep(kind, params, rationale string) int {
	seq := len(t.Steps) + 1
	t.Steps = append(t.Steps, Step{
		Seq:       seq,
		Kind:      kind,
		Params:    params,
		Rationale: rationale,
		Status:    StepRunning,
		StartedAt: time.Now().UTC(),
	})
	return seq
}

// FinishStep sets the terminal fields of the step with the given sequence
// number. Duration is measured from the step's start time. Unknown sequence
// numbers and already-finished steps are ignored; terminal fields are set
// once.
func (t *Trajectory) FinishStep(seq int, status, result, errText, evidence string) {
	if seq < 1 || seq > len(t.Steps) {
		return
	}
	st := &t.Steps[seq-1]
	if st.Status != StepRunning {
		return
	}
	st.Status = status
	st.Result = result
	st.Error = errText
	st.Evidence = evidence
	st.Duration = time.Since(st.StartedAt)
}

// Finish seals the trajectory. The success flag and final message are set
// once; later calls are no-ops.
func (t *Trajectory) Finish(success bool, message string) {
	if t.finished {
		return
	}
	t.finished = true
	t.Success = success
	t.FinalMessage = message
	t.EndedAt = time.Now().UTC()
}

// Finished reports whether Finish has been called.
func (t *Trajectory) Finished() bool { return t.finished }

// Elapsed returns the wall time covered by the trajectory.
func (t *Trajectory) Elapsed() time.Duration {
	if t.EndedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// RecentHistory renders the last n steps as one-line entries, oldest first,
// for inclusion in prompts.
func (t *Trajectory) RecentHistory(n int) []string {
	start := len(t.Steps) - n
	if start < 0 {
		start = 0
	}
	var lines []string
	for _, st := range t.Steps[start:] {
		line := fmt.Sprintf("step %d: %s -> %s", st.Seq, st.Kind, st.Status)
		if st.Result != "" {
			line += " (" + st.Result + ")"
		}
		if st.Error != "" {
			line += " error: " + st.Error
		}
		lines = append(lines, line)
	}
	return lines
}

// EvidenceRefs returns the evidence references of all steps that carry one.
func (t *Trajectory) EvidenceRefs() []string {
	var refs []string
	for _, st := range t.Steps {
		if st.Evidence != "" {
			refs = append(refs, st.Evidence)
		}
	}
	return refs
}

// MarshalJSON includes the unexported finished flag so a serialized
// trajectory reconstructs with the same sealed state.
func (t *Trajectory) MarshalJSON() ([]byte, error) {
	type alias Trajectory
	return json.Marshal(struct {
		*alias
		Finished bool `json:"finished"`
	}{alias: (*alias)(t), Finished: t.finished})
}

// UnmarshalJSON restores a trajectory serialized by MarshalJSON.
func (t *Trajectory) UnmarshalJSON(data []byte) error {
	type alias Trajectory
	aux := struct {
		*alias
		Finished bool `json:"finished"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.finished = aux.Finished
	return nil
}
