package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePlan        EventType = "plan"
	EventTypeStep        EventType = "step"
	EventTypeAction      EventType = "action"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeLLM         EventType = "llm"
	EventTypeRun         EventType = "run"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Subgoal   int       `json:"subgoal,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging for one or more runs. It is passed
// explicitly to each component; there is no ambient singleton. Appends are
// mutex-guarded so concurrent runs may share one logger.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	path    string
	maxSize int64
}

// NewLogger writes events as JSON lines to both out and the given file
// path. A nil out suppresses the echo; an empty path disables the file sink.
func NewLogger(out io.Writer, path string) *Logger {
	return &Logger{
		out:     out,
		path:    path,
		maxSize: 10 * 1024 * 1024, // 10MB
	}
}

// Log emits a structured JSON event. A nil logger discards everything.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out != nil {
		fmt.Fprintln(l.out, string(data))
	}
	if l.path != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.path)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.path + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.path, oldPath)
}

// Helper methods for common events

func (l *Logger) LogPlan(runID string, goal string, subgoals []string, reasoning string) {
	l.Log(Event{
		Type:  EventTypePlan,
		RunID: runID,
		Data: map[string]any{
			"goal":      goal,
			"subgoals":  subgoals,
			"reasoning": reasoning,
		},
	})
}

func (l *Logger) LogStep(runID string, subgoal, seq int, kind, status, message string) {
	l.Log(Event{
		Type:    EventTypeStep,
		RunID:   runID,
		Subgoal: subgoal,
		Data: map[string]any{
			"seq":     seq,
			"kind":    kind,
			"status":  status,
			"message": message,
		},
	})
}

func (l *Logger) LogAction(runID string, subgoal int, kind, params, rationale string) {
	l.Log(Event{
		Type:    EventTypeAction,
		RunID:   runID,
		Subgoal: subgoal,
		Data: map[string]any{
			"kind":      kind,
			"params":    params,
			"rationale": rationale,
		},
	})
}

// LogPolicyCheck and LogLLM are emitted below the orchestrator, where no run
// id is in scope; events correlate with their run by timestamp order.
func (l *Logger) LogPolicyCheck(actionKind, effect, reason string) {
	l.Log(Event{
		Type: EventTypePolicyCheck,
		Data: map[string]any{
			"action": actionKind,
			"effect": effect,
			"reason": reason,
		},
	})
}

func (l *Logger) LogLLM(prompt, response string) {
	l.Log(Event{
		Type: EventTypeLLM,
		Data: map[string]any{
			"prompt":   prompt,
			"response": response,
		},
	})
}

func (l *Logger) LogRun(runID string, outcome, message string, steps int) {
	l.Log(Event{
		Type:  EventTypeRun,
		RunID: runID,
		Data: map[string]any{
			"outcome": outcome,
			"message": message,
			"steps":   steps,
		},
	})
}
