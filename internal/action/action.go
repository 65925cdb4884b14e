// Package action defines the structured decision the reasoning layer
// produces for each step, and the decoding of raw model output into it.
package action

import "encoding/json"

// Kind is the tagged variant of an action decision.
type Kind string

const (
	KindTapByIndex Kind = "tap_by_index"
	KindTapAtPoint Kind = "tap_at_point"
	KindSwipe      Kind = "swipe"
	KindScrollUp   Kind = "scroll_up"
	KindScrollDown Kind = "scroll_down"
	KindInputText  Kind = "input_text"
	KindPressKey   Kind = "press_key"
	KindStartApp   Kind = "start_app"
	KindWait       Kind = "wait"
	KindComplete   Kind = "complete"
	KindBack       Kind = "back"
	KindUnknown    Kind = "unknown"
)

// knownKinds is the closed set of kinds the executor can dispatch.
var knownKinds = map[Kind]bool{
	KindTapByIndex: true,
	KindTapAtPoint: true,
	KindSwipe:      true,
	KindScrollUp:   true,
	KindScrollDown: true,
	KindInputText:  true,
	KindPressKey:   true,
	KindStartApp:   true,
	KindWait:       true,
	KindComplete:   true,
	KindBack:       true,
}

// Known reports whether k is a dispatchable kind.
func (k Kind) Known() bool { return knownKinds[k] }

// Params carries the arguments of a decision. Only the fields relevant to
// the decision's kind are meaningful; the rest stay at their zero values.
type Params struct {
	Index      int    `json:"index,omitempty"`
	X          int    `json:"x,omitempty"`
	Y          int    `json:"y,omitempty"`
	StartX     int    `json:"start_x,omitempty"`
	StartY     int    `json:"start_y,omitempty"`
	EndX       int    `json:"end_x,omitempty"`
	EndY       int    `json:"end_y,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`
	Text       string `json:"text,omitempty"`
	Key        string `json:"key,omitempty"`
	Package    string `json:"package,omitempty"`
	Seconds    int    `json:"seconds,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Decision is one action decision, immutable once produced.
type Decision struct {
	Kind      Kind   `json:"action"`
	Params    Params `json:"params"`
	Rationale string `json:"reasoning,omitempty"`
}

// Wait builds the degrade-to-wait fallback decision used whenever the
// reasoning layer's output cannot be used.
func Wait(seconds int, rationale string) Decision {
	if seconds <= 0 {
		seconds = 1
	}
	return Decision{
		Kind:      KindWait,
		Params:    Params{Seconds: seconds},
		Rationale: rationale,
	}
}

// EncodeParams renders the decision's params as compact JSON for the
// trajectory record.
func (d Decision) EncodeParams() string {
	b, err := json.Marshal(d.Params)
	if err != nil {
		return "{}"
	}
	return string(b)
}
