// Package device defines the contracts the engine holds against the target
// device: the actuator performing one action at a time, and the snapshot
// provider capturing the current UI state.
package device

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Actuator performs device-level actions. Each operation returns a short
// human-readable message on success; failure is signalled by a non-nil
// error, never by message contents.
type Actuator interface {
	TapByIndex(ctx context.Context, index int) (string, error)
	TapAtPoint(ctx context.Context, x, y int) (string, error)
	Swipe(ctx context.Context, startX, startY, endX, endY, durationMs int) (string, error)
	ScrollUp(ctx context.Context) (string, error)
	ScrollDown(ctx context.Context) (string, error)
	InputText(ctx context.Context, text string) (string, error)
	PressKey(ctx context.Context, code int) (string, error)
	StartApp(ctx context.Context, pkg string) (string, error)
	Back(ctx context.Context) (string, error)
}

// SnapshotProvider captures the target's UI state and visual evidence.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	CaptureEvidence(ctx context.Context) ([]byte, error)
}

// Bounds is an element's bounding box in screen coordinates.
type Bounds struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() (int, int) {
	return (b.Left + b.Right) / 2, (b.Top + b.Bottom) / 2
}

// Node is one element of the captured UI tree. Clickable elements carry the
// index the model uses with tap_by_index.
type Node struct {
	Index     int    `json:"index"`
	Text      string `json:"text,omitempty"`
	Class     string `json:"class,omitempty"`
	Bounds    Bounds `json:"bounds"`
	Clickable bool   `json:"clickable"`
	Children  []Node `json:"children,omitempty"`
}

// Snapshot is a point-in-time capture of the target UI.
type Snapshot struct {
	App          string `json:"app"`
	Activity     string `json:"activity,omitempty"`
	ScreenWidth  int    `json:"screen_width"`
	ScreenHeight int    `json:"screen_height"`
	Elements     []Node `json:"elements"`
	PageText     string `json:"page_text,omitempty"`
}

// Render flattens the snapshot into the prompt text the model sees,
// truncated to at most budget characters. A budget <= 0 means unlimited.
func (s *Snapshot) Render(budget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "app: %s", s.App)
	if s.Activity != "" {
		fmt.Fprintf(&b, " (%s)", s.Activity)
	}
	fmt.Fprintf(&b, "\nscreen: %dx%d\nelements:\n", s.ScreenWidth, s.ScreenHeight)
	for i := range s.Elements {
		renderNode(&b, &s.Elements[i], 0)
	}
	if s.PageText != "" {
		b.WriteString("visible text:\n")
		b.WriteString(s.PageText)
		b.WriteString("\n")
	}
	out := b.String()
	if budget > 0 && len(out) > budget {
		// Back off to a rune boundary so the cut never emits invalid UTF-8.
		cut := budget
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "\n... (truncated)"
	}
	return out
}

func renderNode(b *strings.Builder, n *Node, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	if n.Clickable {
		fmt.Fprintf(b, "[%d] ", n.Index)
	} else {
		b.WriteString("- ")
	}
	if n.Text != "" {
		fmt.Fprintf(b, "%q ", n.Text)
	}
	fmt.Fprintf(b, "%s (%d,%d)-(%d,%d)\n",
		n.Class, n.Bounds.Left, n.Bounds.Top, n.Bounds.Right, n.Bounds.Bottom)
	for i := range n.Children {
		renderNode(b, &n.Children[i], depth+1)
	}
}

// FindByIndex returns the clickable node with the given index, searching the
// tree depth-first.
func (s *Snapshot) FindByIndex(index int) *Node {
	var walk func(nodes []Node) *Node
	walk = func(nodes []Node) *Node {
		for i := range nodes {
			if nodes[i].Clickable && nodes[i].Index == index {
				return &nodes[i]
			}
			if found := walk(nodes[i].Children); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(s.Elements)
}
