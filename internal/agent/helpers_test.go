package agent

import (
	"context"
	"fmt"

	"github.com/arjun/sherpa/internal/device"
	"github.com/arjun/sherpa/internal/trajectory"
)

// fakeOracle replays a scripted sequence of responses. Once the script is
// exhausted it repeats the last turn, so open-ended loops stay scriptable.
type fakeOracle struct {
	script []oracleTurn
	calls  []oracleCall
}

type oracleTurn struct {
	resp string
	err  error
}

type oracleCall struct {
	system string
	user   string
	image  []byte
}

func (f *fakeOracle) Decide(ctx context.Context, system, user string, image []byte) (string, error) {
	i := len(f.calls)
	f.calls = append(f.calls, oracleCall{system: system, user: user, image: image})
	if len(f.script) == 0 {
		return "", fmt.Errorf("no scripted response")
	}
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i].resp, f.script[i].err
}

// fakeActuator records every operation; a non-nil err makes all of them fail.
type fakeActuator struct {
	calls []string
	err   error
}

func (f *fakeActuator) op(desc string) (string, error) {
	f.calls = append(f.calls, desc)
	if f.err != nil {
		return "", f.err
	}
	return "did " + desc, nil
}

func (f *fakeActuator) TapByIndex(ctx context.Context, index int) (string, error) {
	return f.op(fmt.Sprintf("tap_by_index(%d)", index))
}

func (f *fakeActuator) TapAtPoint(ctx context.Context, x, y int) (string, error) {
	return f.op(fmt.Sprintf("tap_at_point(%d,%d)", x, y))
}

func (f *fakeActuator) Swipe(ctx context.Context, startX, startY, endX, endY, durationMs int) (string, error) {
	return f.op(fmt.Sprintf("swipe(%d,%d,%d,%d,%d)", startX, startY, endX, endY, durationMs))
}

func (f *fakeActuator) ScrollUp(ctx context.Context) (string, error)   { return f.op("scroll_up") }
func (f *fakeActuator) ScrollDown(ctx context.Context) (string, error) { return f.op("scroll_down") }

func (f *fakeActuator) InputText(ctx context.Context, text string) (string, error) {
	return f.op(fmt.Sprintf("input_text(%s)", text))
}

func (f *fakeActuator) PressKey(ctx context.Context, code int) (string, error) {
	return f.op(fmt.Sprintf("press_key(%d)", code))
}

func (f *fakeActuator) StartApp(ctx context.Context, pkg string) (string, error) {
	return f.op(fmt.Sprintf("start_app(%s)", pkg))
}

func (f *fakeActuator) Back(ctx context.Context) (string, error) { return f.op("back") }

// fakeSnapshots serves a fixed snapshot. failAfter > 0 makes Snapshot fail
// once that many calls have succeeded.
type fakeSnapshots struct {
	snap      *device.Snapshot
	snapErr   error
	evidence  []byte
	failAfter int
	snapCalls int
}

func (f *fakeSnapshots) Snapshot(ctx context.Context) (*device.Snapshot, error) {
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	if f.failAfter > 0 && f.snapCalls >= f.failAfter {
		return nil, fmt.Errorf("device connection lost")
	}
	f.snapCalls++
	return f.snap, nil
}

func (f *fakeSnapshots) CaptureEvidence(ctx context.Context) ([]byte, error) {
	if f.evidence == nil {
		return nil, fmt.Errorf("no screen")
	}
	return f.evidence, nil
}

// memSink records every persisted trajectory in memory.
type memSink struct {
	persisted []*trajectory.Trajectory
}

func (m *memSink) Persist(ctx context.Context, t *trajectory.Trajectory) (string, error) {
	m.persisted = append(m.persisted, t)
	return t.RunID, nil
}

func (m *memSink) last() *trajectory.Trajectory {
	if len(m.persisted) == 0 {
		return nil
	}
	return m.persisted[len(m.persisted)-1]
}

// memEvidence stores evidence blobs keyed by "<runID>/<seq>".
type memEvidence struct {
	saved map[string][]byte
}

func (m *memEvidence) SaveEvidence(runID string, seq int, data []byte) (string, error) {
	if m.saved == nil {
		m.saved = map[string][]byte{}
	}
	ref := fmt.Sprintf("%s/step_%03d.png", runID, seq)
	m.saved[ref] = data
	return ref, nil
}

func settingsSnapshot() *device.Snapshot {
	return &device.Snapshot{
		App:          "com.android.settings",
		ScreenWidth:  1080,
		ScreenHeight: 2400,
		Elements: []device.Node{
			{Index: 1, Text: "Network & internet", Class: "android.widget.TextView", Clickable: true,
				Bounds: device.Bounds{Left: 0, Top: 200, Right: 1080, Bottom: 350}},
			{Index: 2, Text: "Wi-Fi", Class: "android.widget.TextView", Clickable: true,
				Bounds: device.Bounds{Left: 0, Top: 350, Right: 1080, Bottom: 500}},
		},
	}
}
