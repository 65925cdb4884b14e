package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjun/sherpa/internal/trajectory"
)

func newTestStore(t *testing.T) *TrajectoryStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewTrajectoryStore(filepath.Join(dir, "sherpa.db"), filepath.Join(dir, "evidence"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPersistAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	traj := trajectory.New("enable wifi")
	traj.Session["app"] = "com.android.settings"
	seq := traj.AddStep("tap_by_index", `{"index":3}`, "the Wi-Fi row")
	traj.FinishStep(seq, trajectory.StepSuccess, "tapped element 3", "", "evidence/x/step_001.png")
	seq = traj.AddStep("wait", `{"seconds":1}`, "screen is loading")
	traj.FinishStep(seq, trajectory.StepFailed, "", "device gone", "")
	traj.Finish(true, "goal achieved in 2 steps")

	runID, err := s.Persist(ctx, traj)
	require.NoError(t, err)
	assert.Equal(t, traj.RunID, runID)

	got, err := s.Load(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, traj.Goal, got.Goal)
	assert.True(t, got.Success)
	assert.True(t, got.Finished())
	assert.Equal(t, "goal achieved in 2 steps", got.FinalMessage)
	assert.Equal(t, map[string]string{"app": "com.android.settings"}, got.Session)
	assert.WithinDuration(t, traj.EndedAt, got.EndedAt, time.Second)

	require.Len(t, got.Steps, 2)
	assert.Equal(t, 1, got.Steps[0].Seq)
	assert.Equal(t, "tap_by_index", got.Steps[0].Kind)
	assert.Equal(t, "tapped element 3", got.Steps[0].Result)
	assert.Equal(t, "evidence/x/step_001.png", got.Steps[0].Evidence)
	assert.Equal(t, trajectory.StepFailed, got.Steps[1].Status)
	assert.Equal(t, "device gone", got.Steps[1].Error)
}

func TestPersistReplacesEarlierSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	traj := trajectory.New("open browser")
	traj.AddStep("start_app", `{"package":"com.android.chrome"}`, "")
	_, err := s.Persist(ctx, traj)
	require.NoError(t, err)

	traj.AddStep("wait", `{"seconds":1}`, "")
	traj.Finish(false, "step budget exhausted after 2 steps")
	_, err = s.Persist(ctx, traj)
	require.NoError(t, err)

	got, err := s.Load(ctx, traj.RunID)
	require.NoError(t, err)
	assert.Len(t, got.Steps, 2)
	assert.True(t, got.Finished())
	assert.False(t, got.Success)
}

func TestPersistUnfinishedTrajectory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	traj := trajectory.New("incomplete run")
	traj.AddStep("scroll_down", "{}", "")

	_, err := s.Persist(ctx, traj)
	require.NoError(t, err)

	got, err := s.Load(ctx, traj.RunID)
	require.NoError(t, err)
	assert.False(t, got.Finished())
	assert.True(t, got.EndedAt.IsZero())
	assert.Len(t, got.Steps, 1)
}

func TestLoadUnknownRun(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "no-such-run")
	assert.ErrorContains(t, err, "not found")
}

func TestSaveEvidence(t *testing.T) {
	s := newTestStore(t)

	path, err := s.SaveEvidence("run-1", 7, []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.EvidenceDir, "run-1", "step_007.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}
