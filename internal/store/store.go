// Package store persists execution records in SQLite. One row per run plus
// one row per step; evidence blobs are written as files beside the database
// and referenced from their steps.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/arjun/sherpa/internal/trajectory"
)

type TrajectoryStore struct {
	DB          *sql.DB
	EvidenceDir string
}

func NewTrajectoryStore(dbPath, evidenceDir string) (*TrajectoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS trajectories (
			run_id TEXT PRIMARY KEY,
			goal TEXT,
			started_at DATETIME,
			ended_at DATETIME,
			success INTEGER,
			final_message TEXT,
			session TEXT,
			finished INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT,
			seq INTEGER,
			kind TEXT,
			params TEXT,
			rationale TEXT,
			status TEXT,
			result TEXT,
			error TEXT,
			evidence TEXT,
			started_at DATETIME,
			duration_ns INTEGER,
			PRIMARY KEY (run_id, seq)
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, err
		}
	}

	return &TrajectoryStore{DB: db, EvidenceDir: evidenceDir}, nil
}

// Persist writes the trajectory and all its steps, replacing any earlier
// snapshot of the same run. It returns the run id as the record handle.
// Safe to call more than once per run; the last write wins.
func (s *TrajectoryStore) Persist(ctx context.Context, t *trajectory.Trajectory) (string, error) {
	session, err := json.Marshal(t.Session)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO trajectories
		 (run_id, goal, started_at, ended_at, success, final_message, session, finished)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.Goal, t.StartedAt, nullableTime(t.EndedAt),
		boolInt(t.Success), t.FinalMessage, string(session), boolInt(t.Finished()))
	if err != nil {
		return "", fmt.Errorf("persist trajectory: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE run_id = ?`, t.RunID); err != nil {
		return "", err
	}
	for _, st := range t.Steps {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO steps
			 (run_id, seq, kind, params, rationale, status, result, error, evidence, started_at, duration_ns)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.RunID, st.Seq, st.Kind, st.Params, st.Rationale, st.Status,
			st.Result, st.Error, st.Evidence, st.StartedAt, int64(st.Duration))
		if err != nil {
			return "", fmt.Errorf("persist step %d: %w", st.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return t.RunID, nil
}

// Load reconstructs a persisted trajectory, steps in sequence order.
func (s *TrajectoryStore) Load(ctx context.Context, runID string) (*trajectory.Trajectory, error) {
	var t trajectory.Trajectory
	var session string
	var success, finished int
	var endedAt sql.NullTime

	row := s.DB.QueryRowContext(ctx,
		`SELECT run_id, goal, started_at, ended_at, success, final_message, session, finished
		 FROM trajectories WHERE run_id = ?`, runID)
	if err := row.Scan(&t.RunID, &t.Goal, &t.StartedAt, &endedAt, &success, &t.FinalMessage, &session, &finished); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("trajectory not found: %s", runID)
		}
		return nil, err
	}
	if endedAt.Valid {
		t.EndedAt = endedAt.Time
	}
	if session != "" {
		if err := json.Unmarshal([]byte(session), &t.Session); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT seq, kind, params, rationale, status, result, error, evidence, started_at, duration_ns
		 FROM steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var st trajectory.Step
		var durNs int64
		if err := rows.Scan(&st.Seq, &st.Kind, &st.Params, &st.Rationale, &st.Status,
			&st.Result, &st.Error, &st.Evidence, &st.StartedAt, &durNs); err != nil {
			return nil, err
		}
		st.Duration = time.Duration(durNs)
		t.Steps = append(t.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Finish reapplies the terminal flags on the reconstructed record.
	if finished == 1 {
		msg := t.FinalMessage
		end := t.EndedAt
		t.Finish(success == 1, msg)
		t.EndedAt = end
	}
	t.Success = success == 1

	return &t, nil
}

// SaveEvidence writes one evidence blob under the evidence directory and
// returns its path for the step record.
func (s *TrajectoryStore) SaveEvidence(runID string, seq int, data []byte) (string, error) {
	dir := filepath.Join(s.EvidenceDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create evidence dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("step_%03d.png", seq))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write evidence: %w", err)
	}
	return path, nil
}

// Close releases the database handle.
func (s *TrajectoryStore) Close() error { return s.DB.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
