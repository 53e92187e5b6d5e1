package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is a persisted pipeline run: identifying metadata plus the full result
// document. Results are stored verbatim; the store never recomputes or
// memoizes numeric outputs across differing inputs.
type Run struct {
	RunID        string          `json:"run_id"`
	CreatedAt    int64           `json:"created_at"` // unix nanos
	SensorCount  int             `json:"sensor_count"`
	ClusterCount int             `json:"cluster_count"`
	ResultJSON   json.RawMessage `json:"result,omitempty"`
}

// RunStore provides persistence for pipeline runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(s *Store) *RunStore {
	return &RunStore{db: s.DB}
}

// Insert persists a run. If RunID is empty, a UUID is generated.
func (s *RunStore) Insert(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO analysis_runs (run_id, created_at, sensor_count, cluster_count, result_json)
			VALUES (?, ?, ?, ?, ?)`,
			run.RunID, run.CreatedAt, run.SensorCount, run.ClusterCount, string(run.ResultJSON),
		)
		return err
	})
}

// Get returns the run with the given ID, or sql.ErrNoRows if absent.
func (s *RunStore) Get(runID string) (*Run, error) {
	var run Run
	var result string
	err := s.db.QueryRow(`
		SELECT run_id, created_at, sensor_count, cluster_count, result_json
		FROM analysis_runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &run.CreatedAt, &run.SensorCount, &run.ClusterCount, &result)
	if err != nil {
		return nil, err
	}
	run.ResultJSON = json.RawMessage(result)
	return &run, nil
}

// List returns up to limit runs ordered by creation time descending, without
// their result documents.
func (s *RunStore) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT run_id, created_at, sensor_count, cluster_count
		FROM analysis_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.RunID, &run.CreatedAt, &run.SensorCount, &run.ClusterCount); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
