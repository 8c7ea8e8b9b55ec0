package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/fissure/internal/models"
)

// StartRun records the start of a batch run and returns it.
func (s *Store) StartRun(kind, sourcePath string) (*models.AnalysisRun, error) {
	run := &models.AnalysisRun{
		ID:         uuid.NewString(),
		Kind:       kind,
		StartedAt:  time.Now().UTC(),
		SourcePath: sourcePath,
	}
	_, err := s.db.Exec(`
		INSERT INTO analysis_runs (id, kind, started_at, source_path, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.ID, run.Kind, run.StartedAt, run.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// CompleteRun stamps the finish time and writes the run's counters and outcome.
func (s *Store) CompleteRun(run *models.AnalysisRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE analysis_runs SET
			finished_at = ?,
			sample_count = ?,
			day_count = ?,
			event_count = ?,
			global_min = ?,
			global_max = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.SampleCount, run.DayCount, run.EventCount,
		nullable(run.GlobalMin), nullable(run.GlobalMax), run.Success, run.ErrorMessage, run.ID)
	return err
}

// FailRun marks the run unsuccessful with err as its message.
func (s *Store) FailRun(run *models.AnalysisRun, err error) error {
	if run == nil {
		return nil
	}
	run.Success = false
	run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	return s.CompleteRun(run)
}

const runColumns = `id, kind, started_at, finished_at, source_path, sample_count, day_count, event_count,
	global_min, global_max, success, error_message`

func scanRun(row interface{ Scan(...any) error }) (models.AnalysisRun, error) {
	var r models.AnalysisRun
	var source sql.NullString
	err := row.Scan(&r.ID, &r.Kind, &r.StartedAt, &r.FinishedAt, &source, &r.SampleCount, &r.DayCount,
		&r.EventCount, &r.GlobalMin, &r.GlobalMax, &r.Success, &r.ErrorMessage)
	r.SourcePath = source.String
	return r, err
}

// GetRuns lists runs newest first. An empty kind lists every kind.
func (s *Store) GetRuns(kind string, limit int) ([]models.AnalysisRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM analysis_runs
		WHERE ? = '' OR kind = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.AnalysisRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) GetRun(id string) (*models.AnalysisRun, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM analysis_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestRun returns the most recent successful run of kind.
func (s *Store) LatestRun(kind string) (*models.AnalysisRun, error) {
	r, err := scanRun(s.db.QueryRow(`
		SELECT `+runColumns+`
		FROM analysis_runs
		WHERE kind = ? AND success = TRUE
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`, kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
