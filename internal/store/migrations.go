package store

import (
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS analysis_runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source_path TEXT,
    sample_count INTEGER DEFAULT 0,
    day_count INTEGER DEFAULT 0,
    event_count INTEGER DEFAULT 0,
    global_min REAL,
    global_max REAL,
    success BOOLEAN DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_started ON analysis_runs(kind, started_at);

CREATE TABLE IF NOT EXISTS daily_stats (
    run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    day TEXT NOT NULL,
    samples INTEGER NOT NULL,
    min_value REAL,
    max_value REAL,
    mean_value REAL,
    median_value REAL,
    day_start DATETIME NOT NULL,
    day_end DATETIME NOT NULL,
    noon DATETIME NOT NULL,
    diff_mm REAL,
    diff_global_max_mm REAL,
    diff_global_min_mm REAL,
    ci_lower REAL,
    ci_upper REAL,
    normal BOOLEAN DEFAULT FALSE,
    PRIMARY KEY (run_id, day)
);

CREATE TABLE IF NOT EXISTS extrema_events (
    run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    day TEXT NOT NULL,
    time_max DATETIME NOT NULL,
    val_max REAL NOT NULL,
    time_min DATETIME NOT NULL,
    val_min REAL NOT NULL,
    PRIMARY KEY (run_id, day)
);

CREATE TABLE IF NOT EXISTS central_times (
    run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    day TEXT NOT NULL,
    central_min_hour REAL,
    central_max_hour REAL,
    PRIMARY KEY (run_id, day)
);
`,
	},
	{
		Version:     2,
		Description: "Half-hour tables",
		SQL: `
CREATE TABLE IF NOT EXISTS half_hour_daily (
    run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    stat TEXT NOT NULL,
    day TEXT NOT NULL,
    half_hour REAL NOT NULL,
    value REAL,
    PRIMARY KEY (run_id, stat, day, half_hour)
);

CREATE TABLE IF NOT EXISTS half_hour_profile (
    run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    stat TEXT NOT NULL,
    half_hour REAL NOT NULL,
    value REAL,
    PRIMARY KEY (run_id, stat, half_hour)
);

CREATE TABLE IF NOT EXISTS half_hour_day_extremes (
    run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    day TEXT NOT NULL,
    max_mean REAL,
    min_mean REAL,
    max_median REAL,
    min_median REAL,
    PRIMARY KEY (run_id, day)
);
`,
	},
	{
		Version:     3,
		Description: "Lagged weather regression",
		SQL: `
CREATE TABLE IF NOT EXISTS lag_scores (
    run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    rank INTEGER NOT NULL,
    feature TEXT NOT NULL,
    correlation REAL NOT NULL,
    PRIMARY KEY (run_id, rank)
);

CREATE TABLE IF NOT EXISTS lag_fits (
    run_id TEXT PRIMARY KEY REFERENCES analysis_runs(id) ON DELETE CASCADE,
    readings INTEGER NOT NULL,
    num_params INTEGER NOT NULL,
    intercept REAL NOT NULL,
    rmse REAL NOT NULL,
    mape REAL NOT NULL,
    r2 REAL NOT NULL,
    adj_r2 REAL,
    aic REAL,
    bic REAL,
    pearson_r REAL,
    p_value REAL
);

CREATE TABLE IF NOT EXISTS lag_coefficients (
    run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    feature TEXT NOT NULL,
    coefficient REAL NOT NULL,
    PRIMARY KEY (run_id, position)
);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.logger.Infof("applying migration %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
