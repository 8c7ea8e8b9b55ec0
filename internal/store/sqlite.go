package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const dayLayout = "2006-01-02"

var ErrRunNotFound = errors.New("analysis run not found")

type Store struct {
	db     *sql.DB
	loc    *time.Location
	logger *zap.SugaredLogger
}

func New(db *sql.DB, loc *time.Location, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, loc: loc, logger: logger.Named("store")}
}

// Open opens the SQLite database at path. Pragmas go in the DSN so every
// pooled connection gets them. Callers close the returned handle.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (s *Store) formatDay(t time.Time) string {
	return t.In(s.loc).Format(dayLayout)
}

func (s *Store) parseDay(v string) (time.Time, error) {
	t, err := time.ParseInLocation(dayLayout, v, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", v, err)
	}
	return t, nil
}

// nullable maps NaN and infinities to NULL, which SQLite cannot hold as REAL.
func nullable(v sql.NullFloat64) sql.NullFloat64 {
	if v.Valid && (math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0)) {
		return sql.NullFloat64{}
	}
	return v
}
