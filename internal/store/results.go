package store

import (
	"fmt"

	"github.com/lox/fissure/internal/models"
)

// Half-hour table statistics.
const (
	StatMean   = "mean"
	StatMedian = "median"
)

// Analysis is every table one analysis run persists.
type Analysis struct {
	Daily         []models.DailyStat
	Events        []models.ExtremaEvent
	Central       []models.CentralTime
	MeanRows      []models.HalfHourValue
	MedianRows    []models.HalfHourValue
	MeanProfile   []models.ProfileBin
	MedianProfile []models.ProfileBin
	DayBins       []models.DayExtremeBins
}

// SaveAnalysis writes all tables of a run in one transaction.
func (s *Store) SaveAnalysis(runID string, a Analysis) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, d := range a.Daily {
		if _, err := tx.Exec(`
			INSERT INTO daily_stats (run_id, day, samples, min_value, max_value, mean_value, median_value,
				day_start, day_end, noon, diff_mm, diff_global_max_mm, diff_global_min_mm, ci_lower, ci_upper, normal)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, s.formatDay(d.Day), d.Samples, nullable(d.Min), nullable(d.Max), nullable(d.Mean), nullable(d.Median),
			d.DayStart, d.DayEnd, d.Noon, nullable(d.DiffMM), nullable(d.DiffGlobalMaxMM), nullable(d.DiffGlobalMinMM),
			nullable(d.CILower), nullable(d.CIUpper), d.Normal); err != nil {
			return fmt.Errorf("insert daily stat %s: %w", s.formatDay(d.Day), err)
		}
	}

	for _, e := range a.Events {
		if _, err := tx.Exec(`
			INSERT INTO extrema_events (run_id, day, time_max, val_max, time_min, val_min)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, s.formatDay(e.Day), e.TimeMax, e.ValMax, e.TimeMin, e.ValMin); err != nil {
			return fmt.Errorf("insert extrema event %s: %w", s.formatDay(e.Day), err)
		}
	}

	for _, c := range a.Central {
		if _, err := tx.Exec(`
			INSERT INTO central_times (run_id, day, central_min_hour, central_max_hour)
			VALUES (?, ?, ?, ?)
		`, runID, s.formatDay(c.Day), nullable(c.CentralMinHour), nullable(c.CentralMaxHour)); err != nil {
			return fmt.Errorf("insert central time %s: %w", s.formatDay(c.Day), err)
		}
	}

	for stat, rows := range map[string][]models.HalfHourValue{StatMean: a.MeanRows, StatMedian: a.MedianRows} {
		for _, r := range rows {
			if _, err := tx.Exec(`
				INSERT INTO half_hour_daily (run_id, stat, day, half_hour, value)
				VALUES (?, ?, ?, ?, ?)
			`, runID, stat, s.formatDay(r.Day), r.HalfHour, nullable(r.Value)); err != nil {
				return fmt.Errorf("insert half-hour %s row: %w", stat, err)
			}
		}
	}

	for stat, bins := range map[string][]models.ProfileBin{StatMean: a.MeanProfile, StatMedian: a.MedianProfile} {
		for _, b := range bins {
			if _, err := tx.Exec(`
				INSERT INTO half_hour_profile (run_id, stat, half_hour, value)
				VALUES (?, ?, ?, ?)
			`, runID, stat, b.HalfHour, nullable(b.Value)); err != nil {
				return fmt.Errorf("insert half-hour %s profile: %w", stat, err)
			}
		}
	}

	for _, b := range a.DayBins {
		if _, err := tx.Exec(`
			INSERT INTO half_hour_day_extremes (run_id, day, max_mean, min_mean, max_median, min_median)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, s.formatDay(b.Day), nullable(b.MaxMean), nullable(b.MinMean), nullable(b.MaxMedian), nullable(b.MinMedian)); err != nil {
			return fmt.Errorf("insert day extremes %s: %w", s.formatDay(b.Day), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debugf("saved run %s: %d days, %d events", runID, len(a.Daily), len(a.Events))
	return nil
}

func (s *Store) GetDailyStats(runID string) ([]models.DailyStat, error) {
	rows, err := s.db.Query(`
		SELECT day, samples, min_value, max_value, mean_value, median_value, day_start, day_end, noon,
			diff_mm, diff_global_max_mm, diff_global_min_mm, ci_lower, ci_upper, normal
		FROM daily_stats
		WHERE run_id = ?
		ORDER BY day ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.DailyStat
	for rows.Next() {
		var d models.DailyStat
		var day string
		if err := rows.Scan(&day, &d.Samples, &d.Min, &d.Max, &d.Mean, &d.Median, &d.DayStart, &d.DayEnd, &d.Noon,
			&d.DiffMM, &d.DiffGlobalMaxMM, &d.DiffGlobalMinMM, &d.CILower, &d.CIUpper, &d.Normal); err != nil {
			return nil, err
		}
		if d.Day, err = s.parseDay(day); err != nil {
			return nil, err
		}
		stats = append(stats, d)
	}
	return stats, rows.Err()
}

func (s *Store) GetExtremaEvents(runID string) ([]models.ExtremaEvent, error) {
	rows, err := s.db.Query(`
		SELECT day, time_max, val_max, time_min, val_min
		FROM extrema_events
		WHERE run_id = ?
		ORDER BY day ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ExtremaEvent
	for rows.Next() {
		var e models.ExtremaEvent
		var day string
		if err := rows.Scan(&day, &e.TimeMax, &e.ValMax, &e.TimeMin, &e.ValMin); err != nil {
			return nil, err
		}
		if e.Day, err = s.parseDay(day); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) GetCentralTimes(runID string) ([]models.CentralTime, error) {
	rows, err := s.db.Query(`
		SELECT day, central_min_hour, central_max_hour
		FROM central_times
		WHERE run_id = ?
		ORDER BY day ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CentralTime
	for rows.Next() {
		var c models.CentralTime
		var day string
		if err := rows.Scan(&day, &c.CentralMinHour, &c.CentralMaxHour); err != nil {
			return nil, err
		}
		if c.Day, err = s.parseDay(day); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetHalfHourRows returns the per-day half-hour table for stat, ordered by day
// then slot.
func (s *Store) GetHalfHourRows(runID, stat string) ([]models.HalfHourValue, error) {
	rows, err := s.db.Query(`
		SELECT day, half_hour, value
		FROM half_hour_daily
		WHERE run_id = ? AND stat = ?
		ORDER BY day ASC, half_hour ASC
	`, runID, stat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HalfHourValue
	for rows.Next() {
		var v models.HalfHourValue
		var day string
		if err := rows.Scan(&day, &v.HalfHour, &v.Value); err != nil {
			return nil, err
		}
		if v.Day, err = s.parseDay(day); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) GetProfile(runID, stat string) ([]models.ProfileBin, error) {
	rows, err := s.db.Query(`
		SELECT half_hour, value
		FROM half_hour_profile
		WHERE run_id = ? AND stat = ?
		ORDER BY half_hour ASC
	`, runID, stat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProfileBin
	for rows.Next() {
		var b models.ProfileBin
		if err := rows.Scan(&b.HalfHour, &b.Value); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetDayExtremeBins(runID string) ([]models.DayExtremeBins, error) {
	rows, err := s.db.Query(`
		SELECT day, max_mean, min_mean, max_median, min_median
		FROM half_hour_day_extremes
		WHERE run_id = ?
		ORDER BY day ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DayExtremeBins
	for rows.Next() {
		var b models.DayExtremeBins
		var day string
		if err := rows.Scan(&day, &b.MaxMean, &b.MinMean, &b.MaxMedian, &b.MinMedian); err != nil {
			return nil, err
		}
		if b.Day, err = s.parseDay(day); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, through the foreign keys, every table row it owns.
func (s *Store) DeleteRun(runID string) error {
	res, err := s.db.Exec(`DELETE FROM analysis_runs WHERE id = ?`, runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}
