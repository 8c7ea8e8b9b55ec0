// Package report renders stored analysis tables as CSV files and plain-language
// summaries.
package report

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lox/fissure/internal/models"
	"github.com/lox/fissure/internal/store"
)

const (
	dayLayout  = "2006-01-02"
	timeLayout = "2006-01-02 15:04:05"
)

// File names written by WriteAnalysis and WriteLag.
const (
	DailyFile          = "daily_stats.csv"
	ExtremaFile        = "extrema_events.csv"
	CentralFile        = "central_times.csv"
	HalfHourMeanFile   = "half_hour_mean.csv"
	HalfHourMedianFile = "half_hour_median.csv"
	ProfileFile        = "half_hour_profile.csv"
	DayBinsFile        = "half_hour_day_extremes.csv"
	LagScoresFile      = "lag_scores.csv"
	LagCoefficientFile = "lag_coefficients.csv"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatNull(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float64)
}

func writeTable(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func WriteDaily(w io.Writer, stats []models.DailyStat) error {
	rows := make([][]string, 0, len(stats))
	for _, d := range stats {
		rows = append(rows, []string{
			d.Day.Format(dayLayout),
			strconv.Itoa(d.Samples),
			formatNull(d.Min),
			formatNull(d.Max),
			formatNull(d.Mean),
			formatNull(d.Median),
			d.DayStart.Format(timeLayout),
			d.DayEnd.Format(timeLayout),
			d.Noon.Format(timeLayout),
			formatNull(d.DiffMM),
			formatNull(d.DiffGlobalMaxMM),
			formatNull(d.DiffGlobalMinMM),
			formatNull(d.CILower),
			formatNull(d.CIUpper),
			strconv.FormatBool(d.Normal),
		})
	}
	return writeTable(w, []string{
		"day", "samples", "min", "max", "mean", "median", "day_start", "day_end", "noon",
		"diff_mm", "diff_global_max_mm", "diff_global_min_mm", "ci_lower", "ci_upper", "normal",
	}, rows)
}

func WriteExtrema(w io.Writer, events []models.ExtremaEvent) error {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			e.Day.Format(dayLayout),
			e.TimeMax.Format(timeLayout),
			formatFloat(e.ValMax),
			e.TimeMin.Format(timeLayout),
			formatFloat(e.ValMin),
		})
	}
	return writeTable(w, []string{"day", "time_max", "val_max", "time_min", "val_min"}, rows)
}

func WriteCentral(w io.Writer, central []models.CentralTime) error {
	rows := make([][]string, 0, len(central))
	for _, c := range central {
		rows = append(rows, []string{
			c.Day.Format(dayLayout),
			formatNull(c.CentralMinHour),
			formatNull(c.CentralMaxHour),
		})
	}
	return writeTable(w, []string{"day", "central_min_hour", "central_max_hour"}, rows)
}

// WriteHalfHour writes a per-day half-hour table in long form.
func WriteHalfHour(w io.Writer, values []models.HalfHourValue) error {
	rows := make([][]string, 0, len(values))
	for _, v := range values {
		rows = append(rows, []string{
			v.Day.Format(dayLayout),
			formatFloat(v.HalfHour),
			formatNull(v.Value),
		})
	}
	return writeTable(w, []string{"day", "half_hour", "value"}, rows)
}

// WriteProfile writes the mean and median profiles side by side. Both must
// cover the same slots in the same order.
func WriteProfile(w io.Writer, mean, median []models.ProfileBin) error {
	if len(mean) != len(median) {
		return fmt.Errorf("profile length mismatch: %d mean slots, %d median slots", len(mean), len(median))
	}
	rows := make([][]string, 0, len(mean))
	for i := range mean {
		rows = append(rows, []string{
			formatFloat(mean[i].HalfHour),
			formatNull(mean[i].Value),
			formatNull(median[i].Value),
		})
	}
	return writeTable(w, []string{"half_hour", "mean", "median"}, rows)
}

func WriteDayBins(w io.Writer, bins []models.DayExtremeBins) error {
	rows := make([][]string, 0, len(bins))
	for _, b := range bins {
		rows = append(rows, []string{
			b.Day.Format(dayLayout),
			formatNull(b.MaxMean),
			formatNull(b.MinMean),
			formatNull(b.MaxMedian),
			formatNull(b.MinMedian),
		})
	}
	return writeTable(w, []string{"day", "max_mean", "min_mean", "max_median", "min_median"}, rows)
}

func WriteLagScores(w io.Writer, scores []models.LagScore) error {
	rows := make([][]string, 0, len(scores))
	for i, sc := range scores {
		rows = append(rows, []string{strconv.Itoa(i + 1), sc.Feature, formatFloat(sc.Correlation)})
	}
	return writeTable(w, []string{"rank", "feature", "abs_correlation"}, rows)
}

// WriteLagFit writes the fitted coefficients followed by the model scores,
// one name/value pair per row.
func WriteLagFit(w io.Writer, fit *models.LagFit) error {
	rows := [][]string{{"intercept", formatFloat(fit.Intercept)}}
	for _, c := range fit.Coefficients {
		rows = append(rows, []string{c.Feature, formatFloat(c.Coefficient)})
	}
	rows = append(rows,
		[]string{"readings", strconv.Itoa(fit.Readings)},
		[]string{"rmse", formatFloat(fit.RMSE)},
		[]string{"mape", formatFloat(fit.MAPE)},
		[]string{"r2", formatFloat(fit.R2)},
		[]string{"adj_r2", formatNull(fit.AdjR2)},
		[]string{"aic", formatNull(fit.AIC)},
		[]string{"bic", formatNull(fit.BIC)},
		[]string{"pearson_r", formatNull(fit.PearsonR)},
		[]string{"p_value", formatNull(fit.PValue)},
	)
	return writeTable(w, []string{"name", "value"}, rows)
}

func writeFile(dir, name string, write func(io.Writer) error) error {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return f.Close()
}

// WriteAnalysis writes every table of an analysis run into dir and returns the
// paths written.
func WriteAnalysis(dir string, a store.Analysis) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{DailyFile, func(w io.Writer) error { return WriteDaily(w, a.Daily) }},
		{ExtremaFile, func(w io.Writer) error { return WriteExtrema(w, a.Events) }},
		{CentralFile, func(w io.Writer) error { return WriteCentral(w, a.Central) }},
		{HalfHourMeanFile, func(w io.Writer) error { return WriteHalfHour(w, a.MeanRows) }},
		{HalfHourMedianFile, func(w io.Writer) error { return WriteHalfHour(w, a.MedianRows) }},
		{ProfileFile, func(w io.Writer) error { return WriteProfile(w, a.MeanProfile, a.MedianProfile) }},
		{DayBinsFile, func(w io.Writer) error { return WriteDayBins(w, a.DayBins) }},
	}

	var written []string
	for _, f := range files {
		if err := writeFile(dir, f.name, f.write); err != nil {
			return written, err
		}
		written = append(written, filepath.Join(dir, f.name))
	}
	return written, nil
}

// WriteLag writes the ranked features and, when present, the fit.
func WriteLag(dir string, scores []models.LagScore, fit *models.LagFit) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := writeFile(dir, LagScoresFile, func(w io.Writer) error { return WriteLagScores(w, scores) }); err != nil {
		return nil, err
	}
	written := []string{filepath.Join(dir, LagScoresFile)}
	if fit == nil {
		return written, nil
	}
	if err := writeFile(dir, LagCoefficientFile, func(w io.Writer) error { return WriteLagFit(w, fit) }); err != nil {
		return written, err
	}
	return append(written, filepath.Join(dir, LagCoefficientFile)), nil
}

// Stamp names an output directory after a run's start time.
func Stamp(base string, started time.Time) string {
	return filepath.Join(base, started.UTC().Format("20060102T150405Z"))
}
