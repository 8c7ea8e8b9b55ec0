package ingest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lox/fissure/internal/config"
	"github.com/lox/fissure/internal/metrics"
	"github.com/lox/fissure/internal/models"
)

var ErrNoSamples = errors.New("no samples left after filtering")

// LoadReport tallies what happened to the raw records of one load.
type LoadReport struct {
	Format       string
	Rows         int
	BadTimestamp int
	OutOfRange   int
	TooClose     int
	Undefined    int // kept rows whose value could not be parsed
	Kept         int
}

type rawRecord struct {
	ts    time.Time
	value float64
}

// LoadSamples reads the sensor series at path. CSV files have no header and
// hold timestamp,value columns; workbooks use the configured sheet and column
// indexes. Rows are sorted, restricted to [Start, End+1 day) and thinned so
// that consecutive rows are at least MinInterval apart. The gap is measured
// against the previous row of the date-filtered series, not the previously
// kept row.
func LoadSamples(path string, cfg config.Load) ([]models.Sample, LoadReport, error) {
	var report LoadReport
	if err := cfg.Validate(); err != nil {
		return nil, report, fmt.Errorf("load config: %w", err)
	}

	rows, format, err := readRows(path, cfg.Sheet)
	report.Format = format
	if err != nil {
		return nil, report, err
	}
	report.Rows = len(rows)

	records := make([]rawRecord, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTimestamp(cell(row, cfg.TimestampColumn), cfg.Location)
		if err != nil {
			report.BadTimestamp++
			continue
		}
		records = append(records, rawRecord{ts: ts, value: parseValue(cell(row, cfg.ValueColumn))})
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].ts.Before(records[j].ts) })

	records = filterRange(records, cfg, &report)
	records = filterInterval(records, cfg.MinInterval, &report)

	samples := make([]models.Sample, 0, len(records))
	for _, r := range records {
		if math.IsNaN(r.value) {
			report.Undefined++
		}
		samples = append(samples, models.NewSample(r.ts, r.value, cfg.Location))
	}
	report.Kept = len(samples)

	metrics.SamplesLoaded.WithLabelValues(format).Add(float64(report.Kept))
	metrics.SamplesRejected.WithLabelValues(RejectBadTimestamp).Add(float64(report.BadTimestamp))
	metrics.SamplesRejected.WithLabelValues(RejectOutOfRange).Add(float64(report.OutOfRange))
	metrics.SamplesRejected.WithLabelValues(RejectTooClose).Add(float64(report.TooClose))

	if len(samples) == 0 {
		return nil, report, ErrNoSamples
	}
	return samples, report, nil
}

func filterRange(records []rawRecord, cfg config.Load, report *LoadReport) []rawRecord {
	if cfg.Start.IsZero() && cfg.End.IsZero() {
		return records
	}
	var lo, hi time.Time
	if !cfg.Start.IsZero() {
		lo = midnight(cfg.Start, cfg.Location)
	}
	if !cfg.End.IsZero() {
		hi = midnight(cfg.End, cfg.Location).AddDate(0, 0, 1)
	}

	out := records[:0:0]
	for _, r := range records {
		if (!lo.IsZero() && r.ts.Before(lo)) || (!hi.IsZero() && !r.ts.Before(hi)) {
			report.OutOfRange++
			continue
		}
		out = append(out, r)
	}
	return out
}

func filterInterval(records []rawRecord, minInterval time.Duration, report *LoadReport) []rawRecord {
	out := records[:0:0]
	for i, r := range records {
		if i > 0 && r.ts.Sub(records[i-1].ts) < minInterval {
			report.TooClose++
			continue
		}
		out = append(out, r)
	}
	return out
}
