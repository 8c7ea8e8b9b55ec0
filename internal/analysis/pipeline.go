package analysis

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lox/fissure/internal/config"
	"github.com/lox/fissure/internal/metrics"
	"github.com/lox/fissure/internal/models"
)

var ErrNoSamples = errors.New("no samples to analyze")

// Result bundles every table one pipeline run produces.
type Result struct {
	Daily       DailyTable
	Events      []models.ExtremaEvent
	Skipped     SkipCounts
	Central     []models.CentralTime
	HalfHour    HalfHourTables
	Extremes    BinExtremes
	HasExtremes bool
	DayBins     []models.DayExtremeBins
	SampleCount int
}

type Pipeline struct {
	cfg    config.Analysis
	logger *zap.SugaredLogger
}

func NewPipeline(cfg config.Analysis, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{cfg: cfg, logger: logger.Named("analysis")}
}

// Run groups samples once and feeds each stage's output to the next.
func (p *Pipeline) Run(samples []models.Sample) (*Result, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("analysis config: %w", err)
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	start := time.Now()
	ex := Executor{Parallel: p.cfg.Parallel, Workers: p.cfg.Workers}
	groups := GroupByDay(samples)
	p.logger.Infof("analyzing %d samples over %d days", len(samples), groups.Len())

	daily := DailyStats(groups, ex)
	daily = ConfidenceIntervals(groups, daily, p.cfg.AssumeNormal)
	metrics.DaysAnalyzed.Add(float64(groups.Len()))
	for _, st := range daily.Stats {
		if !st.Min.Valid {
			metrics.DaysSkipped.WithLabelValues("daily", "no_interior").Inc()
			p.logger.Debugf("%s: no interior samples, min/max undefined", st.Day.Format(dayLayout))
		}
		if !st.CILower.Valid {
			metrics.DaysSkipped.WithLabelValues("ci", "too_few_samples").Inc()
		}
	}

	events, skipped := DailyExtrema(groups, ex)
	metrics.ExtremaEvents.Add(float64(len(events)))
	for reason, n := range skipped {
		metrics.DaysSkipped.WithLabelValues("extrema", string(reason)).Add(float64(n))
		p.logger.Debugf("extrema: %d days skipped (%s)", n, reason)
	}

	res := &Result{
		Daily:       daily,
		Events:      events,
		Skipped:     skipped,
		Central:     CentralTimes(groups, daily, p.cfg.PlateauTolerance),
		HalfHour:    AggregateHalfHours(groups),
		SampleCount: len(samples),
	}
	res.Extremes, res.HasExtremes = HalfHourExtremes(res.HalfHour)
	res.DayBins = DailyExtremeHalfHours(res.HalfHour)

	elapsed := time.Since(start)
	metrics.AnalysisDuration.Observe(elapsed.Seconds())
	p.logger.Infof("analysis complete: %d days, %d events, gmin=%v gmax=%v in %s",
		len(daily.Stats), len(events), nullString(daily.Bounds.Min), nullString(daily.Bounds.Max), elapsed.Round(time.Millisecond))
	return res, nil
}

func nullString(v sql.NullFloat64) string {
	if !v.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v.Float64)
}
