package lag

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/lox/fissure/internal/config"
	"github.com/lox/fissure/internal/ingest"
	"github.com/lox/fissure/internal/models"
)

type Report struct {
	Readings int
	Features int
	Scores   []models.LagScore
	Fit      *Fit // nil when there are too few readings to score a model
}

// Analyze builds the lag features, ranks them and fits a baseline OLS model on
// the top ranked features.
func Analyze(readings []models.WallReading, weather *ingest.Weather, cfg config.Lag, logger *zap.SugaredLogger) (*Report, error) {
	logger = logger.Named("lag")

	m, err := BuildFeatures(readings, weather, cfg)
	if err != nil {
		return nil, err
	}
	if len(weather.Missing) > 0 {
		logger.Warnf("weather export lacks %d variables: %v", len(weather.Missing), weather.Missing)
	}
	logger.Infof("built %d features for %d readings", len(m.Names), m.Rows())

	report := &Report{
		Readings: m.Rows(),
		Features: len(m.Names),
		Scores:   RankFeatures(m, cfg.TopFeatures),
	}
	for i, s := range report.Scores {
		logger.Debugf("#%d %s |r|=%.4f", i+1, s.Feature, s.Correlation)
	}

	names := make([]string, len(report.Scores))
	for i, s := range report.Scores {
		names[i] = s.Feature
	}
	fit, err := FitOLS(m, names)
	if errors.Is(err, ErrTooFewReadings) {
		logger.Warnf("skipping regression: %v", err)
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fit ols: %w", err)
	}
	report.Fit = fit
	logger.Infof("ols: rmse=%.4f r2=%.3f pearson=%.2f (p=%.3f)", fit.RMSE, fit.R2, fit.PearsonR, fit.PValue)
	return report, nil
}

// Summary converts the fit for storage. It returns nil when no model was fitted.
func (r *Report) Summary() *models.LagFit {
	if r.Fit == nil {
		return nil
	}
	f := r.Fit
	out := &models.LagFit{
		Readings:  r.Readings,
		NumParams: f.NumParams,
		Intercept: f.Intercept,
		RMSE:      f.RMSE,
		MAPE:      f.MAPE,
		R2:        f.R2,
		AdjR2:     finite(f.AdjR2),
		AIC:       finite(f.AIC),
		BIC:       finite(f.BIC),
		PearsonR:  finite(f.PearsonR),
		PValue:    finite(f.PValue),
	}
	for i, name := range f.Features {
		out.Coefficients = append(out.Coefficients, models.LagCoefficient{Feature: name, Coefficient: f.Coefficients[i]})
	}
	return out
}

func finite(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
