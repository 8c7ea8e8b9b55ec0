// Package config holds the explicit settings passed into each entry point.
package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMinInterval      = 10 * time.Second
	DefaultPlateauTolerance = 1e-4
	DefaultMeasureHour      = 7
	DefaultMaxLagHours      = 15 * 24
	DefaultTopFeatures      = 20
)

// DefaultWeatherVariables are the weather export columns used for lag features.
var DefaultWeatherVariables = []string{
	"Outdoor Tem(°C)",
	"Outdoor Tem.Max(°C)",
	"Outdoor Tem.Min(°C)",
	"Outdoor Hum(%)",
	"Outdoor Hum.Max(%)",
	"Outdoor Hum.Min(%)",
	"Rainfull(Hour)(mm)",
	"Rainfull(Day)(mm)",
	"Wind speed(Hour)(km/h)",
	"Pressure(hpa)",
}

// Load controls how the sensor series is read and cleaned.
type Load struct {
	Location *time.Location
	// Start and End bound the calendar days kept (End inclusive). Zero means unbounded.
	Start       time.Time
	End         time.Time
	MinInterval time.Duration
	// Spreadsheet column indexes (0-based) for xlsx sources.
	TimestampColumn int
	ValueColumn     int
	Sheet           string
}

func DefaultLoad() Load {
	return Load{
		Location:        time.UTC,
		MinInterval:     DefaultMinInterval,
		TimestampColumn: 0,
		ValueColumn:     1,
	}
}

func (c Load) Validate() error {
	if c.Location == nil {
		return errors.New("location is required")
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("min interval must not be negative, got %s", c.MinInterval)
	}
	if !c.Start.IsZero() && !c.End.IsZero() && c.End.Before(c.Start) {
		return fmt.Errorf("end %s is before start %s", c.End.Format("2006-01-02"), c.Start.Format("2006-01-02"))
	}
	if c.TimestampColumn < 0 || c.ValueColumn < 0 {
		return errors.New("column indexes must not be negative")
	}
	return nil
}

// Analysis controls the daily statistics pipeline.
type Analysis struct {
	// AssumeNormal is recorded as the normal flag of every day with a confidence interval.
	AssumeNormal     bool
	PlateauTolerance float64
	Parallel         bool
	Workers          int
}

func DefaultAnalysis() Analysis {
	return Analysis{
		AssumeNormal:     true,
		PlateauTolerance: DefaultPlateauTolerance,
		Parallel:         true,
		Workers:          4,
	}
}

func (c Analysis) Validate() error {
	if c.PlateauTolerance <= 0 {
		return fmt.Errorf("plateau tolerance must be positive, got %g", c.PlateauTolerance)
	}
	if c.Parallel && c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1 when parallel, got %d", c.Workers)
	}
	return nil
}

// Lag controls the lagged weather feature build.
type Lag struct {
	MeasureHour int
	MaxLagHours int
	TopFeatures int
	Variables   []string
}

func DefaultLag() Lag {
	vars := make([]string, len(DefaultWeatherVariables))
	copy(vars, DefaultWeatherVariables)
	return Lag{
		MeasureHour: DefaultMeasureHour,
		MaxLagHours: DefaultMaxLagHours,
		TopFeatures: DefaultTopFeatures,
		Variables:   vars,
	}
}

func (c Lag) Validate() error {
	if c.MeasureHour < 0 || c.MeasureHour > 23 {
		return fmt.Errorf("measure hour must be within 0-23, got %d", c.MeasureHour)
	}
	if c.MaxLagHours < 1 {
		return fmt.Errorf("max lag hours must be at least 1, got %d", c.MaxLagHours)
	}
	if c.TopFeatures < 1 {
		return fmt.Errorf("top features must be at least 1, got %d", c.TopFeatures)
	}
	if len(c.Variables) == 0 {
		return errors.New("at least one weather variable is required")
	}
	return nil
}

// Fetch describes where the sensor logger publishes its measurement file.
type Fetch struct {
	Host       string // host:port
	User       string
	Password   string
	RemotePath string
	LocalPath  string
	Backup     bool
	Timeout    time.Duration
	MaxElapsed time.Duration
}

func DefaultFetch() Fetch {
	return Fetch{
		User:       "anonymous",
		Password:   "anonymous",
		Backup:     true,
		Timeout:    30 * time.Second,
		MaxElapsed: 2 * time.Minute,
	}
}

func (c Fetch) Validate() error {
	if c.Host == "" {
		return errors.New("fetch host is required")
	}
	if c.RemotePath == "" {
		return errors.New("remote path is required")
	}
	if c.LocalPath == "" {
		return errors.New("local path is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// Narrate configures the plain-language run summary.
type Narrate struct {
	APIKey    string
	Model     string
	MaxTokens int
	// Days caps how many of the most recent daily rows go into the prompt.
	Days int
}

func DefaultNarrate() Narrate {
	return Narrate{
		Model:     "gpt-4o-mini",
		MaxTokens: 600,
		Days:      31,
	}
}

func (c Narrate) Validate() error {
	if c.APIKey == "" {
		return errors.New("OpenAI API key is required")
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be at least 1, got %d", c.MaxTokens)
	}
	if c.Days < 1 {
		return fmt.Errorf("days must be at least 1, got %d", c.Days)
	}
	return nil
}
