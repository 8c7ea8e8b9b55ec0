package models

import (
	"database/sql"
	"math"
	"time"
)

// InchToMM converts the sensor's native inch readings to millimetres.
const InchToMM = 25.4

// HalfHourBins is the number of half-hour slots in a day.
const HalfHourBins = 48

// Sample is a single crack displacement reading. A NaN Value marks a reading
// whose numeric field could not be parsed.
type Sample struct {
	Timestamp time.Time
	Value     float64   // inches
	Day       time.Time // midnight of the calendar day, in the load location
	Hour      float64   // decimal hour of day
	HourBin   int
	HalfHour  float64 // 0, 0.5, ... 23.5
}

// NewSample derives the calendar fields of a reading in loc.
func NewSample(ts time.Time, value float64, loc *time.Location) Sample {
	local := ts.In(loc)
	return Sample{
		Timestamp: local,
		Value:     value,
		Day:       time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc),
		Hour:      DecimalHour(local),
		HourBin:   local.Hour(),
		HalfHour:  float64(local.Hour()) + float64(local.Minute()/30)*0.5,
	}
}

// DecimalHour returns the time of day in hours, to whole-second resolution.
func DecimalHour(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
}

// Defined reports whether the sample carries a usable value.
func (s Sample) Defined() bool {
	return !math.IsNaN(s.Value)
}

// MM returns the reading in millimetres.
func (s Sample) MM() float64 {
	return s.Value * InchToMM
}

type DailyStat struct {
	Day             time.Time
	Samples         int
	Min             sql.NullFloat64
	Max             sql.NullFloat64
	Mean            sql.NullFloat64
	Median          sql.NullFloat64
	DayStart        time.Time
	DayEnd          time.Time
	Noon            time.Time
	DiffMM          sql.NullFloat64
	DiffGlobalMaxMM sql.NullFloat64
	DiffGlobalMinMM sql.NullFloat64
	CILower         sql.NullFloat64
	CIUpper         sql.NullFloat64
	Normal          bool
}

// GlobalBounds is the dataset-wide envelope of the recomputed interior values.
type GlobalBounds struct {
	Min sql.NullFloat64
	Max sql.NullFloat64
}

type ExtremaEvent struct {
	Day     time.Time
	TimeMax time.Time
	ValMax  float64
	TimeMin time.Time
	ValMin  float64
}

// CentralTime holds the decimal-hour midpoints of a day's min and max plateaus.
type CentralTime struct {
	Day            time.Time
	CentralMinHour sql.NullFloat64
	CentralMaxHour sql.NullFloat64
}

// HalfHourValue is one cell of a per-day half-hour table.
type HalfHourValue struct {
	Day      time.Time
	HalfHour float64
	Value    sql.NullFloat64
}

// ProfileBin is one slot of the averaged 48-slot day profile.
type ProfileBin struct {
	HalfHour float64
	Value    sql.NullFloat64
}

// DayExtremeBins records where each day's half-hour tables peak and bottom out.
type DayExtremeBins struct {
	Day       time.Time
	MaxMean   sql.NullFloat64
	MinMean   sql.NullFloat64
	MaxMedian sql.NullFloat64
	MinMedian sql.NullFloat64
}

// WallReading is a manual crack gauge reading used as the regression target.
type WallReading struct {
	Date  time.Time
	Value float64
}

// Run kinds recorded in AnalysisRun.Kind.
const (
	RunKindAnalyze = "analyze"
	RunKindLag     = "lag"
)

// AnalysisRun audits one batch run and anchors every table it produced.
type AnalysisRun struct {
	ID           string
	Kind         string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	SourcePath   string
	SampleCount  int
	DayCount     int
	EventCount   int
	GlobalMin    sql.NullFloat64
	GlobalMax    sql.NullFloat64
	Success      bool
	ErrorMessage sql.NullString
}

type LagScore struct {
	Feature     string
	Correlation float64
}

type LagCoefficient struct {
	Feature     string
	Coefficient float64
}

// LagFit summarises a regression of wall readings on lagged weather features.
// Scores that can be undefined for tiny samples are nullable.
type LagFit struct {
	Readings     int
	NumParams    int
	Intercept    float64
	Coefficients []LagCoefficient
	RMSE         float64
	MAPE         float64
	R2           float64
	AdjR2        sql.NullFloat64
	AIC          sql.NullFloat64
	BIC          sql.NullFloat64
	PearsonR     sql.NullFloat64
	PValue       sql.NullFloat64
}
