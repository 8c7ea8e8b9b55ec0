package api

import (
	"database/sql"
	"time"

	"github.com/lox/fissure/internal/models"
)

const dayLayout = "2006-01-02"

func nullPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// RunView is an analysis run as served by the API.
type RunView struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	SourcePath  string     `json:"source_path,omitempty"`
	SampleCount int        `json:"sample_count"`
	DayCount    int        `json:"day_count"`
	EventCount  int        `json:"event_count"`
	GlobalMin   *float64   `json:"global_min"`
	GlobalMax   *float64   `json:"global_max"`
	Success     bool       `json:"success"`
	Error       string     `json:"error,omitempty"`
}

func newRunView(r models.AnalysisRun) RunView {
	v := RunView{
		ID:          r.ID,
		Kind:        r.Kind,
		StartedAt:   r.StartedAt,
		SourcePath:  r.SourcePath,
		SampleCount: r.SampleCount,
		DayCount:    r.DayCount,
		EventCount:  r.EventCount,
		GlobalMin:   nullPtr(r.GlobalMin),
		GlobalMax:   nullPtr(r.GlobalMax),
		Success:     r.Success,
		Error:       r.ErrorMessage.String,
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		v.FinishedAt = &t
	}
	return v
}

type DailyView struct {
	Day             string    `json:"day"`
	Samples         int       `json:"samples"`
	Min             *float64  `json:"min"`
	Max             *float64  `json:"max"`
	Mean            *float64  `json:"mean"`
	Median          *float64  `json:"median"`
	DayStart        time.Time `json:"day_start"`
	DayEnd          time.Time `json:"day_end"`
	Noon            time.Time `json:"noon"`
	DiffMM          *float64  `json:"diff_mm"`
	DiffGlobalMaxMM *float64  `json:"diff_global_max_mm"`
	DiffGlobalMinMM *float64  `json:"diff_global_min_mm"`
	CILower         *float64  `json:"ci_lower"`
	CIUpper         *float64  `json:"ci_upper"`
	Normal          bool      `json:"normal"`
}

func newDailyViews(stats []models.DailyStat) []DailyView {
	out := make([]DailyView, 0, len(stats))
	for _, d := range stats {
		out = append(out, DailyView{
			Day:             d.Day.Format(dayLayout),
			Samples:         d.Samples,
			Min:             nullPtr(d.Min),
			Max:             nullPtr(d.Max),
			Mean:            nullPtr(d.Mean),
			Median:          nullPtr(d.Median),
			DayStart:        d.DayStart,
			DayEnd:          d.DayEnd,
			Noon:            d.Noon,
			DiffMM:          nullPtr(d.DiffMM),
			DiffGlobalMaxMM: nullPtr(d.DiffGlobalMaxMM),
			DiffGlobalMinMM: nullPtr(d.DiffGlobalMinMM),
			CILower:         nullPtr(d.CILower),
			CIUpper:         nullPtr(d.CIUpper),
			Normal:          d.Normal,
		})
	}
	return out
}

type ExtremaView struct {
	Day     string    `json:"day"`
	TimeMax time.Time `json:"time_max"`
	ValMax  float64   `json:"val_max"`
	TimeMin time.Time `json:"time_min"`
	ValMin  float64   `json:"val_min"`
}

func newExtremaViews(events []models.ExtremaEvent) []ExtremaView {
	out := make([]ExtremaView, 0, len(events))
	for _, e := range events {
		out = append(out, ExtremaView{
			Day:     e.Day.Format(dayLayout),
			TimeMax: e.TimeMax,
			ValMax:  e.ValMax,
			TimeMin: e.TimeMin,
			ValMin:  e.ValMin,
		})
	}
	return out
}

type CentralView struct {
	Day            string   `json:"day"`
	CentralMinHour *float64 `json:"central_min_hour"`
	CentralMaxHour *float64 `json:"central_max_hour"`
}

func newCentralViews(central []models.CentralTime) []CentralView {
	out := make([]CentralView, 0, len(central))
	for _, c := range central {
		out = append(out, CentralView{
			Day:            c.Day.Format(dayLayout),
			CentralMinHour: nullPtr(c.CentralMinHour),
			CentralMaxHour: nullPtr(c.CentralMaxHour),
		})
	}
	return out
}

type HalfHourCell struct {
	Day      string   `json:"day"`
	HalfHour float64  `json:"half_hour"`
	Value    *float64 `json:"value"`
}

type ProfileSlot struct {
	HalfHour float64  `json:"half_hour"`
	Value    *float64 `json:"value"`
}

type DayBinsView struct {
	Day       string   `json:"day"`
	MaxMean   *float64 `json:"max_mean"`
	MinMean   *float64 `json:"min_mean"`
	MaxMedian *float64 `json:"max_median"`
	MinMedian *float64 `json:"min_median"`
}

// HalfHourView is one statistic's per-day table and its averaged profile.
type HalfHourView struct {
	Stat        string         `json:"stat"`
	Rows        []HalfHourCell `json:"rows"`
	Profile     []ProfileSlot  `json:"profile"`
	DayExtremes []DayBinsView  `json:"day_extremes"`
}

func newHalfHourView(stat string, rows []models.HalfHourValue, profile []models.ProfileBin, bins []models.DayExtremeBins) HalfHourView {
	v := HalfHourView{
		Stat:        stat,
		Rows:        make([]HalfHourCell, 0, len(rows)),
		Profile:     make([]ProfileSlot, 0, len(profile)),
		DayExtremes: make([]DayBinsView, 0, len(bins)),
	}
	for _, r := range rows {
		v.Rows = append(v.Rows, HalfHourCell{Day: r.Day.Format(dayLayout), HalfHour: r.HalfHour, Value: nullPtr(r.Value)})
	}
	for _, p := range profile {
		v.Profile = append(v.Profile, ProfileSlot{HalfHour: p.HalfHour, Value: nullPtr(p.Value)})
	}
	for _, b := range bins {
		v.DayExtremes = append(v.DayExtremes, DayBinsView{
			Day:       b.Day.Format(dayLayout),
			MaxMean:   nullPtr(b.MaxMean),
			MinMean:   nullPtr(b.MinMean),
			MaxMedian: nullPtr(b.MaxMedian),
			MinMedian: nullPtr(b.MinMedian),
		})
	}
	return v
}

type LagScoreView struct {
	Rank        int     `json:"rank"`
	Feature     string  `json:"feature"`
	Correlation float64 `json:"abs_correlation"`
}

type CoefficientView struct {
	Feature     string  `json:"feature"`
	Coefficient float64 `json:"coefficient"`
}

type LagFitView struct {
	Readings     int               `json:"readings"`
	NumParams    int               `json:"num_params"`
	Intercept    float64           `json:"intercept"`
	Coefficients []CoefficientView `json:"coefficients"`
	RMSE         float64           `json:"rmse"`
	MAPE         float64           `json:"mape"`
	R2           float64           `json:"r2"`
	AdjR2        *float64          `json:"adj_r2"`
	AIC          *float64          `json:"aic"`
	BIC          *float64          `json:"bic"`
	PearsonR     *float64          `json:"pearson_r"`
	PValue       *float64          `json:"p_value"`
}

type LagView struct {
	Scores []LagScoreView `json:"scores"`
	Fit    *LagFitView    `json:"fit"`
}

func newLagView(scores []models.LagScore, fit *models.LagFit) LagView {
	v := LagView{Scores: make([]LagScoreView, 0, len(scores))}
	for i, sc := range scores {
		v.Scores = append(v.Scores, LagScoreView{Rank: i + 1, Feature: sc.Feature, Correlation: sc.Correlation})
	}
	if fit == nil {
		return v
	}
	fv := &LagFitView{
		Readings:     fit.Readings,
		NumParams:    fit.NumParams,
		Intercept:    fit.Intercept,
		Coefficients: make([]CoefficientView, 0, len(fit.Coefficients)),
		RMSE:         fit.RMSE,
		MAPE:         fit.MAPE,
		R2:           fit.R2,
		AdjR2:        nullPtr(fit.AdjR2),
		AIC:          nullPtr(fit.AIC),
		BIC:          nullPtr(fit.BIC),
		PearsonR:     nullPtr(fit.PearsonR),
		PValue:       nullPtr(fit.PValue),
	}
	for _, c := range fit.Coefficients {
		fv.Coefficients = append(fv.Coefficients, CoefficientView{Feature: c.Feature, Coefficient: c.Coefficient})
	}
	v.Fit = fv
	return v
}
