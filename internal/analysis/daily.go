package analysis

import (
	"database/sql"
	"time"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/fissure/internal/models"
)

type DailyTable struct {
	Stats  []models.DailyStat
	Bounds models.GlobalBounds
}

// Day returns the row for day, if present.
func (t DailyTable) Day(day time.Time) (models.DailyStat, bool) {
	key := day.Format(dayLayout)
	for _, st := range t.Stats {
		if st.Day.Format(dayLayout) == key {
			return st, true
		}
	}
	return models.DailyStat{}, false
}

// DailyStats computes one row per day: mean and median over every defined
// value, min and max over interior samples only, and the millimetre deltas
// against the dataset-wide interior envelope.
func DailyStats(g Grouping, ex Executor) DailyTable {
	rows := make([]models.DailyStat, g.Len())
	ex.forEachDay(g.Len(), func(i int) {
		rows[i] = summarizeDay(g.Days[i])
	})

	bounds := globalBounds(rows)
	for i := range rows {
		applyDiffs(&rows[i], bounds)
	}
	return DailyTable{Stats: rows, Bounds: bounds}
}

func summarizeDay(d DayGroup) models.DailyStat {
	st := models.DailyStat{
		Day:      d.Day,
		Samples:  len(d.Samples),
		DayStart: d.Day,
		DayEnd:   d.Day.AddDate(0, 0, 1),
		Noon:     d.Day.Add(12 * time.Hour),
	}

	if values := definedValues(d.Samples); len(values) > 0 {
		st.Mean = valid(stat.Mean(values, nil))
		if median, err := stats.Median(values); err == nil {
			st.Median = valid(median)
		}
	}

	if inner := definedValues(interior(d.Samples)); len(inner) > 0 {
		st.Min = valid(floats.Min(inner))
		st.Max = valid(floats.Max(inner))
	}
	return st
}

func globalBounds(rows []models.DailyStat) models.GlobalBounds {
	var b models.GlobalBounds
	for _, st := range rows {
		if st.Min.Valid && (!b.Min.Valid || st.Min.Float64 < b.Min.Float64) {
			b.Min = st.Min
		}
		if st.Max.Valid && (!b.Max.Valid || st.Max.Float64 > b.Max.Float64) {
			b.Max = st.Max
		}
	}
	return b
}

func applyDiffs(st *models.DailyStat, b models.GlobalBounds) {
	if st.Min.Valid && st.Max.Valid {
		st.DiffMM = valid((st.Max.Float64 - st.Min.Float64) * models.InchToMM)
	}
	if st.Max.Valid && b.Max.Valid {
		st.DiffGlobalMaxMM = valid((b.Max.Float64 - st.Max.Float64) * models.InchToMM)
	}
	if st.Min.Valid && b.Min.Valid {
		st.DiffGlobalMinMM = valid((st.Min.Float64 - b.Min.Float64) * models.InchToMM)
	}
}

func valid(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}
