package analysis

import (
	"database/sql"
	"math"
	"time"

	"github.com/lox/fissure/internal/models"
)

// CentralTimes is the older plateau-based alternative to DailyExtrema. For each
// day it collects the interior samples within tolerance of the day's min and
// max and reports the decimal-hour midpoint of each plateau.
//
// When the min plateau starts before the max plateau, the min plateau keeps
// only points after the max plateau's first point and the max plateau keeps
// only points before the min plateau's first point. On such days the max
// plateau is therefore always empty. The two algorithms disagree on plateaued
// days and are kept side by side.
func CentralTimes(g Grouping, table DailyTable, tolerance float64) []models.CentralTime {
	out := make([]models.CentralTime, 0, len(table.Stats))
	for _, st := range table.Stats {
		inner := interior(g.Samples(st.Day))

		var minPlateau, maxPlateau []models.Sample
		if st.Min.Valid {
			minPlateau = plateau(inner, st.Min.Float64, tolerance)
		}
		if st.Max.Valid {
			maxPlateau = plateau(inner, st.Max.Float64, tolerance)
		}

		if len(minPlateau) > 0 && len(maxPlateau) > 0 {
			minFirst := earliest(minPlateau)
			maxFirst := earliest(maxPlateau)
			if minFirst.Before(maxFirst) {
				minPlateau = filterTime(minPlateau, func(t time.Time) bool { return t.After(maxFirst) })
				maxPlateau = filterTime(maxPlateau, func(t time.Time) bool { return t.Before(minFirst) })
			}
		}

		out = append(out, models.CentralTime{
			Day:            st.Day,
			CentralMinHour: plateauCenter(minPlateau),
			CentralMaxHour: plateauCenter(maxPlateau),
		})
	}
	return out
}

func plateau(samples []models.Sample, target, tolerance float64) []models.Sample {
	var out []models.Sample
	for _, s := range samples {
		if s.Defined() && math.Abs(s.Value-target) < tolerance {
			out = append(out, s)
		}
	}
	return out
}

func earliest(samples []models.Sample) time.Time {
	first := samples[0].Timestamp
	for _, s := range samples[1:] {
		if s.Timestamp.Before(first) {
			first = s.Timestamp
		}
	}
	return first
}

func filterTime(samples []models.Sample, keep func(time.Time) bool) []models.Sample {
	var out []models.Sample
	for _, s := range samples {
		if keep(s.Timestamp) {
			out = append(out, s)
		}
	}
	return out
}

func plateauCenter(samples []models.Sample) sql.NullFloat64 {
	if len(samples) == 0 {
		return sql.NullFloat64{}
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		h := models.DecimalHour(s.Timestamp)
		lo = math.Min(lo, h)
		hi = math.Max(hi, h)
	}
	return valid((lo + hi) / 2)
}
