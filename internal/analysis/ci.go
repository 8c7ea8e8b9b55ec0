package analysis

import (
	"database/sql"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/lox/fissure/internal/models"
)

// MinCISamples is the smallest day size that gets a confidence interval.
const MinCISamples = 3

// ConfidenceIntervals returns a copy of table with the 95% Student's t interval
// around each day's mean. assumeNormal is recorded as the day's normal flag; it
// is not the result of a normality test.
func ConfidenceIntervals(g Grouping, table DailyTable, assumeNormal bool) DailyTable {
	out := DailyTable{
		Stats:  make([]models.DailyStat, len(table.Stats)),
		Bounds: table.Bounds,
	}
	copy(out.Stats, table.Stats)

	for i := range out.Stats {
		st := &out.Stats[i]
		lower, upper, ok := ConfidenceInterval95(definedValues(g.Samples(st.Day)))
		if !ok {
			st.CILower = sql.NullFloat64{}
			st.CIUpper = sql.NullFloat64{}
			st.Normal = false
			continue
		}
		st.CILower = valid(lower)
		st.CIUpper = valid(upper)
		st.Normal = assumeNormal
	}
	return out
}

// ConfidenceInterval95 returns mean ± t(0.975, n-1)·s/√n. ok is false when
// fewer than MinCISamples values are given.
func ConfidenceInterval95(values []float64) (lower, upper float64, ok bool) {
	n := len(values)
	if n < MinCISamples {
		return 0, 0, false
	}
	mean, sd := stat.MeanStdDev(values, nil)
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}.Quantile(0.975)
	margin := t * sd / math.Sqrt(float64(n))
	return mean - margin, mean + margin, true
}
