package analysis

import (
	"database/sql"
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/fissure/internal/models"
)

type HalfHourTables struct {
	// Per-day tables hold one row per (day, bin) with at least one sample,
	// ordered by day then bin.
	Mean   []models.HalfHourValue
	Median []models.HalfHourValue
	// Profiles always hold all 48 bins; bins with no data stay undefined.
	MeanProfile   []models.ProfileBin
	MedianProfile []models.ProfileBin
}

// BinIndex maps a half-hour label (0, 0.5, ... 23.5) to its slot.
func BinIndex(halfHour float64) int {
	i := int(math.Round(halfHour * 2))
	return max(0, min(models.HalfHourBins-1, i))
}

func binLabel(i int) float64 {
	return float64(i) / 2
}

// AggregateHalfHours buckets every day into half-hour slots and averages the
// per-day values across days: mean of the per-day means and median of the
// per-day medians.
func AggregateHalfHours(g Grouping) HalfHourTables {
	var t HalfHourTables
	var meansByBin, mediansByBin [models.HalfHourBins][]float64

	for _, d := range g.Days {
		var present [models.HalfHourBins]bool
		var buckets [models.HalfHourBins][]float64
		for _, s := range d.Samples {
			i := BinIndex(s.HalfHour)
			present[i] = true
			if s.Defined() {
				buckets[i] = append(buckets[i], s.Value)
			}
		}

		for i := range buckets {
			if !present[i] {
				continue
			}
			mean, median := sql.NullFloat64{}, sql.NullFloat64{}
			if len(buckets[i]) > 0 {
				mean = valid(stat.Mean(buckets[i], nil))
				meansByBin[i] = append(meansByBin[i], mean.Float64)
				if m, err := stats.Median(buckets[i]); err == nil {
					median = valid(m)
					mediansByBin[i] = append(mediansByBin[i], m)
				}
			}
			t.Mean = append(t.Mean, models.HalfHourValue{Day: d.Day, HalfHour: binLabel(i), Value: mean})
			t.Median = append(t.Median, models.HalfHourValue{Day: d.Day, HalfHour: binLabel(i), Value: median})
		}
	}

	t.MeanProfile = make([]models.ProfileBin, models.HalfHourBins)
	t.MedianProfile = make([]models.ProfileBin, models.HalfHourBins)
	for i := 0; i < models.HalfHourBins; i++ {
		t.MeanProfile[i].HalfHour = binLabel(i)
		t.MedianProfile[i].HalfHour = binLabel(i)
		if len(meansByBin[i]) > 0 {
			t.MeanProfile[i].Value = valid(stat.Mean(meansByBin[i], nil))
		}
		if m, err := stats.Median(mediansByBin[i]); err == nil {
			t.MedianProfile[i].Value = valid(m)
		}
	}
	return t
}

// BinExtremes locates the peak and trough slots of the averaged profiles and
// carries the per-day values that fed each of those slots.
type BinExtremes struct {
	MaxHalfMean   float64
	MinHalfMean   float64
	MaxHalfMedian float64
	MinHalfMedian float64

	DataMaxMean   []models.HalfHourValue
	DataMinMean   []models.HalfHourValue
	DataMaxMedian []models.HalfHourValue
	DataMinMedian []models.HalfHourValue
}

// HalfHourExtremes returns false when either profile has no defined slot.
// Ties resolve to the earliest slot.
func HalfHourExtremes(t HalfHourTables) (BinExtremes, bool) {
	maxMean, minMean, ok := profileExtremes(t.MeanProfile)
	if !ok {
		return BinExtremes{}, false
	}
	maxMedian, minMedian, ok := profileExtremes(t.MedianProfile)
	if !ok {
		return BinExtremes{}, false
	}

	return BinExtremes{
		MaxHalfMean:   maxMean,
		MinHalfMean:   minMean,
		MaxHalfMedian: maxMedian,
		MinHalfMedian: minMedian,
		DataMaxMean:   valuesInBin(t.Mean, maxMean),
		DataMinMean:   valuesInBin(t.Mean, minMean),
		DataMaxMedian: valuesInBin(t.Median, maxMedian),
		DataMinMedian: valuesInBin(t.Median, minMedian),
	}, true
}

func profileExtremes(profile []models.ProfileBin) (maxBin, minBin float64, ok bool) {
	iMax, iMin := -1, -1
	for i, b := range profile {
		if !b.Value.Valid {
			continue
		}
		if iMax < 0 || b.Value.Float64 > profile[iMax].Value.Float64 {
			iMax = i
		}
		if iMin < 0 || b.Value.Float64 < profile[iMin].Value.Float64 {
			iMin = i
		}
	}
	if iMax < 0 {
		return 0, 0, false
	}
	return profile[iMax].HalfHour, profile[iMin].HalfHour, true
}

func valuesInBin(rows []models.HalfHourValue, halfHour float64) []models.HalfHourValue {
	var out []models.HalfHourValue
	for _, r := range rows {
		if r.HalfHour == halfHour {
			out = append(out, r)
		}
	}
	return out
}

// DailyExtremeHalfHours reports, for each day, the slot holding the max and
// min of its mean and median half-hour tables.
func DailyExtremeHalfHours(t HalfHourTables) []models.DayExtremeBins {
	var out []models.DayExtremeBins
	index := make(map[string]int)
	row := func(day time.Time) *models.DayExtremeBins {
		key := day.Format(dayLayout)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, models.DayExtremeBins{Day: day})
		}
		return &out[i]
	}

	for _, day := range groupRowsByDay(t.Mean) {
		r := row(day[0].Day)
		r.MaxMean, r.MinMean = rowExtremes(day)
	}
	for _, day := range groupRowsByDay(t.Median) {
		r := row(day[0].Day)
		r.MaxMedian, r.MinMedian = rowExtremes(day)
	}
	return out
}

// groupRowsByDay splits a day-ordered table into consecutive runs of one day.
func groupRowsByDay(rows []models.HalfHourValue) [][]models.HalfHourValue {
	var out [][]models.HalfHourValue
	for i, r := range rows {
		if i == 0 || !r.Day.Equal(rows[i-1].Day) {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], r)
	}
	return out
}

func rowExtremes(rows []models.HalfHourValue) (maxBin, minBin sql.NullFloat64) {
	iMax, iMin := -1, -1
	for i, r := range rows {
		if !r.Value.Valid {
			continue
		}
		if iMax < 0 || r.Value.Float64 > rows[iMax].Value.Float64 {
			iMax = i
		}
		if iMin < 0 || r.Value.Float64 < rows[iMin].Value.Float64 {
			iMin = i
		}
	}
	if iMax < 0 {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return valid(rows[iMax].HalfHour), valid(rows[iMin].HalfHour)
}
