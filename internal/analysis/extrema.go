package analysis

import (
	"github.com/lox/fissure/internal/models"
)

// SkipReason explains why a day produced no ExtremaEvent. The empty reason
// means an event was emitted.
type SkipReason string

const (
	Emitted             SkipReason = ""
	SkipTooFewSamples   SkipReason = "too_few_samples"
	SkipNoInterior      SkipReason = "no_interior"
	SkipNothingAfterMax SkipReason = "nothing_after_max"
	SkipNotDecreasing   SkipReason = "not_decreasing"
)

type SkipCounts map[SkipReason]int

// ResolveExtrema finds the day's interior maximum and the lowest reading that
// follows it. The crack is expected to open first and close afterwards, so a
// minimum before the maximum is never reported. samples must belong to a
// single day and be sorted by timestamp.
func ResolveExtrema(samples []models.Sample) (models.ExtremaEvent, SkipReason) {
	if len(samples) < 2 {
		return models.ExtremaEvent{}, SkipTooFewSamples
	}

	inner := interior(samples)
	iMax := argExtreme(inner, func(a, b float64) bool { return a > b })
	if iMax < 0 {
		return models.ExtremaEvent{}, SkipNoInterior
	}
	top := inner[iMax]

	var after []models.Sample
	for _, s := range inner {
		if s.Timestamp.After(top.Timestamp) {
			after = append(after, s)
		}
	}
	iMin := argExtreme(after, func(a, b float64) bool { return a < b })
	if iMin < 0 {
		return models.ExtremaEvent{}, SkipNothingAfterMax
	}
	bottom := after[iMin]

	if !(top.Value > bottom.Value) {
		return models.ExtremaEvent{}, SkipNotDecreasing
	}

	return models.ExtremaEvent{
		Day:     samples[0].Day,
		TimeMax: top.Timestamp,
		ValMax:  top.Value,
		TimeMin: bottom.Timestamp,
		ValMin:  bottom.Value,
	}, Emitted
}

// argExtreme returns the index of the first defined sample that no later
// sample beats, or -1 if none is defined.
func argExtreme(samples []models.Sample, better func(a, b float64) bool) int {
	best := -1
	for i, s := range samples {
		if !s.Defined() {
			continue
		}
		if best < 0 || better(s.Value, samples[best].Value) {
			best = i
		}
	}
	return best
}

// DailyExtrema runs ResolveExtrema on every day and returns the emitted events
// in day order along with a tally of skipped days.
func DailyExtrema(g Grouping, ex Executor) ([]models.ExtremaEvent, SkipCounts) {
	events := make([]models.ExtremaEvent, g.Len())
	reasons := make([]SkipReason, g.Len())
	ex.forEachDay(g.Len(), func(i int) {
		events[i], reasons[i] = ResolveExtrema(g.Days[i].Samples)
	})

	var out []models.ExtremaEvent
	skipped := make(SkipCounts)
	for i, reason := range reasons {
		if reason != Emitted {
			skipped[reason]++
			continue
		}
		out = append(out, events[i])
	}
	return out, skipped
}
