// Package analysis turns a cleaned crack displacement series into daily
// statistics, causal max-then-min events and half-hour profiles.
//
// Every stage is a pure function of its inputs: it returns a new table and
// never modifies the grouping or a previous stage's output.
package analysis

import (
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/fissure/internal/models"
)

const dayLayout = "2006-01-02"

type DayGroup struct {
	Day     time.Time
	Samples []models.Sample
}

// Grouping maps each calendar day to its samples in timestamp order. Build it
// once with GroupByDay and share it between stages.
type Grouping struct {
	Days  []DayGroup
	index map[string]int
}

func GroupByDay(samples []models.Sample) Grouping {
	g := Grouping{index: make(map[string]int)}
	for _, s := range samples {
		key := s.Day.Format(dayLayout)
		i, ok := g.index[key]
		if !ok {
			i = len(g.Days)
			g.index[key] = i
			g.Days = append(g.Days, DayGroup{Day: s.Day})
		}
		g.Days[i].Samples = append(g.Days[i].Samples, s)
	}

	for i := range g.Days {
		slices.SortStableFunc(g.Days[i].Samples, func(a, b models.Sample) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
	}
	slices.SortFunc(g.Days, func(a, b DayGroup) int {
		return a.Day.Compare(b.Day)
	})
	for i, d := range g.Days {
		g.index[d.Day.Format(dayLayout)] = i
	}
	return g
}

// Samples returns the ordered samples of day, or nil if the day is absent.
func (g Grouping) Samples(day time.Time) []models.Sample {
	i, ok := g.index[day.Format(dayLayout)]
	if !ok {
		return nil
	}
	return g.Days[i].Samples
}

func (g Grouping) Len() int {
	return len(g.Days)
}

// interior returns the samples strictly between the day's first and last
// timestamps. Samples sharing a boundary timestamp are excluded too.
func interior(samples []models.Sample) []models.Sample {
	if len(samples) < 2 {
		return nil
	}
	first, last := samples[0].Timestamp, samples[0].Timestamp
	for _, s := range samples[1:] {
		if s.Timestamp.Before(first) {
			first = s.Timestamp
		}
		if s.Timestamp.After(last) {
			last = s.Timestamp
		}
	}

	var inner []models.Sample
	for _, s := range samples {
		if s.Timestamp.After(first) && s.Timestamp.Before(last) {
			inner = append(inner, s)
		}
	}
	return inner
}

func definedValues(samples []models.Sample) []float64 {
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Defined() {
			values = append(values, s.Value)
		}
	}
	return values
}

// Executor decides whether per-day work fans out. The zero value runs sequentially.
type Executor struct {
	Parallel bool
	Workers  int
}

// forEachDay calls fn for every day index. fn must only write to its own index.
func (e Executor) forEachDay(n int, fn func(i int)) {
	if !e.Parallel || n < 2 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var g errgroup.Group
	if e.Workers > 0 {
		g.SetLimit(e.Workers)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}
