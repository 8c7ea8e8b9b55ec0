package ingest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// WeatherTimeColumn is the header of the timestamp column in weather exports.
const WeatherTimeColumn = "Time"

// Weather is an hourly weather table. Rows are keyed by the hour they fall in;
// when an export holds several rows for one hour the first one wins.
type Weather struct {
	// Variables lists the requested columns found in the export, in request order.
	Variables []string
	// Missing lists requested columns the export does not carry.
	Missing []string
	// Means holds each variable's mean over the hourly rows, ignoring gaps.
	Means []float64

	hours map[int64][]float64
}

// LoadWeather reads a weather export with a header row, a Time column and one
// column per variable.
func LoadWeather(path string, variables []string, loc *time.Location) (*Weather, error) {
	if loc == nil {
		return nil, fmt.Errorf("location is required")
	}
	rows, _, err := readRows(path, "")
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("weather export %s must have a header row and at least one data row", path)
	}

	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		header[strings.TrimSpace(h)] = i
	}
	timeCol, ok := header[WeatherTimeColumn]
	if !ok {
		return nil, fmt.Errorf("weather export %s has no %q column", path, WeatherTimeColumn)
	}

	w := &Weather{hours: make(map[int64][]float64)}
	var cols []int
	for _, v := range variables {
		if i, ok := header[v]; ok {
			w.Variables = append(w.Variables, v)
			cols = append(cols, i)
		} else {
			w.Missing = append(w.Missing, v)
		}
	}
	if len(w.Variables) == 0 {
		return nil, fmt.Errorf("weather export %s carries none of the requested variables", path)
	}

	for _, row := range rows[1:] {
		ts, err := parseTimestamp(cell(row, timeCol), loc, dayFirstLayouts...)
		if err != nil {
			continue
		}
		key := floorHour(ts).Unix()
		if _, seen := w.hours[key]; seen {
			continue
		}
		values := make([]float64, len(cols))
		for j, c := range cols {
			values[j] = parseValue(cell(row, c))
		}
		w.hours[key] = values
	}

	w.Means = make([]float64, len(cols))
	for j := range cols {
		var defined []float64
		for _, values := range w.hours {
			if !math.IsNaN(values[j]) {
				defined = append(defined, values[j])
			}
		}
		w.Means[j] = math.NaN()
		if len(defined) > 0 {
			w.Means[j] = stat.Mean(defined, nil)
		}
	}
	return w, nil
}

// Hours is the number of distinct hours in the table.
func (w *Weather) Hours() int {
	return len(w.hours)
}

// At returns variable j for the hour containing t.
func (w *Weather) At(t time.Time, j int) (float64, bool) {
	values, ok := w.hours[floorHour(t).Unix()]
	if !ok || math.IsNaN(values[j]) {
		return math.NaN(), false
	}
	return values[j], true
}

// Imputed is At with gaps filled by the variable's mean.
func (w *Weather) Imputed(t time.Time, j int) float64 {
	if v, ok := w.At(t, j); ok {
		return v
	}
	return w.Means[j]
}

func floorHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}
