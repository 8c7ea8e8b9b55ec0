// Package lag relates manual wall crack readings to the hourly weather that
// preceded them.
package lag

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/lox/fissure/internal/config"
	"github.com/lox/fissure/internal/ingest"
	"github.com/lox/fissure/internal/models"
)

var ErrTooFewReadings = errors.New("too few wall readings")

// Matrix is the lagged feature table: one row per wall reading, one column
// per (variable, lag) pair, ordered variable-major.
type Matrix struct {
	Times  []time.Time // measurement time of each row
	Target []float64
	Names  []string
	X      *mat.Dense

	index map[string]int
}

// FeatureName labels the value of variable lag hours before a reading.
func FeatureName(variable string, lag int) string {
	return fmt.Sprintf("%s_lag%d", variable, lag)
}

// BuildFeatures takes each reading at MeasureHour on its date and looks up
// every weather variable 1..MaxLagHours hours earlier. Missing hours take the
// variable's mean.
func BuildFeatures(readings []models.WallReading, weather *ingest.Weather, cfg config.Lag) (*Matrix, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("lag config: %w", err)
	}
	if len(readings) == 0 {
		return nil, ErrTooFewReadings
	}
	if weather == nil || len(weather.Variables) == 0 {
		return nil, errors.New("weather table has no variables")
	}

	cols := len(weather.Variables) * cfg.MaxLagHours
	m := &Matrix{
		Times:  make([]time.Time, len(readings)),
		Target: make([]float64, len(readings)),
		Names:  make([]string, 0, cols),
		X:      mat.NewDense(len(readings), cols, nil),
		index:  make(map[string]int, cols),
	}
	for _, v := range weather.Variables {
		for lag := 1; lag <= cfg.MaxLagHours; lag++ {
			name := FeatureName(v, lag)
			m.index[name] = len(m.Names)
			m.Names = append(m.Names, name)
		}
	}

	for i, r := range readings {
		d := r.Date
		at := time.Date(d.Year(), d.Month(), d.Day(), cfg.MeasureHour, 0, 0, 0, d.Location())
		m.Times[i] = at
		m.Target[i] = r.Value
		for j := range weather.Variables {
			for lag := 1; lag <= cfg.MaxLagHours; lag++ {
				col := j*cfg.MaxLagHours + lag - 1
				m.X.Set(i, col, weather.Imputed(at.Add(-time.Duration(lag)*time.Hour), j))
			}
		}
	}
	return m, nil
}

// Column returns a copy of the named feature column.
func (m *Matrix) Column(name string) ([]float64, bool) {
	c, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return mat.Col(nil, c, m.X), true
}

func (m *Matrix) Rows() int {
	return len(m.Target)
}
