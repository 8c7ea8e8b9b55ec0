package ingest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lox/fissure/internal/models"
)

// Columns of the manual wall log: the reading date and the gauge value in inches.
const (
	WallDateColumn  = 0
	WallValueColumn = 4
)

// LoadWallReadings reads manual crack gauge readings in file order. Dates are
// day-first. Rows without a parseable date or value, including the header,
// are skipped.
func LoadWallReadings(path string, loc *time.Location) ([]models.WallReading, error) {
	if loc == nil {
		return nil, errors.New("location is required")
	}
	rows, _, err := readRows(path, "")
	if err != nil {
		return nil, err
	}

	var out []models.WallReading
	for _, row := range rows {
		date, err := parseTimestamp(cell(row, WallDateColumn), loc, dayFirstLayouts...)
		if err != nil {
			continue
		}
		v := parseValue(cell(row, WallValueColumn))
		if math.IsNaN(v) {
			continue
		}
		out = append(out, models.WallReading{Date: midnight(date, loc), Value: v})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no wall readings in %s", path)
	}
	return out, nil
}
