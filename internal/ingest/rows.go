// Package ingest reads sensor series, manual wall readings and weather exports
// from disk and retrieves the sensor file from the logger host.
package ingest

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Reasons a raw record is dropped while loading.
const (
	RejectBadTimestamp = "bad_timestamp"
	RejectOutOfRange   = "out_of_range"
	RejectTooClose     = "too_close"
	RejectBadValue     = "bad_value"
)

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// readRows returns the raw cells of a CSV file or of one workbook sheet. An
// empty sheet name selects the first sheet. Workbook cells are read unformatted
// so dates come back as serial numbers.
func readRows(path, sheet string) ([][]string, string, error) {
	format := formatOf(path)
	if format == FormatCSV {
		rows, err := readCSV(path)
		return rows, format, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, format, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, format, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, format, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, format, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseValue coerces a numeric cell, returning NaN when it cannot be parsed.
func parseValue(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
}

// Day-first layouts used by the manual wall log and some weather exports.
var dayFirstLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"02/01/06",
}

// parseTimestamp accepts ISO-like text, the given extra layouts and workbook
// serial dates. Zone-less values are read as wall clock time in loc.
func parseTimestamp(s string, loc *time.Location, extra ...string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layouts := range [][]string{extra, timestampLayouts} {
		for _, layout := range layouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t.In(loc), nil
			}
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("serial date %q: %w", s, err)
		}
		// Serial dates carry no zone: reinterpret the wall clock in loc.
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func midnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
