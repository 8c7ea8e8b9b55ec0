package ingest

import (
	"context"
	"errors"
	"io"
	"math"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/lox/fissure/internal/config"
	"github.com/lox/fissure/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func writeWorkbook(t *testing.T, name string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		for j, v := range row {
			ref, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				t.Fatal(err)
			}
			if err := f.SetCellValue("Sheet1", ref, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	path := filepath.Join(t.TempDir(), name)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLoadSamples_CSV(t *testing.T) {
	path := writeFile(t, "measurements.csv", strings.Join([]string{
		"2025-01-20 07:00:05,0.51",
		"2025-01-20 07:00:00,0.50",
		"2025-01-19 23:59:50,0.40",
		"2025-01-20 08:00:00,abc",
		"not a date,0.7",
		"2025-01-21 23:59:59.5,0.60",
		"2025-01-22 00:00:00,0.70",
	}, "\n"))

	cfg := config.DefaultLoad()
	cfg.Start = date(2025, 1, 20)
	cfg.End = date(2025, 1, 21)

	samples, report, err := LoadSamples(path, cfg)
	if err != nil {
		t.Fatalf("LoadSamples: %v", err)
	}

	want := LoadReport{Format: FormatCSV, Rows: 7, BadTimestamp: 1, OutOfRange: 2, TooClose: 1, Undefined: 1, Kept: 3}
	if report != want {
		t.Errorf("report = %+v, want %+v", report, want)
	}
	if len(samples) != 3 {
		t.Fatalf("len(samples) = %d, want 3", len(samples))
	}
	if samples[0].Value != 0.50 {
		t.Errorf("first value = %v, want 0.50", samples[0].Value)
	}
	if !math.IsNaN(samples[1].Value) || samples[1].HalfHour != 8 {
		t.Errorf("second sample = %+v, want NaN value in bin 8", samples[1])
	}
	last := samples[2]
	if !last.Day.Equal(date(2025, 1, 21)) {
		t.Errorf("last day = %s", last.Day)
	}
	if last.HalfHour != 23.5 || last.HourBin != 23 {
		t.Errorf("last bins = %v/%d, want 23.5/23", last.HalfHour, last.HourBin)
	}
	wantHour := 23 + 59.0/60 + 59.0/3600
	if math.Abs(last.Hour-wantHour) > 1e-12 {
		t.Errorf("last hour = %v, want %v", last.Hour, wantHour)
	}
}

func TestLoadSamples_MinIntervalComparesPreviousRow(t *testing.T) {
	path := writeFile(t, "m.csv", strings.Join([]string{
		"2025-01-20 10:00:00,1",
		"2025-01-20 10:00:06,2",
		"2025-01-20 10:00:12,3",
		"2025-01-20 10:00:30,4",
	}, "\n"))

	samples, report, err := LoadSamples(path, config.DefaultLoad())
	if err != nil {
		t.Fatalf("LoadSamples: %v", err)
	}
	// 10:00:12 is 12s after the last kept row but only 6s after its predecessor.
	if len(samples) != 2 || samples[0].Value != 1 || samples[1].Value != 4 {
		t.Errorf("kept values = %v", values(samples))
	}
	if report.TooClose != 2 {
		t.Errorf("TooClose = %d, want 2", report.TooClose)
	}
}

func TestLoadSamples_Errors(t *testing.T) {
	path := writeFile(t, "m.csv", "2025-01-20 10:00:00,1\n")

	cfg := config.DefaultLoad()
	cfg.Start = date(2025, 2, 1)
	if _, _, err := LoadSamples(path, cfg); !errors.Is(err, ErrNoSamples) {
		t.Errorf("err = %v, want ErrNoSamples", err)
	}

	cfg = config.DefaultLoad()
	cfg.Location = nil
	if _, _, err := LoadSamples(path, cfg); err == nil {
		t.Error("expected config error")
	}

	if _, _, err := LoadSamples(filepath.Join(t.TempDir(), "missing.csv"), config.DefaultLoad()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadSamples_Location(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	path := writeFile(t, "m.csv", "2025-01-20 00:30:00,1\n2025-01-20T00:10:00Z,2\n")

	cfg := config.DefaultLoad()
	cfg.Location = cet
	samples, _, err := LoadSamples(path, cfg)
	if err != nil {
		t.Fatalf("LoadSamples: %v", err)
	}
	// 00:10Z is 01:10 CET and sorts after 00:30 CET.
	if samples[0].Value != 1 || samples[1].Value != 2 {
		t.Fatalf("order = %v", values(samples))
	}
	wantDay := time.Date(2025, 1, 20, 0, 0, 0, 0, cet)
	for _, s := range samples {
		if !s.Day.Equal(wantDay) {
			t.Errorf("day = %s, want %s", s.Day, wantDay)
		}
	}
	if samples[1].HourBin != 1 {
		t.Errorf("hour bin = %d, want 1", samples[1].HourBin)
	}
}

func TestLoadSamples_Workbook(t *testing.T) {
	path := writeWorkbook(t, "measurements.xlsx", [][]any{
		{"timestamp", "inch"},
		{"2025-01-20 06:00:00", 0.5},
		{45677.5, 0.75},
		{"2025-01-20 18:15:00", "n/a"},
	})

	samples, report, err := LoadSamples(path, config.DefaultLoad())
	if err != nil {
		t.Fatalf("LoadSamples: %v", err)
	}
	if report.Format != FormatXLSX || report.BadTimestamp != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(samples) != 3 {
		t.Fatalf("len(samples) = %d, want 3", len(samples))
	}
	if want := time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC); !samples[1].Timestamp.Equal(want) {
		t.Errorf("serial timestamp = %s, want %s", samples[1].Timestamp, want)
	}
	if samples[1].Value != 0.75 {
		t.Errorf("value = %v, want 0.75", samples[1].Value)
	}
	if !math.IsNaN(samples[2].Value) {
		t.Errorf("value = %v, want NaN", samples[2].Value)
	}
}

func TestLoadWallReadings(t *testing.T) {
	path := writeWorkbook(t, "mur.xlsx", [][]any{
		{"Date", "Lieu", "", "", "Inch"},
		{"20/01/2025", "route", "", "", 0.512},
		{45678, "route", "", "", 0.515},
		{"03/02/2025", "route", "", "", "?"},
		{"04/02/2025", "route", "", "", 0.509},
	})

	readings, err := LoadWallReadings(path, time.UTC)
	if err != nil {
		t.Fatalf("LoadWallReadings: %v", err)
	}

	want := []struct {
		date  time.Time
		value float64
	}{
		{date(2025, 1, 20), 0.512},
		{date(2025, 1, 21), 0.515},
		{date(2025, 2, 4), 0.509},
	}
	if len(readings) != len(want) {
		t.Fatalf("len = %d, want %d", len(readings), len(want))
	}
	for i, w := range want {
		if !readings[i].Date.Equal(w.date) || readings[i].Value != w.value {
			t.Errorf("reading %d = %s/%v, want %s/%v", i, readings[i].Date.Format("2006-01-02"), readings[i].Value, w.date.Format("2006-01-02"), w.value)
		}
	}

	empty := writeFile(t, "empty.csv", "Date,a,b,c,Inch\n")
	if _, err := LoadWallReadings(empty, time.UTC); err == nil {
		t.Error("expected error for a log without readings")
	}
}

func TestLoadWeather(t *testing.T) {
	path := writeFile(t, "weather.csv", strings.Join([]string{
		"Time,Outdoor Tem(°C),Pressure(hpa)",
		"2025-01-20 06:10,5,1010",
		"2025-01-20 06:40,6,1011",
		"2025-01-20 07:05,,1012",
		"bad,9,999",
	}, "\n"))

	w, err := LoadWeather(path, []string{"Outdoor Tem(°C)", "Outdoor Hum(%)", "Pressure(hpa)"}, time.UTC)
	if err != nil {
		t.Fatalf("LoadWeather: %v", err)
	}

	if len(w.Variables) != 2 || w.Variables[0] != "Outdoor Tem(°C)" || w.Variables[1] != "Pressure(hpa)" {
		t.Errorf("Variables = %v", w.Variables)
	}
	if len(w.Missing) != 1 || w.Missing[0] != "Outdoor Hum(%)" {
		t.Errorf("Missing = %v", w.Missing)
	}
	if w.Hours() != 2 {
		t.Errorf("Hours() = %d, want 2", w.Hours())
	}
	if w.Means[0] != 5 || w.Means[1] != 1011 {
		t.Errorf("Means = %v, want [5 1011]", w.Means)
	}

	six := time.Date(2025, 1, 20, 6, 59, 0, 0, time.UTC)
	if v, ok := w.At(six, 0); !ok || v != 5 {
		t.Errorf("At(06:59) = %v/%v, want first row of the hour", v, ok)
	}
	seven := six.Add(time.Minute)
	if _, ok := w.At(seven, 0); ok {
		t.Error("expected a gap at 07:00")
	}
	if v := w.Imputed(seven, 0); v != 5 {
		t.Errorf("Imputed(07:00) = %v, want mean 5", v)
	}
	if v := w.Imputed(seven.Add(48*time.Hour), 1); v != 1011 {
		t.Errorf("Imputed outside range = %v, want 1011", v)
	}

	noTime := writeFile(t, "w.csv", "Date,Pressure(hpa)\n2025-01-20,1000\n")
	if _, err := LoadWeather(noTime, []string{"Pressure(hpa)"}, time.UTC); err == nil {
		t.Error("expected error without a Time column")
	}
}

type fakeConn struct {
	body     string
	loginErr error
	retrErr  error
}

func (c *fakeConn) Login(user, password string) error { return c.loginErr }
func (c *fakeConn) Quit() error                       { return nil }
func (c *fakeConn) Retr(path string) (io.ReadCloser, error) {
	if c.retrErr != nil {
		return nil, c.retrErr
	}
	return io.NopCloser(strings.NewReader(c.body)), nil
}

func newTestFetcher(t *testing.T, dir string, dial func(ctx context.Context) (ftpConn, error)) (*Fetcher, *int) {
	t.Helper()
	cfg := config.DefaultFetch()
	cfg.Host = "logger.local:21"
	cfg.RemotePath = "/data/measurements.csv"
	cfg.LocalPath = filepath.Join(dir, "measurements.csv")
	cfg.Timeout = time.Second
	cfg.MaxElapsed = 2 * time.Second

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 21, 9, 0, 0, 0, time.UTC))
	f := NewFetcher(cfg, clock, zap.NewNop().Sugar())
	f.initialInterval = time.Millisecond

	calls := 0
	f.dial = func(ctx context.Context) (ftpConn, error) {
		calls++
		return dial(ctx)
	}
	return f, &calls
}

func TestFetcher_BacksUpAndReplaces(t *testing.T) {
	dir := t.TempDir()
	f, calls := newTestFetcher(t, dir, func(context.Context) (ftpConn, error) {
		return &fakeConn{body: "new data"}, nil
	})
	if err := os.WriteFile(f.cfg.LocalPath, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if *calls != 1 {
		t.Errorf("dial calls = %d, want 1", *calls)
	}

	wantBackup := filepath.Join(dir, "measurements_2025-01-20.csv")
	if res.BackupPath != wantBackup {
		t.Errorf("BackupPath = %q, want %q", res.BackupPath, wantBackup)
	}
	if b, _ := os.ReadFile(wantBackup); string(b) != "old" {
		t.Errorf("backup content = %q, want %q", b, "old")
	}
	if b, _ := os.ReadFile(f.cfg.LocalPath); string(b) != "new data" {
		t.Errorf("local content = %q, want %q", b, "new data")
	}
	if res.Bytes != int64(len("new data")) {
		t.Errorf("Bytes = %d", res.Bytes)
	}
}

func TestFetcher_NoLocalFileSkipsBackup(t *testing.T) {
	f, _ := newTestFetcher(t, t.TempDir(), func(context.Context) (ftpConn, error) {
		return &fakeConn{body: "x"}, nil
	})
	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.BackupPath != "" {
		t.Errorf("BackupPath = %q, want empty", res.BackupPath)
	}
}

func TestFetcher_Retries(t *testing.T) {
	tests := []struct {
		name      string
		conns     []func() (ftpConn, error)
		wantErr   bool
		wantCalls int
	}{
		{
			name: "transient dial failure then success",
			conns: []func() (ftpConn, error){
				func() (ftpConn, error) { return nil, errors.New("connection refused") },
				func() (ftpConn, error) { return &fakeConn{body: "ok"}, nil },
			},
			wantCalls: 2,
		},
		{
			name: "missing remote file is permanent",
			conns: []func() (ftpConn, error){
				func() (ftpConn, error) {
					return &fakeConn{retrErr: &textproto.Error{Code: 550, Msg: "No such file"}}, nil
				},
			},
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name: "bad credentials are permanent",
			conns: []func() (ftpConn, error){
				func() (ftpConn, error) {
					return &fakeConn{loginErr: &textproto.Error{Code: 530, Msg: "Login incorrect"}}, nil
				},
			},
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			i := 0
			f, calls := newTestFetcher(t, dir, func(context.Context) (ftpConn, error) {
				conn := tt.conns[min(i, len(tt.conns)-1)]
				i++
				return conn()
			})
			f.cfg.Backup = false

			_, err := f.Fetch(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Fetch err = %v, wantErr %v", err, tt.wantErr)
			}
			if *calls != tt.wantCalls {
				t.Errorf("dial calls = %d, want %d", *calls, tt.wantCalls)
			}
			if tt.wantErr {
				if _, err := os.Stat(f.cfg.LocalPath); !errors.Is(err, os.ErrNotExist) {
					t.Error("failed fetch should not create the local file")
				}
			}
		})
	}
}

func TestFetcher_InvalidConfig(t *testing.T) {
	f := NewFetcher(config.DefaultFetch(), clockwork.NewFakeClock(), zap.NewNop().Sugar())
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Error("expected config error")
	}
}

func values(samples []models.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
