package report

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/lox/fissure/internal/config"
	"github.com/lox/fissure/internal/models"
	"github.com/lox/fissure/internal/store"
)

var day = time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

func valid(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func readCSV(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func TestWriteDaily(t *testing.T) {
	var buf bytes.Buffer
	stats := []models.DailyStat{
		{
			Day: day, Samples: 3, Min: valid(0.5), Max: valid(0.51), Mean: valid(0.505), Median: valid(0.505),
			DayStart: day, DayEnd: day.Add(23 * time.Hour), Noon: day.Add(12 * time.Hour),
			DiffMM: valid(0.254), CILower: valid(0.49), CIUpper: valid(0.52), Normal: true,
		},
		{Day: day.AddDate(0, 0, 1), Samples: 1, DayStart: day, DayEnd: day, Noon: day},
	}
	if err := WriteDaily(&buf, stats); err != nil {
		t.Fatalf("WriteDaily: %v", err)
	}

	records := readCSV(t, &buf)
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	if records[0][0] != "day" || len(records[0]) != 15 {
		t.Errorf("header = %v", records[0])
	}
	if records[1][0] != "2025-01-20" || records[1][2] != "0.5" || records[1][14] != "true" {
		t.Errorf("row 1 = %v", records[1])
	}
	if records[1][8] != "2025-01-20 12:00:00" {
		t.Errorf("noon = %q", records[1][8])
	}
	if records[2][2] != "" || records[2][12] != "" {
		t.Errorf("undefined cells = %q, %q, want empty", records[2][2], records[2][12])
	}
}

func TestWriteProfile_LengthMismatch(t *testing.T) {
	err := WriteProfile(io.Discard, []models.ProfileBin{{HalfHour: 0}}, nil)
	if err == nil {
		t.Fatal("expected error for mismatched profiles")
	}
}

func TestWriteAnalysis(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	a := store.Analysis{
		Daily:         []models.DailyStat{{Day: day, Samples: 1}},
		Events:        []models.ExtremaEvent{{Day: day, TimeMax: day.Add(6 * time.Hour), ValMax: 0.51, TimeMin: day.Add(19 * time.Hour), ValMin: 0.5}},
		Central:       []models.CentralTime{{Day: day, CentralMinHour: valid(19)}},
		MeanRows:      []models.HalfHourValue{{Day: day, HalfHour: 6.5, Value: valid(0.51)}},
		MedianRows:    []models.HalfHourValue{{Day: day, HalfHour: 6.5, Value: valid(0.51)}},
		MeanProfile:   []models.ProfileBin{{HalfHour: 0}, {HalfHour: 0.5, Value: valid(0.5)}},
		MedianProfile: []models.ProfileBin{{HalfHour: 0}, {HalfHour: 0.5, Value: valid(0.49)}},
		DayBins:       []models.DayExtremeBins{{Day: day, MaxMean: valid(6.5)}},
	}

	written, err := WriteAnalysis(dir, a)
	if err != nil {
		t.Fatalf("WriteAnalysis: %v", err)
	}
	if len(written) != 7 {
		t.Fatalf("len(written) = %d, want 7", len(written))
	}

	f, err := os.Open(filepath.Join(dir, ProfileFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records := readCSV(t, f)
	want := [][]string{{"half_hour", "mean", "median"}, {"0", "", ""}, {"0.5", "0.5", "0.49"}}
	for i := range want {
		if strings.Join(records[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("profile row %d = %v, want %v", i, records[i], want[i])
		}
	}

	extrema, err := os.ReadFile(filepath.Join(dir, ExtremaFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(extrema), "2025-01-20 06:00:00,0.51") {
		t.Errorf("extrema file = %q", extrema)
	}
}

func TestWriteLag(t *testing.T) {
	dir := t.TempDir()
	scores := []models.LagScore{{Feature: "T_lag12", Correlation: 0.9}}

	written, err := WriteLag(dir, scores, nil)
	if err != nil {
		t.Fatalf("WriteLag: %v", err)
	}
	if len(written) != 1 {
		t.Errorf("len(written) = %d, want 1 without a fit", len(written))
	}

	fit := &models.LagFit{
		Readings: 10, Intercept: 0.4,
		Coefficients: []models.LagCoefficient{{Feature: "T_lag12", Coefficient: 0.01}},
		R2:           0.8, AdjR2: valid(0.75),
	}
	written, err = WriteLag(dir, scores, fit)
	if err != nil {
		t.Fatalf("WriteLag: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("len(written) = %d, want 2", len(written))
	}

	data, err := os.ReadFile(filepath.Join(dir, LagCoefficientFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"intercept,0.4", "T_lag12,0.01", "adj_r2,0.75", "aic,\n"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("coefficients file missing %q:\n%s", want, data)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	run := &models.AnalysisRun{
		ID: "run-1", Kind: models.RunKindAnalyze, StartedAt: day,
		SampleCount: 300, DayCount: 3, EventCount: 2,
		GlobalMin: valid(0.5), GlobalMax: valid(0.52),
	}
	var daily []models.DailyStat
	for i := 0; i < 3; i++ {
		daily = append(daily, models.DailyStat{Day: day.AddDate(0, 0, i), Samples: 100, Min: valid(0.5)})
	}

	prompt := BuildPrompt(Input{Run: run, Daily: daily}, 2)

	if !strings.Contains(prompt, "Envelope of daily interior values: 0.5 to 0.52") {
		t.Errorf("prompt missing envelope:\n%s", prompt)
	}
	if !strings.Contains(prompt, "showing the last 2 of 3 days") {
		t.Errorf("prompt missing truncation note:\n%s", prompt)
	}
	if strings.Contains(prompt, "2025-01-20,") {
		t.Errorf("prompt includes truncated day:\n%s", prompt)
	}
	if !strings.Contains(prompt, "2025-01-22,100,0.5") {
		t.Errorf("prompt missing last day:\n%s", prompt)
	}
}

func TestNarrator_Summarize(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel, _ = body["model"].(string)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1737331200,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "  The crack stayed within 0.02 in.  "}
			}]
		}`)
	}))
	defer srv.Close()

	cfg := config.DefaultNarrate()
	cfg.APIKey = "sk-test"
	n, err := NewNarrator(cfg, zap.NewNop().Sugar(), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("NewNarrator: %v", err)
	}

	text, err := n.Summarize(context.Background(), Input{Run: &models.AnalysisRun{ID: "run-1", StartedAt: day}})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if text != "The crack stayed within 0.02 in." {
		t.Errorf("text = %q", text)
	}
	if gotModel != cfg.Model {
		t.Errorf("model = %q, want %q", gotModel, cfg.Model)
	}

	if _, err := n.Summarize(context.Background(), Input{}); err == nil {
		t.Error("expected error without a run")
	}
}

func TestNarrator_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := config.DefaultNarrate()
	cfg.APIKey = "sk-test"
	n, err := NewNarrator(cfg, zap.NewNop().Sugar(), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n.Summarize(context.Background(), Input{Run: &models.AnalysisRun{ID: "run-1"}}); err == nil {
		t.Error("expected error from unauthorized response")
	}
}

func TestNewNarrator_RequiresKey(t *testing.T) {
	if _, err := NewNarrator(config.DefaultNarrate(), zap.NewNop().Sugar()); err == nil {
		t.Error("expected error without API key")
	}
}
