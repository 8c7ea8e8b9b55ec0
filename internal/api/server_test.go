package api_test

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lox/fissure/internal/api"
	"github.com/lox/fissure/internal/models"
	"github.com/lox/fissure/internal/store"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db, time.UTC, zap.NewNop().Sugar())
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

func serve(t *testing.T, s *store.Store, path string) *httptest.ResponseRecorder {
	t.Helper()
	srv := api.NewServer(s, ":0", zap.NewNop().Sugar())
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

var day = time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

func valid(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func seedAnalysis(t *testing.T, s *store.Store) *models.AnalysisRun {
	t.Helper()
	run, err := s.StartRun(models.RunKindAnalyze, "measurements.csv")
	if err != nil {
		t.Fatal(err)
	}
	err = s.SaveAnalysis(run.ID, store.Analysis{
		Daily: []models.DailyStat{
			{Day: day, Samples: 144, Min: valid(0.5), Max: valid(0.51), DayStart: day, DayEnd: day, Noon: day.Add(12 * time.Hour)},
		},
		Events: []models.ExtremaEvent{
			{Day: day, TimeMax: day.Add(6 * time.Hour), ValMax: 0.51, TimeMin: day.Add(19 * time.Hour), ValMin: 0.5},
		},
		Central:       []models.CentralTime{{Day: day, CentralMinHour: valid(19)}},
		MeanRows:      []models.HalfHourValue{{Day: day, HalfHour: 6, Value: valid(0.51)}},
		MedianRows:    []models.HalfHourValue{{Day: day, HalfHour: 6, Value: valid(0.509)}},
		MeanProfile:   []models.ProfileBin{{HalfHour: 0}, {HalfHour: 6, Value: valid(0.51)}},
		MedianProfile: []models.ProfileBin{{HalfHour: 6, Value: valid(0.509)}},
		DayBins:       []models.DayExtremeBins{{Day: day, MaxMean: valid(6)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	run.Success = true
	run.DayCount = 1
	run.GlobalMin = valid(0.5)
	if err := s.CompleteRun(run); err != nil {
		t.Fatal(err)
	}
	return run
}

func TestHealthEndpoint_Empty(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)

	w := serve(t, s, "/health")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var health api.HealthStatus
	decode(t, w, &health)
	if health.Status != "empty" {
		t.Errorf("status = %q, want empty", health.Status)
	}
	if health.SchemaVersion != 3 {
		t.Errorf("schema_version = %d, want 3", health.SchemaVersion)
	}
}

func TestHealthEndpoint_FreshRun(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	run := seedAnalysis(t, s)

	w := serve(t, s, "/health")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var health api.HealthStatus
	decode(t, w, &health)
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.LastRun == nil || health.LastRun.ID != run.ID {
		t.Errorf("last_run = %+v, want %s", health.LastRun, run.ID)
	}
}

func TestRunsEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	run := seedAnalysis(t, s)
	if _, err := s.StartRun(models.RunKindLag, "wall.csv"); err != nil {
		t.Fatal(err)
	}

	w := serve(t, s, "/api/runs")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var runs []api.RunView
	decode(t, w, &runs)
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}

	w = serve(t, s, "/api/runs?kind=analyze")
	decode(t, w, &runs)
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("analyze runs = %+v", runs)
	}
	if runs[0].GlobalMin == nil || *runs[0].GlobalMin != 0.5 || runs[0].GlobalMax != nil {
		t.Errorf("envelope = %v/%v", runs[0].GlobalMin, runs[0].GlobalMax)
	}

	w = serve(t, s, "/api/runs?limit=abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestRunTables(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	run := seedAnalysis(t, s)

	tests := []struct {
		name string
		path string
		want []string
	}{
		{"run", "/api/runs/" + run.ID, []string{`"kind":"analyze"`, `"success":true`}},
		{"latest", "/api/runs/latest/daily", []string{`"day":"2025-01-20"`, `"samples":144`, `"ci_lower":null`}},
		{"daily", "/api/runs/" + run.ID + "/daily", []string{`"min":0.5`}},
		{"extrema", "/api/runs/" + run.ID + "/extrema", []string{`"val_max":0.51`, `"time_min":"2025-01-20T19:00:00Z"`}},
		{"central", "/api/runs/" + run.ID + "/central", []string{`"central_min_hour":19`, `"central_max_hour":null`}},
		{"halfhour mean", "/api/runs/" + run.ID + "/halfhour", []string{`"stat":"mean"`, `{"half_hour":0,"value":null}`, `"max_mean":6`}},
		{"halfhour median", "/api/runs/" + run.ID + "/halfhour?stat=median", []string{`"value":0.509`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, s, tt.path)
			if w.Code != 200 {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			body := w.Body.String()
			for _, want := range tt.want {
				if !strings.Contains(body, want) {
					t.Errorf("body missing %s:\n%s", want, body)
				}
			}
		})
	}
}

func TestRunErrors(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	run := seedAnalysis(t, s)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"unknown run", "/api/runs/nope/daily", http.StatusNotFound},
		{"no lag runs", "/api/runs/latest/lag", http.StatusNotFound},
		{"wrong kind", "/api/runs/" + run.ID + "/lag", http.StatusBadRequest},
		{"bad stat", "/api/runs/" + run.ID + "/halfhour?stat=mode", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, s, tt.path)
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, w.Code)
			}
			if !strings.Contains(w.Body.String(), `"error"`) {
				t.Errorf("expected error field, got %s", w.Body.String())
			}
		})
	}
}

func TestLagEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)

	run, err := s.StartRun(models.RunKindLag, "wall.csv")
	if err != nil {
		t.Fatal(err)
	}
	fit := &models.LagFit{
		Readings: 6, NumParams: 1, Intercept: 0.4,
		Coefficients: []models.LagCoefficient{{Feature: "T_lag12", Coefficient: 0.01}},
		R2:           0.7,
	}
	if err := s.SaveLag(run.ID, []models.LagScore{{Feature: "T_lag12", Correlation: 0.84}}, fit); err != nil {
		t.Fatal(err)
	}
	run.Success = true
	if err := s.CompleteRun(run); err != nil {
		t.Fatal(err)
	}

	w := serve(t, s, "/api/runs/latest/lag")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var view api.LagView
	decode(t, w, &view)
	if len(view.Scores) != 1 || view.Scores[0].Rank != 1 || view.Scores[0].Feature != "T_lag12" {
		t.Errorf("scores = %+v", view.Scores)
	}
	if view.Fit == nil || view.Fit.R2 != 0.7 || view.Fit.AdjR2 != nil {
		t.Errorf("fit = %+v", view.Fit)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)

	w := serve(t, s, "/metrics")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default Go collector metrics")
	}
}
