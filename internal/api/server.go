// Package api serves stored analysis runs as read-only JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lox/fissure/internal/models"
	"github.com/lox/fissure/internal/store"
)

// StaleAfter is how old the latest successful analysis may get before /health
// reports degraded.
const StaleAfter = 48 * time.Hour

type Server struct {
	store  *store.Store
	addr   string
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewServer(store *store.Store, addr string, logger *zap.SugaredLogger) *Server {
	return &Server{
		store:  store,
		addr:   addr,
		logger: logger.Named("api"),
		now:    time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/runs/{id}/daily", s.handleDaily)
	mux.HandleFunc("GET /api/runs/{id}/extrema", s.handleExtrema)
	mux.HandleFunc("GET /api/runs/{id}/central", s.handleCentral)
	mux.HandleFunc("GET /api/runs/{id}/halfhour", s.handleHalfHour)
	mux.HandleFunc("GET /api/runs/{id}/lag", s.handleLag)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Infof("listening on %s", s.addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnf("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HealthStatus reports whether a recent analysis is available.
type HealthStatus struct {
	Status        string   `json:"status"`
	LastRun       *RunView `json:"last_run,omitempty"`
	AgeHours      *float64 `json:"age_hours,omitempty"`
	SchemaVersion int      `json:"schema_version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.store.MigrationVersion()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	health := HealthStatus{Status: "ok", SchemaVersion: version}

	run, err := s.store.LatestRun(models.RunKindAnalyze)
	switch {
	case errors.Is(err, store.ErrRunNotFound):
		health.Status = "empty"
	case err != nil:
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	default:
		view := newRunView(*run)
		health.LastRun = &view
		finished := run.StartedAt
		if run.FinishedAt.Valid {
			finished = run.FinishedAt.Time
		}
		age := s.now().Sub(finished)
		hours := age.Hours()
		health.AgeHours = &hours
		if age > StaleAfter {
			health.Status = "degraded"
		}
	}

	status := http.StatusOK
	if health.Status == "degraded" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}
