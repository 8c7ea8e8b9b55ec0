package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/lox/fissure/internal/models"
	"github.com/lox/fissure/internal/store"
)

// latestID resolves to the newest successful run of the route's kind.
const latestID = "latest"

// resolveRun loads the run named by the {id} path value. It writes the error
// response itself and returns nil when the run cannot be served.
func (s *Server) resolveRun(w http.ResponseWriter, r *http.Request, kind string) *models.AnalysisRun {
	id := r.PathValue("id")

	var run *models.AnalysisRun
	var err error
	if id == latestID {
		run, err = s.store.LatestRun(kind)
	} else {
		run, err = s.store.GetRun(id)
	}
	if errors.Is(err, store.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
		return nil
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return nil
	}
	if kind != "" && run.Kind != kind {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("run %s is a %s run, not %s", run.ID, run.Kind, kind))
		return nil
	}
	return run
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	runs, err := s.store.GetRuns(kind, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run := s.resolveRun(w, r, r.URL.Query().Get("kind"))
	if run == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, newRunView(*run))
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	run := s.resolveRun(w, r, models.RunKindAnalyze)
	if run == nil {
		return
	}
	stats, err := s.store.GetDailyStats(run.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newDailyViews(stats))
}

func (s *Server) handleExtrema(w http.ResponseWriter, r *http.Request) {
	run := s.resolveRun(w, r, models.RunKindAnalyze)
	if run == nil {
		return
	}
	events, err := s.store.GetExtremaEvents(run.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newExtremaViews(events))
}

func (s *Server) handleCentral(w http.ResponseWriter, r *http.Request) {
	run := s.resolveRun(w, r, models.RunKindAnalyze)
	if run == nil {
		return
	}
	central, err := s.store.GetCentralTimes(run.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newCentralViews(central))
}

func (s *Server) handleHalfHour(w http.ResponseWriter, r *http.Request) {
	stat := r.URL.Query().Get("stat")
	if stat == "" {
		stat = store.StatMean
	}
	if stat != store.StatMean && stat != store.StatMedian {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("stat must be %s or %s", store.StatMean, store.StatMedian))
		return
	}

	run := s.resolveRun(w, r, models.RunKindAnalyze)
	if run == nil {
		return
	}
	rows, err := s.store.GetHalfHourRows(run.ID, stat)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	profile, err := s.store.GetProfile(run.ID, stat)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	bins, err := s.store.GetDayExtremeBins(run.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newHalfHourView(stat, rows, profile, bins))
}

func (s *Server) handleLag(w http.ResponseWriter, r *http.Request) {
	run := s.resolveRun(w, r, models.RunKindLag)
	if run == nil {
		return
	}
	scores, err := s.store.GetLagScores(run.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	fit, err := s.store.GetLagFit(run.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newLagView(scores, fit))
}
