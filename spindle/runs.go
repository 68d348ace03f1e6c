package spindle

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tangled.sh/tangled.sh/runner/spindle/db"
	"tangled.sh/tangled.sh/runner/spindle/models"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Spindle) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := s.db.ListRuns(limit)
	if err != nil {
		s.l.Error("failed to list runs", "err", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}

	writeJSON(w, runs)
}

func (s *Spindle) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	writeJSON(w, run)
}

func (s *Spindle) RunEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	evts, err := s.db.GetRunEvents(run.Id)
	if err != nil {
		s.l.Error("failed to get run events", "run", run.RunId, "err", err)
		http.Error(w, "failed to get run events", http.StatusInternalServerError)
		return
	}
	if evts == nil {
		evts = []models.StatusEvent{}
	}

	writeJSON(w, evts)
}

func (s *Spindle) lookupRun(w http.ResponseWriter, r *http.Request) (*db.Run, bool) {
	id := chi.URLParam(r, "run")

	run, err := s.db.GetRun(id)
	if errors.Is(err, db.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.l.Error("failed to get run", "run", id, "err", err)
		http.Error(w, "failed to get run", http.StatusInternalServerError)
		return nil, false
	}

	return run, true
}
