package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Message: "ok"})
}

func (s *Server) resolveActivity(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(r.Context(), w, "Invalid activity", err)
		return
	}

	res, err := s.uc.ResolveActivity(r.Context(), model.Activity(body))
	if err != nil {
		writeError(r.Context(), w, "Failed to resolve activity", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Activity resolved", Data: res})
}

func (s *Server) processActivities(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(r.Context(), w, "Invalid trip plan", err)
		return
	}

	plan, report, err := s.uc.ResolveTripPlan(r.Context(), model.TripPlan(body))
	if err != nil {
		writeError(r.Context(), w, "Failed to process activities", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Message: "Activities processed successfully",
		Data:    plan,
		Report:  report,
	})
}

func (s *Server) activityStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.uc.Stats(r.Context())
	if err != nil {
		writeError(r.Context(), w, "Failed to get activity stats", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Activity statistics retrieved", Data: stats})
}

func (s *Server) cleanupActivities(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "days_old")
	days, err := strconv.Atoi(raw)
	if err != nil {
		writeError(r.Context(), w, "Invalid days_old",
			goerr.Wrap(model.ErrValidation, "days_old must be an integer", goerr.V("days_old", raw)))
		return
	}

	deleted, err := s.uc.Cleanup(r.Context(), days)
	if err != nil {
		writeError(r.Context(), w, "Failed to clean up activities", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Message: fmt.Sprintf("Cleaned up %d activities older than %d days", deleted, days),
		Data:    map[string]int{"deleted_count": deleted, "days_old": days},
	})
}

func (s *Server) rebuildIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.uc.Rebuild(r.Context()); err != nil {
		writeError(r.Context(), w, "Failed to rebuild index", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Index rebuilt"})
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	id := model.ActivityID(chi.URLParam(r, "id"))
	rec, err := s.uc.Get(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, "Failed to get activity", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Activity retrieved", Data: rec})
}
