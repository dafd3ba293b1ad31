package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/errs"
)

func (s *Server) handleListCalendars(w http.ResponseWriter, r *http.Request) {
	selectedOnly := r.URL.Query().Get("selected") == "true"
	cals, err := s.stores.Calendars.List(r.Context(), userID(r), selectedOnly)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	views := make([]calendarView, 0, len(cals))
	for _, c := range cals {
		views = append(views, viewCalendar(c))
	}
	s.respond(w, http.StatusOK, map[string]any{"calendars": views})
}

func (s *Server) handleSelectCalendar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req struct {
		Selected bool `json:"selected"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.stores.Calendars.UpdateSelected(r.Context(), userID(r), id, req.Selected); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

// handleClearQuarantine resets the failure budget after the user has
// reauthorized the account.
func (s *Server) handleClearQuarantine(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.stores.Calendars.ClearQuarantine(r.Context(), userID(r), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

// handleSync checks the requested range against each calendar's synced
// watermarks and enqueues fetch jobs for the gaps. The response says
// what was decided per calendar; the worker does the actual fetching.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartDate  string  `json:"start_date"`
		EndDate    string  `json:"end_date"`
		CalendarID *string `json:"calendar_id"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	start, err := parseDate("invalid_start_date", req.StartDate)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	end, err := parseDate("invalid_end_date", req.EndDate)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	uid := userID(r)
	cals, err := s.stores.Calendars.List(r.Context(), uid, true)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if req.CalendarID != nil {
		id, err := uuid.Parse(*req.CalendarID)
		if err != nil {
			s.renderError(w, r, errs.Validation("invalid_id", "calendar_id is not a valid id"))
			return
		}
		cal, err := s.stores.Calendars.GetByID(r.Context(), uid, id)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		cals = []*store.Calendar{cal}
	}

	decisions := make([]decisionView, 0, len(cals))
	for _, cal := range cals {
		d, err := s.engine.EnsureRange(r.Context(), cal, start, end)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		decisions = append(decisions, viewDecision(cal.ID, d))
	}
	s.respond(w, http.StatusOK, map[string]any{"calendars": decisions})
}
