package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/internal/classify"
	"github.com/quantumlife/timeledger/internal/store"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.EventFilter

	if raw := q.Get("start_date"); raw != "" {
		start, err := parseDate("invalid_start_date", raw)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		f.Start = &start
	}
	if raw := q.Get("end_date"); raw != "" {
		end, err := parseDate("invalid_end_date", raw)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		// end_date is inclusive at date precision.
		endExclusive := end.AddDate(0, 0, 1)
		f.End = &endExclusive
	}
	var err error
	if f.CalendarID, err = queryUUID(r, "calendar_id"); err != nil {
		s.renderError(w, r, err)
		return
	}
	if f.ProjectID, err = queryUUID(r, "project_id"); err != nil {
		s.renderError(w, r, err)
		return
	}
	f.Status = q.Get("status")
	if raw := q.Get("needs_review"); raw != "" {
		needs := raw == "true"
		f.NeedsReview = &needs
	}
	f.IncludeOrphaned = q.Get("include_orphaned") == "true"

	events, err := s.stores.Events.List(r.Context(), userID(r), f)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, viewEvent(e))
	}
	s.respond(w, http.StatusOK, map[string]any{"events": views})
}

func (s *Server) handleClassifyEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req struct {
		ProjectID *uuid.UUID `json:"project_id"`
		Skip      bool       `json:"skip"`
		Reason    *string    `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	ev, err := s.classifier.ClassifyManually(r.Context(), userID(r), id, classify.ManualClassification{
		ProjectID: req.ProjectID,
		Skip:      req.Skip,
		Reason:    req.Reason,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, viewEvent(ev))
}

// handleClassifyMatching bulk-applies one verdict to every event in a
// range matching an ad-hoc query. Manual classifications are skipped.
func (s *Server) handleClassifyMatching(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string     `json:"query"`
		ProjectID *uuid.UUID `json:"project_id"`
		Skip      bool       `json:"skip"`
		StartDate string     `json:"start_date"`
		EndDate   string     `json:"end_date"`
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

	changes, err := s.classifier.ClassifyMatching(r.Context(), userID(r), req.Query,
		classify.ManualClassification{ProjectID: req.ProjectID, Skip: req.Skip},
		start, end.AddDate(0, 0, 1))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if changes == nil {
		changes = []classify.Change{}
	}
	s.respond(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *Server) handleUnclassifyEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.classifier.Unclassify(r.Context(), userID(r), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleSuppressEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req struct {
		Suppressed bool `json:"suppressed"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	uid := userID(r)
	ev, err := s.stores.Events.GetByID(r.Context(), uid, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.stores.Events.SetSuppressed(r.Context(), uid, id, req.Suppressed); err != nil {
		s.renderError(w, r, err)
		return
	}
	// Suppression changes what contributes to the day's hours.
	if s.materializer != nil {
		date := time.Date(ev.StartTime.UTC().Year(), ev.StartTime.UTC().Month(), ev.StartTime.UTC().Day(), 0, 0, 0, 0, time.UTC)
		if err := s.materializer.RecomputeDate(r.Context(), uid, date); err != nil {
			s.renderError(w, r, err)
			return
		}
	}
	s.respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleExplainEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	exp, err := s.classifier.Explain(r.Context(), userID(r), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, exp)
}
