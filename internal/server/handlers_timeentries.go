package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/pkg/errs"
)

// handleListTimeEntries returns the merged view over a range:
// materialized rows where they exist, ephemeral computation elsewhere.
func (s *Server) handleListTimeEntries(w http.ResponseWriter, r *http.Request) {
	start, end, err := dateRange(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	projectID, err := queryUUID(r, "project_id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	entries, err := s.materializer.ListRange(r.Context(), userID(r), start, end.AddDate(0, 0, 1), projectID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"time_entries": entries})
}

type entryTarget struct {
	ProjectID uuid.UUID `json:"project_id"`
	Date      string    `json:"date"`
}

func (t entryTarget) resolve() (uuid.UUID, time.Time, error) {
	if t.ProjectID == uuid.Nil {
		return uuid.Nil, time.Time{}, errs.Validation("invalid_id", "project_id is required")
	}
	date, err := parseDate("invalid_date", t.Date)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return t.ProjectID, date, nil
}

// handleSetTimeEntry records a user edit, materializing the entry if
// the day only existed ephemerally. Omitting hours materializes the
// entry with its computed hours without marking it edited.
func (s *Server) handleSetTimeEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		entryTarget
		Hours       *float64 `json:"hours"`
		Title       *string  `json:"title"`
		Description *string  `json:"description"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	projectID, date, err := req.resolve()
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if req.Hours != nil && *req.Hours < 0 {
		s.renderError(w, r, errs.Validation("invalid_hours", "hours must not be negative"))
		return
	}

	entry, err := s.materializer.SetHours(r.Context(), userID(r), projectID, date, req.Hours, req.Title, req.Description)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, viewTimeEntry(entry))
}

// handleRefreshTimeEntry discards a user edit and returns the entry to
// its computed values. The entry may not survive: once nothing protects
// it, recompute may delete a row with no calendar backing.
func (s *Server) handleRefreshTimeEntry(w http.ResponseWriter, r *http.Request) {
	var req entryTarget
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	projectID, date, err := req.resolve()
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	entry, err := s.materializer.Refresh(r.Context(), userID(r), projectID, date)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if entry == nil {
		s.respond(w, http.StatusNoContent, nil)
		return
	}
	s.respond(w, http.StatusOK, viewTimeEntry(entry))
}

func (s *Server) handlePinTimeEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		entryTarget
		Pinned bool `json:"pinned"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	projectID, date, err := req.resolve()
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.materializer.SetPinned(r.Context(), userID(r), projectID, date, req.Pinned); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleSuppressTimeEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		entryTarget
		Suppressed bool `json:"suppressed"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	projectID, date, err := req.resolve()
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.materializer.SetSuppressed(r.Context(), userID(r), projectID, date, req.Suppressed); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}
