package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/internal/classify"
	"github.com/quantumlife/timeledger/internal/store"
)

type ruleParams struct {
	Query     string     `json:"query"`
	ProjectID *uuid.UUID `json:"project_id"`
	Attended  *bool      `json:"attended"`
	Weight    *float64   `json:"weight"`
	IsEnabled *bool      `json:"is_enabled"`
}

func (p ruleParams) apply(dst *store.ClassificationRule) error {
	if err := classify.ValidateRule(p.Query, p.ProjectID, p.Attended); err != nil {
		return err
	}
	dst.Query = p.Query
	dst.ProjectID = p.ProjectID
	dst.Attended = p.Attended
	dst.Weight = 1.0
	if p.Weight != nil {
		dst.Weight = *p.Weight
	}
	dst.IsEnabled = true
	if p.IsEnabled != nil {
		dst.IsEnabled = *p.IsEnabled
	}
	return nil
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.stores.Rules.List(r.Context(), userID(r), false)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	views := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, viewRule(rule))
	}
	s.respond(w, http.StatusOK, map[string]any{"rules": views})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleParams
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	rule := &store.ClassificationRule{UserID: userID(r)}
	if err := req.apply(rule); err != nil {
		s.renderError(w, r, err)
		return
	}
	created, err := s.stores.Rules.Create(r.Context(), rule)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, viewRule(created))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req ruleParams
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	rule, err := s.stores.Rules.GetByID(r.Context(), userID(r), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := req.apply(rule); err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.stores.Rules.Update(r.Context(), rule); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, viewRule(rule))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.stores.Rules.Delete(r.Context(), userID(r), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

// handleApplyRules re-runs the rule set over a date range. Dry runs
// report what would change without touching anything.
func (s *Server) handleApplyRules(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		DryRun    bool   `json:"dry_run"`
		Force     bool   `json:"force"`
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

	changes, err := s.classifier.Apply(r.Context(), userID(r), classify.ApplyOptions{
		Start:  start,
		End:    end.AddDate(0, 0, 1),
		DryRun: req.DryRun,
		Force:  req.Force,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if changes == nil {
		changes = []classify.Change{}
	}
	s.respond(w, http.StatusOK, map[string]any{
		"dry_run": req.DryRun,
		"changes": changes,
	})
}
