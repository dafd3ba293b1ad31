package server

import (
	"net/http"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/errs"
)

type projectParams struct {
	Name                   string   `json:"name"`
	ShortCode              *string  `json:"short_code"`
	Client                 *string  `json:"client"`
	Color                  string   `json:"color"`
	IsBillable             bool     `json:"is_billable"`
	IsArchived             bool     `json:"is_archived"`
	IsHiddenByDefault      bool     `json:"is_hidden_by_default"`
	DoesNotAccumulateHours bool     `json:"does_not_accumulate_hours"`
	FingerprintDomains     []string `json:"fingerprint_domains"`
	FingerprintEmails      []string `json:"fingerprint_emails"`
	FingerprintKeywords    []string `json:"fingerprint_keywords"`
}

func (p projectParams) validate() error {
	if p.Name == "" {
		return errs.Validation("invalid_project_name", "project name is required")
	}
	return nil
}

func (p projectParams) apply(dst *store.Project) {
	dst.Name = p.Name
	dst.ShortCode = p.ShortCode
	dst.Client = p.Client
	dst.Color = p.Color
	dst.IsBillable = p.IsBillable
	dst.IsArchived = p.IsArchived
	dst.IsHiddenByDefault = p.IsHiddenByDefault
	dst.DoesNotAccumulateHours = p.DoesNotAccumulateHours
	dst.FingerprintDomains = p.FingerprintDomains
	dst.FingerprintEmails = p.FingerprintEmails
	dst.FingerprintKeywords = p.FingerprintKeywords
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.stores.Projects.List(r.Context(), userID(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	views := make([]projectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, viewProject(p))
	}
	s.respond(w, http.StatusOK, map[string]any{"projects": views})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectParams
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.renderError(w, r, err)
		return
	}

	p := &store.Project{UserID: userID(r)}
	req.apply(p)
	created, err := s.stores.Projects.Create(r.Context(), p)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, viewProject(created))
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req projectParams
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.renderError(w, r, err)
		return
	}

	p, err := s.stores.Projects.GetByID(r.Context(), userID(r), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	req.apply(p)
	if err := s.stores.Projects.Update(r.Context(), p); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, viewProject(p))
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.stores.Projects.Delete(r.Context(), userID(r), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

type billingPeriodParams struct {
	StartsOn   string  `json:"starts_on"`
	EndsOn     *string `json:"ends_on"`
	HourlyRate float64 `json:"hourly_rate"`
}

func (p billingPeriodParams) apply(dst *store.BillingPeriod) error {
	starts, err := parseDate("invalid_starts_on", p.StartsOn)
	if err != nil {
		return err
	}
	dst.StartsOn = starts
	dst.EndsOn = nil
	if p.EndsOn != nil {
		ends, err := parseDate("invalid_ends_on", *p.EndsOn)
		if err != nil {
			return err
		}
		if ends.Before(starts) {
			return errs.Validation("invalid_period", "ends_on precedes starts_on")
		}
		dst.EndsOn = &ends
	}
	if p.HourlyRate < 0 {
		return errs.Validation("invalid_hourly_rate", "hourly_rate must not be negative")
	}
	dst.HourlyRate = p.HourlyRate
	return nil
}

func (s *Server) handleListBillingPeriods(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	periods, err := s.stores.Billing.ListByProject(r.Context(), userID(r), projectID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	views := make([]billingPeriodView, 0, len(periods))
	for _, p := range periods {
		views = append(views, viewBillingPeriod(p))
	}
	s.respond(w, http.StatusOK, map[string]any{"billing_periods": views})
}

func (s *Server) handleCreateBillingPeriod(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req billingPeriodParams
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	uid := userID(r)
	if _, err := s.stores.Projects.GetByID(r.Context(), uid, projectID); err != nil {
		s.renderError(w, r, err)
		return
	}

	p := &store.BillingPeriod{UserID: uid, ProjectID: projectID}
	if err := req.apply(p); err != nil {
		s.renderError(w, r, err)
		return
	}
	created, err := s.stores.Billing.Create(r.Context(), p)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, viewBillingPeriod(created))
}

func (s *Server) handleUpdateBillingPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var req billingPeriodParams
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	p, err := s.stores.Billing.GetByID(r.Context(), userID(r), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := req.apply(p); err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.stores.Billing.Update(r.Context(), p); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, viewBillingPeriod(p))
}

func (s *Server) handleDeleteBillingPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.stores.Billing.Delete(r.Context(), userID(r), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}
