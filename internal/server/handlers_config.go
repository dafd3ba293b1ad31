package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/internal/classify"
	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/errs"
)

// configDocument is the portable settings format. Rules reference
// projects by name so a document survives moving between accounts.
type configDocument struct {
	Version  int             `json:"version"`
	Projects []projectParams `json:"projects"`
	Rules    []portableRule  `json:"rules"`
}

type portableRule struct {
	Query     string  `json:"query"`
	Project   *string `json:"project,omitempty"`
	Attended  *bool   `json:"attended,omitempty"`
	Weight    float64 `json:"weight"`
	IsEnabled bool    `json:"is_enabled"`
}

func (s *Server) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	projects, err := s.stores.Projects.List(r.Context(), uid)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	rules, err := s.stores.Rules.List(r.Context(), uid, false)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	nameByID := make(map[uuid.UUID]string, len(projects))
	doc := configDocument{Version: 1}
	for _, p := range projects {
		nameByID[p.ID] = p.Name
		doc.Projects = append(doc.Projects, projectParams{
			Name:                   p.Name,
			ShortCode:              p.ShortCode,
			Client:                 p.Client,
			Color:                  p.Color,
			IsBillable:             p.IsBillable,
			IsArchived:             p.IsArchived,
			IsHiddenByDefault:      p.IsHiddenByDefault,
			DoesNotAccumulateHours: p.DoesNotAccumulateHours,
			FingerprintDomains:     p.FingerprintDomains,
			FingerprintEmails:      p.FingerprintEmails,
			FingerprintKeywords:    p.FingerprintKeywords,
		})
	}
	for _, rule := range rules {
		pr := portableRule{
			Query:     rule.Query,
			Attended:  rule.Attended,
			Weight:    rule.Weight,
			IsEnabled: rule.IsEnabled,
		}
		if rule.ProjectID != nil {
			name, ok := nameByID[*rule.ProjectID]
			if !ok {
				continue // rule points at a deleted project
			}
			pr.Project = &name
		}
		doc.Rules = append(doc.Rules, pr)
	}
	s.respond(w, http.StatusOK, doc)
}

// handleConfigImport upserts projects by name and appends rules. It is
// not a destructive restore: existing rules stay.
func (s *Server) handleConfigImport(w http.ResponseWriter, r *http.Request) {
	var doc configDocument
	if err := decode(r, &doc); err != nil {
		s.renderError(w, r, err)
		return
	}

	uid := userID(r)
	idByName := make(map[string]uuid.UUID)
	var projectsCreated, projectsUpdated, rulesCreated int

	for _, pp := range doc.Projects {
		if err := pp.validate(); err != nil {
			s.renderError(w, r, err)
			return
		}
		existing, err := s.stores.Projects.GetByName(r.Context(), uid, pp.Name)
		switch {
		case err == nil:
			pp.apply(existing)
			if err := s.stores.Projects.Update(r.Context(), existing); err != nil {
				s.renderError(w, r, err)
				return
			}
			idByName[existing.Name] = existing.ID
			projectsUpdated++
		case errors.Is(err, errs.ErrNotFound):
			p := &store.Project{UserID: uid}
			pp.apply(p)
			created, err := s.stores.Projects.Create(r.Context(), p)
			if err != nil {
				s.renderError(w, r, err)
				return
			}
			idByName[created.Name] = created.ID
			projectsCreated++
		default:
			s.renderError(w, r, err)
			return
		}
	}

	for _, pr := range doc.Rules {
		var projectID *uuid.UUID
		if pr.Project != nil {
			id, ok := idByName[*pr.Project]
			if !ok {
				existing, err := s.stores.Projects.GetByName(r.Context(), uid, *pr.Project)
				if err != nil {
					s.renderError(w, r, errs.Validation("unknown_project", "rule references unknown project %q", *pr.Project))
					return
				}
				id = existing.ID
			}
			projectID = &id
		}
		if err := classify.ValidateRule(pr.Query, projectID, pr.Attended); err != nil {
			s.renderError(w, r, err)
			return
		}
		weight := pr.Weight
		if weight == 0 {
			weight = 1.0
		}
		if _, err := s.stores.Rules.Create(r.Context(), &store.ClassificationRule{
			UserID:    uid,
			Query:     pr.Query,
			ProjectID: projectID,
			Attended:  pr.Attended,
			Weight:    weight,
			IsEnabled: pr.IsEnabled,
		}); err != nil {
			s.renderError(w, r, err)
			return
		}
		rulesCreated++
	}

	s.respond(w, http.StatusOK, map[string]any{
		"projects_created": projectsCreated,
		"projects_updated": projectsUpdated,
		"rules_created":    rulesCreated,
	})
}
