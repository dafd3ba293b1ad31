package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/errs"
)

type eventStore interface {
	GetByID(ctx context.Context, userID, eventID uuid.UUID) (*store.CalendarEvent, error)
	List(ctx context.Context, userID uuid.UUID, f store.EventFilter) ([]*store.CalendarEvent, error)
	Classify(ctx context.Context, eventID uuid.UUID, c store.Classification) (*store.CalendarEvent, error)
	ResetClassification(ctx context.Context, userID, eventID uuid.UUID) error
}

type ruleStore interface {
	List(ctx context.Context, userID uuid.UUID, enabledOnly bool) ([]*store.ClassificationRule, error)
}

type projectStore interface {
	GetByID(ctx context.Context, userID, projectID uuid.UUID) (*store.Project, error)
	List(ctx context.Context, userID uuid.UUID) ([]*store.Project, error)
}

type overrideStore interface {
	Create(ctx context.Context, o *store.ClassificationOverride) (*store.ClassificationOverride, error)
}

// Recomputer refreshes time entries for a user-day after its events'
// classifications changed.
type Recomputer interface {
	RecomputeDate(ctx context.Context, userID uuid.UUID, date time.Time) error
}

// Change describes one event whose classification would (or did) move.
type Change struct {
	EventID       uuid.UUID  `json:"event_id"`
	Title         string     `json:"title"`
	Date          time.Time  `json:"date"`
	FromProjectID *uuid.UUID `json:"from_project_id,omitempty"`
	ToProjectID   *uuid.UUID `json:"to_project_id,omitempty"`
	Skip          bool       `json:"skip,omitempty"`
	Source        string     `json:"source"`
	Confidence    float64    `json:"confidence"`
	NeedsReview   bool       `json:"needs_review,omitempty"`
}

// Explanation is the full evaluation trace for one event.
type Explanation struct {
	Event   Event   `json:"event"`
	Result  Result  `json:"result"`
	Matches []Match `json:"matches"`
}

// Service runs classification against stored events and keeps time
// entries downstream of it fresh.
type Service struct {
	log        *zap.Logger
	events     eventStore
	rules      ruleStore
	projects   projectStore
	overrides  overrideStore
	recomputer Recomputer
}

// NewService wires the classification service.
func NewService(log *zap.Logger, events eventStore, rules ruleStore, projects projectStore, overrides overrideStore, recomputer Recomputer) *Service {
	return &Service{
		log:        log,
		events:     events,
		rules:      rules,
		projects:   projects,
		overrides:  overrides,
		recomputer: recomputer,
	}
}

// ValidateRule checks a rule's query and target shape before save.
func ValidateRule(query string, projectID *uuid.UUID, attended *bool) error {
	if (projectID == nil) == (attended == nil) {
		return errs.Validation("invalid_rule_target", "exactly one of project_id and attended must be set")
	}
	_, err := Parse(query)
	return err
}

// ManualClassification is a user's explicit verdict for one event.
type ManualClassification struct {
	ProjectID *uuid.UUID
	Skip      bool
	Reason    *string
}

// ClassifyManually applies a user's classification to an event,
// recording an override when it replaces an earlier decision. Source
// manual, confidence 1.0; rules never displace it without force.
func (s *Service) ClassifyManually(ctx context.Context, userID, eventID uuid.UUID, m ManualClassification) (*store.CalendarEvent, error) {
	if (m.ProjectID == nil) == !m.Skip {
		return nil, errs.Validation("invalid_classification", "exactly one of project_id and skip must be set")
	}

	ev, err := s.events.GetByID(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}

	if m.ProjectID != nil {
		project, err := s.projects.GetByID(ctx, userID, *m.ProjectID)
		if err != nil {
			return nil, err
		}
		if project.IsArchived {
			return nil, errs.Conflict("cannot classify into an archived project")
		}
	}

	if ev.ClassificationStatus == "classified" {
		_, err := s.overrides.Create(ctx, &store.ClassificationOverride{
			EventID:       ev.ID,
			UserID:        userID,
			FromProjectID: ev.ProjectID,
			ToProjectID:   m.ProjectID,
			FromSource:    ev.ClassificationSource,
			Reason:        m.Reason,
		})
		if err != nil {
			return nil, fmt.Errorf("record override: %w", err)
		}
	}

	updated, err := s.events.Classify(ctx, eventID, store.Classification{
		ProjectID: m.ProjectID,
		Skip:      m.Skip,
		Source:    store.SourceManual,
	})
	if err != nil {
		return nil, err
	}

	s.recompute(ctx, userID, ev.StartTime)
	return updated, nil
}

// Unclassify returns an event to pending and refreshes its day.
func (s *Service) Unclassify(ctx context.Context, userID, eventID uuid.UUID) error {
	ev, err := s.events.GetByID(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if err := s.events.ResetClassification(ctx, userID, eventID); err != nil {
		return err
	}
	s.recompute(ctx, userID, ev.StartTime)
	return nil
}

// ApplyOptions controls a bulk rules run.
type ApplyOptions struct {
	Start  time.Time
	End    time.Time
	DryRun bool
	// Force re-evaluates manually classified events too.
	Force bool
}

// Apply evaluates the rule set against every event in the range and
// reports (dry run) or applies (otherwise) the changes. Manual
// classifications hold unless Force is set.
func (s *Service) Apply(ctx context.Context, userID uuid.UUID, opts ApplyOptions) ([]Change, error) {
	rules, err := s.loadRules(ctx, userID)
	if err != nil {
		return nil, err
	}

	events, err := s.events.List(ctx, userID, store.EventFilter{Start: &opts.Start, End: &opts.End})
	if err != nil {
		return nil, err
	}

	var changes []Change
	touched := make(map[time.Time]bool)

	for _, ev := range events {
		if ev.IsSuppressed {
			continue
		}
		if isManual(ev) && !opts.Force {
			continue
		}

		result, _ := Evaluate(evaluatorEvent(ev), rules)
		if !result.Matched {
			continue
		}
		if !classificationChanged(ev, result) {
			continue
		}

		changes = append(changes, Change{
			EventID:       ev.ID,
			Title:         ev.Title,
			Date:          ev.StartTime,
			FromProjectID: ev.ProjectID,
			ToProjectID:   result.ProjectID,
			Skip:          result.Skip,
			Source:        result.Source,
			Confidence:    result.Confidence,
			NeedsReview:   result.NeedsReview,
		})
		if opts.DryRun {
			continue
		}

		_, err := s.events.Classify(ctx, ev.ID, store.Classification{
			ProjectID:   result.ProjectID,
			Skip:        result.Skip,
			Source:      result.Source,
			Confidence:  result.Confidence,
			RuleID:      result.RuleID,
			NeedsReview: result.NeedsReview,
		})
		if err != nil {
			return nil, fmt.Errorf("classify event: %w", err)
		}
		touched[dayOf(ev.StartTime)] = true
	}

	for day := range touched {
		s.recompute(ctx, userID, day)
	}

	s.log.Info("rules applied",
		zap.String("user_id", userID.String()),
		zap.Int("events", len(events)),
		zap.Int("changes", len(changes)),
		zap.Bool("dry_run", opts.DryRun))
	return changes, nil
}

// ClassifyMatching applies one verdict to every event in the range
// that matches an ad-hoc query. Manual classifications are left alone;
// this is a bulk assignment, not a rules run.
func (s *Service) ClassifyMatching(ctx context.Context, userID uuid.UUID, rawQuery string, target ManualClassification, start, end time.Time) ([]Change, error) {
	if (target.ProjectID == nil) == !target.Skip {
		return nil, errs.Validation("invalid_classification", "exactly one of project_id and skip must be set")
	}
	q, err := Parse(rawQuery)
	if err != nil {
		return nil, err
	}
	if target.ProjectID != nil {
		project, err := s.projects.GetByID(ctx, userID, *target.ProjectID)
		if err != nil {
			return nil, err
		}
		if project.IsArchived {
			return nil, errs.Conflict("cannot classify into an archived project")
		}
	}

	events, err := s.events.List(ctx, userID, store.EventFilter{Start: &start, End: &end})
	if err != nil {
		return nil, err
	}

	var changes []Change
	touched := make(map[time.Time]bool)

	for _, ev := range events {
		if ev.IsSuppressed || isManual(ev) {
			continue
		}
		if !q.Matches(evaluatorEvent(ev)) {
			continue
		}
		result := Result{Matched: true, ProjectID: target.ProjectID, Skip: target.Skip}
		if !classificationChanged(ev, result) {
			continue
		}

		if ev.ClassificationStatus == "classified" {
			_, err := s.overrides.Create(ctx, &store.ClassificationOverride{
				EventID:       ev.ID,
				UserID:        userID,
				FromProjectID: ev.ProjectID,
				ToProjectID:   target.ProjectID,
				FromSource:    ev.ClassificationSource,
				Reason:        target.Reason,
			})
			if err != nil {
				return nil, fmt.Errorf("record override: %w", err)
			}
		}
		if _, err := s.events.Classify(ctx, ev.ID, store.Classification{
			ProjectID: target.ProjectID,
			Skip:      target.Skip,
			Source:    store.SourceManual,
		}); err != nil {
			return nil, fmt.Errorf("classify event: %w", err)
		}

		changes = append(changes, Change{
			EventID:       ev.ID,
			Title:         ev.Title,
			Date:          ev.StartTime,
			FromProjectID: ev.ProjectID,
			ToProjectID:   target.ProjectID,
			Skip:          target.Skip,
			Source:        store.SourceManual,
			Confidence:    1.0,
		})
		touched[dayOf(ev.StartTime)] = true
	}

	for day := range touched {
		s.recompute(ctx, userID, day)
	}

	s.log.Info("bulk classification applied",
		zap.String("user_id", userID.String()),
		zap.String("query", rawQuery),
		zap.Int("changes", len(changes)))
	return changes, nil
}

// ClassifyPending runs the rule set over every pending event in
// [start, end) and recomputes the touched days. Sync calls this after
// ingesting events, closing the loop from calendar to time entries
// without user action. Classified events are left alone; a later rules
// run re-evaluates them on request.
func (s *Service) ClassifyPending(ctx context.Context, userID uuid.UUID, start, end time.Time) (int, error) {
	rules, err := s.loadRules(ctx, userID)
	if err != nil {
		return 0, err
	}

	events, err := s.events.List(ctx, userID, store.EventFilter{Start: &start, End: &end, Status: "pending"})
	if err != nil {
		return 0, err
	}

	classified := 0
	touched := make(map[time.Time]bool)
	for _, ev := range events {
		if ev.IsSuppressed {
			continue
		}
		result, _ := Evaluate(evaluatorEvent(ev), rules)
		if !result.Matched {
			continue
		}
		if _, err := s.events.Classify(ctx, ev.ID, store.Classification{
			ProjectID:   result.ProjectID,
			Skip:        result.Skip,
			Source:      result.Source,
			Confidence:  result.Confidence,
			RuleID:      result.RuleID,
			NeedsReview: result.NeedsReview,
		}); err != nil {
			return classified, fmt.Errorf("classify event: %w", err)
		}
		classified++
		touched[dayOf(ev.StartTime)] = true
	}

	for day := range touched {
		s.recompute(ctx, userID, day)
	}

	if classified > 0 {
		s.log.Info("classified ingested events",
			zap.String("user_id", userID.String()),
			zap.Int("pending", len(events)),
			zap.Int("classified", classified))
	}
	return classified, nil
}

// Explain evaluates one event and returns the full match trace without
// mutating anything.
func (s *Service) Explain(ctx context.Context, userID, eventID uuid.UUID) (*Explanation, error) {
	ev, err := s.events.GetByID(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}
	rules, err := s.loadRules(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := evaluatorEvent(ev)
	result, matches := Evaluate(view, rules)
	return &Explanation{Event: view, Result: result, Matches: matches}, nil
}

// loadRules combines the user's enabled saved rules with fingerprint
// rules synthesized from projects. Archived projects contribute
// neither: their fingerprints are dropped and saved rules targeting
// them are held out, since an archived project accepts no new
// classifications.
func (s *Service) loadRules(ctx context.Context, userID uuid.UUID) ([]Rule, error) {
	projects, err := s.projects.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	archived := make(map[uuid.UUID]bool)
	for _, p := range projects {
		if p.IsArchived {
			archived[p.ID] = true
		}
	}

	saved, err := s.rules.List(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(saved))
	for _, r := range saved {
		if r.ProjectID != nil && archived[*r.ProjectID] {
			continue
		}
		q, err := Parse(r.Query)
		if err != nil {
			// A stored rule that no longer parses is skipped, not fatal.
			s.log.Warn("skipping unparseable rule",
				zap.String("rule_id", r.ID.String()),
				zap.Error(err))
			continue
		}
		rules = append(rules, Rule{
			ID:        r.ID,
			Query:     q,
			ProjectID: r.ProjectID,
			Attended:  r.Attended,
			Weight:    r.Weight,
			Source:    store.SourceRule,
			CreatedAt: r.CreatedAt,
		})
	}

	for _, p := range projects {
		if p.IsArchived {
			continue
		}
		rules = append(rules, FingerprintRules(Fingerprint{
			ProjectID: p.ID,
			Domains:   p.FingerprintDomains,
			Emails:    p.FingerprintEmails,
			Keywords:  p.FingerprintKeywords,
		})...)
	}
	return rules, nil
}

func (s *Service) recompute(ctx context.Context, userID uuid.UUID, at time.Time) {
	if s.recomputer == nil {
		return
	}
	if err := s.recomputer.RecomputeDate(ctx, userID, dayOf(at)); err != nil {
		s.log.Error("recompute after classification",
			zap.String("user_id", userID.String()),
			zap.Time("date", dayOf(at)),
			zap.Error(err))
	}
}

func evaluatorEvent(ev *store.CalendarEvent) Event {
	view := Event{
		Title:       ev.Title,
		Attendees:   ev.Attendees,
		IsRecurring: ev.IsRecurring,
	}
	if ev.Description != nil {
		view.Description = *ev.Description
	}
	if ev.OrganizerEmail != nil {
		view.Organizer = *ev.OrganizerEmail
	}
	if ev.ResponseStatus != nil {
		view.ResponseStatus = *ev.ResponseStatus
	}
	if ev.Transparency != nil {
		view.Transparency = *ev.Transparency
	}
	return view
}

func isManual(ev *store.CalendarEvent) bool {
	return ev.ClassificationSource != nil && *ev.ClassificationSource == store.SourceManual
}

func classificationChanged(ev *store.CalendarEvent, r Result) bool {
	if ev.ClassificationStatus != "classified" {
		return true
	}
	if ev.IsSkipped != r.Skip {
		return true
	}
	switch {
	case ev.ProjectID == nil && r.ProjectID == nil:
		return false
	case ev.ProjectID == nil || r.ProjectID == nil:
		return true
	default:
		return *ev.ProjectID != *r.ProjectID
	}
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
