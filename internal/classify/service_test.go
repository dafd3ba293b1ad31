package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/errs"
)

type mockEventStore struct {
	events     map[uuid.UUID]*store.CalendarEvent
	classified []store.Classification
	reset      []uuid.UUID
}

func (m *mockEventStore) GetByID(_ context.Context, _, eventID uuid.UUID) (*store.CalendarEvent, error) {
	ev, ok := m.events[eventID]
	if !ok {
		return nil, store.ErrEventNotFound
	}
	return ev, nil
}

func (m *mockEventStore) List(_ context.Context, _ uuid.UUID, f store.EventFilter) ([]*store.CalendarEvent, error) {
	var out []*store.CalendarEvent
	for _, ev := range m.events {
		if f.Start != nil && ev.StartTime.Before(*f.Start) {
			continue
		}
		if f.End != nil && !ev.StartTime.Before(*f.End) {
			continue
		}
		if f.Status != "" && ev.ClassificationStatus != f.Status {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *mockEventStore) Classify(_ context.Context, eventID uuid.UUID, c store.Classification) (*store.CalendarEvent, error) {
	ev, ok := m.events[eventID]
	if !ok {
		return nil, store.ErrEventNotFound
	}
	m.classified = append(m.classified, c)
	ev.ClassificationStatus = "classified"
	source := c.Source
	ev.ClassificationSource = &source
	ev.ProjectID = c.ProjectID
	ev.IsSkipped = c.Skip
	ev.NeedsReview = c.NeedsReview
	return ev, nil
}

func (m *mockEventStore) ResetClassification(_ context.Context, _, eventID uuid.UUID) error {
	ev, ok := m.events[eventID]
	if !ok {
		return store.ErrEventNotFound
	}
	m.reset = append(m.reset, eventID)
	ev.ClassificationStatus = "pending"
	ev.ClassificationSource = nil
	ev.ProjectID = nil
	ev.IsSkipped = false
	return nil
}

type mockRuleStore struct {
	rules []*store.ClassificationRule
}

func (m *mockRuleStore) List(_ context.Context, _ uuid.UUID, enabledOnly bool) ([]*store.ClassificationRule, error) {
	var out []*store.ClassificationRule
	for _, r := range m.rules {
		if enabledOnly && !r.IsEnabled {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type mockProjectStore struct {
	projects map[uuid.UUID]*store.Project
}

func (m *mockProjectStore) GetByID(_ context.Context, _, projectID uuid.UUID) (*store.Project, error) {
	p, ok := m.projects[projectID]
	if !ok {
		return nil, store.ErrProjectNotFound
	}
	return p, nil
}

func (m *mockProjectStore) List(_ context.Context, _ uuid.UUID) ([]*store.Project, error) {
	var out []*store.Project
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out, nil
}

type mockOverrideStore struct {
	created []*store.ClassificationOverride
}

func (m *mockOverrideStore) Create(_ context.Context, o *store.ClassificationOverride) (*store.ClassificationOverride, error) {
	m.created = append(m.created, o)
	return o, nil
}

type mockRecomputer struct {
	dates []time.Time
}

func (m *mockRecomputer) RecomputeDate(_ context.Context, _ uuid.UUID, date time.Time) error {
	m.dates = append(m.dates, date)
	return nil
}

type serviceFixture struct {
	svc        *Service
	events     *mockEventStore
	rules      *mockRuleStore
	projects   *mockProjectStore
	overrides  *mockOverrideStore
	recomputer *mockRecomputer
}

var testUserID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		events:     &mockEventStore{events: map[uuid.UUID]*store.CalendarEvent{}},
		rules:      &mockRuleStore{},
		projects:   &mockProjectStore{projects: map[uuid.UUID]*store.Project{}},
		overrides:  &mockOverrideStore{},
		recomputer: &mockRecomputer{},
	}
	f.svc = NewService(zap.NewNop(), f.events, f.rules, f.projects, f.overrides, f.recomputer)
	return f
}

func (f *serviceFixture) addProject(id uuid.UUID, archived bool) *store.Project {
	p := &store.Project{ID: id, UserID: testUserID, Name: "Project " + id.String()[:4], IsArchived: archived}
	f.projects.projects[id] = p
	return p
}

func (f *serviceFixture) addEvent(title string, start time.Time) *store.CalendarEvent {
	ev := &store.CalendarEvent{
		ID:                   uuid.New(),
		UserID:               testUserID,
		Title:                title,
		StartTime:            start,
		EndTime:              start.Add(time.Hour),
		ClassificationStatus: "pending",
	}
	f.events.events[ev.ID] = ev
	return ev
}

func (f *serviceFixture) addRule(query string, projectID uuid.UUID) {
	pid := projectID
	f.rules.rules = append(f.rules.rules, &store.ClassificationRule{
		ID:        uuid.New(),
		UserID:    testUserID,
		Query:     query,
		ProjectID: &pid,
		Weight:    1.0,
		IsEnabled: true,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
}

func TestValidateRule(t *testing.T) {
	pid := projectP
	attended := false
	cases := []struct {
		name      string
		query     string
		projectID *uuid.UUID
		attended  *bool
		ok        bool
	}{
		{"project target", "title:sync", &pid, nil, true},
		{"attended target", "response:declined", nil, &attended, true},
		{"no target", "title:sync", nil, nil, false},
		{"both targets", "title:sync", &pid, &attended, false},
		{"bad query", "location:office", &pid, nil, false},
	}
	for _, tc := range cases {
		err := ValidateRule(tc.query, tc.projectID, tc.attended)
		if (err == nil) != tc.ok {
			t.Errorf("%s: err = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestClassifyManuallyRecordsOverride(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addProject(projectQ, false)

	ev := f.addEvent("Sync", time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	ev.ClassificationStatus = "classified"
	ruleSource := store.SourceRule
	ev.ClassificationSource = &ruleSource
	prior := projectP
	ev.ProjectID = &prior

	target := projectQ
	_, err := f.svc.ClassifyManually(context.Background(), testUserID, ev.ID, ManualClassification{ProjectID: &target})
	if err != nil {
		t.Fatalf("ClassifyManually: %v", err)
	}

	if len(f.overrides.created) != 1 {
		t.Fatalf("overrides = %d, want 1", len(f.overrides.created))
	}
	o := f.overrides.created[0]
	if o.FromProjectID == nil || *o.FromProjectID != projectP {
		t.Errorf("override FromProjectID = %v, want %s", o.FromProjectID, projectP)
	}
	if o.ToProjectID == nil || *o.ToProjectID != projectQ {
		t.Errorf("override ToProjectID = %v, want %s", o.ToProjectID, projectQ)
	}

	if len(f.events.classified) != 1 || f.events.classified[0].Source != store.SourceManual {
		t.Errorf("classification = %+v, want manual source", f.events.classified)
	}
	want := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	if len(f.recomputer.dates) != 1 || !f.recomputer.dates[0].Equal(want) {
		t.Errorf("recomputed dates = %v, want [%v]", f.recomputer.dates, want)
	}
}

func TestClassifyManuallyPendingEventSkipsOverride(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	ev := f.addEvent("Sync", time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))

	pid := projectP
	if _, err := f.svc.ClassifyManually(context.Background(), testUserID, ev.ID, ManualClassification{ProjectID: &pid}); err != nil {
		t.Fatalf("ClassifyManually: %v", err)
	}
	if len(f.overrides.created) != 0 {
		t.Errorf("first classification produced an override record")
	}
}

func TestClassifyManuallyArchivedProjectConflicts(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, true)
	ev := f.addEvent("Sync", time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))

	pid := projectP
	_, err := f.svc.ClassifyManually(context.Background(), testUserID, ev.ID, ManualClassification{ProjectID: &pid})
	if !errors.Is(err, errs.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
	if len(f.events.classified) != 0 {
		t.Errorf("archived project still classified")
	}
}

func TestClassifyManuallyRejectsAmbiguousTarget(t *testing.T) {
	f := newServiceFixture()
	ev := f.addEvent("Sync", time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))

	pid := projectP
	bad := []ManualClassification{
		{},                            // neither
		{ProjectID: &pid, Skip: true}, // both
	}
	for _, m := range bad {
		if _, err := f.svc.ClassifyManually(context.Background(), testUserID, ev.ID, m); !errors.Is(err, errs.ErrValidation) {
			t.Errorf("ClassifyManually(%+v) err = %v, want validation", m, err)
		}
	}
}

func TestUnclassifyResetsAndRecomputes(t *testing.T) {
	f := newServiceFixture()
	ev := f.addEvent("Sync", time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	ev.ClassificationStatus = "classified"

	if err := f.svc.Unclassify(context.Background(), testUserID, ev.ID); err != nil {
		t.Fatalf("Unclassify: %v", err)
	}
	if len(f.events.reset) != 1 || f.events.reset[0] != ev.ID {
		t.Errorf("reset = %v", f.events.reset)
	}
	if len(f.recomputer.dates) != 1 {
		t.Errorf("recompute not triggered")
	}
}

func TestApplyClassifiesMatchingEvents(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addRule("title:standup", projectP)

	matched := f.addEvent("Daily standup", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	f.addEvent("Dentist", time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC))

	changes, err := f.svc.Apply(context.Background(), testUserID, ApplyOptions{
		Start: time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(changes) != 1 || changes[0].EventID != matched.ID {
		t.Fatalf("changes = %+v, want one for the standup", changes)
	}
	if len(f.events.classified) != 1 {
		t.Errorf("classified = %d, want 1", len(f.events.classified))
	}
	if len(f.recomputer.dates) != 1 {
		t.Errorf("recompute per touched day not triggered")
	}
}

func TestApplyDryRunMutatesNothing(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addRule("title:standup", projectP)
	f.addEvent("Daily standup", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))

	changes, err := f.svc.Apply(context.Background(), testUserID, ApplyOptions{
		Start:  time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
		DryRun: true,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}
	if len(f.events.classified) != 0 {
		t.Errorf("dry run classified events")
	}
	if len(f.recomputer.dates) != 0 {
		t.Errorf("dry run triggered recompute")
	}
}

func TestApplyPreservesManualClassification(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addProject(projectQ, false)
	f.addRule("title:standup", projectP)

	// Manually filed under Q; the rule would move it to P.
	ev := f.addEvent("Daily standup", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	ev.ClassificationStatus = "classified"
	manual := store.SourceManual
	ev.ClassificationSource = &manual
	q := projectQ
	ev.ProjectID = &q

	opts := ApplyOptions{
		Start: time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
	}

	changes, err := f.svc.Apply(context.Background(), testUserID, opts)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(changes) != 0 || len(f.events.classified) != 0 {
		t.Fatalf("manual classification displaced without force: %+v", changes)
	}

	// With force the rule wins.
	opts.Force = true
	changes, err = f.svc.Apply(context.Background(), testUserID, opts)
	if err != nil {
		t.Fatalf("Apply(force): %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("force changes = %d, want 1", len(changes))
	}
	if changes[0].ToProjectID == nil || *changes[0].ToProjectID != projectP {
		t.Errorf("forced change = %+v, want move to rule project", changes[0])
	}
}

func TestApplySkipsSuppressedEvents(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addRule("title:standup", projectP)

	ev := f.addEvent("Daily standup", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	ev.IsSuppressed = true

	changes, err := f.svc.Apply(context.Background(), testUserID, ApplyOptions{
		Start: time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("suppressed event reclassified")
	}
}

func TestApplySkipsUnchangedClassification(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addRule("title:standup", projectP)

	ev := f.addEvent("Daily standup", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	ev.ClassificationStatus = "classified"
	src := store.SourceRule
	ev.ClassificationSource = &src
	p := projectP
	ev.ProjectID = &p

	changes, err := f.svc.Apply(context.Background(), testUserID, ApplyOptions{
		Start: time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("no-op change reported: %+v", changes)
	}
}

func TestApplyUsesArchivedProjectFingerprints(t *testing.T) {
	f := newServiceFixture()
	archived := f.addProject(projectP, true)
	archived.FingerprintDomains = []string{"acme.com"}

	ev := f.addEvent("Sync", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	ev.Attendees = []string{"alice@acme.com"}

	changes, err := f.svc.Apply(context.Background(), testUserID, ApplyOptions{
		Start: time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("archived project fingerprint classified an event: %+v", changes)
	}
}

func TestApplyHoldsOutRulesForArchivedProject(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, true)
	f.addRule("title:standup", projectP)
	f.addEvent("Daily standup", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))

	changes, err := f.svc.Apply(context.Background(), testUserID, ApplyOptions{
		Start: time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(changes) != 0 || len(f.events.classified) != 0 {
		t.Errorf("rule targeting an archived project classified an event: %+v", changes)
	}
}

func TestClassifyPendingAppliesRules(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addRule("title:standup", projectP)

	ev := f.addEvent("Daily standup", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	f.addEvent("Dentist", time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC))

	n, err := f.svc.ClassifyPending(context.Background(), testUserID,
		time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ClassifyPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("classified = %d, want 1", n)
	}
	if ev.ProjectID == nil || *ev.ProjectID != projectP {
		t.Errorf("ProjectID = %v, want %s", ev.ProjectID, projectP)
	}
	want := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	if len(f.recomputer.dates) != 1 || !f.recomputer.dates[0].Equal(want) {
		t.Errorf("recomputed dates = %v, want [%v]", f.recomputer.dates, want)
	}
}

func TestClassifyPendingLeavesClassifiedEventsAlone(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addProject(projectQ, false)
	f.addRule("title:standup", projectP)

	ev := f.addEvent("Daily standup", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	manual := store.SourceManual
	ev.ClassificationStatus = "classified"
	ev.ClassificationSource = &manual
	prior := projectQ
	ev.ProjectID = &prior

	n, err := f.svc.ClassifyPending(context.Background(), testUserID,
		time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ClassifyPending: %v", err)
	}
	if n != 0 || len(f.events.classified) != 0 {
		t.Errorf("classified event re-evaluated on ingest: n=%d", n)
	}
	if *ev.ProjectID != projectQ {
		t.Errorf("manual classification displaced: %+v", ev)
	}
}

func TestClassifyPendingUnmatchedStaysPending(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addRule("title:standup", projectP)
	ev := f.addEvent("Dentist", time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC))

	n, err := f.svc.ClassifyPending(context.Background(), testUserID,
		time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ClassifyPending: %v", err)
	}
	if n != 0 || ev.ClassificationStatus != "pending" {
		t.Errorf("unmatched event changed: n=%d status=%s", n, ev.ClassificationStatus)
	}
	if len(f.recomputer.dates) != 0 {
		t.Errorf("recompute triggered with nothing classified")
	}
}

func TestExplainReturnsTraceWithoutMutation(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addRule("title:standup", projectP)
	ev := f.addEvent("Daily standup", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))

	exp, err := f.svc.Explain(context.Background(), testUserID, ev.ID)
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if !exp.Result.Matched || len(exp.Matches) != 1 {
		t.Errorf("explanation = %+v", exp)
	}
	if len(f.events.classified) != 0 {
		t.Errorf("Explain mutated classification state")
	}
}

func TestLoadRulesSkipsUnparseableSavedRule(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	pid := projectP
	f.rules.rules = append(f.rules.rules, &store.ClassificationRule{
		ID:        uuid.New(),
		Query:     "location:office", // field no longer supported
		ProjectID: &pid,
		IsEnabled: true,
	})
	f.addRule("title:standup", projectP)

	rules, err := f.svc.loadRules(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("loadRules: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("rules = %d, want only the parseable one", len(rules))
	}
}

func TestClassifyMatchingBulkAssigns(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)

	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	matching := f.addEvent("Weekly sync", day.Add(9*time.Hour))
	other := f.addEvent("Lunch", day.Add(12*time.Hour))

	pid := projectP
	changes, err := f.svc.ClassifyMatching(context.Background(), testUserID, "title:sync",
		ManualClassification{ProjectID: &pid}, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ClassifyMatching: %v", err)
	}

	if len(changes) != 1 || changes[0].EventID != matching.ID {
		t.Fatalf("changes = %+v, want only the matching event", changes)
	}
	if changes[0].Source != store.SourceManual || changes[0].Confidence != 1.0 {
		t.Errorf("change = %+v, want manual at confidence 1.0", changes[0])
	}
	if matching.ProjectID == nil || *matching.ProjectID != projectP {
		t.Errorf("matching event not classified: %+v", matching)
	}
	if other.ClassificationStatus != "pending" {
		t.Errorf("non-matching event classified: %+v", other)
	}
	if len(f.recomputer.dates) != 1 || !f.recomputer.dates[0].Equal(day) {
		t.Errorf("recomputed dates = %v, want [%s]", f.recomputer.dates, day)
	}
}

func TestClassifyMatchingSkipsManual(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addProject(projectQ, false)

	ev := f.addEvent("Weekly sync", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	ev.ClassificationStatus = "classified"
	manual := store.SourceManual
	ev.ClassificationSource = &manual
	prior := projectQ
	ev.ProjectID = &prior

	pid := projectP
	changes, err := f.svc.ClassifyMatching(context.Background(), testUserID, "title:sync",
		ManualClassification{ProjectID: &pid},
		time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ClassifyMatching: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("changes = %+v, want none over a manual classification", changes)
	}
	if *ev.ProjectID != projectQ {
		t.Errorf("manual classification displaced: %+v", ev)
	}
}

func TestClassifyMatchingRecordsOverride(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)
	f.addProject(projectQ, false)

	ev := f.addEvent("Weekly sync", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	ev.ClassificationStatus = "classified"
	ruleSource := store.SourceRule
	ev.ClassificationSource = &ruleSource
	prior := projectQ
	ev.ProjectID = &prior

	pid := projectP
	_, err := f.svc.ClassifyMatching(context.Background(), testUserID, "title:sync",
		ManualClassification{ProjectID: &pid},
		time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ClassifyMatching: %v", err)
	}
	if len(f.overrides.created) != 1 {
		t.Fatalf("overrides = %d, want 1", len(f.overrides.created))
	}
	if o := f.overrides.created[0]; o.FromProjectID == nil || *o.FromProjectID != projectQ {
		t.Errorf("override FromProjectID = %v, want %s", o.FromProjectID, projectQ)
	}
}

func TestClassifyMatchingRejectsArchivedProject(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, true)
	f.addEvent("Weekly sync", time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))

	pid := projectP
	_, err := f.svc.ClassifyMatching(context.Background(), testUserID, "title:sync",
		ManualClassification{ProjectID: &pid},
		time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, errs.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestClassifyMatchingRejectsBadQuery(t *testing.T) {
	f := newServiceFixture()
	f.addProject(projectP, false)

	pid := projectP
	_, err := f.svc.ClassifyMatching(context.Background(), testUserID, "location:office",
		ManualClassification{ProjectID: &pid},
		time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, errs.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}
