package timeentry

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/internal/store"
)

var (
	computeUserID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	projectA      = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	projectB      = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
)

func classifiedEvent(projectID uuid.UUID, title string, start, end time.Time) *store.CalendarEvent {
	pid := projectID
	return &store.CalendarEvent{
		ID:        uuid.New(),
		UserID:    computeUserID,
		Title:     title,
		StartTime: start,
		EndTime:   end,
		ProjectID: &pid,
	}
}

func at(h, min int) time.Time {
	return time.Date(2024, 1, 15, h, min, 0, 0, time.UTC)
}

var day = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func TestComputeDayOverlappingEventsUnion(t *testing.T) {
	// 09:00-09:30 and 09:15-10:00 union to 60 minutes.
	events := []*store.CalendarEvent{
		classifiedEvent(projectA, "Standup", at(9, 0), at(9, 30)),
		classifiedEvent(projectA, "Planning", at(9, 15), at(10, 0)),
	}
	out := ComputeDay(computeUserID, day, events, DefaultRounding)
	if len(out) != 1 {
		t.Fatalf("entries = %d, want 1", len(out))
	}
	e := out[0]
	if e.Hours != 1.00 {
		t.Errorf("Hours = %v, want 1.00", e.Hours)
	}
	if e.Details.UnionMinutes != 60 || e.Details.FinalMinutes != 60 {
		t.Errorf("minutes = %d/%d, want 60/60", e.Details.UnionMinutes, e.Details.FinalMinutes)
	}
	if e.Details.Rounding != "none" {
		t.Errorf("Rounding = %q, want none", e.Details.Rounding)
	}
	if len(e.Details.TimeRanges) != 1 {
		t.Errorf("TimeRanges = %d, want 1 merged interval", len(e.Details.TimeRanges))
	}
	if len(e.EventIDs) != 2 {
		t.Errorf("EventIDs = %d, want 2", len(e.EventIDs))
	}
}

func TestComputeDayBackToBackEventsMerge(t *testing.T) {
	events := []*store.CalendarEvent{
		classifiedEvent(projectA, "First", at(9, 0), at(9, 30)),
		classifiedEvent(projectA, "Second", at(9, 30), at(10, 0)),
	}
	out := ComputeDay(computeUserID, day, events, DefaultRounding)
	if len(out[0].Details.TimeRanges) != 1 {
		t.Errorf("touching intervals not merged: %+v", out[0].Details.TimeRanges)
	}
	if out[0].Details.UnionMinutes != 60 {
		t.Errorf("UnionMinutes = %d, want 60", out[0].Details.UnionMinutes)
	}
}

func TestComputeDayRounding(t *testing.T) {
	cases := []struct {
		minutes   int
		wantHours float64
		wantLabel string
	}{
		{60, 1.00, "none"},
		{25, 0.50, "+5m"}, // remainder 10 rounds up
		{55, 1.00, "+5m"}, // remainder 10 rounds up
		{35, 0.50, "-5m"}, // remainder 5 rounds down
		{51, 0.75, "-6m"}, // remainder 6 rounds down
		{52, 1.00, "+8m"}, // remainder 7 rounds up
		{5, 0.00, "-5m"},  // short events can round to zero
		{14, 0.25, "+1m"}, // remainder 14 rounds up
	}
	for _, tc := range cases {
		events := []*store.CalendarEvent{
			classifiedEvent(projectA, "Work", at(9, 0), at(9, 0).Add(time.Duration(tc.minutes)*time.Minute)),
		}
		out := ComputeDay(computeUserID, day, events, DefaultRounding)
		if out[0].Hours != tc.wantHours {
			t.Errorf("%dm: Hours = %v, want %v", tc.minutes, out[0].Hours, tc.wantHours)
		}
		if out[0].Details.Rounding != tc.wantLabel {
			t.Errorf("%dm: Rounding = %q, want %q", tc.minutes, out[0].Details.Rounding, tc.wantLabel)
		}
	}
}

func TestComputeDayAllDayContributesNoHours(t *testing.T) {
	allDay := classifiedEvent(projectA, "Conference", day, day.AddDate(0, 0, 1))
	allDay.IsAllDay = true
	events := []*store.CalendarEvent{
		allDay,
		classifiedEvent(projectA, "Prep", at(9, 0), at(10, 0)),
	}
	out := ComputeDay(computeUserID, day, events, DefaultRounding)
	if out[0].Hours != 1.00 {
		t.Errorf("Hours = %v, want all-day excluded from union", out[0].Hours)
	}
	if len(out[0].EventIDs) != 2 {
		t.Errorf("EventIDs = %d, want all-day still referenced", len(out[0].EventIDs))
	}
}

func TestComputeDayTitleAndDescription(t *testing.T) {
	events := []*store.CalendarEvent{
		classifiedEvent(projectA, "Standup", at(9, 0), at(9, 15)),
		classifiedEvent(projectA, "Planning", at(10, 0), at(11, 0)),
		classifiedEvent(projectA, "Standup", at(17, 0), at(17, 15)),
	}
	out := ComputeDay(computeUserID, day, events, DefaultRounding)
	if out[0].Title != "Standup +1 more" {
		t.Errorf("Title = %q", out[0].Title)
	}
	if out[0].Description != "Standup, Planning" {
		t.Errorf("Description = %q, want unique titles joined", out[0].Description)
	}
}

func TestComputeDaySplitsByProject(t *testing.T) {
	events := []*store.CalendarEvent{
		classifiedEvent(projectA, "A work", at(9, 0), at(10, 0)),
		classifiedEvent(projectB, "B work", at(9, 0), at(10, 0)),
	}
	out := ComputeDay(computeUserID, day, events, DefaultRounding)
	if len(out) != 2 {
		t.Fatalf("entries = %d, want one per project", len(out))
	}
	if out[0].ProjectID != projectA || out[1].ProjectID != projectB {
		t.Errorf("entries not ordered by project id")
	}
}

func TestComputeRangeGroupsByDay(t *testing.T) {
	nextDay := day.AddDate(0, 0, 1)
	events := []*store.CalendarEvent{
		classifiedEvent(projectA, "Mon", at(9, 0), at(10, 0)),
		classifiedEvent(projectA, "Tue", at(9, 0).AddDate(0, 0, 1), at(10, 0).AddDate(0, 0, 1)),
	}
	out := ComputeRange(computeUserID, events, DefaultRounding)
	if len(out) != 2 {
		t.Fatalf("entries = %d, want 2", len(out))
	}
	if !out[0].Date.Equal(day) || !out[1].Date.Equal(nextDay) {
		t.Errorf("dates = %v, %v", out[0].Date, out[1].Date)
	}
}

func TestEntryIDDeterministic(t *testing.T) {
	a := EntryID(computeUserID, projectA, day)
	b := EntryID(computeUserID, projectA, day)
	if a != b {
		t.Errorf("same inputs produced different ids")
	}
	if a == EntryID(computeUserID, projectA, day.AddDate(0, 0, 1)) {
		t.Errorf("different dates produced the same id")
	}
	if a.Version() != 5 {
		t.Errorf("id version = %d, want 5", a.Version())
	}
}
