package google

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/quantumlife/timeledger/internal/connectors/calendar"
	"github.com/quantumlife/timeledger/pkg/clock"
	"github.com/quantumlife/timeledger/pkg/errs"
)

func TestConvertEventTimed(t *testing.T) {
	item := &gcal.Event{
		Id:          "evt-123",
		Status:      "confirmed",
		Summary:     "Sprint planning",
		Description: "Q1 roadmap",
		Start:       &gcal.EventDateTime{DateTime: "2025-01-15T09:00:00Z"},
		End:         &gcal.EventDateTime{DateTime: "2025-01-15T10:00:00Z"},
		Organizer:   &gcal.EventOrganizer{Email: "alice@example.com"},
		Attendees: []*gcal.EventAttendee{
			{Email: "alice@example.com", ResponseStatus: "accepted"},
			{Email: "me@example.com", Self: true, ResponseStatus: "tentative"},
			{Email: "room-4@resource.calendar.google.com", Resource: true},
		},
		Transparency: "opaque",
	}

	ev := convertEvent(item)
	if ev.ExternalID != "evt-123" || ev.Title != "Sprint planning" {
		t.Errorf("identity fields wrong: %+v", ev)
	}
	if ev.IsAllDay {
		t.Errorf("timed event marked all-day")
	}
	want := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(want) {
		t.Errorf("Start = %v, want %v", ev.Start, want)
	}
	if ev.ResponseStatus != "tentative" {
		t.Errorf("ResponseStatus = %q, want self attendee status", ev.ResponseStatus)
	}
	if len(ev.Attendees) != 2 {
		t.Errorf("attendees = %v, want resources filtered out", ev.Attendees)
	}
	if ev.Organizer != "alice@example.com" {
		t.Errorf("Organizer = %q", ev.Organizer)
	}
}

func TestConvertEventAllDay(t *testing.T) {
	item := &gcal.Event{
		Id:      "evt-allday",
		Status:  "confirmed",
		Summary: "Offsite",
		Start:   &gcal.EventDateTime{Date: "2025-01-15"},
		End:     &gcal.EventDateTime{Date: "2025-01-16"},
	}
	ev := convertEvent(item)
	if !ev.IsAllDay {
		t.Errorf("date-only event not marked all-day")
	}
	if !ev.Start.Equal(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", ev.Start)
	}
}

func TestConvertEventCancelled(t *testing.T) {
	// Incremental listings return cancelled events as id-only stubs.
	ev := convertEvent(&gcal.Event{Id: "evt-gone", Status: "cancelled"})
	if !ev.IsCancelled || ev.ExternalID != "evt-gone" {
		t.Errorf("cancelled stub = %+v", ev)
	}
}

func TestConvertEventOrganizerSelfAccepted(t *testing.T) {
	item := &gcal.Event{
		Id:        "evt-own",
		Status:    "confirmed",
		Start:     &gcal.EventDateTime{DateTime: "2025-01-15T09:00:00Z"},
		End:       &gcal.EventDateTime{DateTime: "2025-01-15T09:30:00Z"},
		Organizer: &gcal.EventOrganizer{Email: "me@example.com", Self: true},
	}
	if ev := convertEvent(item); ev.ResponseStatus != "accepted" {
		t.Errorf("ResponseStatus = %q, want organizer implied accepted", ev.ResponseStatus)
	}
}

func TestConvertEventRecurring(t *testing.T) {
	item := &gcal.Event{
		Id:               "evt-recur",
		Status:           "confirmed",
		RecurringEventId: "parent-1",
		Start:            &gcal.EventDateTime{DateTime: "2025-01-15T09:00:00Z"},
		End:              &gcal.EventDateTime{DateTime: "2025-01-15T09:30:00Z"},
	}
	if ev := convertEvent(item); !ev.IsRecurring {
		t.Errorf("recurring instance not marked")
	}
}

func TestAppendEventsSkipsWorkingLocation(t *testing.T) {
	fr := &calendar.FetchResult{}
	appendEvents(fr, []*gcal.Event{
		{Id: "evt-1", Status: "confirmed", EventType: "workingLocation",
			Start: &gcal.EventDateTime{DateTime: "2025-01-15T09:00:00Z"},
			End:   &gcal.EventDateTime{DateTime: "2025-01-15T17:00:00Z"}},
		{Id: "evt-2", Status: "confirmed",
			Start: &gcal.EventDateTime{DateTime: "2025-01-15T09:00:00Z"},
			End:   &gcal.EventDateTime{DateTime: "2025-01-15T10:00:00Z"}},
	})
	if len(fr.Events) != 1 || fr.Events[0].ExternalID != "evt-2" {
		t.Errorf("events = %+v, want working-location block skipped", fr.Events)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", &googleapi.Error{Code: 401}, errs.ErrTokenExpired},
		{"gone", &googleapi.Error{Code: 410}, errs.ErrSyncTokenInvalid},
		{"too many requests", &googleapi.Error{Code: 429}, errs.ErrRateLimited},
		{"quota as 403", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, errs.ErrRateLimited},
		{"forbidden", &googleapi.Error{Code: 403}, errs.ErrPermanent},
		{"not found", &googleapi.Error{Code: 404}, errs.ErrPermanent},
		{"backend", &googleapi.Error{Code: 503}, errs.ErrTransient},
		{"revoked grant", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, errs.ErrTokenRevoked},
		{"network", errors.New("connection reset"), errs.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if !errors.Is(got, tc.want) {
				t.Errorf("classify(%v) = %v, want class %v", tc.err, got, tc.want)
			}
			if !errors.Is(got, errs.ErrExternal) {
				t.Errorf("classify(%v) not tagged as provider error", tc.err)
			}
		})
	}
}

func TestLimiterForIsolatesAccounts(t *testing.T) {
	c := NewConnector("client", "secret", "http://localhost/cb", clock.NewReal())

	alice := calendar.Credentials{AccessToken: "at-a", RefreshToken: "rt-alice"}
	bob := calendar.Credentials{AccessToken: "at-b", RefreshToken: "rt-bob"}

	if c.limiterFor(alice) != c.limiterFor(alice) {
		t.Errorf("same account got two limiters")
	}
	if c.limiterFor(alice) == c.limiterFor(bob) {
		t.Errorf("distinct accounts share one limiter")
	}
}

func TestLimiterForFallsBackToAccessToken(t *testing.T) {
	c := NewConnector("client", "secret", "http://localhost/cb", clock.NewReal())

	creds := calendar.Credentials{AccessToken: "at-only"}
	if c.limiterFor(creds) != c.limiterFor(creds) {
		t.Errorf("tokenless-refresh account got two limiters")
	}
}
