// Package google implements the calendar connector against the Google
// Calendar API. Read-only: it never writes to the provider.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/quantumlife/timeledger/internal/connectors/calendar"
	"github.com/quantumlife/timeledger/pkg/clock"
	"github.com/quantumlife/timeledger/pkg/errs"
)

const (
	// pageSize is the events.list page size.
	pageSize = 250

	// Requests per second against the Calendar API. Google's per-user
	// quota is 10 qps; staying below it avoids burning failure budget
	// on 403 rateLimitExceeded.
	requestsPerSecond = 5
	requestBurst      = 10
)

// Connector talks to the Google Calendar API.
type Connector struct {
	oauth *oauth2.Config
	clock clock.Clock

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ calendar.Connector = (*Connector)(nil)

// NewConnector creates a Google connector from OAuth client settings.
func NewConnector(clientID, clientSecret, redirectURL string, clk clock.Clock) *Connector {
	return &Connector{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     googleoauth.Endpoint,
			Scopes: []string{
				gcal.CalendarReadonlyScope,
				"https://www.googleapis.com/auth/userinfo.email",
			},
		},
		clock:    clk,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the rate limiter for the account behind creds.
// Google's quota is accounted per user, so the limiter is keyed by
// the refresh token, one grant per connected account; a heavy account
// never throttles the others.
func (c *Connector) limiterFor(creds calendar.Credentials) *rate.Limiter {
	key := creds.RefreshToken
	if key == "" {
		key = creds.AccessToken
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst)
		c.limiters[key] = lim
	}
	return lim
}

// ID returns the connector identifier.
func (c *Connector) ID() string { return "google" }

// ProviderInfo returns information about the provider.
func (c *Connector) ProviderInfo() calendar.ProviderInfo {
	return calendar.ProviderInfo{
		ID:           "google",
		Name:         "Google Calendar",
		IsConfigured: c.oauth.ClientID != "" && c.oauth.ClientSecret != "",
	}
}

// AuthCodeURL builds the consent URL for the connect flow. Offline
// access with forced consent so a refresh token is always issued.
func (c *Connector) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for credentials.
func (c *Connector) Exchange(ctx context.Context, code string) (calendar.Credentials, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return calendar.Credentials{}, classify(err)
	}
	return fromToken(tok), nil
}

// Refresh exchanges the refresh token for fresh credentials.
func (c *Connector) Refresh(ctx context.Context, creds calendar.Credentials) (calendar.Credentials, error) {
	if creds.RefreshToken == "" {
		return calendar.Credentials{}, errs.External(errs.ErrTokenRevoked, "no refresh token", nil)
	}
	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return calendar.Credentials{}, classify(err)
	}
	refreshed := fromToken(tok)
	// Google omits the refresh token on renewal; keep the old one.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = creds.RefreshToken
	}
	return refreshed, nil
}

// ListCalendars returns the account's calendar list.
func (c *Connector) ListCalendars(ctx context.Context, creds calendar.Credentials) ([]calendar.Calendar, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	var calendars []calendar.Calendar
	pageToken := ""
	for {
		if err := c.limiterFor(creds).Wait(ctx); err != nil {
			return nil, err
		}
		call := svc.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, classify(err)
		}

		for _, item := range resp.Items {
			name := item.Summary
			if item.SummaryOverride != "" {
				name = item.SummaryOverride
			}
			calendars = append(calendars, calendar.Calendar{
				ExternalID: item.Id,
				Name:       name,
				Color:      item.BackgroundColor,
				IsPrimary:  item.Primary,
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return calendars, nil
		}
	}
}

// FetchEvents fetches all events of one calendar in the range. The
// request omits orderBy; the API withholds sync tokens from ordered
// listings.
func (c *Connector) FetchEvents(ctx context.Context, creds calendar.Credentials, calendarExternalID string, r calendar.EventRange) (*calendar.FetchResult, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	result := &calendar.FetchResult{
		Range:     r,
		FullSync:  true,
		FetchedAt: c.clock.Now(),
	}

	pageToken := ""
	for {
		if err := c.limiterFor(creds).Wait(ctx); err != nil {
			return nil, err
		}
		call := svc.Events.List(calendarExternalID).
			TimeMin(r.Start.Format(time.RFC3339)).
			TimeMax(r.End.Format(time.RFC3339)).
			SingleEvents(true).
			MaxResults(pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, classify(err)
		}

		appendEvents(result, resp.Items)

		pageToken = resp.NextPageToken
		if pageToken == "" {
			result.NextSyncToken = resp.NextSyncToken
			return result, nil
		}
	}
}

// FetchEventsIncremental fetches events changed since syncToken.
func (c *Connector) FetchEventsIncremental(ctx context.Context, creds calendar.Credentials, calendarExternalID, syncToken string) (*calendar.FetchResult, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	result := &calendar.FetchResult{FetchedAt: c.clock.Now()}

	pageToken := ""
	for {
		if err := c.limiterFor(creds).Wait(ctx); err != nil {
			return nil, err
		}
		call := svc.Events.List(calendarExternalID).
			SyncToken(syncToken).
			MaxResults(pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, classify(err)
		}

		appendEvents(result, resp.Items)

		pageToken = resp.NextPageToken
		if pageToken == "" {
			result.NextSyncToken = resp.NextSyncToken
			return result, nil
		}
	}
}

func (c *Connector) service(ctx context.Context, creds calendar.Credentials) (*gcal.Service, error) {
	// Static token source: refresh is the engine's decision, not a
	// side effect inside an API call.
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: creds.AccessToken,
		TokenType:   creds.TokenType,
	})
	svc, err := gcal.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

func appendEvents(result *calendar.FetchResult, items []*gcal.Event) {
	for _, item := range items {
		// Working-location blocks are not time spent.
		if item.EventType == "workingLocation" {
			continue
		}
		result.Events = append(result.Events, convertEvent(item))
	}
}

// convertEvent maps an API event to the provider-neutral form.
// Cancelled events from incremental listings carry only an id; they map
// to a bare cancellation marker.
func convertEvent(item *gcal.Event) calendar.Event {
	ev := calendar.Event{
		ExternalID:  item.Id,
		IsCancelled: item.Status == "cancelled",
		IsRecurring: item.RecurringEventId != "" || len(item.Recurrence) > 0,
	}
	if ev.IsCancelled {
		return ev
	}

	ev.Title = item.Summary
	ev.Description = item.Description
	ev.Transparency = item.Transparency

	if item.Start != nil {
		ev.IsAllDay = item.Start.Date != ""
		ev.Start = parseEventTime(item.Start)
	}
	if item.End != nil {
		ev.End = parseEventTime(item.End)
	}

	if item.Organizer != nil {
		ev.Organizer = item.Organizer.Email
	}
	for _, att := range item.Attendees {
		if att.Resource {
			continue
		}
		ev.Attendees = append(ev.Attendees, att.Email)
		if att.Self {
			ev.ResponseStatus = att.ResponseStatus
		}
	}
	// The organizer implicitly accepts their own event.
	if ev.ResponseStatus == "" && item.Organizer != nil && item.Organizer.Self {
		ev.ResponseStatus = "accepted"
	}

	return ev
}

func parseEventTime(dt *gcal.EventDateTime) time.Time {
	if dt.Date != "" {
		t, err := time.Parse("2006-01-02", dt.Date)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// classify maps provider failures onto the error taxonomy the engine
// acts on.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return errs.External(errs.ErrTokenRevoked, "google token revoked", err)
		}
		return errs.External(errs.ErrTransient, "google token endpoint error", err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401:
			return errs.External(errs.ErrTokenExpired, "google access token rejected", err)
		case apiErr.Code == 410:
			return errs.External(errs.ErrSyncTokenInvalid, "google sync token expired", err)
		case apiErr.Code == 429 || isRateLimited(apiErr):
			return errs.External(errs.ErrRateLimited, "google rate limit exceeded", err)
		case apiErr.Code == 403 || apiErr.Code == 404:
			return errs.External(errs.ErrPermanent, fmt.Sprintf("google api error %d", apiErr.Code), err)
		case apiErr.Code >= 500:
			return errs.External(errs.ErrTransient, fmt.Sprintf("google backend error %d", apiErr.Code), err)
		}
		return errs.External(errs.ErrPermanent, fmt.Sprintf("google api error %d", apiErr.Code), err)
	}

	return errs.External(errs.ErrTransient, "google request failed", err)
}

// isRateLimited detects the quota errors Google reports as 403.
func isRateLimited(apiErr *googleapi.Error) bool {
	if apiErr.Code != 403 {
		return false
	}
	for _, item := range apiErr.Errors {
		if strings.Contains(item.Reason, "ateLimitExceeded") || item.Reason == "quotaExceeded" {
			return true
		}
	}
	return false
}

func fromToken(tok *oauth2.Token) calendar.Credentials {
	return calendar.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}
