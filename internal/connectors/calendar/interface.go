// Package calendar defines the calendar connector interface.
// This is a read-only boundary: connectors fetch, they never write to
// the external calendar.
package calendar

import (
	"context"
	"time"
)

// Credentials is the token material a connector needs for one account.
// It exists in plaintext only while a call is in flight.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

// ExpiresWithin reports whether the access token expires inside d.
func (c Credentials) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !c.Expiry.IsZero() && c.Expiry.Before(now.Add(d))
}

// Connector is the provider boundary the sync engine drives.
//
// Error contract: failures are classified with the errs provider
// sentinels (ErrTokenExpired, ErrTokenRevoked, ErrSyncTokenInvalid,
// ErrRateLimited, ErrTransient, ErrPermanent) so the engine can decide
// between refresh, quarantine, full-fetch fallback, and retry.
type Connector interface {
	// ID returns the connector identifier.
	ID() string

	// ProviderInfo returns information about the provider.
	ProviderInfo() ProviderInfo

	// Refresh exchanges a refresh token for fresh credentials.
	Refresh(ctx context.Context, creds Credentials) (Credentials, error)

	// ListCalendars returns the account's calendars.
	ListCalendars(ctx context.Context, creds Credentials) ([]Calendar, error)

	// FetchEvents fetches all events of one calendar in the range.
	// The result carries the provider's next sync token.
	FetchEvents(ctx context.Context, creds Credentials, calendarExternalID string, r EventRange) (*FetchResult, error)

	// FetchEventsIncremental fetches events changed since syncToken.
	// An invalidated token surfaces as ErrSyncTokenInvalid; the caller
	// falls back to FetchEvents over the full window.
	FetchEventsIncremental(ctx context.Context, creds Credentials, calendarExternalID, syncToken string) (*FetchResult, error)
}
