// Package calendar provides calendar connector types and interfaces.
// This file defines provider-neutral domain types for calendar sync.
package calendar

import (
	"time"
)

// EventRange specifies a time range for fetching events.
type EventRange struct {
	// Start is the beginning of the time range (inclusive).
	Start time.Time

	// End is the end of the time range (exclusive).
	End time.Time
}

// ProviderInfo contains metadata about a calendar provider.
type ProviderInfo struct {
	// ID is the provider identifier (e.g., "google", "mock").
	ID string

	// Name is the human-readable provider name.
	Name string

	// IsConfigured indicates if the provider has valid credentials.
	IsConfigured bool
}

// Calendar is one calendar as the provider reports it.
type Calendar struct {
	// ExternalID is the provider's native calendar ID.
	ExternalID string

	// Name is the calendar display name.
	Name string

	// Color is the provider's display color, if any.
	Color string

	// IsPrimary marks the account's primary calendar.
	IsPrimary bool
}

// Event is a provider event in provider-neutral form.
type Event struct {
	// ExternalID is the provider's native event ID.
	ExternalID string

	// Title is the event title.
	Title string

	// Description is the event description.
	Description string

	// Start is when the event starts.
	Start time.Time

	// End is when the event ends.
	End time.Time

	// IsAllDay indicates a date-only event. Authoritative from the
	// provider; no duration heuristics.
	IsAllDay bool

	// Attendees lists attendee email addresses.
	Attendees []string

	// Organizer is the organizer email.
	Organizer string

	// ResponseStatus is this account's response (accepted, declined,
	// tentative, needsAction).
	ResponseStatus string

	// Transparency is the provider's busy/free marker.
	Transparency string

	// IsRecurring marks instances of a recurring series.
	IsRecurring bool

	// IsCancelled marks provider-deleted events; the caller orphans
	// the stored copy rather than deleting it.
	IsCancelled bool
}

// FetchResult contains the result of a fetch operation.
type FetchResult struct {
	// Events are the events retrieved (or, for incremental fetches,
	// the events changed since the previous token).
	Events []Event

	// NextSyncToken resumes incremental fetching, when the provider
	// issued one.
	NextSyncToken string

	// Range is the time range that was fetched. Zero for incremental
	// fetches, which are not window-bounded.
	Range EventRange

	// FullSync indicates a full window fetch; only then may the
	// caller orphan stored events absent from the result.
	FullSync bool

	// FetchedAt is when the data was fetched.
	FetchedAt time.Time
}

// RedactedExternalID returns the last 6 characters of an external event
// ID. Safe for logs while protecting full IDs.
func RedactedExternalID(id string) string {
	if len(id) <= 6 {
		return "***"
	}
	return "..." + id[len(id)-6:]
}
