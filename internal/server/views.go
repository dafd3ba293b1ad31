package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/internal/syncengine"
)

// View structs fix the JSON surface independently of the store schema.

const dateLayout = "2006-01-02"

type userView struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func viewUser(u *store.User) userView {
	return userView{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

type apiKeyView struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func viewAPIKey(k *store.APIKey) apiKeyView {
	return apiKeyView{ID: k.ID, Name: k.Name, KeyPrefix: k.KeyPrefix, LastUsedAt: k.LastUsedAt, CreatedAt: k.CreatedAt}
}

type projectView struct {
	ID                     uuid.UUID `json:"id"`
	Name                   string    `json:"name"`
	ShortCode              *string   `json:"short_code,omitempty"`
	Client                 *string   `json:"client,omitempty"`
	Color                  string    `json:"color"`
	IsBillable             bool      `json:"is_billable"`
	IsArchived             bool      `json:"is_archived"`
	IsHiddenByDefault      bool      `json:"is_hidden_by_default"`
	DoesNotAccumulateHours bool      `json:"does_not_accumulate_hours"`
	FingerprintDomains     []string  `json:"fingerprint_domains,omitempty"`
	FingerprintEmails      []string  `json:"fingerprint_emails,omitempty"`
	FingerprintKeywords    []string  `json:"fingerprint_keywords,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func viewProject(p *store.Project) projectView {
	return projectView{
		ID:                     p.ID,
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
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

type billingPeriodView struct {
	ID         uuid.UUID `json:"id"`
	ProjectID  uuid.UUID `json:"project_id"`
	StartsOn   string    `json:"starts_on"`
	EndsOn     *string   `json:"ends_on,omitempty"`
	HourlyRate float64   `json:"hourly_rate"`
	CreatedAt  time.Time `json:"created_at"`
}

func viewBillingPeriod(p *store.BillingPeriod) billingPeriodView {
	v := billingPeriodView{
		ID:         p.ID,
		ProjectID:  p.ProjectID,
		StartsOn:   p.StartsOn.Format(dateLayout),
		HourlyRate: p.HourlyRate,
		CreatedAt:  p.CreatedAt,
	}
	if p.EndsOn != nil {
		s := p.EndsOn.Format(dateLayout)
		v.EndsOn = &s
	}
	return v
}

type ruleView struct {
	ID        uuid.UUID  `json:"id"`
	Query     string     `json:"query"`
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
	Attended  *bool      `json:"attended,omitempty"`
	Weight    float64    `json:"weight"`
	IsEnabled bool       `json:"is_enabled"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func viewRule(r *store.ClassificationRule) ruleView {
	return ruleView{
		ID:        r.ID,
		Query:     r.Query,
		ProjectID: r.ProjectID,
		Attended:  r.Attended,
		Weight:    r.Weight,
		IsEnabled: r.IsEnabled,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type connectionView struct {
	ID           uuid.UUID  `json:"id"`
	Provider     string     `json:"provider"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func viewConnection(c *store.CalendarConnection) connectionView {
	return connectionView{ID: c.ID, Provider: c.Provider, LastSyncedAt: c.LastSyncedAt, CreatedAt: c.CreatedAt}
}

type calendarView struct {
	ID               uuid.UUID  `json:"id"`
	ConnectionID     uuid.UUID  `json:"connection_id"`
	ExternalID       string     `json:"external_id"`
	Name             string     `json:"name"`
	Color            *string    `json:"color,omitempty"`
	IsPrimary        bool       `json:"is_primary"`
	IsSelected       bool       `json:"is_selected"`
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`
	MinSyncedDate    *string    `json:"min_synced_date,omitempty"`
	MaxSyncedDate    *string    `json:"max_synced_date,omitempty"`
	SyncFailureCount int        `json:"sync_failure_count"`
	NeedsReauth      bool       `json:"needs_reauth"`
}

func viewCalendar(c *store.Calendar) calendarView {
	v := calendarView{
		ID:               c.ID,
		ConnectionID:     c.ConnectionID,
		ExternalID:       c.ExternalID,
		Name:             c.Name,
		Color:            c.Color,
		IsPrimary:        c.IsPrimary,
		IsSelected:       c.IsSelected,
		LastSyncedAt:     c.LastSyncedAt,
		SyncFailureCount: c.SyncFailureCount,
		NeedsReauth:      c.NeedsReauth,
	}
	if c.MinSyncedDate != nil {
		s := c.MinSyncedDate.Format(dateLayout)
		v.MinSyncedDate = &s
	}
	if c.MaxSyncedDate != nil {
		s := c.MaxSyncedDate.Format(dateLayout)
		v.MaxSyncedDate = &s
	}
	return v
}

type decisionView struct {
	CalendarID     uuid.UUID `json:"calendar_id"`
	NeedsSync      bool      `json:"needs_sync"`
	Reason         string    `json:"reason"`
	MissingWeeks   []string  `json:"missing_weeks,omitempty"`
	IsStaleRefresh bool      `json:"is_stale_refresh"`
}

func viewDecision(calendarID uuid.UUID, d syncengine.Decision) decisionView {
	v := decisionView{
		CalendarID:     calendarID,
		NeedsSync:      d.NeedsSync,
		Reason:         d.Reason,
		IsStaleRefresh: d.IsStaleRefresh,
	}
	for _, w := range d.MissingWeeks {
		v.MissingWeeks = append(v.MissingWeeks, w.Format(dateLayout))
	}
	return v
}

type eventView struct {
	ID             uuid.UUID  `json:"id"`
	CalendarID     *uuid.UUID `json:"calendar_id,omitempty"`
	Title          string     `json:"title"`
	Description    *string    `json:"description,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	IsAllDay       bool       `json:"is_all_day"`
	Attendees      []string   `json:"attendees,omitempty"`
	OrganizerEmail *string    `json:"organizer_email,omitempty"`
	IsRecurring    bool       `json:"is_recurring"`
	ResponseStatus *string    `json:"response_status,omitempty"`

	IsOrphaned   bool `json:"is_orphaned"`
	IsSuppressed bool `json:"is_suppressed"`
	IsSkipped    bool `json:"is_skipped"`

	ClassificationStatus     string     `json:"classification_status"`
	ClassificationSource     *string    `json:"classification_source,omitempty"`
	ClassificationConfidence *float64   `json:"classification_confidence,omitempty"`
	ClassificationRuleID     *uuid.UUID `json:"classification_rule_id,omitempty"`
	NeedsReview              bool       `json:"needs_review"`
	ProjectID                *uuid.UUID `json:"project_id,omitempty"`
}

func viewEvent(e *store.CalendarEvent) eventView {
	return eventView{
		ID:                       e.ID,
		CalendarID:               e.CalendarID,
		Title:                    e.Title,
		Description:              e.Description,
		StartTime:                e.StartTime,
		EndTime:                  e.EndTime,
		IsAllDay:                 e.IsAllDay,
		Attendees:                e.Attendees,
		OrganizerEmail:           e.OrganizerEmail,
		IsRecurring:              e.IsRecurring,
		ResponseStatus:           e.ResponseStatus,
		IsOrphaned:               e.IsOrphaned,
		IsSuppressed:             e.IsSuppressed,
		IsSkipped:                e.IsSkipped,
		ClassificationStatus:     e.ClassificationStatus,
		ClassificationSource:     e.ClassificationSource,
		ClassificationConfidence: e.ClassificationConfidence,
		ClassificationRuleID:     e.ClassificationRuleID,
		NeedsReview:              e.NeedsReview,
		ProjectID:                e.ProjectID,
	}
}

type timeEntryView struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	Date         string     `json:"date"`
	Hours        float64    `json:"hours"`
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Source       string     `json:"source"`
	Materialized bool       `json:"materialized"`
	HasUserEdits bool       `json:"has_user_edits"`
	IsPinned     bool       `json:"is_pinned"`
	IsLocked     bool       `json:"is_locked"`
	IsStale      bool       `json:"is_stale"`
	IsSuppressed bool       `json:"is_suppressed"`
	InvoiceID    *uuid.UUID `json:"invoice_id,omitempty"`

	ComputedHours *float64 `json:"computed_hours,omitempty"`
}

func viewTimeEntry(e *store.TimeEntry) timeEntryView {
	return timeEntryView{
		ID:            e.ID,
		ProjectID:     e.ProjectID,
		Date:          e.Date.Format(dateLayout),
		Hours:         e.Hours,
		Title:         e.Title,
		Description:   e.Description,
		Source:        e.Source,
		Materialized:  true,
		HasUserEdits:  e.HasUserEdits,
		IsPinned:      e.IsPinned,
		IsLocked:      e.IsLocked,
		IsStale:       e.IsStale,
		IsSuppressed:  e.IsSuppressed,
		InvoiceID:     e.InvoiceID,
		ComputedHours: e.ComputedHours,
	}
}

type lineItemView struct {
	ID          uuid.UUID `json:"id"`
	TimeEntryID uuid.UUID `json:"time_entry_id"`
	Date        string    `json:"date"`
	Description *string   `json:"description,omitempty"`
	Hours       float64   `json:"hours"`
	HourlyRate  float64   `json:"hourly_rate"`
	Amount      float64   `json:"amount"`
}

type invoiceView struct {
	ID            uuid.UUID      `json:"id"`
	ProjectID     uuid.UUID      `json:"project_id"`
	InvoiceNumber string         `json:"invoice_number"`
	PeriodStart   string         `json:"period_start"`
	PeriodEnd     string         `json:"period_end"`
	InvoiceDate   string         `json:"invoice_date"`
	Status        string         `json:"status"`
	TotalHours    float64        `json:"total_hours"`
	TotalAmount   float64        `json:"total_amount"`
	CreatedAt     time.Time      `json:"created_at"`
	LineItems     []lineItemView `json:"line_items,omitempty"`
}

func viewInvoice(inv *store.Invoice) invoiceView {
	v := invoiceView{
		ID:            inv.ID,
		ProjectID:     inv.ProjectID,
		InvoiceNumber: inv.InvoiceNumber,
		PeriodStart:   inv.PeriodStart.Format(dateLayout),
		PeriodEnd:     inv.PeriodEnd.Format(dateLayout),
		InvoiceDate:   inv.InvoiceDate.Format(dateLayout),
		Status:        inv.Status,
		TotalHours:    inv.TotalHours,
		TotalAmount:   inv.TotalAmount,
		CreatedAt:     inv.CreatedAt,
	}
	for _, li := range inv.LineItems {
		v.LineItems = append(v.LineItems, lineItemView{
			ID:          li.ID,
			TimeEntryID: li.TimeEntryID,
			Date:        li.Date.Format(dateLayout),
			Description: li.Description,
			Hours:       li.Hours,
			HourlyRate:  li.HourlyRate,
			Amount:      li.Amount,
		})
	}
	return v
}
