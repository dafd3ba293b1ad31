// Package invoice materializes locked, snapshot-priced invoices from
// computed time entries under billing-period rate lookup.
package invoice

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/errs"
)

// materializer persists every (project, day) in a range, 0h placeholders
// included, so the whole range can be locked.
type materializer interface {
	MaterializeRange(ctx context.Context, tx pgx.Tx, userID, projectID uuid.UUID, start, end time.Time) ([]*store.TimeEntry, error)
}

// Engine creates, transitions, and deletes invoices.
type Engine struct {
	pool         *pgxpool.Pool
	log          *zap.Logger
	invoices     *store.InvoiceStore
	entries      *store.TimeEntryStore
	billing      *store.BillingPeriodStore
	projects     *store.ProjectStore
	materializer materializer
}

// NewEngine wires the invoice engine.
func NewEngine(pool *pgxpool.Pool, log *zap.Logger, invoices *store.InvoiceStore, entries *store.TimeEntryStore, billing *store.BillingPeriodStore, projects *store.ProjectStore, m materializer) *Engine {
	return &Engine{
		pool:         pool,
		log:          log,
		invoices:     invoices,
		entries:      entries,
		billing:      billing,
		projects:     projects,
		materializer: m,
	}
}

// CreateParams describes the invoice to materialize.
type CreateParams struct {
	ProjectID     uuid.UUID
	PeriodStart   time.Time
	PeriodEnd     time.Time
	InvoiceNumber string
	InvoiceDate   time.Time
}

// Create materializes a draft invoice over [PeriodStart, PeriodEnd]:
// every day gets exactly one line item (0h where nothing was worked),
// each line snapshots hours and the billing-period rate, and the backing
// entries are locked. Creation fails if any day lacks a rate or the
// range overlaps an existing invoice for the project.
func (e *Engine) Create(ctx context.Context, userID uuid.UUID, p CreateParams) (*store.Invoice, error) {
	p.PeriodStart, p.PeriodEnd = dayOf(p.PeriodStart), dayOf(p.PeriodEnd)
	if p.PeriodEnd.Before(p.PeriodStart) {
		return nil, errs.Validation("invalid_period", "period_end is before period_start")
	}
	if p.InvoiceNumber == "" {
		return nil, errs.Validation("invalid_invoice_number", "invoice_number is required")
	}

	if _, err := e.projects.GetByID(ctx, userID, p.ProjectID); err != nil {
		return nil, err
	}

	periods, err := e.billing.ListByProject(ctx, userID, p.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list billing periods: %w", err)
	}
	rates, err := resolveRates(periods, p.PeriodStart, p.PeriodEnd)
	if err != nil {
		return nil, err
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin invoice: %w", err)
	}
	defer tx.Rollback(ctx)

	invoices := e.invoices.WithTx(tx)

	overlapping, err := invoices.CountOverlapping(ctx, p.ProjectID, p.PeriodStart, p.PeriodEnd, uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("check overlap: %w", err)
	}
	if overlapping > 0 {
		return nil, errs.Validation("invoice_overlap", "an invoice already covers part of this period")
	}

	inv, err := invoices.Create(ctx, &store.Invoice{
		UserID:        userID,
		ProjectID:     p.ProjectID,
		InvoiceNumber: p.InvoiceNumber,
		PeriodStart:   p.PeriodStart,
		PeriodEnd:     p.PeriodEnd,
		InvoiceDate:   p.InvoiceDate,
	})
	if err != nil {
		return nil, err
	}

	entries, err := e.materializer.MaterializeRange(ctx, tx, userID, p.ProjectID, p.PeriodStart, p.PeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("materialize period: %w", err)
	}

	plan := planLines(entries, rates)
	for i := range plan.lines {
		li := plan.lines[i]
		li.InvoiceID = inv.ID
		added, err := invoices.AddLineItem(ctx, &li)
		if err != nil {
			return nil, fmt.Errorf("add line item: %w", err)
		}
		inv.LineItems = append(inv.LineItems, added)
	}

	if err := e.entries.WithTx(tx).AttachInvoice(ctx, plan.entryIDs, inv.ID); err != nil {
		return nil, fmt.Errorf("lock entries: %w", err)
	}
	if err := invoices.UpdateTotals(ctx, inv.ID, plan.totalHours, plan.totalAmount); err != nil {
		return nil, fmt.Errorf("update totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit invoice: %w", err)
	}

	inv.TotalHours = plan.totalHours
	inv.TotalAmount = plan.totalAmount

	e.log.Info("invoice created",
		zap.String("user_id", userID.String()),
		zap.String("invoice_id", inv.ID.String()),
		zap.String("number", inv.InvoiceNumber),
		zap.Float64("total_hours", inv.TotalHours),
		zap.Float64("total_amount", inv.TotalAmount))
	return inv, nil
}

type linePlan struct {
	lines       []store.InvoiceLineItem
	entryIDs    []uuid.UUID
	totalHours  float64
	totalAmount float64
}

// planLines snapshots each entry into a line item at its day's rate.
// A suppressed entry keeps its day on the invoice at zero hours, so
// every day of the period carries exactly one line.
func planLines(entries []*store.TimeEntry, rates map[time.Time]float64) linePlan {
	var plan linePlan
	for _, entry := range entries {
		day := dayOf(entry.Date)
		rate := rates[day]
		hours := entry.Hours
		if entry.IsSuppressed {
			hours = 0
		}
		amount := round2(hours * rate)

		plan.lines = append(plan.lines, store.InvoiceLineItem{
			TimeEntryID: entry.ID,
			Date:        day,
			Description: entry.Description,
			Hours:       hours,
			HourlyRate:  rate,
			Amount:      amount,
		})
		plan.entryIDs = append(plan.entryIDs, entry.ID)
		plan.totalHours += hours
		plan.totalAmount += amount
	}
	plan.totalAmount = round2(plan.totalAmount)
	return plan
}

// resolveRates maps every day of [start, end] to its billing rate. A nil
// EndsOn extends the period forever. Any uncovered day fails creation.
func resolveRates(periods []*store.BillingPeriod, start, end time.Time) (map[time.Time]float64, error) {
	rates := make(map[time.Time]float64)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		covered := false
		for _, p := range periods {
			if p.Covers(day) {
				rates[day] = p.HourlyRate
				covered = true
				break
			}
		}
		if !covered {
			return nil, errs.Validation("missing_billing_rate",
				"no billing period covers %s", day.Format("2006-01-02"))
		}
	}
	return rates, nil
}

// UpdateStatus moves an invoice through draft -> sent -> paid. Sent may
// return to draft; paid is terminal.
func (e *Engine) UpdateStatus(ctx context.Context, userID, invoiceID uuid.UUID, status string) (*store.Invoice, error) {
	switch status {
	case store.InvoiceDraft, store.InvoiceSent, store.InvoicePaid:
	default:
		return nil, errs.Validation("invalid_status", "unknown invoice status %q", status)
	}

	inv, err := e.invoices.GetByID(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !canTransition(inv.Status, status) {
		return nil, errs.Conflict("invoice cannot move from %s to %s", inv.Status, status)
	}
	if err := e.invoices.UpdateStatus(ctx, userID, invoiceID, status); err != nil {
		return nil, err
	}
	inv.Status = status
	return inv, nil
}

func canTransition(from, to string) bool {
	switch from {
	case store.InvoiceDraft:
		return to == store.InvoiceSent
	case store.InvoiceSent:
		return to == store.InvoicePaid || to == store.InvoiceDraft
	default:
		return false
	}
}

// Delete removes a draft invoice, unlocking its entries. Non-draft
// invoices cannot be deleted.
func (e *Engine) Delete(ctx context.Context, userID, invoiceID uuid.UUID) error {
	inv, err := e.invoices.GetByID(ctx, userID, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != store.InvoiceDraft {
		return errs.Conflict("only draft invoices can be deleted")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.entries.WithTx(tx).DetachInvoice(ctx, invoiceID); err != nil {
		return fmt.Errorf("unlock entries: %w", err)
	}
	if err := e.invoices.WithTx(tx).Delete(ctx, userID, invoiceID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	e.log.Info("invoice deleted",
		zap.String("user_id", userID.String()),
		zap.String("invoice_id", invoiceID.String()))
	return nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
