package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantumlife/timeledger/pkg/errs"
)

var (
	ErrInvoiceNotFound        = errs.NotFound("invoice not found")
	ErrDuplicateInvoiceNumber = errs.Validation("duplicate_invoice_number", "an invoice with this number already exists")
)

// Invoice statuses.
const (
	InvoiceDraft = "draft"
	InvoiceSent  = "sent"
	InvoicePaid  = "paid"
)

// Invoice is a locked, snapshot-priced billing document. Totals always
// equal the sum of its line items.
type Invoice struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ProjectID       uuid.UUID
	BillingPeriodID *uuid.UUID
	InvoiceNumber   string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	InvoiceDate     time.Time
	Status          string
	TotalHours      float64
	TotalAmount     float64
	CreatedAt       time.Time
	UpdatedAt       time.Time

	LineItems []*InvoiceLineItem // populated by GetByID
}

// InvoiceLineItem snapshots one entry's hours and rate at invoice time.
// Immutable once created.
type InvoiceLineItem struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	TimeEntryID uuid.UUID
	Date        time.Time
	Description *string
	Hours       float64
	HourlyRate  float64
	Amount      float64
	CreatedAt   time.Time
}

// InvoiceStore provides invoice persistence.
type InvoiceStore struct {
	q Querier
}

// NewInvoiceStore creates a store bound to the pool.
func NewInvoiceStore(pool *pgxpool.Pool) *InvoiceStore {
	return &InvoiceStore{q: pool}
}

// WithTx returns a copy of the store bound to tx.
func (s *InvoiceStore) WithTx(tx pgx.Tx) *InvoiceStore {
	return &InvoiceStore{q: tx}
}

const invoiceColumns = `id, user_id, project_id, billing_period_id, invoice_number,
	period_start, period_end, invoice_date, status, total_hours, total_amount,
	created_at, updated_at`

// Create inserts the invoice header.
func (s *InvoiceStore) Create(ctx context.Context, inv *Invoice) (*Invoice, error) {
	inv.ID = uuid.New()
	inv.Status = InvoiceDraft
	inv.CreatedAt = time.Now().UTC()
	inv.UpdatedAt = inv.CreatedAt

	_, err := s.q.Exec(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, inv.ID, inv.UserID, inv.ProjectID, inv.BillingPeriodID, inv.InvoiceNumber,
		inv.PeriodStart, inv.PeriodEnd, inv.InvoiceDate, inv.Status,
		inv.TotalHours, inv.TotalAmount, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateInvoiceNumber
		}
		return nil, err
	}
	return inv, nil
}

// AddLineItem inserts one immutable line item.
func (s *InvoiceStore) AddLineItem(ctx context.Context, li *InvoiceLineItem) (*InvoiceLineItem, error) {
	li.ID = uuid.New()
	li.CreatedAt = time.Now().UTC()

	_, err := s.q.Exec(ctx, `
		INSERT INTO invoice_line_items
			(id, invoice_id, time_entry_id, date, description, hours, hourly_rate, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, li.ID, li.InvoiceID, li.TimeEntryID, li.Date, li.Description,
		li.Hours, li.HourlyRate, li.Amount, li.CreatedAt)
	if err != nil {
		return nil, err
	}
	return li, nil
}

// UpdateTotals stamps the final totals after line items are written.
func (s *InvoiceStore) UpdateTotals(ctx context.Context, invoiceID uuid.UUID, totalHours, totalAmount float64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE invoices SET total_hours = $2, total_amount = $3, updated_at = $4
		WHERE id = $1
	`, invoiceID, totalHours, totalAmount, time.Now().UTC())
	return err
}

// GetByID retrieves an invoice with its line items.
func (s *InvoiceStore) GetByID(ctx context.Context, userID, invoiceID uuid.UUID) (*Invoice, error) {
	inv := &Invoice{}
	err := s.q.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND user_id = $2`,
		invoiceID, userID,
	).Scan(&inv.ID, &inv.UserID, &inv.ProjectID, &inv.BillingPeriodID, &inv.InvoiceNumber,
		&inv.PeriodStart, &inv.PeriodEnd, &inv.InvoiceDate, &inv.Status,
		&inv.TotalHours, &inv.TotalAmount, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}

	rows, err := s.q.Query(ctx, `
		SELECT id, invoice_id, time_entry_id, date, description, hours, hourly_rate, amount, created_at
		FROM invoice_line_items WHERE invoice_id = $1 ORDER BY date
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		li := &InvoiceLineItem{}
		err := rows.Scan(&li.ID, &li.InvoiceID, &li.TimeEntryID, &li.Date,
			&li.Description, &li.Hours, &li.HourlyRate, &li.Amount, &li.CreatedAt)
		if err != nil {
			return nil, err
		}
		inv.LineItems = append(inv.LineItems, li)
	}
	return inv, rows.Err()
}

// List returns the user's invoices, newest first.
func (s *InvoiceStore) List(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) ([]*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE user_id = $1`
	args := []any{userID}
	if projectID != nil {
		args = append(args, *projectID)
		query += ` AND project_id = $2`
	}
	query += ` ORDER BY invoice_date DESC, created_at DESC`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv := &Invoice{}
		err := rows.Scan(&inv.ID, &inv.UserID, &inv.ProjectID, &inv.BillingPeriodID,
			&inv.InvoiceNumber, &inv.PeriodStart, &inv.PeriodEnd, &inv.InvoiceDate,
			&inv.Status, &inv.TotalHours, &inv.TotalAmount, &inv.CreatedAt, &inv.UpdatedAt)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// CountOverlapping counts invoices of the project whose date range
// intersects [start, end], excluding excludeID.
func (s *InvoiceStore) CountOverlapping(ctx context.Context, projectID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM invoices
		WHERE project_id = $1 AND id != $4
		  AND period_start <= $3 AND period_end >= $2
	`, projectID, start, end, excludeID).Scan(&count)
	return count, err
}

// UpdateStatus writes a new status. Transition legality is enforced by
// the invoice engine.
func (s *InvoiceStore) UpdateStatus(ctx context.Context, userID, invoiceID uuid.UUID, status string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE invoices SET status = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2
	`, invoiceID, userID, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// Delete removes an invoice; line items cascade. The engine verifies
// draft status and detaches entries first.
func (s *InvoiceStore) Delete(ctx context.Context, userID, invoiceID uuid.UUID) error {
	tag, err := s.q.Exec(ctx,
		"DELETE FROM invoices WHERE id = $1 AND user_id = $2",
		invoiceID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}
