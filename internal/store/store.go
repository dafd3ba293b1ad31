// Package store provides PostgreSQL-backed persistence, one store type
// per aggregate. Every query is partitioned by user_id unless the method
// name says ForSync, which the background worker uses across users.
//
// Stores bind to a Querier so the same methods run against the pool or
// inside a transaction (WithTx). Multi-entity mutations (sync upserts +
// watermark expansion, invoice creation + line items + entry locking)
// run in one transaction owned by the calling engine.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// isDuplicateKeyError reports a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isExclusionViolation reports the billing-period overlap trigger firing.
func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

// constraintName extracts the violated constraint, "" if not a pg error.
func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// AcquireDateLock takes the per-(user, date) advisory lock inside tx.
// It serializes time-entry recomputation for one user-day; the lock is
// released when the transaction commits or rolls back.
func AcquireDateLock(ctx context.Context, tx pgx.Tx, userID uuid.UUID, date string) error {
	// Two int32 keys: user hash and date hash.
	_, err := tx.Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))",
		userID.String(), date,
	)
	if err != nil {
		return fmt.Errorf("acquiring date lock: %w", err)
	}
	return nil
}
