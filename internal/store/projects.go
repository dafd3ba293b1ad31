package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantumlife/timeledger/pkg/errs"
)

var (
	ErrProjectNotFound = errs.NotFound("project not found")
	ErrDuplicateName   = errs.Validation("duplicate_project_name", "a project with this name already exists")
	ErrDuplicateCode   = errs.Validation("duplicate_short_code", "a project with this short code already exists")
	ErrProjectHasHours = errs.Conflict("project has time entries and cannot be deleted")
)

// Project groups classified events and accumulates billable hours.
type Project struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	Name                   string
	ShortCode              *string
	Client                 *string
	Color                  string
	IsBillable             bool
	IsArchived             bool
	IsHiddenByDefault      bool
	DoesNotAccumulateHours bool
	FingerprintDomains     []string
	FingerprintEmails      []string
	FingerprintKeywords    []string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ProjectStore provides project persistence.
type ProjectStore struct {
	q Querier
}

// NewProjectStore creates a store bound to the pool.
func NewProjectStore(pool *pgxpool.Pool) *ProjectStore {
	return &ProjectStore{q: pool}
}

const projectColumns = `id, user_id, name, short_code, client, color,
	is_billable, is_archived, is_hidden_by_default, does_not_accumulate_hours,
	fingerprint_domains, fingerprint_emails, fingerprint_keywords,
	created_at, updated_at`

// Create inserts a new project.
func (s *ProjectStore) Create(ctx context.Context, p *Project) (*Project, error) {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	if p.Color == "" {
		p.Color = "#6B7280"
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, p.ID, p.UserID, p.Name, p.ShortCode, p.Client, p.Color,
		p.IsBillable, p.IsArchived, p.IsHiddenByDefault, p.DoesNotAccumulateHours,
		textArray(p.FingerprintDomains), textArray(p.FingerprintEmails), textArray(p.FingerprintKeywords),
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, mapProjectConstraint(err)
	}
	return p, nil
}

// Update replaces all mutable fields.
func (s *ProjectStore) Update(ctx context.Context, p *Project) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := s.q.Exec(ctx, `
		UPDATE projects SET
			name = $3, short_code = $4, client = $5, color = $6,
			is_billable = $7, is_archived = $8, is_hidden_by_default = $9,
			does_not_accumulate_hours = $10,
			fingerprint_domains = $11, fingerprint_emails = $12, fingerprint_keywords = $13,
			updated_at = $14
		WHERE id = $1 AND user_id = $2
	`, p.ID, p.UserID, p.Name, p.ShortCode, p.Client, p.Color,
		p.IsBillable, p.IsArchived, p.IsHiddenByDefault, p.DoesNotAccumulateHours,
		textArray(p.FingerprintDomains), textArray(p.FingerprintEmails), textArray(p.FingerprintKeywords),
		p.UpdatedAt)
	if err != nil {
		return mapProjectConstraint(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// GetByID retrieves a project owned by the user.
func (s *ProjectStore) GetByID(ctx context.Context, userID, projectID uuid.UUID) (*Project, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 AND user_id = $2`,
		projectID, userID)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return p, nil
}

// List returns all projects for a user, archived last, then by name.
func (s *ProjectStore) List(ctx context.Context, userID uuid.UUID) ([]*Project, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+projectColumns+` FROM projects
		 WHERE user_id = $1 ORDER BY is_archived, name`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetByName retrieves a project by its unique (user, name) key.
// Used by config import to upsert by name.
func (s *ProjectStore) GetByName(ctx context.Context, userID uuid.UUID, name string) (*Project, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = $1 AND name = $2`,
		userID, name)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return p, nil
}

// Delete removes a project. Fails if time entries reference it.
func (s *ProjectStore) Delete(ctx context.Context, userID, projectID uuid.UUID) error {
	tag, err := s.q.Exec(ctx,
		"DELETE FROM projects WHERE id = $1 AND user_id = $2",
		projectID, userID)
	if err != nil {
		name := constraintName(err)
		if strings.Contains(name, "time_entries") || strings.Contains(name, "invoices") {
			return ErrProjectHasHours
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	p := &Project{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.ShortCode, &p.Client, &p.Color,
		&p.IsBillable, &p.IsArchived, &p.IsHiddenByDefault, &p.DoesNotAccumulateHours,
		&p.FingerprintDomains, &p.FingerprintEmails, &p.FingerprintKeywords,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func mapProjectConstraint(err error) error {
	if !isDuplicateKeyError(err) {
		return err
	}
	if strings.Contains(constraintName(err), "short_code") {
		return ErrDuplicateCode
	}
	return ErrDuplicateName
}

// textArray never sends NULL for an absent set; empty sets stay '{}'.
func textArray(vals []string) []string {
	if vals == nil {
		return []string{}
	}
	return vals
}
