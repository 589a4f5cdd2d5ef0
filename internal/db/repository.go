package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// Predicate is a tenant/site filter that can render itself as SQL.
// scope.Filter implements it.
type Predicate interface {
	SQL(tenantCol, siteCol string, next int) (string, []any)
	MatchesNothing() bool
}

// Repository reads the portal's documents and stores delivery attempts
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const faultColumns = `
	id, tenant_id, site_id, title, description, location,
	priority, status, created_by, created_at, updated_at,
	resolution, comments`

// GetFault retrieves a fault by ID inside the predicate. A fault outside it reads
// as ErrNotFound, and a predicate that matches nothing never reaches the database.
func (r *Repository) GetFault(ctx context.Context, p Predicate, id uuid.UUID) (*Fault, error) {
	if p.MatchesNothing() {
		return nil, fmt.Errorf("fault %s: %w", id, ErrNotFound)
	}

	where, args := p.SQL("tenant_id", "site_id", 2)
	query := fmt.Sprintf(`SELECT %s FROM faults WHERE id = $1 AND %s`, faultColumns, where)

	f, err := scanFault(r.db.Pool().QueryRow(ctx, query, append([]any{id}, args...)...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("fault %s: %w", id, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get fault",
			zap.Error(err),
			zap.String("fault_id", id.String()),
		)
		return nil, fmt.Errorf("query fault: %w", err)
	}
	return f, nil
}

// ListFaults returns faults matching the predicate, newest first.
// A predicate that matches nothing never reaches the database.
func (r *Repository) ListFaults(ctx context.Context, p Predicate, limit, offset int) ([]*Fault, error) {
	if p.MatchesNothing() {
		return []*Fault{}, nil
	}

	where, args := p.SQL("tenant_id", "site_id", 1)
	query := fmt.Sprintf(`SELECT %s FROM faults WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		faultColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query faults: %w", err)
	}
	defer rows.Close()

	faults := []*Fault{}
	for rows.Next() {
		f, err := scanFault(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fault: %w", err)
		}
		faults = append(faults, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return faults, nil
}

func scanFault(row pgx.Row) (*Fault, error) {
	var (
		f          Fault
		resolution []byte
		comments   []byte
	)

	err := row.Scan(
		&f.ID,
		&f.TenantID,
		&f.SiteID,
		&f.Title,
		&f.Description,
		&f.Location,
		&f.Priority,
		&f.Status,
		&f.CreatedBy,
		&f.CreatedAt,
		&f.UpdatedAt,
		&resolution,
		&comments,
	)
	if err != nil {
		return nil, err
	}

	if len(resolution) > 0 && string(resolution) != "null" {
		f.Resolution = &Resolution{}
		if err := json.Unmarshal(resolution, f.Resolution); err != nil {
			return nil, fmt.Errorf("decode resolution: %w", err)
		}
	}
	if len(comments) > 0 {
		if err := json.Unmarshal(comments, &f.Comments); err != nil {
			return nil, fmt.Errorf("decode comments: %w", err)
		}
	}

	return &f, nil
}

// GetSite retrieves a site owned by the given tenant
func (r *Repository) GetSite(ctx context.Context, tenantID, siteID uuid.UUID) (*Site, error) {
	query := `
		SELECT id, tenant_id, name, location, capacity, created_at
		FROM sites
		WHERE id = $1 AND tenant_id = $2
	`

	var s Site
	err := r.db.Pool().QueryRow(ctx, query, siteID, tenantID).Scan(
		&s.ID,
		&s.TenantID,
		&s.Name,
		&s.Location,
		&s.Capacity,
		&s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("site %s: %w", siteID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query site: %w", err)
	}
	return &s, nil
}

// GetCompany retrieves a tenant record
func (r *Repository) GetCompany(ctx context.Context, id uuid.UUID) (*Company, error) {
	query := `
		SELECT id, name, contact_email, contact_phone, created_at, created_by
		FROM companies
		WHERE id = $1
	`

	var c Company
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.ContactEmail,
		&c.ContactPhone,
		&c.CreatedAt,
		&c.CreatedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("company %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query company: %w", err)
	}
	return &c, nil
}

// GetAccount retrieves an account by ID
func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `
		SELECT id, tenant_id, role, display_name, email, assigned_site_ids, created_at
		FROM accounts
		WHERE id = $1
	`

	var a Account
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.TenantID,
		&a.Role,
		&a.DisplayName,
		&a.Email,
		&a.AssignedSiteIDs,
		&a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &a, nil
}

// ListCustomersForSite returns customer accounts of the tenant whose assignment
// contains the site
func (r *Repository) ListCustomersForSite(ctx context.Context, tenantID, siteID uuid.UUID) ([]*Account, error) {
	query := `
		SELECT id, tenant_id, role, display_name, email, assigned_site_ids, created_at
		FROM accounts
		WHERE role = $1 AND tenant_id = $2 AND $3 = ANY(assigned_site_ids)
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, RoleCustomer, tenantID, siteID)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	accounts := []*Account{}
	for rows.Next() {
		var a Account
		err := rows.Scan(
			&a.ID,
			&a.TenantID,
			&a.Role,
			&a.DisplayName,
			&a.Email,
			&a.AssignedSiteIDs,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return accounts, nil
}

// SaveDeliveryAttempts bulk-inserts the outcome of one dispatch
func (r *Repository) SaveDeliveryAttempts(ctx context.Context, attempts []DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	rows := make([][]any, len(attempts))
	for i, a := range attempts {
		id := a.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows[i] = []any{id, a.EventID, a.TenantID, a.FaultID, a.Channel, a.Recipient, a.Outcome, a.Reason, a.AttemptedAt}
	}

	n, err := r.db.Pool().CopyFrom(ctx,
		pgx.Identifier{"delivery_attempts"},
		[]string{"id", "event_id", "tenant_id", "fault_id", "channel", "recipient", "outcome", "reason", "attempted_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		r.logger.Error("failed to save delivery attempts",
			zap.Error(err),
			zap.String("event_id", attempts[0].EventID),
		)
		return fmt.Errorf("copy delivery attempts: %w", err)
	}

	r.logger.Debug("delivery attempts saved",
		zap.String("event_id", attempts[0].EventID),
		zap.Int64("rows", n),
	)

	return nil
}

// ListDeliveryAttempts returns the attempts recorded for a fault, newest first
func (r *Repository) ListDeliveryAttempts(ctx context.Context, tenantID, faultID uuid.UUID, limit int) ([]*DeliveryAttempt, error) {
	query := `
		SELECT id, event_id, tenant_id, fault_id, channel, recipient, outcome, reason, attempted_at
		FROM delivery_attempts
		WHERE tenant_id = $1 AND fault_id = $2
		ORDER BY attempted_at DESC
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, tenantID, faultID, limit)
	if err != nil {
		return nil, fmt.Errorf("query delivery attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*DeliveryAttempt{}
	for rows.Next() {
		var a DeliveryAttempt
		err := rows.Scan(
			&a.ID,
			&a.EventID,
			&a.TenantID,
			&a.FaultID,
			&a.Channel,
			&a.Recipient,
			&a.Outcome,
			&a.Reason,
			&a.AttemptedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return attempts, nil
}
