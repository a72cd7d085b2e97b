package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: TenantRepository implements domain.TenantRepository.
var _ domain.TenantRepository = (*TenantRepository)(nil)

// TenantRepository implements domain.TenantRepository using SQLite.
type TenantRepository struct {
	store *Store
}

// NewTenantRepository returns a tenant registry backed by store.
func NewTenantRepository(store *Store) *TenantRepository {
	return &TenantRepository{store: store}
}

const tenantColumns = `id, tenant_name, organization, admin_email, port, plan_tier, billing_frequency,
	subscription_start, subscription_end, state, resource_handles, last_stage, failed_step,
	failure_reason, quarantined_from, abort_requested, event_id, payment_reference, created_at, updated_at`

func (r *TenantRepository) Create(ctx context.Context, t domain.Tenant) error {
	handles, err := json.Marshal(t.Handles)
	if err != nil {
		return fmt.Errorf("encoding resource handles: %w", err)
	}

	_, err = r.store.conn(ctx).ExecContext(ctx,
		`INSERT INTO tenants (`+tenantColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Organization, t.AdminEmail, t.Port, t.PlanTier, string(t.BillingFrequency),
		t.SubscriptionStart.UTC().Format(timeFormat),
		t.SubscriptionEnd.UTC().Format(timeFormat),
		string(t.Status), string(handles), t.LastStage, t.FailedStep, t.FailureReason,
		string(t.QuarantinedFrom), t.AbortRequested, t.EventID, t.PaymentReference,
		t.CreatedAt.UTC().Format(timeFormat),
		t.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "tenants.port") {
				return &domain.ResourceConflictError{Resource: "port", Value: fmt.Sprint(t.Port)}
			}
			return &domain.ResourceConflictError{Resource: "name", Value: t.Name}
		}
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (domain.Tenant, error) {
	return scanTenant(r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id,
	))
}

func (r *TenantRepository) GetByName(ctx context.Context, name string) (domain.Tenant, error) {
	return scanTenant(r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE tenant_name = ?
		 ORDER BY CASE WHEN state = 'removed' THEN 1 ELSE 0 END, created_at DESC
		 LIMIT 1`, name,
	))
}

func (r *TenantRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants`
	var args []any

	if filter.Status != nil {
		query += ` WHERE state = ?`
		args = append(args, string(*filter.Status))
	}

	query += ` ORDER BY created_at DESC, id DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}

func (r *TenantRepository) CompareAndSwap(ctx context.Context, t domain.Tenant, expected domain.Status) error {
	handles, err := json.Marshal(t.Handles)
	if err != nil {
		return fmt.Errorf("encoding resource handles: %w", err)
	}

	q := r.store.conn(ctx)
	result, err := q.ExecContext(ctx,
		`UPDATE tenants SET state = ?, resource_handles = ?, last_stage = ?, failed_step = ?,
		 failure_reason = ?, quarantined_from = ?,
		 abort_requested = CASE WHEN state = ? THEN MAX(abort_requested, ?) ELSE ? END,
		 subscription_end = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		string(t.Status), string(handles), t.LastStage, t.FailedStep,
		t.FailureReason, string(t.QuarantinedFrom),
		string(t.Status), t.AbortRequested, t.AbortRequested,
		t.SubscriptionEnd.UTC().Format(timeFormat),
		time.Now().UTC().Format(timeFormat), t.ID, string(expected),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ResourceConflictError{Resource: "name", Value: t.Name}
		}
		return fmt.Errorf("updating tenant: %w", err)
	}

	return r.checkSwapped(ctx, q, result, t.ID)
}

func (r *TenantRepository) RequestAbort(ctx context.Context, id string) error {
	q := r.store.conn(ctx)
	result, err := q.ExecContext(ctx,
		`UPDATE tenants SET abort_requested = 1, updated_at = ?
		 WHERE id = ? AND state = ?`,
		time.Now().UTC().Format(timeFormat), id, string(domain.StatusProvisioning),
	)
	if err != nil {
		return fmt.Errorf("flagging abort: %w", err)
	}

	return r.checkSwapped(ctx, q, result, id)
}

// checkSwapped tells a missing row apart from a row in another state.
func (r *TenantRepository) checkSwapped(ctx context.Context, q querier, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking tenant existence: %w", err)
	}
	if !exists {
		return domain.ErrTenantNotFound
	}
	return domain.ErrStaleState
}

// scanTenant scans one row from QueryRow or Rows into a domain.Tenant.
func scanTenant(row scanner) (domain.Tenant, error) {
	var (
		t                        domain.Tenant
		billing, status, handles string
		subStart, subEnd, qFrom  string
		createdAt, updatedAt     string
	)

	err := row.Scan(&t.ID, &t.Name, &t.Organization, &t.AdminEmail, &t.Port, &t.PlanTier, &billing,
		&subStart, &subEnd, &status, &handles, &t.LastStage, &t.FailedStep,
		&t.FailureReason, &qFrom, &t.AbortRequested, &t.EventID, &t.PaymentReference, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Tenant{}, domain.ErrTenantNotFound
		}
		return domain.Tenant{}, fmt.Errorf("scanning tenant: %w", err)
	}

	if err := json.Unmarshal([]byte(handles), &t.Handles); err != nil {
		return domain.Tenant{}, fmt.Errorf("decoding resource handles of %s: %w", t.ID, err)
	}

	t.BillingFrequency = domain.BillingFrequency(billing)
	t.Status = domain.Status(status)
	t.QuarantinedFrom = domain.Status(qFrom)
	t.SubscriptionStart, _ = time.Parse(timeFormat, subStart)
	t.SubscriptionEnd, _ = time.Parse(timeFormat, subEnd)
	t.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	t.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return t, nil
}
