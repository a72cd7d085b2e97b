package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: Allocator implements domain.PortAllocator.
var _ domain.PortAllocator = (*Allocator)(nil)

// Allocator reserves ports from [base, max] and binds each to one tenant
// name. Partial unique indexes on unreleased rows make the database the
// arbiter between concurrent reservations.
type Allocator struct {
	store *Store
	base  int
	max   int
}

// NewAllocator returns an allocator over the inclusive port range [base, max].
func NewAllocator(store *Store, base, max int) *Allocator {
	return &Allocator{store: store, base: base, max: max}
}

// maxReserveRetries bounds how often Reserve re-scans after losing a race for a port.
const maxReserveRetries = 8

// Reserve binds the lowest free port in range to tenantName.
func (a *Allocator) Reserve(ctx context.Context, tenantName string) (domain.PortAllocation, error) {
	if err := domain.ValidateTenantName(tenantName); err != nil {
		return domain.PortAllocation{}, err
	}

	var alloc domain.PortAllocation
	err := a.store.WithTx(ctx, func(ctx context.Context) error {
		q := a.store.conn(ctx)

		var held bool
		if err := q.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM port_allocations WHERE tenant_name = ? AND released_at IS NULL)`,
			tenantName,
		).Scan(&held); err != nil {
			return fmt.Errorf("checking name %s: %w", tenantName, err)
		}
		if held {
			return &domain.ResourceConflictError{Resource: "name", Value: tenantName}
		}

		for range maxReserveRetries {
			port, err := a.lowestFree(ctx, q)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			_, err = q.ExecContext(ctx,
				`INSERT INTO port_allocations (port, tenant_name, allocated_at) VALUES (?, ?, ?)`,
				port, tenantName, now.Format(timeFormat),
			)
			if err == nil {
				alloc = domain.PortAllocation{Port: port, TenantName: tenantName, AllocatedAt: now}
				return nil
			}
			if !isUniqueViolation(err) {
				return fmt.Errorf("reserving port %d: %w", port, err)
			}
			if strings.Contains(err.Error(), "port_allocations.tenant_name") {
				return &domain.ResourceConflictError{Resource: "name", Value: tenantName}
			}
		}
		return domain.Transient("port reservation", errors.New("lost every race for a free port"))
	})
	if err != nil {
		return domain.PortAllocation{}, err
	}
	return alloc, nil
}

// lowestFree walks the live ports in order and returns the first gap at or
// above base.
func (a *Allocator) lowestFree(ctx context.Context, q querier) (int, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT port FROM port_allocations
		 WHERE released_at IS NULL AND port BETWEEN ? AND ?
		 ORDER BY port`,
		a.base, a.max,
	)
	if err != nil {
		return 0, fmt.Errorf("scanning allocated ports: %w", err)
	}
	defer rows.Close()

	candidate := a.base
	for rows.Next() {
		var used int
		if err := rows.Scan(&used); err != nil {
			return 0, fmt.Errorf("scanning port: %w", err)
		}
		if used > candidate {
			break
		}
		candidate = used + 1
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if candidate > a.max {
		return 0, &domain.ResourceConflictError{
			Resource: "port",
			Value:    fmt.Sprintf("%d-%d", a.base, a.max),
		}
	}
	return candidate, nil
}

// Release frees the port held by tenantName. Releasing a name that holds
// nothing is a no-op.
func (a *Allocator) Release(ctx context.Context, tenantName string) error {
	_, err := a.store.conn(ctx).ExecContext(ctx,
		`UPDATE port_allocations SET released_at = ? WHERE tenant_name = ? AND released_at IS NULL`,
		time.Now().UTC().Format(timeFormat), tenantName,
	)
	if err != nil {
		return fmt.Errorf("releasing port of %s: %w", tenantName, err)
	}
	return nil
}

// List returns every allocation ever made for tenantName, oldest first.
func (a *Allocator) List(ctx context.Context, tenantName string) ([]domain.PortAllocation, error) {
	rows, err := a.store.conn(ctx).QueryContext(ctx,
		`SELECT port, tenant_name, allocated_at, released_at FROM port_allocations
		 WHERE tenant_name = ? ORDER BY id`,
		tenantName,
	)
	if err != nil {
		return nil, fmt.Errorf("listing allocations: %w", err)
	}
	defer rows.Close()

	var allocs []domain.PortAllocation
	for rows.Next() {
		var (
			p           domain.PortAllocation
			allocatedAt string
			releasedAt  sql.NullString
		)
		if err := rows.Scan(&p.Port, &p.TenantName, &allocatedAt, &releasedAt); err != nil {
			return nil, fmt.Errorf("scanning allocation: %w", err)
		}
		p.AllocatedAt, _ = time.Parse(timeFormat, allocatedAt)
		if releasedAt.Valid {
			ts, _ := time.Parse(timeFormat, releasedAt.String)
			p.ReleasedAt = &ts
		}
		allocs = append(allocs, p)
	}
	return allocs, rows.Err()
}
