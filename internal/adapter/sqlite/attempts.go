package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: AttemptStore implements domain.AttemptStore.
var _ domain.AttemptStore = (*AttemptStore)(nil)

// AttemptStore keeps the append-only decommission audit trail.
type AttemptStore struct {
	store *Store
}

func NewAttemptStore(store *Store) *AttemptStore {
	return &AttemptStore{store: store}
}

func (s *AttemptStore) Record(ctx context.Context, a domain.DecommissionAttempt) error {
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now()
	}
	_, err := s.store.conn(ctx).ExecContext(ctx,
		`INSERT INTO decommission_attempts
		 (tenant_id, tenant_name, strategy, attempted_at, items_resolved, items_remaining, outcome, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TenantID, a.TenantName, a.Strategy, a.AttemptedAt.UTC().Format(timeFormat),
		a.ItemsResolved, a.ItemsRemaining, string(a.Outcome), a.Detail,
	)
	if err != nil {
		return fmt.Errorf("recording %s attempt: %w", a.Strategy, err)
	}
	return nil
}

func (s *AttemptStore) ListByTenant(ctx context.Context, tenantID string) ([]domain.DecommissionAttempt, error) {
	rows, err := s.store.conn(ctx).QueryContext(ctx,
		`SELECT tenant_id, tenant_name, strategy, attempted_at, items_resolved, items_remaining, outcome, detail
		 FROM decommission_attempts WHERE tenant_id = ? ORDER BY id`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.DecommissionAttempt
	for rows.Next() {
		var (
			a                    domain.DecommissionAttempt
			attemptedAt, outcome string
		)
		if err := rows.Scan(&a.TenantID, &a.TenantName, &a.Strategy, &attemptedAt,
			&a.ItemsResolved, &a.ItemsRemaining, &outcome, &a.Detail); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.AttemptedAt, _ = time.Parse(timeFormat, attemptedAt)
		a.Outcome = domain.AttemptOutcome(outcome)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
