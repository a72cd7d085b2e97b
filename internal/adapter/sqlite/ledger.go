package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: Ledger implements domain.Ledger.
var _ domain.Ledger = (*Ledger)(nil)

// Ledger is the idempotency ledger. The event id is the primary key, so the
// first insert wins and every later delivery of the same id is a duplicate.
type Ledger struct {
	store *Store
}

// NewLedger returns an idempotency ledger backed by store.
func NewLedger(store *Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) Admit(ctx context.Context, eventID, eventType string, outcome domain.Outcome) (domain.Admission, error) {
	_, err := l.store.conn(ctx).ExecContext(ctx,
		`INSERT INTO idempotency_entries (event_id, event_type, outcome, processed_at)
		 VALUES (?, ?, ?, ?)`,
		eventID, eventType, string(outcome), time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Duplicate, nil
		}
		return "", fmt.Errorf("recording event %s: %w", eventID, err)
	}
	return domain.Admitted, nil
}

func (l *Ledger) Get(ctx context.Context, eventID string) (domain.IdempotencyEntry, error) {
	var (
		e                    domain.IdempotencyEntry
		outcome, processedAt string
	)

	err := l.store.conn(ctx).QueryRowContext(ctx,
		`SELECT event_id, event_type, outcome, processed_at FROM idempotency_entries WHERE event_id = ?`,
		eventID,
	).Scan(&e.EventID, &e.EventType, &outcome, &processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyEntry{}, domain.ErrEventNotFound
		}
		return domain.IdempotencyEntry{}, fmt.Errorf("reading event %s: %w", eventID, err)
	}

	e.Outcome = domain.Outcome(outcome)
	e.ProcessedAt, _ = time.Parse(timeFormat, processedAt)
	return e, nil
}
