package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Lifecycle is the single writer of tenant state. Every transition is
// checked against the state machine and written by compare-and-set on the
// state the caller read.
type Lifecycle struct {
	repo      domain.TenantRepository
	validator domain.TransitionValidator
	attempts  domain.AttemptStore
	notifier  domain.Notifier
}

// NewLifecycle creates a lifecycle service with the given adapters.
func NewLifecycle(repo domain.TenantRepository, validator domain.TransitionValidator, attempts domain.AttemptStore, notifier domain.Notifier) *Lifecycle {
	return &Lifecycle{
		repo:      repo,
		validator: validator,
		attempts:  attempts,
		notifier:  notifier,
	}
}

// Fire applies event to t, runs mutate on the result, and persists it.
// It fails with ErrStaleState if the stored tenant is no longer in t.Status.
func (l *Lifecycle) Fire(ctx context.Context, t domain.Tenant, event domain.Event, mutate ...func(*domain.Tenant)) (domain.Tenant, error) {
	prev := t.Status

	next, err := l.validator.Apply(ctx, prev, event)
	if err != nil {
		return domain.Tenant{}, err
	}

	t.Status = next
	for _, m := range mutate {
		m(&t)
	}
	if next == domain.StatusQuarantined {
		t.QuarantinedFrom = prev
	}

	if err := l.repo.CompareAndSwap(ctx, t, prev); err != nil {
		return domain.Tenant{}, fmt.Errorf("moving %s from %s to %s: %w", t.Name, prev, next, err)
	}

	slog.InfoContext(ctx, "tenant transitioned",
		"tenant", t.Name,
		"event", string(event),
		"from", string(prev),
		"to", string(next),
	)

	switch {
	case next == domain.StatusQuarantined:
		l.notify(ctx, t, true)
	case prev == domain.StatusQuarantined:
		l.notify(ctx, t, false)
	}

	return t, nil
}

// Save persists progress fields of t without changing its state.
func (l *Lifecycle) Save(ctx context.Context, t domain.Tenant) error {
	return l.repo.CompareAndSwap(ctx, t, t.Status)
}

// notify is fire-and-forget: a failed notification never affects tenant state.
func (l *Lifecycle) notify(ctx context.Context, t domain.Tenant, entered bool) {
	if l.notifier == nil {
		return
	}

	notice := domain.Notice{
		Tenant:  t,
		Entered: entered,
		Step:    t.FailedStep,
		Reason:  t.FailureReason,
	}

	if l.attempts != nil {
		attempts, err := l.attempts.ListByTenant(ctx, t.ID)
		if err != nil {
			slog.WarnContext(ctx, "loading attempt trail for notice", "tenant", t.Name, "error", err)
		}
		notice.Attempts = attempts
	}

	if err := l.notifier.Notify(ctx, notice); err != nil {
		slog.WarnContext(ctx, "quarantine notification failed",
			"tenant", t.Name,
			"entered", entered,
			"error", err,
		)
	}
}
