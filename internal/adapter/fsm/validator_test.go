package fsm_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	adapter "github.com/neomorfeo/tenantops/internal/adapter/fsm"
	"github.com/neomorfeo/tenantops/internal/domain"
)

func TestValidator_AllTransitions(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	for _, tr := range domain.Transitions {
		dst, err := v.Apply(ctx, tr.Src, tr.Event)
		if err != nil {
			t.Errorf("Apply(%q, %q) unexpected error: %v", tr.Src, tr.Event, err)
			continue
		}
		if dst != tr.Dst {
			t.Errorf("Apply(%q, %q) = %q, want %q", tr.Src, tr.Event, dst, tr.Dst)
		}
	}
}

func TestValidator_InvalidTransition(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	_, err := v.Apply(ctx, domain.StatusProvisioning, domain.EventSuspend)
	var trErr *domain.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if trErr.Event != domain.EventSuspend {
		t.Errorf("event = %q, want %q", trErr.Event, domain.EventSuspend)
	}
	if trErr.Current != domain.StatusProvisioning {
		t.Errorf("current = %q, want %q", trErr.Current, domain.StatusProvisioning)
	}

	want := []domain.Event{domain.EventProvisionFailed, domain.EventProvisionSucceeded}
	if !slices.Equal(trErr.Allowed, want) {
		t.Errorf("allowed = %v, want %v", trErr.Allowed, want)
	}
}

// Every event is tried from every state; only declared edges may succeed.
func TestValidator_OnlyDeclaredEdges(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	declared := make(map[[2]string]domain.Status)
	events := make(map[domain.Event]bool)
	for _, tr := range domain.Transitions {
		declared[[2]string{string(tr.Src), string(tr.Event)}] = tr.Dst
		events[tr.Event] = true
	}

	for _, src := range domain.Statuses {
		for event := range events {
			dst, err := v.Apply(ctx, src, event)
			want, ok := declared[[2]string{string(src), string(event)}]
			switch {
			case ok && err != nil:
				t.Errorf("Apply(%q, %q) unexpected error: %v", src, event, err)
			case ok && dst != want:
				t.Errorf("Apply(%q, %q) = %q, want %q", src, event, dst, want)
			case !ok && err == nil:
				t.Errorf("Apply(%q, %q) = %q, want TransitionError", src, event, dst)
			}
			if src == domain.StatusProvisioning && dst == domain.StatusRemoved {
				t.Errorf("Apply(%q, %q) reached removed directly", src, event)
			}
		}
	}
}

func TestValidator_ProvisioningLeavesOnlyToActiveOrQuarantine(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	for _, tr := range domain.Transitions {
		if tr.Src == domain.StatusProvisioning && tr.Dst != domain.StatusActive && tr.Dst != domain.StatusQuarantined {
			t.Errorf("edge %q from provisioning reaches %q", tr.Event, tr.Dst)
		}
	}

	dst, err := v.Apply(ctx, domain.StatusProvisioning, domain.EventAbort)
	var trErr *domain.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("Apply(provisioning, abort) = %q, %v; want TransitionError", dst, err)
	}
}

func TestValidator_FullLifecycle(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	steps := []struct {
		from  domain.Status
		event domain.Event
		want  domain.Status
	}{
		{domain.StatusProvisioning, domain.EventProvisionSucceeded, domain.StatusActive},
		{domain.StatusActive, domain.EventSuspend, domain.StatusSuspended},
		{domain.StatusSuspended, domain.EventDecommission, domain.StatusDecommissioning},
		{domain.StatusDecommissioning, domain.EventDecommissionSucceeded, domain.StatusRemoved},
	}

	for _, step := range steps {
		got, err := v.Apply(ctx, step.from, step.event)
		if err != nil {
			t.Fatalf("Apply(%q, %q) error: %v", step.from, step.event, err)
		}
		if got != step.want {
			t.Errorf("Apply(%q, %q) = %q, want %q", step.from, step.event, got, step.want)
		}
	}
}

func TestValidator_QuarantineResolution(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	got, err := v.Apply(ctx, domain.StatusQuarantined, domain.EventRetryProvisioning)
	if err != nil {
		t.Fatalf("retry from quarantine: %v", err)
	}
	if got != domain.StatusProvisioning {
		t.Errorf("got %q, want %q", got, domain.StatusProvisioning)
	}

	got, err = v.Apply(ctx, domain.StatusQuarantined, domain.EventForceDecommission)
	if err != nil {
		t.Fatalf("force decommission from quarantine: %v", err)
	}
	if got != domain.StatusDecommissioning {
		t.Errorf("got %q, want %q", got, domain.StatusDecommissioning)
	}
}

func TestValidator_Available(t *testing.T) {
	v := adapter.New()

	got := v.Available(domain.StatusQuarantined)
	want := []domain.Event{domain.EventForceDecommission, domain.EventRetryProvisioning}
	if len(got) != len(want) {
		t.Fatalf("Available(quarantined) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Available(quarantined)[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := v.Available(domain.StatusRemoved); len(got) != 0 {
		t.Errorf("Available(removed) = %v, want none", got)
	}
}
