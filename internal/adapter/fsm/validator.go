package fsm

import (
	"context"
	"errors"
	"slices"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: Validator implements domain.TransitionValidator.
var _ domain.TransitionValidator = (*Validator)(nil)

// events converts domain.Transitions into looplab/fsm EventDesc format.
// Transitions sharing an event and destination become one EventDesc with
// several sources (decommission from "active" and "suspended").
var events = buildEvents(domain.Transitions)

func buildEvents(transitions []domain.Transition) []loopfsm.EventDesc {
	var out []loopfsm.EventDesc
	for _, t := range transitions {
		i := slices.IndexFunc(out, func(d loopfsm.EventDesc) bool {
			return d.Name == string(t.Event) && d.Dst == string(t.Dst)
		})
		if i < 0 {
			out = append(out, loopfsm.EventDesc{Name: string(t.Event), Dst: string(t.Dst)})
			i = len(out) - 1
		}
		out[i].Src = append(out[i].Src, string(t.Src))
	}
	return out
}

// Validator implements domain.TransitionValidator using looplab/fsm.
// looplab/fsm tracks its own current state, so every Apply builds a
// short-lived machine seeded with the tenant's stored state.
type Validator struct{}

// New creates a new FSM-backed transition validator.
func New() *Validator {
	return &Validator{}
}

// Apply checks if the given event is valid from the current status and
// returns the destination status. Returns a domain.TransitionError if
// the transition is not allowed.
func (v *Validator) Apply(ctx context.Context, current domain.Status, event domain.Event) (domain.Status, error) {
	machine := loopfsm.NewFSM(string(current), events, nil)

	if err := machine.Event(ctx, string(event)); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var unknownEvent loopfsm.UnknownEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &unknownEvent) || errors.As(err, &noTransition) {
			return "", &domain.TransitionError{
				Event:   event,
				Current: current,
				Allowed: v.Available(current),
			}
		}
		return "", err
	}

	return domain.Status(machine.Current()), nil
}

// Available lists the events that may be fired from current, sorted by name.
func (v *Validator) Available(current domain.Status) []domain.Event {
	machine := loopfsm.NewFSM(string(current), events, nil)
	names := machine.AvailableTransitions()
	slices.Sort(names)

	out := make([]domain.Event, len(names))
	for i, n := range names {
		out[i] = domain.Event(n)
	}
	return out
}
