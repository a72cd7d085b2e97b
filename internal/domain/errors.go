package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrEventNotFound  = errors.New("idempotency entry not found")
	// ErrInstanceNotFound is returned by a container runtime for an unknown instance.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrStaleState is returned when a compare-and-set finds the tenant in a
	// different state than the caller read.
	ErrStaleState = errors.New("tenant state changed concurrently")
)

// ValidationError is returned when a request is malformed. Nothing has been
// touched when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ResourceConflictError is returned when a tenant name or port is already in use.
type ResourceConflictError struct {
	Resource string // "name" or "port"
	Value    string
}

func (e *ResourceConflictError) Error() string {
	return fmt.Sprintf("%s %q is already in use", e.Resource, e.Value)
}

// TransientInfraError wraps a network, timeout, or build failure that is
// worth retrying.
type TransientInfraError struct {
	Op  string
	Err error
}

func (e *TransientInfraError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientInfraError) Unwrap() error { return e.Err }

// Transient marks err as retryable. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientInfraError{Op: op, Err: err}
}

// IsTransient reports whether err, or anything it wraps, is a *TransientInfraError.
func IsTransient(err error) bool {
	var t *TransientInfraError
	return errors.As(err, &t)
}

// PartialProvisioningFailure is returned when a provisioning stage fails for
// good. The tenant has been quarantined and its artifacts kept.
type PartialProvisioningFailure struct {
	Tenant string
	Stage  string
	Err    error
}

func (e *PartialProvisioningFailure) Error() string {
	return fmt.Sprintf("provisioning %q failed at stage %q: %v", e.Tenant, e.Stage, e.Err)
}

func (e *PartialProvisioningFailure) Unwrap() error { return e.Err }

// DecommissionResidual is returned when decommissioning stopped with
// resources possibly still present: every strategy ran, or the remaining
// resources could not be counted (Err). The tenant has been quarantined.
type DecommissionResidual struct {
	Tenant    string
	Remaining int
	Attempts  int
	Err       error
}

func (e *DecommissionResidual) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decommissioning %q stopped after %d strategies: %v", e.Tenant, e.Attempts, e.Err)
	}
	return fmt.Sprintf("decommissioning %q left %d residual items after %d strategies", e.Tenant, e.Remaining, e.Attempts)
}

func (e *DecommissionResidual) Unwrap() error { return e.Err }

// TransitionError is returned when a state transition is not allowed.
type TransitionError struct {
	Event   Event
	Current Status
	// Allowed lists the events Current accepts, when known.
	Allowed []Event
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
	if len(e.Allowed) == 0 {
		return msg
	}

	names := make([]string, len(e.Allowed))
	for i, a := range e.Allowed {
		names[i] = string(a)
	}
	return msg + " (allowed: " + strings.Join(names, ", ") + ")"
}
