package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/neomorfeo/tenantops/internal/domain"
)

func TestValidateTenantName(t *testing.T) {
	valid := []string{"a", "acme", "acme-corp", "a1-b2", strings.Repeat("x", 63)}
	for _, name := range valid {
		if err := domain.ValidateTenantName(name); err != nil {
			t.Errorf("ValidateTenantName(%q) unexpected error: %v", name, err)
		}
	}

	invalid := []string{"", "-acme", "acme-", "Acme", "acme_corp", "acme.corp", strings.Repeat("x", 64)}
	for _, name := range invalid {
		err := domain.ValidateTenantName(name)
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("ValidateTenantName(%q) = %v, want ValidationError", name, err)
		}
	}
}

func TestProvisionRequest_Validate(t *testing.T) {
	if err := testRequest().Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*domain.ProvisionRequest)
		field  string
	}{
		{"bad tenant name", func(r *domain.ProvisionRequest) { r.TenantName = "Acme!" }, "tenantName"},
		{"missing event id", func(r *domain.ProvisionRequest) { r.EventID = "" }, "eventId"},
		{"bad email", func(r *domain.ProvisionRequest) { r.AdminIdentity.Email = "nope" }, "adminIdentity.email"},
		{"bad billing", func(r *domain.ProvisionRequest) { r.BillingFrequency = "weekly" }, "billingFrequency"},
		{"unknown tier", func(r *domain.ProvisionRequest) { r.PlanTier = 9 }, "planTier"},
		{"zero tier", func(r *domain.ProvisionRequest) { r.PlanTier = 0 }, "planTier"},
		{"wrong event type", func(r *domain.ProvisionRequest) { r.EventType = "payment.refunded" }, "eventType"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testRequest()
			tc.mutate(&req)

			var vErr *domain.ValidationError
			if err := req.Validate(); !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tc.field {
				t.Errorf("Field = %q, want %q", vErr.Field, tc.field)
			}
		})
	}
}

func TestLookupPlan(t *testing.T) {
	p, err := domain.LookupPlan(2)
	if err != nil {
		t.Fatalf("LookupPlan(2) error: %v", err)
	}
	if p.Tier != 2 {
		t.Errorf("Tier = %d, want 2", p.Tier)
	}

	if _, err := domain.LookupPlan(0); err == nil {
		t.Error("LookupPlan(0) should fail")
	}
}
