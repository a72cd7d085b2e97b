package domain

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EventTypePaymentConfirmed is the only trigger event type that provisions a tenant.
const EventTypePaymentConfirmed = "payment.confirmed"

// AdminIdentity identifies the first administrator of a tenant instance.
type AdminIdentity struct {
	Email string `json:"email" validate:"required,email"`
}

// ProvisionRequest is the payload of a payment gateway trigger event.
// It is immutable once received and consumed exactly once per EventID.
type ProvisionRequest struct {
	EventID          string        `json:"eventId" validate:"required,max=255"`
	EventType        string        `json:"eventType" validate:"required"`
	TenantName       string        `json:"tenantName" validate:"tenantname"`
	OrganizationName string        `json:"organizationName" validate:"required,max=255"`
	AdminIdentity    AdminIdentity `json:"adminIdentity"`
	PlanTier         int           `json:"planTier" validate:"required,min=1"`
	BillingFrequency string        `json:"billingFrequency" validate:"required,oneof=monthly annual"`
	PaymentReference string        `json:"paymentReference" validate:"required,max=255"`
}

var tenantNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidateTenantName checks that name is a DNS-safe label: lowercase
// alphanumerics and hyphens, 1-63 characters, no leading or trailing hyphen.
func ValidateTenantName(name string) error {
	if !tenantNamePattern.MatchString(name) {
		return &ValidationError{
			Field:  "tenantName",
			Reason: fmt.Sprintf("%q is not a DNS-safe label", name),
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("tenantname", func(fl validator.FieldLevel) bool {
		return tenantNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks the request shape, the tenant name, the event type, and the plan tier.
// Every failure is reported as a *ValidationError.
func (r ProvisionRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{
				Field:  fieldName(fe.Namespace()),
				Reason: fmt.Sprintf("failed %q check", fe.Tag()),
			}
		}
		return &ValidationError{Field: "payload", Reason: err.Error()}
	}

	if r.EventType != EventTypePaymentConfirmed {
		return &ValidationError{
			Field:  "eventType",
			Reason: fmt.Sprintf("unsupported event type %q", r.EventType),
		}
	}

	if _, err := LookupPlan(r.PlanTier); err != nil {
		return err
	}

	return nil
}

// fieldName drops the struct name: "ProvisionRequest.adminIdentity.email" becomes "adminIdentity.email".
func fieldName(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
