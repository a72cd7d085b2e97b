package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05Z"

// TenantResponse is the API representation of a tenant.
type TenantResponse struct {
	ID               string `json:"id" doc:"Unique identifier"`
	Name             string `json:"name" doc:"DNS-safe tenant name"`
	Organization     string `json:"organization" doc:"Organization display name"`
	Port             int    `json:"port" doc:"Allocated local port"`
	PlanTier         int    `json:"plan_tier" doc:"Plan tier"`
	BillingFrequency string `json:"billing_frequency" doc:"monthly or annual"`
	SubscriptionEnd  string `json:"subscription_end" doc:"End of the paid window (ISO 8601)"`
	Status           string `json:"status" doc:"Lifecycle state"`
	LastStage        string `json:"last_stage,omitempty" doc:"Last completed provisioning stage"`
	FailedStep       string `json:"failed_step,omitempty" doc:"Stage or strategy that caused quarantine"`
	FailureReason    string `json:"failure_reason,omitempty" doc:"Why the tenant was quarantined"`
	AbortRequested   bool   `json:"abort_requested,omitempty" doc:"Abort pending at the next stage boundary"`
	Hostname         string `json:"hostname,omitempty" doc:"Routed hostname"`
	CreatedAt        string `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt        string `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

func toTenantResponse(t domain.Tenant) TenantResponse {
	return TenantResponse{
		ID:               t.ID,
		Name:             t.Name,
		Organization:     t.Organization,
		Port:             t.Port,
		PlanTier:         t.PlanTier,
		BillingFrequency: string(t.BillingFrequency),
		SubscriptionEnd:  t.SubscriptionEnd.UTC().Format(timeLayout),
		Status:           string(t.Status),
		LastStage:        t.LastStage,
		FailedStep:       t.FailedStep,
		FailureReason:    t.FailureReason,
		AbortRequested:   t.AbortRequested,
		Hostname:         t.Handles.RouteHost,
		CreatedAt:        t.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:        t.UpdatedAt.UTC().Format(timeLayout),
	}
}

// AttemptResponse is one row of the decommission audit trail.
type AttemptResponse struct {
	Strategy       string `json:"strategy"`
	AttemptedAt    string `json:"attempted_at"`
	ItemsResolved  int    `json:"items_resolved"`
	ItemsRemaining int    `json:"items_remaining"`
	Outcome        string `json:"outcome"`
	Detail         string `json:"detail,omitempty"`
}

// AllocationResponse is one port allocation of a tenant name.
type AllocationResponse struct {
	Port        int    `json:"port"`
	AllocatedAt string `json:"allocated_at"`
	ReleasedAt  string `json:"released_at,omitempty"`
}

// TenantDetailResponse is a tenant with its audit trails.
type TenantDetailResponse struct {
	Tenant      TenantResponse       `json:"tenant"`
	Attempts    []AttemptResponse    `json:"attempts"`
	Allocations []AllocationResponse `json:"allocations"`
}

func toDetailResponse(d app.TenantDetail) TenantDetailResponse {
	resp := TenantDetailResponse{
		Tenant:      toTenantResponse(d.Tenant),
		Attempts:    make([]AttemptResponse, len(d.Attempts)),
		Allocations: make([]AllocationResponse, len(d.Allocations)),
	}
	for i, a := range d.Attempts {
		resp.Attempts[i] = AttemptResponse{
			Strategy:       a.Strategy,
			AttemptedAt:    a.AttemptedAt.UTC().Format(timeLayout),
			ItemsResolved:  a.ItemsResolved,
			ItemsRemaining: a.ItemsRemaining,
			Outcome:        string(a.Outcome),
			Detail:         a.Detail,
		}
	}
	for i, a := range d.Allocations {
		resp.Allocations[i] = AllocationResponse{
			Port:        a.Port,
			AllocatedAt: a.AllocatedAt.UTC().Format(timeLayout),
		}
		if a.ReleasedAt != nil {
			resp.Allocations[i].ReleasedAt = a.ReleasedAt.UTC().Format(timeLayout)
		}
	}
	return resp
}

// --- Trigger event ---

type TriggerEventInput struct {
	Body struct {
		EventID          string `json:"eventId" minLength:"1" maxLength:"255" doc:"Gateway event identifier, unique per delivery source"`
		EventType        string `json:"eventType" doc:"Event type; only payment.confirmed provisions"`
		TenantName       string `json:"tenantName" doc:"DNS-safe tenant name"`
		OrganizationName string `json:"organizationName" doc:"Organization display name"`
		AdminIdentity    struct {
			Email string `json:"email" doc:"First administrator email"`
		} `json:"adminIdentity"`
		PlanTier         int    `json:"planTier" doc:"Plan tier"`
		BillingFrequency string `json:"billingFrequency" enum:"monthly,annual" doc:"Billing frequency"`
		PaymentReference string `json:"paymentReference" doc:"Gateway payment reference"`
	}
}

type TriggerEventOutput struct {
	Status int
	Body   struct {
		Admission string          `json:"admission" doc:"admitted or duplicate"`
		Tenant    *TenantResponse `json:"tenant,omitempty" doc:"The tenant created by an admitted event"`
	}
}

// --- Get Tenant ---

type GetTenantInput struct {
	Name string `path:"name" doc:"Tenant name"`
}

type GetTenantOutput struct {
	Body TenantDetailResponse
}

// --- List Tenants ---

type ListTenantsInput struct {
	Status string `query:"status" required:"false" enum:"provisioning,active,suspended,decommissioning,removed,quarantined" doc:"Filter by state"`
	Limit  int    `query:"limit" required:"false" default:"50" minimum:"1" maximum:"500" doc:"Max results"`
	Offset int    `query:"offset" required:"false" default:"0" minimum:"0" doc:"Pagination offset"`
}

type ListTenantsOutput struct {
	Body []TenantResponse
}

// --- Commands ---

type TenantCommandInput struct {
	Name string `path:"name" doc:"Tenant name"`
}

type DecommissionInput struct {
	Name  string `path:"name" doc:"Tenant name"`
	Force bool   `query:"force" required:"false" doc:"Admit quarantined tenants and abort provisioning ones"`
}

type TenantOutput struct {
	Body TenantResponse
}

// Register adds the intake and management routes to the Huma API.
func Register(api huma.API, intake *app.IntakeService, mgmt *app.Management) {
	huma.Register(api, huma.Operation{
		OperationID: "trigger-event",
		Method:      http.MethodPost,
		Path:        "/api/v1/events",
		Summary:     "Deliver a payment gateway event",
		Description: "Delivery is idempotent over eventId. A duplicate answers 200 without side effects.",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *TriggerEventInput) (*TriggerEventOutput, error) {
		b := input.Body
		result, err := intake.HandleTrigger(ctx, domain.ProvisionRequest{
			EventID:          b.EventID,
			EventType:        b.EventType,
			TenantName:       b.TenantName,
			OrganizationName: b.OrganizationName,
			AdminIdentity:    domain.AdminIdentity{Email: b.AdminIdentity.Email},
			PlanTier:         b.PlanTier,
			BillingFrequency: b.BillingFrequency,
			PaymentReference: b.PaymentReference,
		})
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &TriggerEventOutput{Status: http.StatusOK}
		out.Body.Admission = string(result.Admission)
		if result.Admission == domain.Admitted {
			out.Status = http.StatusAccepted
			tenant := toTenantResponse(result.Tenant)
			out.Body.Tenant = &tenant
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants",
		Summary:     "List tenants",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *ListTenantsInput) (*ListTenantsOutput, error) {
		filter := domain.ListFilter{
			Limit:  input.Limit,
			Offset: input.Offset,
		}
		if input.Status != "" {
			s := domain.Status(input.Status)
			filter.Status = &s
		}

		tenants, err := mgmt.List(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]TenantResponse, len(tenants))
		for i, t := range tenants {
			resp[i] = toTenantResponse(t)
		}
		return &ListTenantsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/{name}",
		Summary:     "Get a tenant with its attempt trail",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *GetTenantInput) (*GetTenantOutput, error) {
		detail, err := mgmt.Get(ctx, input.Name)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetTenantOutput{Body: toDetailResponse(detail)}, nil
	})

	registerCommand(api, "suspend-tenant", "suspend", "Suspend an active tenant", mgmt.Suspend)
	registerCommand(api, "retry-provisioning", "retry", "Retry a quarantined provisioning", mgmt.RetryProvisioning)
	registerCommand(api, "abort-provisioning", "abort", "Abort provisioning at the next stage boundary", mgmt.Abort)

	huma.Register(api, huma.Operation{
		OperationID: "decommission-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{name}/decommission",
		Summary:     "Request tenant removal",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *DecommissionInput) (*TenantOutput, error) {
		tenant, err := mgmt.RequestDecommission(ctx, input.Name, input.Force)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})
}

func registerCommand(api huma.API, id, verb, summary string, cmd func(context.Context, string) (domain.Tenant, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{name}/" + verb,
		Summary:     summary,
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantCommandInput) (*TenantOutput, error) {
		tenant, err := cmd(ctx, input.Name)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrTenantNotFound) {
		return huma.Error404NotFound("tenant not found")
	}

	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		return huma.Error422UnprocessableEntity(vErr.Error(), &huma.ErrorDetail{
			Location: "body." + vErr.Field,
			Message:  vErr.Reason,
		})
	}

	var conflict *domain.ResourceConflictError
	if errors.As(err, &conflict) {
		return huma.Error409Conflict(conflict.Error())
	}

	if errors.Is(err, domain.ErrStaleState) {
		return huma.Error409Conflict("tenant changed concurrently, retry the request")
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error503ServiceUnavailable("request timed out")
	}

	return huma.Error500InternalServerError("internal server error")
}
