// Package resend delivers quarantine notices by email through Resend.
package resend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: Notifier implements domain.Notifier.
var _ domain.Notifier = (*Notifier)(nil)

// Sender is the part of the Resend client the notifier uses.
type Sender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Notifier emails operators. Without a sender it only logs the notice.
type Notifier struct {
	sender Sender
	from   string
	to     []string
}

// New returns a notifier for apiKey. An empty key disables delivery.
func New(apiKey, from string, to []string) *Notifier {
	var sender Sender
	if apiKey != "" {
		sender = resend.NewClient(apiKey).Emails
	}
	return NewWithSender(sender, from, to)
}

func NewWithSender(sender Sender, from string, to []string) *Notifier {
	return &Notifier{sender: sender, from: from, to: to}
}

func (n *Notifier) Notify(ctx context.Context, notice domain.Notice) error {
	subject, body := render(notice)

	if n.sender == nil || len(n.to) == 0 {
		slog.InfoContext(ctx, "notification delivery disabled",
			"tenant", notice.Tenant.Name,
			"subject", subject,
		)
		return nil
	}

	sent, err := n.sender.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    n.from,
		To:      n.to,
		Subject: subject,
		Text:    body,
		Tags:    []resend.Tag{{Name: "tenant", Value: notice.Tenant.Name}},
	})
	if err != nil {
		return fmt.Errorf("sending notice for %s: %w", notice.Tenant.Name, err)
	}

	slog.InfoContext(ctx, "notice sent", "tenant", notice.Tenant.Name, "email_id", sent.Id)
	return nil
}

func render(n domain.Notice) (string, string) {
	var b strings.Builder
	var subject string

	if n.Entered {
		subject = fmt.Sprintf("Tenant %s quarantined", n.Tenant.Name)
		fmt.Fprintf(&b, "Tenant %s (%s) was quarantined.\n\n", n.Tenant.Name, n.Tenant.ID)
		fmt.Fprintf(&b, "Failed step: %s\n", n.Step)
		fmt.Fprintf(&b, "Reason: %s\n", n.Reason)
	} else {
		subject = fmt.Sprintf("Tenant %s left quarantine", n.Tenant.Name)
		fmt.Fprintf(&b, "Tenant %s (%s) left quarantine and is now %s.\n", n.Tenant.Name, n.Tenant.ID, n.Tenant.Status)
	}

	if len(n.Attempts) > 0 {
		b.WriteString("\nDecommission attempts:\n")
		for _, a := range n.Attempts {
			fmt.Fprintf(&b, "  %s  %-18s %-9s resolved=%d remaining=%d",
				a.AttemptedAt.UTC().Format("2006-01-02 15:04:05"), a.Strategy, a.Outcome,
				a.ItemsResolved, a.ItemsRemaining)
			if a.Detail != "" {
				fmt.Fprintf(&b, "  %s", a.Detail)
			}
			b.WriteString("\n")
		}
	}

	return subject, b.String()
}
