package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/neomorfeo/tenantops/internal/domain"
)

func newEventsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Deliver payment gateway events",
	}
	cmd.AddCommand(newEventsIngestCommand(opts))
	return cmd
}

func newEventsIngestCommand(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Deliver one trigger event from a JSON file or stdin",
		Long: `Deliver one trigger event. The payload has the shape accepted by
POST /api/v1/events. Delivering the same eventId again is a no-op.`,
		Example: `  tenantops events ingest --file confirmed.json
  cat confirmed.json | tenantops events ingest`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := readRequest(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			return opts.withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
				result, err := s.intake.HandleTrigger(ctx, req)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if result.Admission == domain.Duplicate {
					fmt.Fprintf(out, "event %s: duplicate, ignored\n", req.EventID)
					return nil
				}
				fmt.Fprintf(out, "event %s: admitted %s on port %d\n", req.EventID, result.Tenant.Name, result.Tenant.Port)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "payload file; - reads stdin")
	return cmd
}

func readRequest(stdin io.Reader, file string) (domain.ProvisionRequest, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return domain.ProvisionRequest{}, fmt.Errorf("reading event payload: %w", err)
	}

	var req domain.ProvisionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.ProvisionRequest{}, fmt.Errorf("decoding event payload: %w", err)
	}
	return req, nil
}
