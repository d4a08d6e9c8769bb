package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smartcommerce/busgate-go/health"
	"github.com/spf13/cobra"
)

func newHealthCommand(flags *globalFlags) *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check broker connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			client, cleanup, err := flags.connect(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			overall := client.HealthRegistry().Check(ctx)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(overall); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "System Health: %s\n", overall.Status)
				for name, check := range overall.Checks {
					fmt.Fprintf(out, "  %-12s %-10s %s (%s)\n", name, check.Status, check.Message, check.Duration)
				}
			}

			if overall.Status == health.StatusUnhealthy {
				return fmt.Errorf("gateway is unhealthy")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Overall timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
