package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check agent health",
		Long:  "Show whether the agent's transport is running and how its peers are doing",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to get health: %w", err)
	}

	if ok, err := printStructured(out, health); ok || err != nil {
		if err == nil && !health.Healthy {
			err = fmt.Errorf("agent is unhealthy")
		}
		return err
	}

	status := "✅ Healthy"
	if !health.Healthy {
		status = "❌ Unhealthy"
	}

	fmt.Fprintf(out, "%s\n", status)
	fmt.Fprintf(out, "  State: %s\n", health.State)
	fmt.Fprintf(out, "  Local EID: %d\n", health.LocalEID)
	fmt.Fprintf(out, "  Peers: %d (%d unresponsive)\n", health.Peers, health.Unresponsive)
	fmt.Fprintf(out, "  Pending requests: %d\n", health.PendingRequests)
	fmt.Fprintf(out, "  Trace end offset: %d\n", health.TraceEndOffset)
	fmt.Fprintf(out, "  Uptime: %s\n", (time.Duration(health.UptimeSeconds * float64(time.Second))).Round(time.Second))
	if health.Message != "" {
		fmt.Fprintf(out, "  Message: %s\n", health.Message)
	}

	if !health.Healthy {
		return fmt.Errorf("agent is unhealthy")
	}
	return nil
}
