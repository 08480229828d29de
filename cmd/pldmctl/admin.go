package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/httpclient"
)

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires an admin token)",
		Long:  "Administrative commands for inspecting peers, counters and link traffic",
	}

	cmd.AddCommand(newAdminPeersCommand())
	cmd.AddCommand(newAdminStatsCommand())
	cmd.AddCommand(newAdminTrafficCommand())
	cmd.AddCommand(newAdminMonitorCommand())

	return cmd
}

func newAdminPeersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List peer endpoints",
		Long:  "List every configured or observed peer with its request counters",
		RunE:  runAdminPeers,
	}
}

func newAdminStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show transport and trace counters",
		RunE:  runAdminStats,
	}
}

func newAdminTrafficCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traffic",
		Short: "Read recorded link traffic",
		Long:  "Read frames from the agent's traffic trace, the latest by default",
		RunE:  runAdminTraffic,
	}

	cmd.Flags().Int64("offset", -1, "First offset to read (default: the latest records)")
	cmd.Flags().Int("limit", 100, "Maximum records to read")
	cmd.Flags().String("export", "", "Write the records to this file as a CBOR capture")
	return cmd
}

func newAdminMonitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Follow link traffic live",
		Long:  "Stream frames from the agent's traffic trace until interrupted",
		RunE:  runAdminMonitor,
	}
}

func runAdminPeers(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := client.AdminPeers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list peers: %w", err)
	}

	out := cmd.OutOrStdout()
	if ok, err := printStructured(out, response); ok || err != nil {
		return err
	}
	if len(response.Peers) == 0 {
		fmt.Fprintln(out, "No peers known")
		return nil
	}

	fmt.Fprintf(out, "Found %d peer(s):\n\n", len(response.Peers))
	for i, p := range response.Peers {
		fmt.Fprintf(out, "%d. EID %d (%s)\n", i+1, p.EID, p.Health)
		fmt.Fprintf(out, "   Configured: %t\n", p.Configured)
		fmt.Fprintf(out, "   Sent: %d  Replies: %d  Timeouts: %d  Send failures: %d\n",
			p.RequestsSent, p.Replies, p.Timeouts, p.SendFailures)
		fmt.Fprintf(out, "   In flight: %d  Last latency: %.2fms\n", p.InFlight, p.LastLatencyMs)
		if !p.LastSeen.IsZero() {
			fmt.Fprintf(out, "   Last seen: %s\n", p.LastSeen.Format("2006-01-02 15:04:05"))
		}
		if i < len(response.Peers)-1 {
			fmt.Fprintln(out)
		}
	}
	return nil
}

func runAdminStats(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stats, err := client.AdminStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if ok, err := printStructured(out, stats); ok || err != nil {
		return err
	}
	fmt.Fprintf(out, "Link: %s (%s), local EID %d\n\n", stats.LinkKind, stats.Interface, stats.LocalEID)

	tr := stats.Transport
	fmt.Fprintf(out, "Transport (%s):\n", tr.State)
	fmt.Fprintf(out, "  Pending: %d\n", tr.Pending)
	fmt.Fprintf(out, "  Sent: %d  Replies: %d  Timeouts: %d\n", tr.Sent, tr.Replies, tr.Timeouts)
	fmt.Fprintf(out, "  Send failures: %d  Superseded: %d  Cancelled: %d\n", tr.SendFailures, tr.Superseded, tr.Cancelled)
	fmt.Fprintf(out, "  Orphans: %d  Malformed: %d\n\n", tr.Orphans, tr.Malformed)

	tc := stats.Trace
	fmt.Fprintf(out, "Trace:\n")
	fmt.Fprintf(out, "  Records: %d (retained %d, discarded %d)\n", tc.TotalRecords, tc.Retained, tc.Discarded)
	fmt.Fprintf(out, "  Offsets: %d..%d\n", tc.FirstOffset, tc.EndOffset)
	fmt.Fprintf(out, "  Subscribers: %d  Missed: %d\n", tc.Subscribers, tc.Missed)

	outcomes := make([]string, 0, len(tc.ByOutcome))
	for k := range tc.ByOutcome {
		outcomes = append(outcomes, k)
	}
	sort.Strings(outcomes)
	for _, k := range outcomes {
		fmt.Fprintf(out, "  %s: %d\n", k, tc.ByOutcome[k])
	}
	return nil
}

func runAdminTraffic(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	offset, _ := cmd.Flags().GetInt64("offset")
	limit, _ := cmd.Flags().GetInt("limit")
	export, _ := cmd.Flags().GetString("export")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if export != "" {
		return exportTraffic(ctx, cmd.OutOrStdout(), export, offset, limit)
	}

	resp, err := client.ReadTraffic(ctx, offset, limit)
	if err != nil {
		return fmt.Errorf("failed to read traffic: %w", err)
	}

	out := cmd.OutOrStdout()
	if ok, err := printStructured(out, resp); ok || err != nil {
		return err
	}
	if resp.Count == 0 {
		fmt.Fprintf(out, "No traffic recorded (end offset %d)\n", resp.EndOffset)
		return nil
	}
	for _, r := range resp.Records {
		printTrafficRecord(out, r)
	}
	fmt.Fprintf(out, "\n%d record(s), offsets %d..%d\n", resp.Count, resp.StartOffset, resp.EndOffset)
	return nil
}

func exportTraffic(ctx context.Context, out io.Writer, path string, offset int64, limit int) error {
	raw, capture, err := client.ExportTraffic(ctx, offset, limit)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write capture: %w", err)
	}
	fmt.Fprintf(out, "✅ Wrote %d record(s) from EID %d to %s (offsets %d..%d)\n",
		len(capture.Records), capture.LocalEID, path, capture.StartOffset, capture.EndOffset)
	return nil
}

func runAdminMonitor(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := client.StreamTraffic(ctx, httpclient.StreamConfig{})
	if err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	defer stream.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Monitoring link traffic (Ctrl+C to stop)...")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stream.Done():
			return nil
		case r, ok := <-stream.Records():
			if !ok {
				return nil
			}
			printTrafficRecord(out, r)
		case err, ok := <-stream.Errors():
			if !ok {
				return nil
			}
			var apiErr *httpclient.APIError
			if errors.As(err, &apiErr) {
				return fmt.Errorf("stream rejected: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "❌ %v\n", err)
		}
	}
}

func printTrafficRecord(out io.Writer, r httpclient.TrafficRecord) {
	fmt.Fprintf(out, "[%d] %s %s eid=%d iid=%d %-12s %s\n",
		r.Offset,
		r.Timestamp.Format("15:04:05.000"),
		r.Direction,
		r.Peer,
		r.InstanceID,
		r.Outcome,
		r.Payload)
}
