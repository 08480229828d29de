package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/httpclient"
)

func newInstanceIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "iid",
		Short: "Allocate a PLDM instance ID",
		Long:  "Ask the agent for the next instance ID to put in a hand-built request header",
		RunE:  runInstanceID,
	}
}

func runInstanceID(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	id, err := client.AllocateInstanceID(ctx)
	if err != nil {
		return fmt.Errorf("failed to allocate instance id: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d\n", id)
	return nil
}

func newSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [request-hex]",
		Short: "Send a PLDM request and print the reply",
		Long: `Send a PLDM request to a peer and wait for its reply.

Either pass a complete request message as hex, or let the agent build the
header with --type, --command and optional --data.`,
		Example: `  pldmctl --token "$PLDM_TOKEN" send 80 00 02
  pldmctl --token "$PLDM_TOKEN" send --peer 9 --type 0 --command 0x02`,
		RunE: runSend,
	}

	cmd.Flags().Int("peer", 0, "Destination endpoint ID (default: the agent's first peer)")
	cmd.Flags().Uint8("type", 0, "PLDM type for a built request")
	cmd.Flags().Uint8("command", 0, "PLDM command code for a built request")
	cmd.Flags().String("data", "", "Request data as hex for a built request")
	cmd.Flags().Int("timeout-ms", 0, "Reply timeout in milliseconds (default: the agent's)")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	req, err := buildSendRequest(cmd, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.SendRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ Reply from EID %d (instance %d) in %.2fms\n", resp.Peer, resp.InstanceID, resp.LatencyMs)
	fmt.Fprintf(out, "  Request:  %s\n", resp.Request)
	fmt.Fprintf(out, "  Response: %s\n", resp.Response)
	if resp.CompletionCode != nil {
		fmt.Fprintf(out, "  Completion code: 0x%02x\n", *resp.CompletionCode)
	}
	return nil
}

// buildSendRequest turns positional hex or the header flags into a request
func buildSendRequest(cmd *cobra.Command, args []string) (httpclient.SendRequest, error) {
	var req httpclient.SendRequest
	flags := cmd.Flags()

	if flags.Changed("peer") {
		peer, _ := flags.GetInt("peer")
		req.Peer = &peer
	}
	req.TimeoutMs, _ = flags.GetInt("timeout-ms")

	built := flags.Changed("type") || flags.Changed("command") || flags.Changed("data")
	switch {
	case len(args) > 0 && built:
		return req, fmt.Errorf("pass either a raw request or --type/--command, not both")
	case len(args) > 0:
		raw := strings.Join(args, "")
		if _, err := hex.DecodeString(raw); err != nil {
			return req, fmt.Errorf("request is not valid hex: %w", err)
		}
		req.Request = raw
	case flags.Changed("type") && flags.Changed("command"):
		pldmType, _ := flags.GetUint8("type")
		command, _ := flags.GetUint8("command")
		data, _ := flags.GetString("data")
		if _, err := hex.DecodeString(data); err != nil {
			return req, fmt.Errorf("data is not valid hex: %w", err)
		}
		req.PLDMType = &pldmType
		req.Command = &command
		req.Data = data
	default:
		return req, fmt.Errorf("a raw request or both --type and --command are required")
	}
	return req, nil
}
