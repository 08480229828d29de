package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/agent"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/bridge"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/config"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
)

func newBridgeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Expose the configured link to one remote agent over gRPC",
		Long: `bridge opens the configured link (usually a serial port) and serves it on
bridge.listen so an agent running elsewhere can use it with link kind "bridge".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Close()

			if cfg.Link.Kind == config.LinkBridge {
				return fmt.Errorf("bridge mode needs a local link, not %q", cfg.Link.Kind)
			}

			ctx, stop := signalContext(logger)
			defer stop()
			return runBridge(ctx, cfg, logger)
		},
	}

	cmd.Flags().String("listen", ":9090", "Address the bridge server binds")
	_ = opts.v.BindPFlag("bridge.listen", cmd.Flags().Lookup("listen"))
	return cmd
}

// runBridge serves the configured link until ctx ends
func runBridge(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	l, err := agent.NewLink(cfg, logger)
	if err != nil {
		return err
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := l.Open(openCtx, agent.LinkConfig(cfg)); err != nil {
		return fmt.Errorf("failed to open link: %w", err)
	}
	defer l.Close()

	server, err := bridge.NewServer(l, cfg.BridgeServerConfig(), logger)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}
	logger.Info("bridge serving", "address", server.Addr(), "link_kind", cfg.Link.Kind, "interface", cfg.LinkInterface())

	<-ctx.Done()
	server.Stop()
	logger.Info("bridge stopped", "stats", fmt.Sprintf("%+v", server.Stats()))
	return nil
}
