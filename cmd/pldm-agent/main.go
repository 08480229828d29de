package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/net/netutil"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/agent"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/config"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/httpapi"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
)

const (
	appName    = "pldm-agent"
	appVersion = "0.1.0"

	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds what the command line contributes besides viper keys
type options struct {
	v          *viper.Viper
	configFile string
}

func newOptions() *options {
	return &options{v: viper.New()}
}

func newRootCommand() *cobra.Command {
	return buildRootCommand(newOptions())
}

func buildRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     appName,
		Short:   "PLDM request/response agent",
		Long:    "pldm-agent multiplexes PLDM requests from many callers over one MCTP link and serves them over an HTTP API.",
		Version: appVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Close()

			if opts.configFile != "" {
				watchConfig(opts.v, logger)
			}

			ctx, stop := signalContext(logger)
			defer stop()
			return runAgent(ctx, cfg, logger)
		},
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Config file (yaml, json or toml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Write the JSON log to this file instead of stderr")
	flags.Int("local-eid", 8, "Local MCTP endpoint ID")
	flags.IntSlice("peers", []int{9}, "Peer endpoint IDs")
	flags.String("link", config.LinkLoopback, "Link kind (serial, loopback, bridge)")
	flags.String("device", "", "Serial device for the serial link")
	flags.Int("baud", 0, "Serial line rate")
	flags.String("bridge-address", "", "Bridge server address for the bridge link")

	cmd.Flags().Int("http-port", 8080, "HTTP API port")
	cmd.Flags().Bool("no-auth", false, "Disable authentication for non-admin endpoints (development only)")
	cmd.Flags().String("trace-db", "", "Archive traced frames to this SQLite file")

	bind := map[string]string{
		"log.level":           "log-level",
		"log.file":            "log-file",
		"local_eid":           "local-eid",
		"peers":               "peers",
		"link.kind":           "link",
		"link.device":         "device",
		"link.baud":           "baud",
		"link.bridge_address": "bridge-address",
	}
	for key, flag := range bind {
		_ = opts.v.BindPFlag(key, flags.Lookup(flag))
	}
	_ = opts.v.BindPFlag("http.port", cmd.Flags().Lookup("http-port"))
	_ = opts.v.BindPFlag("http.no_auth", cmd.Flags().Lookup("no-auth"))
	_ = opts.v.BindPFlag("trace.database", cmd.Flags().Lookup("trace-db"))

	cmd.AddCommand(newBridgeCommand(opts), newHashPasswordCommand())
	return cmd
}

// load reads the configuration and opens the logger
func (o *options) load() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(o.v, o.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Log.File, cfg.Log.Level, cfg.LogRotation())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log: %w", err)
	}
	return cfg, logger, nil
}

// signalContext is cancelled on SIGINT, SIGTERM or SIGHUP
func signalContext(logger *logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// runAgent starts the agent and its HTTP API and blocks until ctx ends
func runAgent(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.HTTP.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on http port %d: %w", cfg.HTTP.Port, err)
	}
	return serve(ctx, cfg, logger, lis)
}

// serve runs the agent with its HTTP API on lis until ctx ends, then
// shuts both down within shutdownTimeout.
func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger, lis net.Listener) error {
	logger.Info("starting", "app", appName, "version", appVersion)

	a, err := agent.New(cfg, logger)
	if err != nil {
		lis.Close()
		return fmt.Errorf("failed to create agent: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("error closing agent", "error", err.Error())
		}
	}()

	if err := a.Start(ctx); err != nil {
		lis.Close()
		return err
	}
	logHealth(logger, a.Health())

	server := httpapi.NewServer(a, httpapi.Config{
		Port:      cfg.HTTP.Port,
		SecretKey: cfg.HTTP.SecretKey,
		NoAuth:    cfg.HTTP.NoAuth,

		AdminPasswordHash: cfg.HTTP.AdminPasswordHash,
	}, logger)

	if cfg.HTTP.MaxConnections > 0 {
		lis = netutil.LimitListener(lis, cfg.HTTP.MaxConnections)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(lis) }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		if runErr != nil {
			runErr = fmt.Errorf("http api failed: %w", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("error stopping http api", "error", err.Error())
	}
	if err := a.Stop(shutdownCtx); err != nil {
		logger.Warn("error during graceful stop", "error", err.Error())
	}

	logger.Info("stopped", "app", appName)
	return runErr
}

func logHealth(logger *logging.Logger, h agent.Health) {
	logger.Info("agent health",
		"healthy", h.Healthy,
		"state", h.State,
		"local_eid", h.LocalEID,
		"peers", h.Peers,
		"pending", h.PendingRequests)
}
