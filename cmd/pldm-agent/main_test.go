package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/config"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
)

func TestRootCommand_Flags(t *testing.T) {
	cmd := newRootCommand()

	assert.Equal(t, appName, cmd.Use)
	assert.Equal(t, appVersion, cmd.Version)

	for _, name := range []string{"config", "log-level", "log-file", "local-eid", "peers", "link", "device", "baud", "bridge-address"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing persistent flag %s", name)
	}
	for _, name := range []string{"http-port", "no-auth", "trace-db"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %s", name)
	}

	bridgeCmd, _, err := cmd.Find([]string{"bridge"})
	require.NoError(t, err)
	assert.Equal(t, "bridge", bridgeCmd.Name())
	assert.NotNil(t, bridgeCmd.Flags().Lookup("listen"))
}

func TestOptions_FlagsOverrideDefaults(t *testing.T) {
	opts := newOptions()
	cmd := buildRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{
		"--local-eid", "20",
		"--peers", "21,22",
		"--http-port", "9000",
		"--no-auth",
		"--log-level", "debug",
		"--trace-db", "/tmp/trace.db",
	}))

	cfg, logger, err := opts.load()
	require.NoError(t, err)
	defer logger.Close()

	assert.Equal(t, 20, cfg.LocalEID)
	assert.Equal(t, []int{21, 22}, cfg.Peers)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.True(t, cfg.HTTP.NoAuth)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/trace.db", cfg.Trace.Database)
	assert.Equal(t, 256, cfg.HTTP.MaxConnections)
	assert.Equal(t, config.LinkLoopback, cfg.Link.Kind)
}

func TestOptions_InvalidConfig(t *testing.T) {
	opts := newOptions()
	cmd := buildRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--local-eid", "3"}))

	_, _, err := opts.load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "local_eid")
}

func TestServe_HealthThenShutdown(t *testing.T) {
	cfg := config.Default()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, logging.NopLogger(), lis) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/health", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var body map[string]any
		if json.NewDecoder(resp.Body).Decode(&body) != nil {
			return false
		}
		return resp.StatusCode == http.StatusOK && body["healthy"] == true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}

	_, err = http.Get(fmt.Sprintf("http://%s/api/v1/health", addr))
	assert.Error(t, err)
}

func TestBridgeCommand_RejectsBridgeLink(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"bridge", "--link", "bridge", "--bridge-address", "127.0.0.1:1"})
	cmd.SilenceErrors = true

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a local link")
}

func TestRunBridge_ServesLoopback(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.Listen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runBridge(ctx, cfg, logging.NopLogger()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop after cancellation")
	}
}
