package httpapi

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/agent"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/config"
)

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Agent  *agent.Agent
	Server *Server
	Auth   *JWTAuth
	HTTP   *httptest.Server
}

// NewTestServerSetup starts a loopback agent behind an httptest server.
func NewTestServerSetup(t *testing.T, opts ...func(*config.Config, *Config)) *TestServerSetup {
	t.Helper()

	cfg := config.Default()
	cfg.Transport.PollInterval = time.Millisecond
	cfg.Transport.SweepInterval = 5 * time.Millisecond
	serverConfig := Config{SecretKey: "test-secret-key"}
	for _, opt := range opts {
		opt(cfg, &serverConfig)
	}

	a, err := agent.New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	server := NewServer(a, serverConfig, nil)
	httpServer := httptest.NewServer(server.Handler())

	setup := &TestServerSetup{
		Agent:  a,
		Server: server,
		Auth:   server.jwtAuth,
		HTTP:   httpServer,
	}
	t.Cleanup(setup.Close)
	return setup
}

// Close cleans up test resources
func (setup *TestServerSetup) Close() {
	setup.HTTP.Close()
	_ = setup.Agent.Close()
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Auth.GenerateToken(clientID, isAdmin)
	require.NoError(t, err)
	return token
}
