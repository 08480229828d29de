// Package httpapi exposes the agent over a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/agent"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
)

// defaultSecretKey signs tokens when no key is configured.
const defaultSecretKey = "pldm-agent-dev-secret-key-change-in-production"

// Server represents the HTTP API server
type Server struct {
	agent      *agent.Agent
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// Config holds server configuration
type Config struct {
	Port      int
	SecretKey string
	NoAuth    bool
	// AdminPasswordHash is the bcrypt hash admin logins are checked against
	AdminPasswordHash string
}

// NewServer creates a new HTTP API server
func NewServer(a *agent.Agent, config Config, logger *logging.Logger) *Server {
	logger = logging.OrNop(logger)

	secretKey := config.SecretKey
	if secretKey == "" {
		logger.Warn("no http secret key configured, using the development default")
		secretKey = defaultSecretKey
	}
	if config.NoAuth {
		logger.Warn("authentication disabled for non-admin endpoints")
	}
	if config.AdminPasswordHash == "" {
		logger.Warn("no admin password hash configured, admin logins are not checked")
	}

	jwtAuth := NewJWTAuth(secretKey)
	s := &Server{
		agent:      a,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(a, jwtAuth, config.AdminPasswordHash, logger),
		middleware: NewMiddleware(jwtAuth, config.NoAuth, logger),
		logger:     logger.WithComponent("http"),
	}

	s.server = &http.Server{
		Addr:              ":" + strconv.Itoa(config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Start listens on the configured port and serves until Stop.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop. It returns nil after a graceful stop.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("http api listening", "address", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address once serving, or the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.RequestID(
				s.middleware.Logging(
					s.middleware.CORS(
						s.middleware.ContentType(handler)))))
	}

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))

	// Request endpoints (auth required)
	mux.Handle("/api/v1/instance-ids", withMiddleware(s.middleware.AuthRequired(s.handlers.AllocateInstanceID)))
	mux.Handle("/api/v1/requests", withMiddleware(s.middleware.AuthRequired(s.handlers.SendRequest)))

	// Admin endpoints (admin auth required)
	mux.Handle("/api/v1/admin/peers", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminListPeers)))
	mux.Handle("/api/v1/admin/stats", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminGetStats)))
	mux.Handle("/api/v1/admin/traffic", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminReadTraffic)))
	mux.Handle("/api/v1/admin/traffic/stream", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminStreamTraffic)))

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	// Root endpoint with API info
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service":     "PLDM Agent HTTP API",
		"version":     "1.0.0",
		"description": "Send PLDM requests and inspect link traffic",
		"endpoints": map[string]interface{}{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"requests": map[string]string{
				"allocateInstanceId": "POST /api/v1/instance-ids",
				"send":               "POST /api/v1/requests",
			},
			"admin": map[string]string{
				"peers":         "GET /api/v1/admin/peers",
				"stats":         "GET /api/v1/admin/stats",
				"traffic":       "GET /api/v1/admin/traffic?offset={offset}&limit={limit}",
				"trafficStream": "GET /api/v1/admin/traffic/stream (websocket)",
			},
			"health": "GET /api/v1/health",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	s.writeJSON(w, info, http.StatusOK)
}

// writeError writes an error response as JSON
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err.Error())
	}
}
