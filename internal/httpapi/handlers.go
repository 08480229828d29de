package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/agent"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/tracelog"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

const (
	defaultTrafficLimit = 100
	maxTrafficLimit     = 1000
	// maxRequestBody bounds a SendRequest body; a PLDM message is small.
	maxRequestBody = 64 << 10
	// maxTimeoutMs bounds a per-request timeout to ten minutes.
	maxTimeoutMs = 10 * 60 * 1000
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	agent     *agent.Agent
	jwtAuth   *JWTAuth
	adminHash []byte
	logger    *logging.Logger
}

// NewHandlers creates a new handlers instance. adminPasswordHash is a
// bcrypt hash admin logins must match; empty lets anyone log in as admin.
func NewHandlers(a *agent.Agent, jwtAuth *JWTAuth, adminPasswordHash string, logger *logging.Logger) *Handlers {
	h := &Handlers{
		agent:   a,
		jwtAuth: jwtAuth,
		logger:  logging.OrNop(logger).WithComponent("http"),
	}
	if adminPasswordHash != "" {
		h.adminHash = []byte(adminPasswordHash)
	}
	return h
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.validateJSON(r); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validateAuthRequest(&req); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Clients name themselves; only admin logins carry a credential.
	isAdmin := req.Admin || req.ClientID == "admin"
	if isAdmin && h.adminHash != nil {
		if err := bcrypt.CompareHashAndPassword(h.adminHash, []byte(req.Password)); err != nil {
			h.logger.Warn("admin login rejected", "client_id", req.ClientID)
			h.writeError(w, "invalid admin password", http.StatusUnauthorized)
			return
		}
	}

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		h.writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		IsAdmin:   isAdmin,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Request endpoints

// AllocateInstanceID handles POST /api/v1/instance-ids
func (h *Handlers) AllocateInstanceID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := h.agent.NextInstanceID()
	h.writeJSON(w, InstanceIDResponse{InstanceID: uint8(id)}, http.StatusOK)
}

// SendRequest handles POST /api/v1/requests
func (h *Handlers) SendRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.validateJSON(r); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	peer, err := h.resolvePeer(req.Peer)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := h.buildMessage(&req)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TimeoutMs < 0 || req.TimeoutMs > maxTimeoutMs {
		h.writeError(w, fmt.Sprintf("timeoutMs must be between 0 and %d", maxTimeoutMs), http.StatusBadRequest)
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	start := time.Now()
	reply, err := h.agent.SendRequest(r.Context(), peer, msg, timeout)
	latency := time.Since(start)
	if err != nil {
		h.logger.Warn("request failed",
			"peer", uint8(peer),
			"instance_id", uint8(pldm.InstanceIDOf(msg[0])),
			"client_id", GetClientID(r),
			"request_id", GetRequestID(r),
			"error", err.Error())
		h.writeError(w, err.Error(), statusForError(err))
		return
	}

	resp := SendResponse{
		Peer:       int(peer),
		InstanceID: uint8(pldm.InstanceIDOf(reply[0])),
		Request:    hex.EncodeToString(msg),
		Response:   hex.EncodeToString(reply),
		LatencyMs:  float64(latency.Microseconds()) / 1000,
	}
	if cc, ok := pldm.CompletionCode(reply); ok {
		resp.CompletionCode = &cc
	}
	h.writeJSON(w, resp, http.StatusOK)
}

// Admin endpoints

// AdminListPeers handles GET /api/v1/admin/peers
func (h *Handlers) AdminListPeers(w http.ResponseWriter, r *http.Request) {
	if !IsAdmin(r) {
		h.writeError(w, "Admin privileges required", http.StatusForbidden)
		return
	}

	list := h.agent.Peers().List()
	resp := AdminPeersResponse{Peers: make([]PeerInfo, 0, len(list))}
	for _, p := range list {
		resp.Peers = append(resp.Peers, PeerInfo{
			EID:           int(p.EID),
			Configured:    p.Configured,
			Health:        string(p.Health),
			RequestsSent:  p.RequestsSent,
			Replies:       p.Replies,
			Timeouts:      p.Timeouts,
			SendFailures:  p.SendFailures,
			Superseded:    p.Superseded,
			Cancelled:     p.Cancelled,
			InFlight:      p.InFlight,
			LastSeen:      p.LastSeen,
			LastLatencyMs: float64(p.LastLatency.Microseconds()) / 1000,
		})
	}
	h.writeJSON(w, resp, http.StatusOK)
}

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	if !IsAdmin(r) {
		h.writeError(w, "Admin privileges required", http.StatusForbidden)
		return
	}

	s := h.agent.Stats()
	byOutcome := make(map[string]int64, len(s.Trace.ByOutcome))
	for outcome, n := range s.Trace.ByOutcome {
		byOutcome[string(outcome)] = n
	}

	h.writeJSON(w, AdminStatsResponse{
		LinkKind:  s.LinkKind,
		Interface: s.Interface,
		LocalEID:  h.agent.Config().LocalEID,
		Transport: TransportStats{
			State:        s.Transport.State.String(),
			Pending:      s.Transport.Pending,
			Sent:         s.Transport.Sent,
			Replies:      s.Transport.Replies,
			Timeouts:     s.Transport.Timeouts,
			SendFailures: s.Transport.SendFailures,
			Superseded:   s.Transport.Superseded,
			Cancelled:    s.Transport.Cancelled,
			Orphans:      s.Transport.Orphans,
			Malformed:    s.Transport.Malformed,
		},
		Trace: TraceStats{
			TotalRecords: s.Trace.TotalRecords,
			Retained:     s.Trace.Retained,
			Discarded:    s.Trace.Discarded,
			FirstOffset:  s.Trace.FirstOffset,
			EndOffset:    h.agent.TraceLog().EndOffset(),
			ByOutcome:    byOutcome,
			Subscribers:  s.Trace.Subscribers,
			Missed:       s.Trace.Missed,
		},
	}, http.StatusOK)
}

// AdminReadTraffic handles GET /api/v1/admin/traffic?offset={offset}&limit={limit}.
// Without an offset the most recent records are returned.
func (h *Handlers) AdminReadTraffic(w http.ResponseWriter, r *http.Request) {
	if !IsAdmin(r) {
		h.writeError(w, "Admin privileges required", http.StatusForbidden)
		return
	}

	query := r.URL.Query()
	limit := defaultTrafficLimit
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTrafficLimit {
			h.writeError(w, fmt.Sprintf("limit must be between 1 and %d", maxTrafficLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	log := h.agent.TraceLog()
	end := log.EndOffset()
	offset := max(end-int64(limit), 0)
	if v := query.Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			h.writeError(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
		offset = n
	}

	records, err := log.Read(r.Context(), offset, limit)
	if err != nil {
		h.writeError(w, fmt.Sprintf("Failed to read traffic: %v", err), http.StatusInternalServerError)
		return
	}

	if acceptsCapture(r) {
		h.writeCapture(w, tracelog.NewCapture(link.EID(h.agent.Config().LocalEID), offset, end, records))
		return
	}

	resp := TrafficResponse{
		Records:     make([]TrafficRecord, 0, len(records)),
		StartOffset: offset,
		EndOffset:   end,
		Count:       len(records),
	}
	for _, rec := range records {
		resp.Records = append(resp.Records, toTrafficRecord(rec))
	}
	h.writeJSON(w, resp, http.StatusOK)
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.agent.Health()

	resp := HealthResponse{
		Healthy:         health.Healthy,
		State:           health.State,
		Running:         health.Running,
		PendingRequests: health.PendingRequests,
		LocalEID:        health.LocalEID,
		Peers:           health.Peers,
		Unresponsive:    health.Unresponsive,
		TraceEndOffset:  health.TraceEndOffset,
		UptimeSeconds:   health.Uptime.Seconds(),
		Message:         "transport " + strings.ToLower(health.State),
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSON(w, resp, statusCode)
}

// Helper methods

// resolvePeer returns the requested peer, or the first configured one.
func (h *Handlers) resolvePeer(peer *int) (link.EID, error) {
	if peer == nil {
		peers := h.agent.Config().Peers
		if len(peers) == 0 {
			return 0, fmt.Errorf("peer is required")
		}
		return link.EID(peers[0]), nil
	}
	if *peer < 0 || *peer > 255 {
		return 0, fmt.Errorf("peer must be between 0 and 255")
	}
	return link.EID(*peer), nil
}

// buildMessage returns the raw request, or builds one with a fresh
// instance ID from pldmType, command and data.
func (h *Handlers) buildMessage(req *SendRequest) ([]byte, error) {
	if req.Request != "" {
		if req.PLDMType != nil || req.Command != nil || req.Data != "" {
			return nil, fmt.Errorf("request cannot be combined with pldmType, command or data")
		}
		msg, err := hex.DecodeString(req.Request)
		if err != nil {
			return nil, fmt.Errorf("request must be hex encoded: %w", err)
		}
		if len(msg) < pldm.MinHeaderSize {
			return nil, fmt.Errorf("request must hold at least the %d byte PLDM header", pldm.MinHeaderSize)
		}
		if !pldm.IsRequestByte(msg[0]) {
			return nil, fmt.Errorf("request must have the request bit set")
		}
		return msg, nil
	}

	if req.PLDMType == nil || req.Command == nil {
		return nil, fmt.Errorf("either request or pldmType and command are required")
	}
	if *req.PLDMType > 0x3F {
		return nil, fmt.Errorf("pldmType must be between 0 and 63")
	}
	data, err := hex.DecodeString(req.Data)
	if err != nil {
		return nil, fmt.Errorf("data must be hex encoded: %w", err)
	}
	return pldm.NewRequest(h.agent.NextInstanceID(), *req.PLDMType, *req.Command, data), nil
}

// statusForError maps request failures onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, transport.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, transport.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, transport.ErrSendFailure):
		return http.StatusBadGateway
	case errors.Is(err, transport.ErrNotRunning),
		errors.Is(err, transport.ErrTransportClosing),
		errors.Is(err, agent.ErrNotStarted),
		errors.Is(err, agent.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toTrafficRecord(rec tracelog.Record) TrafficRecord {
	return TrafficRecord{
		Offset:     rec.Offset,
		Timestamp:  rec.Timestamp,
		Direction:  string(rec.Direction),
		Peer:       int(rec.Peer),
		InstanceID: uint8(rec.InstanceID),
		Payload:    hex.EncodeToString(rec.Payload),
		Outcome:    string(rec.Outcome),
	}
}

// acceptsCapture reports whether the caller asked for the CBOR capture
// format instead of JSON.
func acceptsCapture(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == tracelog.CaptureContentType {
			return true
		}
	}
	return false
}

func (h *Handlers) writeCapture(w http.ResponseWriter, c *tracelog.Capture) {
	data, err := c.Encode()
	if err != nil {
		h.writeError(w, fmt.Sprintf("Failed to encode capture: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", tracelog.CaptureContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write capture", "error", err.Error())
	}
}

// writeError writes an error response as JSON
func (h *Handlers) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err.Error())
	}
}

// validateJSON validates that the request has valid JSON content-type
func (h *Handlers) validateJSON(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func (h *Handlers) validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return fmt.Errorf("clientId must be at least 2 characters")
	}
	return nil
}
