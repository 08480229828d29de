package httpclient

import (
	"fmt"
	"time"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the agent HTTP API (e.g., "http://localhost:8080")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries bounds retries of idempotent requests after a network
	// error or a 502/503 answer
	MaxRetries int

	// RetryDelay is the pause before the first retry; it doubles per attempt
	RetryDelay time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
}

// APIError is a non-2xx answer from the agent
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("API error (%d): %s - %s", e.StatusCode, e.Status, e.Message)
}

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
	Admin    bool   `json:"admin,omitempty"`
	// Password is checked for admin logins when the agent has an admin
	// password hash
	Password string `json:"password,omitempty"`
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// InstanceIDResponse carries an allocated instance ID
type InstanceIDResponse struct {
	InstanceID uint8 `json:"instanceId"`
}

// SendRequest asks the agent to send a PLDM request. Set either Request
// (hex encoded message) or PLDMType and Command.
type SendRequest struct {
	Peer      *int   `json:"peer,omitempty"`
	Request   string `json:"request,omitempty"`
	PLDMType  *uint8 `json:"pldmType,omitempty"`
	Command   *uint8 `json:"command,omitempty"`
	Data      string `json:"data,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// SendResponse is the reply to a SendRequest
type SendResponse struct {
	Peer           int     `json:"peer"`
	InstanceID     uint8   `json:"instanceId"`
	Request        string  `json:"request"`
	Response       string  `json:"response"`
	CompletionCode *uint8  `json:"completionCode,omitempty"`
	LatencyMs      float64 `json:"latencyMs"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy         bool    `json:"healthy"`
	State           string  `json:"state"`
	Running         bool    `json:"running"`
	PendingRequests int     `json:"pendingRequests"`
	LocalEID        int     `json:"localEid"`
	Peers           int     `json:"peers"`
	Unresponsive    int     `json:"unresponsivePeers"`
	TraceEndOffset  int64   `json:"traceEndOffset"`
	UptimeSeconds   float64 `json:"uptimeSeconds"`
	Message         string  `json:"message"`
}

// PeerInfo describes one endpoint
type PeerInfo struct {
	EID           int       `json:"eid"`
	Configured    bool      `json:"configured"`
	Health        string    `json:"health"`
	RequestsSent  uint64    `json:"requestsSent"`
	Replies       uint64    `json:"replies"`
	Timeouts      uint64    `json:"timeouts"`
	SendFailures  uint64    `json:"sendFailures"`
	Superseded    uint64    `json:"superseded"`
	Cancelled     uint64    `json:"cancelled"`
	InFlight      int       `json:"inFlight"`
	LastSeen      time.Time `json:"lastSeen,omitempty"`
	LastLatencyMs float64   `json:"lastLatencyMs"`
}

// AdminPeersResponse lists every known peer
type AdminPeersResponse struct {
	Peers []PeerInfo `json:"peers"`
}

// TransportStats are the transport counters
type TransportStats struct {
	State        string `json:"state"`
	Pending      int    `json:"pending"`
	Sent         uint64 `json:"sent"`
	Replies      uint64 `json:"replies"`
	Timeouts     uint64 `json:"timeouts"`
	SendFailures uint64 `json:"sendFailures"`
	Superseded   uint64 `json:"superseded"`
	Cancelled    uint64 `json:"cancelled"`
	Orphans      uint64 `json:"orphans"`
	Malformed    uint64 `json:"malformed"`
}

// TraceStats are the trace log counters
type TraceStats struct {
	TotalRecords int64            `json:"totalRecords"`
	Retained     int              `json:"retained"`
	Discarded    int64            `json:"discarded"`
	FirstOffset  int64            `json:"firstOffset"`
	EndOffset    int64            `json:"endOffset"`
	ByOutcome    map[string]int64 `json:"byOutcome"`
	Subscribers  int              `json:"subscribers"`
	Missed       int64            `json:"missed"`
}

// AdminStatsResponse represents system statistics
type AdminStatsResponse struct {
	LinkKind  string         `json:"linkKind"`
	Interface string         `json:"interface"`
	LocalEID  int            `json:"localEid"`
	Transport TransportStats `json:"transport"`
	Trace     TraceStats     `json:"trace"`
}

// TrafficRecord is one traced frame
type TrafficRecord struct {
	Offset     int64     `json:"offset"`
	Timestamp  time.Time `json:"timestamp"`
	Direction  string    `json:"direction"`
	Peer       int       `json:"peer"`
	InstanceID uint8     `json:"instanceId"`
	Payload    string    `json:"payload"`
	Outcome    string    `json:"outcome"`
}

// TrafficResponse is a page of traced frames
type TrafficResponse struct {
	Records     []TrafficRecord `json:"records"`
	StartOffset int64           `json:"startOffset"`
	EndOffset   int64           `json:"endOffset"`
	Count       int             `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
