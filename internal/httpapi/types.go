package httpapi

import "time"

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
	Admin    bool   `json:"admin,omitempty"`
	// Password is checked for admin logins when the agent has an admin
	// password hash
	Password string `json:"password,omitempty"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// InstanceIDResponse carries a freshly allocated instance ID
type InstanceIDResponse struct {
	InstanceID uint8 `json:"instanceId"`
}

// SendRequest asks the agent to send one PLDM request and wait for the
// reply. Either Request (a complete hex-encoded message) or PLDMType and
// Command must be set; in the latter case the header is built with a
// fresh instance ID.
type SendRequest struct {
	Peer      *int   `json:"peer,omitempty"`
	Request   string `json:"request,omitempty"`
	PLDMType  *uint8 `json:"pldmType,omitempty"`
	Command   *uint8 `json:"command,omitempty"`
	Data      string `json:"data,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// SendResponse carries the reply to a SendRequest
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

// PeerInfo is the admin view of one endpoint
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

// TransportStats mirrors the transport counters
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

// TraceStats mirrors the trace log statistics
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
