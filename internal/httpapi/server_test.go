package httpapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/agent"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/config"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/tracelog"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

func doJSON(t *testing.T, setup *TestServerSetup, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, setup.HTTP.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := setup.HTTP.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func ptr[T any](v T) *T { return &v }

func TestLogin(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := doJSON(t, setup, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "bmc-tool"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	auth := decode[AuthResponse](t, resp)
	assert.Equal(t, "bmc-tool", auth.ClientID)
	assert.False(t, auth.IsAdmin)

	claims, err := setup.Auth.ValidateToken(auth.Token)
	require.NoError(t, err)
	assert.Equal(t, "bmc-tool", claims.ClientID)

	resp = doJSON(t, setup, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "ops", Admin: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[AuthResponse](t, resp).IsAdmin)

	resp = doJSON(t, setup, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, setup, http.MethodGet, "/api/v1/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestLogin_AdminPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	setup := NewTestServerSetup(t, func(_ *config.Config, c *Config) {
		c.AdminPasswordHash = hash
	})

	resp := doJSON(t, setup, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "ops", Admin: true})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, setup, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, setup, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "ops", Admin: true, Password: "s3cret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[AuthResponse](t, resp).IsAdmin)

	// plain clients need no password
	resp = doJSON(t, setup, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "bmc-tool"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[AuthResponse](t, resp).IsAdmin)
}

func TestHealth(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := doJSON(t, setup, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	health := decode[HealthResponse](t, resp)
	assert.True(t, health.Healthy)
	assert.Equal(t, "Running", health.State)
	assert.Equal(t, 8, health.LocalEID)
	assert.Equal(t, 1, health.Peers)

	require.NoError(t, setup.Agent.Stop(context.Background()))
	resp = doJSON(t, setup, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, decode[HealthResponse](t, resp).Healthy)
}

func TestRequestIDPropagated(t *testing.T) {
	setup := NewTestServerSetup(t)

	req, err := http.NewRequest(http.MethodGet, setup.HTTP.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "trace-me")
	resp, err := setup.HTTP.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "trace-me", resp.Header.Get(RequestIDHeader))
}

func TestAllocateInstanceID(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "client", false)

	first := decode[InstanceIDResponse](t, doJSON(t, setup, http.MethodPost, "/api/v1/instance-ids", token, nil))
	second := decode[InstanceIDResponse](t, doJSON(t, setup, http.MethodPost, "/api/v1/instance-ids", token, nil))
	assert.Equal(t, (first.InstanceID+1)%pldm.InstanceIDCount, second.InstanceID)

	resp := doJSON(t, setup, http.MethodPost, "/api/v1/instance-ids", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendRequest_BuiltHeader(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "client", false)

	resp := doJSON(t, setup, http.MethodPost, "/api/v1/requests", token, SendRequest{
		PLDMType:  ptr(uint8(0)),
		Command:   ptr(uint8(0x02)),
		Data:      "abcd",
		TimeoutMs: 1000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[SendResponse](t, resp)
	assert.Equal(t, 9, out.Peer)
	require.NotNil(t, out.CompletionCode)
	assert.Equal(t, uint8(0), *out.CompletionCode)

	reply, err := hex.DecodeString(out.Response)
	require.NoError(t, err)
	assert.Equal(t, out.InstanceID, uint8(pldm.InstanceIDOf(reply[0])))
	assert.False(t, pldm.IsRequestByte(reply[0]))
	assert.Equal(t, []byte{0xAB, 0xCD}, reply[pldm.MinHeaderSize+1:])
}

func TestSendRequest_RawMessage(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "client", false)

	raw := pldm.NewRequest(7, 0, 0x04, nil)
	resp := doJSON(t, setup, http.MethodPost, "/api/v1/requests", token, SendRequest{
		Peer:    ptr(9),
		Request: hex.EncodeToString(raw),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint8(7), decode[SendResponse](t, resp).InstanceID)
}

func TestSendRequest_Validation(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "client", false)

	reply, err := pldm.NewReply(pldm.NewRequest(1, 0, 1, nil), 0, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		body SendRequest
	}{
		{"nothing to send", SendRequest{}},
		{"bad hex", SendRequest{Request: "zz"}},
		{"short message", SendRequest{Request: "80"}},
		{"reply instead of request", SendRequest{Request: hex.EncodeToString(reply)}},
		{"raw plus fields", SendRequest{Request: "800001", Command: ptr(uint8(1))}},
		{"type out of range", SendRequest{PLDMType: ptr(uint8(0x40)), Command: ptr(uint8(1))}},
		{"bad data hex", SendRequest{PLDMType: ptr(uint8(0)), Command: ptr(uint8(1)), Data: "q"}},
		{"peer out of range", SendRequest{Peer: ptr(300), PLDMType: ptr(uint8(0)), Command: ptr(uint8(1))}},
		{"negative timeout", SendRequest{PLDMType: ptr(uint8(0)), Command: ptr(uint8(1)), TimeoutMs: -1}},
		{"timeout above cap", SendRequest{PLDMType: ptr(uint8(0)), Command: ptr(uint8(1)), TimeoutMs: maxTimeoutMs + 1}},
		{"timeout that overflows a duration", SendRequest{PLDMType: ptr(uint8(0)), Command: ptr(uint8(1)), TimeoutMs: math.MaxInt}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, setup, http.MethodPost, "/api/v1/requests", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	t.Run("wrong content type", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, setup.HTTP.URL+"/api/v1/requests", strings.NewReader("{}"))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "text/plain")
		resp, err := setup.HTTP.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSendRequest_AgentStopped(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "client", false)
	require.NoError(t, setup.Agent.Stop(context.Background()))

	resp := doJSON(t, setup, http.MethodPost, "/api/v1/requests", token, SendRequest{
		PLDMType: ptr(uint8(0)),
		Command:  ptr(uint8(1)),
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusForError(t *testing.T) {
	wrap := func(err error) error {
		return &transport.RequestError{Op: "wait", InstanceID: 1, Peer: 9, Err: err}
	}

	assert.Equal(t, http.StatusBadRequest, statusForError(wrap(transport.ErrInvalidArgument)))
	assert.Equal(t, http.StatusConflict, statusForError(wrap(transport.ErrSuperseded)))
	assert.Equal(t, http.StatusGatewayTimeout, statusForError(wrap(transport.ErrTimeout)))
	assert.Equal(t, http.StatusGatewayTimeout, statusForError(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadGateway, statusForError(wrap(fmt.Errorf("%w: boom", transport.ErrSendFailure))))
	assert.Equal(t, http.StatusServiceUnavailable, statusForError(wrap(transport.ErrTransportClosing)))
	assert.Equal(t, http.StatusServiceUnavailable, statusForError(agent.ErrNotStarted))
	assert.Equal(t, http.StatusInternalServerError, statusForError(fmt.Errorf("other")))
}

func TestNoAuthMode(t *testing.T) {
	setup := NewTestServerSetup(t, func(_ *config.Config, c *Config) { c.NoAuth = true })

	resp := doJSON(t, setup, http.MethodPost, "/api/v1/instance-ids", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, setup, http.MethodGet, "/api/v1/admin/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "admin is never bypassed")
}

func TestAdminEndpoints_RequireAdmin(t *testing.T) {
	setup := NewTestServerSetup(t)
	user := setup.GenerateTestToken(t, "client", false)

	for _, path := range []string{"/api/v1/admin/peers", "/api/v1/admin/stats", "/api/v1/admin/traffic"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, doJSON(t, setup, http.MethodGet, path, "", nil).StatusCode)
			assert.Equal(t, http.StatusForbidden, doJSON(t, setup, http.MethodGet, path, user, nil).StatusCode)
		})
	}
}

func TestAdminEndpoints_AfterTraffic(t *testing.T) {
	setup := NewTestServerSetup(t)
	user := setup.GenerateTestToken(t, "client", false)
	admin := setup.GenerateTestToken(t, "admin", true)

	for range 3 {
		resp := doJSON(t, setup, http.MethodPost, "/api/v1/requests", user, SendRequest{
			PLDMType: ptr(uint8(0)),
			Command:  ptr(uint8(1)),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Eventually(t, func() bool {
		p, ok := setup.Agent.Peers().Get(9)
		return ok && p.Replies == 3
	}, time.Second, time.Millisecond)

	t.Run("peers", func(t *testing.T) {
		resp := doJSON(t, setup, http.MethodGet, "/api/v1/admin/peers", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		peers := decode[AdminPeersResponse](t, resp).Peers
		require.Len(t, peers, 1)
		assert.Equal(t, 9, peers[0].EID)
		assert.Equal(t, "healthy", peers[0].Health)
		assert.Equal(t, uint64(3), peers[0].RequestsSent)
	})

	t.Run("stats", func(t *testing.T) {
		resp := doJSON(t, setup, http.MethodGet, "/api/v1/admin/stats", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		stats := decode[AdminStatsResponse](t, resp)
		assert.Equal(t, "loopback", stats.LinkKind)
		assert.Equal(t, uint64(3), stats.Transport.Sent)
		assert.Equal(t, uint64(3), stats.Transport.Replies)
		assert.Equal(t, int64(6), stats.Trace.TotalRecords)
		assert.Equal(t, int64(3), stats.Trace.ByOutcome["matched"])
	})

	t.Run("traffic", func(t *testing.T) {
		resp := doJSON(t, setup, http.MethodGet, "/api/v1/admin/traffic?offset=0&limit=4", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		page := decode[TrafficResponse](t, resp)
		assert.Equal(t, 4, page.Count)
		assert.Equal(t, int64(6), page.EndOffset)
		assert.Equal(t, int64(0), page.Records[0].Offset)
		for _, rec := range page.Records {
			if rec.Direction == "tx" {
				assert.Equal(t, "sent", rec.Outcome)
			} else {
				assert.Equal(t, "matched", rec.Outcome)
			}
		}

		resp = doJSON(t, setup, http.MethodGet, "/api/v1/admin/traffic?limit=2", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		latest := decode[TrafficResponse](t, resp)
		require.Equal(t, 2, latest.Count)
		assert.Equal(t, int64(4), latest.Records[0].Offset)

		resp = doJSON(t, setup, http.MethodGet, "/api/v1/admin/traffic?limit=0", admin, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp = doJSON(t, setup, http.MethodGet, "/api/v1/admin/traffic?offset=-1", admin, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("capture", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, setup.HTTP.URL+"/api/v1/admin/traffic?offset=0", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+admin)
		req.Header.Set("Accept", "application/cbor, application/json;q=0.5")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, tracelog.CaptureContentType, resp.Header.Get("Content-Type"))

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		capture, err := tracelog.DecodeCapture(data)
		require.NoError(t, err)
		assert.EqualValues(t, 8, capture.LocalEID)
		assert.Equal(t, int64(6), capture.EndOffset)

		records := capture.TraceRecords()
		require.Len(t, records, 6)
		for _, rec := range records {
			require.GreaterOrEqual(t, len(rec.Payload), pldm.MinHeaderSize)
			assert.Equal(t, rec.Direction == transport.DirectionTx, pldm.IsRequestByte(rec.Payload[0]))
		}
	})
}

func TestAdminStreamTraffic(t *testing.T) {
	setup := NewTestServerSetup(t)
	admin := setup.GenerateTestToken(t, "admin", true)

	url := "ws" + strings.TrimPrefix(setup.HTTP.URL, "http") + "/api/v1/admin/traffic/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": []string{"Bearer " + admin}})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	_, err = setup.Agent.SendRequest(context.Background(), 9, pldm.NewRequest(5, 0, 1, nil), time.Second)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got []TrafficRecord
	for len(got) < 2 {
		var rec TrafficRecord
		require.NoError(t, conn.ReadJSON(&rec))
		got = append(got, rec)
	}

	outcomes := map[string]string{got[0].Direction: got[0].Outcome, got[1].Direction: got[1].Outcome}
	assert.Equal(t, "sent", outcomes["tx"])
	assert.Equal(t, "matched", outcomes["rx"])
	assert.Equal(t, uint8(5), got[0].InstanceID)
}

func TestAdminStreamTraffic_RejectsUser(t *testing.T) {
	setup := NewTestServerSetup(t)
	user := setup.GenerateTestToken(t, "client", false)

	url := "ws" + strings.TrimPrefix(setup.HTTP.URL, "http") + "/api/v1/admin/traffic/stream?token=" + user
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRootAndNotFound(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := doJSON(t, setup, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[map[string]any](t, resp)
	assert.Equal(t, "PLDM Agent HTTP API", info["service"])

	resp = doJSON(t, setup, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecoveryMiddleware(t *testing.T) {
	m := NewMiddleware(NewJWTAuth("k"), false, nil)
	handler := m.Recovery(func(http.ResponseWriter, *http.Request) { panic("boom") })

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServer_StartStop(t *testing.T) {
	setup := NewTestServerSetup(t)
	srv := NewServer(setup.Agent, Config{Port: 0}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	require.Eventually(t, func() bool {
		return !strings.HasSuffix(srv.Addr(), ":0")
	}, time.Second, time.Millisecond)

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	resp, err := http.Get("http://127.0.0.1:" + port + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.NoError(t, <-errCh)
}
