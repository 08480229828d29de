package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamBuffer     = 256
	streamWriteWait  = 5 * time.Second
	streamPingPeriod = 30 * time.Second
	streamPongWait   = streamPingPeriod + 10*time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   4 * 1024,
	WriteBufferSize:  4 * 1024,
	HandshakeTimeout: 4 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// AdminStreamTraffic handles GET /api/v1/admin/traffic/stream.
// Every frame traced after the upgrade is sent as one JSON text message.
func (h *Handlers) AdminStreamTraffic(w http.ResponseWriter, r *http.Request) {
	if !IsAdmin(r) {
		h.writeError(w, "Admin privileges required", http.StatusForbidden)
		return
	}

	// Subscribe before upgrading so no record between the two is missed.
	records, unsubscribe := h.agent.TraceLog().Subscribe(streamBuffer)
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	h.logger.Info("traffic stream opened", "client_id", GetClientID(r), "request_id", GetRequestID(r))
	defer h.logger.Info("traffic stream closed", "client_id", GetClientID(r))

	// The read side only handles control frames and notices the peer leaving.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case rec, ok := <-records:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "trace log closed"),
					time.Now().Add(streamWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(toTrafficRecord(rec)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
