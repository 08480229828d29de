package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TrafficStream delivers traced frames from the agent's websocket endpoint
type TrafficStream struct {
	client  *Client
	records chan TrafficRecord
	errors  chan error
	done    chan struct{}
	cancel  context.CancelFunc

	mu   sync.Mutex
	conn *websocket.Conn
}

// StreamConfig configures the traffic stream
type StreamConfig struct {
	// BufferSize for the record channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int

	// HandshakeTimeout bounds the websocket upgrade
	HandshakeTimeout time.Duration
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
	if sc.HandshakeTimeout == 0 {
		sc.HandshakeTimeout = 8 * time.Second
	}
}

// StreamTraffic opens the live traffic stream (admin only). Records
// arrive on Records until ctx ends or Close is called; connection
// failures are reported on Errors and retried.
func (c *Client) StreamTraffic(ctx context.Context, config StreamConfig) (*TrafficStream, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	config.SetDefaults()
	streamCtx, cancel := context.WithCancel(ctx)

	ts := &TrafficStream{
		client:  c,
		records: make(chan TrafficRecord, config.BufferSize),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go ts.run(streamCtx, config)
	return ts, nil
}

// Records returns the channel of traced frames
func (ts *TrafficStream) Records() <-chan TrafficRecord {
	return ts.records
}

// Errors returns the channel of connection errors
func (ts *TrafficStream) Errors() <-chan error {
	return ts.errors
}

// Done is closed once the stream has stopped
func (ts *TrafficStream) Done() <-chan struct{} {
	return ts.done
}

// Close stops the stream and waits for it to finish
func (ts *TrafficStream) Close() error {
	ts.cancel()

	ts.mu.Lock()
	if ts.conn != nil {
		_ = ts.conn.Close()
	}
	ts.mu.Unlock()

	<-ts.done
	return nil
}

// run is the connect loop with reconnection
func (ts *TrafficStream) run(ctx context.Context, config StreamConfig) {
	defer close(ts.done)
	defer close(ts.records)
	defer close(ts.errors)

	attempts := 0
	for {
		err := ts.connectAndStream(ctx, config)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			select {
			case ts.errors <- fmt.Errorf("streaming error: %w", err):
			default:
			}
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			select {
			case ts.errors <- fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts):
			default:
			}
			return
		}
		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndStream dials the websocket and forwards records until it fails
func (ts *TrafficStream) connectAndStream(ctx context.Context, config StreamConfig) error {
	target := ts.client.baseURL.ResolveReference(&url.URL{Path: "/api/v1/admin/traffic/stream"})
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		ReadBufferSize:   4 * 1024,
		WriteBufferSize:  4 * 1024,
		HandshakeTimeout: config.HandshakeTimeout,
	}
	header := http.Header{"Authorization": []string{"Bearer " + ts.client.token}}

	conn, resp, err := dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to stream: %w", &APIError{StatusCode: resp.StatusCode, Status: resp.Status})
		}
		return fmt.Errorf("failed to connect to stream: %w", err)
	}

	ts.mu.Lock()
	ts.conn = conn
	ts.mu.Unlock()
	defer func() {
		ts.mu.Lock()
		ts.conn = nil
		ts.mu.Unlock()
		_ = conn.Close()
	}()

	// Unblock ReadJSON when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var rec TrafficRecord
		if err := conn.ReadJSON(&rec); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		select {
		case ts.records <- rec:
		case <-ctx.Done():
			return nil
		}
	}
}
