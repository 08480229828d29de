package mem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
)

// HandlerFunc answers one request. Returning ok=false drops the request
// without a reply.
type HandlerFunc func(from link.EID, request []byte) (reply []byte, ok bool)

// EchoHandler replies with completion code 0 followed by the request data.
func EchoHandler(_ link.EID, request []byte) ([]byte, bool) {
	reply, err := pldm.NewReply(request, 0, request[pldm.MinHeaderSize:])
	if err != nil {
		return nil, false
	}
	return reply, true
}

// Responder plays the device side of a pair: it reads requests from its
// end and answers them with a HandlerFunc.
type Responder struct {
	end     *Link
	handler HandlerFunc
	delay   time.Duration
	poll    time.Duration
	logger  *logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	handled int
}

// ResponderOption customises a Responder.
type ResponderOption func(*Responder)

// WithHandler replaces EchoHandler.
func WithHandler(h HandlerFunc) ResponderOption {
	return func(r *Responder) {
		r.handler = h
	}
}

// WithDelay holds every reply back by d.
func WithDelay(d time.Duration) ResponderOption {
	return func(r *Responder) {
		r.delay = d
	}
}

// WithResponderLogger sets the responder's logger.
func WithResponderLogger(logger *logging.Logger) ResponderOption {
	return func(r *Responder) {
		r.logger = logging.OrNop(logger).WithComponent("mem-responder")
	}
}

// NewResponder creates a responder serving end. end must already be open.
func NewResponder(end *Link, opts ...ResponderOption) *Responder {
	r := &Responder{
		end:     end,
		handler: EchoHandler,
		poll:    time.Millisecond,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the serving goroutine. It stops when ctx ends or Stop is
// called.
func (r *Responder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
}

// Stop halts the serving goroutine and waits for it to exit.
func (r *Responder) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Handled returns how many requests have been answered.
func (r *Responder) Handled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handled
}

func (r *Responder) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		from, msg, err := r.end.ReceiveFrom()
		if errors.Is(err, link.ErrNoData) {
			if !sleep(ctx, r.poll) {
				return
			}
			continue
		}
		if err != nil {
			r.logger.Debug("responder receive stopped", "error", err.Error())
			return
		}
		if len(msg) < pldm.MinHeaderSize || !pldm.IsRequestByte(msg[0]) {
			continue
		}

		reply, ok := r.handler(from, msg)
		if !ok {
			continue
		}
		if r.delay > 0 && !sleep(ctx, r.delay) {
			return
		}
		if err := r.end.Send(from, reply); err != nil {
			r.logger.Warn("responder send failed", "error", err.Error())
			continue
		}

		r.mu.Lock()
		r.handled++
		r.mu.Unlock()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
