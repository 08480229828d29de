package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
)

func instanceID(v uint8) pldm.InstanceID {
	return pldm.InstanceID(v)
}

// scriptedLink is a link.Link whose inbound traffic is pushed by the test.
type scriptedLink struct {
	mu      sync.Mutex
	opened  bool
	closed  bool
	openErr error
	sendErr error
	inbox   [][]byte
	panics  int

	// onSend runs inside Send, before it returns.
	onSend func(peer link.EID, msg []byte)

	sends atomic.Int64
}

func newScriptedLink() *scriptedLink {
	return &scriptedLink{}
}

func (l *scriptedLink) Open(ctx context.Context, _ link.Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openErr != nil {
		return l.openErr
	}
	l.opened = true
	return nil
}

func (l *scriptedLink) Send(peer link.EID, msg []byte) error {
	l.sends.Add(1)

	l.mu.Lock()
	err, hook := l.sendErr, l.onSend
	l.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(peer, msg)
	}
	return nil
}

func (l *scriptedLink) Receive() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.panics > 0 {
		l.panics--
		panic("scripted receive panic")
	}
	if len(l.inbox) == 0 {
		return nil, link.ErrNoData
	}
	msg := l.inbox[0]
	l.inbox = l.inbox[1:]
	return msg, nil
}

func (l *scriptedLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *scriptedLink) deliver(msg []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbox = append(l.inbox, msg)
}

func (l *scriptedLink) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inbox)
}

func (l *scriptedLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// reply builds a success reply to the request with the given id.
func reply(id uint8, data ...byte) []byte {
	msg, err := pldm.NewReply(pldm.NewRequest(instanceID(id), 0x02, 0x11, nil), 0, data)
	if err != nil {
		panic(err)
	}
	return msg
}
