package transport

import (
	"context"
	"sync"

	"github.com/vango-dev/pagewire/pkg/protocol"
)

// Poll is the request-scoped transport behind the polling endpoint. It keeps
// the last pushed message so the HTTP handler can write it as the response.
type Poll struct {
	id int64

	mu     sync.Mutex
	reply  *protocol.Message
	closed bool
}

// NewPoll creates a poll transport. id is the channel id the client
// reported, if any.
func NewPoll(id int64) *Poll {
	return &Poll{id: id}
}

func (p *Poll) ID() int64 { return p.id }

func (p *Poll) CanPush() bool { return false }

// Push records msg as the reply. A later push replaces an earlier one.
func (p *Poll) Push(_ context.Context, msg *protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.reply = msg
	return nil
}

// Reply returns the recorded message, or nil when nothing was pushed.
func (p *Poll) Reply() *protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reply
}

// Encode returns the HTTP response body: the recorded message, or
// protocol.NoReply.
func (p *Poll) Encode() ([]byte, error) {
	msg := p.Reply()
	if msg == nil {
		return protocol.NoReply, nil
	}
	return msg.Encode()
}

func (p *Poll) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
