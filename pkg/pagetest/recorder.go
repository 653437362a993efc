package pagetest

import (
	"context"
	"sync"

	"github.com/vango-dev/pagewire/pkg/protocol"
	"github.com/vango-dev/pagewire/pkg/transport"
)

// Recorder is an in-memory transport that keeps every pushed message.
type Recorder struct {
	id      int64
	canPush bool

	mu       sync.Mutex
	messages []*protocol.Message
	closed   bool
	pushed   chan struct{}
}

var _ transport.Transport = (*Recorder)(nil)

// NewRecorder creates a recorder. canPush selects channel (true) or polling
// (false) behaviour.
func NewRecorder(id int64, canPush bool) *Recorder {
	return &Recorder{
		id:      id,
		canPush: canPush,
		pushed:  make(chan struct{}, 1024),
	}
}

func (r *Recorder) ID() int64 { return r.id }

func (r *Recorder) CanPush() bool { return r.canPush }

func (r *Recorder) Push(_ context.Context, msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return transport.ErrClosed
	}
	r.messages = append(r.messages, msg)
	select {
	case r.pushed <- struct{}{}:
	default:
	}
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Messages returns a copy of everything pushed so far.
func (r *Recorder) Messages() []*protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*protocol.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Count returns the number of pushed messages.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Last returns the most recent message, or nil.
func (r *Recorder) Last() *protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return nil
	}
	return r.messages[len(r.messages)-1]
}

// Pushed signals once per push, for tests that wait on asynchronous
// delivery.
func (r *Recorder) Pushed() <-chan struct{} { return r.pushed }
