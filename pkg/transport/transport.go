// Package transport carries server messages to browser clients.
//
// A Channel is a persistent websocket connection that can push at any time.
// A Poll wraps a single HTTP request: it can only answer the request that
// created it.
package transport

import (
	"context"
	"errors"

	"github.com/vango-dev/pagewire/pkg/protocol"
)

// ErrClosed is returned when pushing to a closed transport.
var ErrClosed = errors.New("transport: closed")

// Transport is one client connection.
type Transport interface {
	// ID is the connection id. Poll transports use the id the client sent,
	// or 0.
	ID() int64

	// CanPush reports whether the server may send messages the client did
	// not ask for.
	CanPush() bool

	Push(ctx context.Context, msg *protocol.Message) error

	Close() error
}
