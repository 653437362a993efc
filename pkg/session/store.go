package session

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("session: store is closed")

// Store persists per-session state keyed by session id.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save persists data, overwriting any previous value for sessionID.
	Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error

	// Load returns (nil, nil) when the session is missing or expired.
	Load(ctx context.Context, sessionID string) ([]byte, error)

	// Delete removes a session. Missing sessions are not an error.
	Delete(ctx context.Context, sessionID string) error

	// Touch moves the expiry without rewriting the data.
	// Missing sessions are not an error.
	Touch(ctx context.Context, sessionID string, expiresAt time.Time) error

	// SaveAll persists several sessions, atomically where the backend allows.
	SaveAll(ctx context.Context, sessions map[string]Data) error

	Close() error
}

// Data is one stored session with its expiry.
type Data struct {
	Data      []byte
	ExpiresAt time.Time
}
