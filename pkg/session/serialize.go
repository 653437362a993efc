package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Record is the stored form of one session's values.
type Record struct {
	ID         string                     `json:"id"`
	CreatedAt  time.Time                  `json:"created_at"`
	LastActive time.Time                  `json:"last_active"`
	Values     map[string]json.RawMessage `json:"values,omitempty"`
	Version    int                        `json:"version"`
}

// CurrentSerializationVersion is bumped on incompatible Record changes.
const CurrentSerializationVersion = 1

// Serialize encodes r, stamping the current version.
func Serialize(r *Record) ([]byte, error) {
	r.Version = CurrentSerializationVersion
	return json.Marshal(r)
}

// Deserialize decodes a Record. Records from a newer format are rejected.
func Deserialize(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.Version > CurrentSerializationVersion {
		return nil, fmt.Errorf("session: record version %d is newer than %d", r.Version, CurrentSerializationVersion)
	}
	return &r, nil
}

// Values is a typed key/value view over a Store. Every write extends the
// session's expiry by ttl.
type Values struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	// serialises read-modify-write cycles
	mu sync.Mutex
}

// NewValues wraps store. A ttl of zero or less uses DefaultMaxAge.
func NewValues(store Store, ttl time.Duration) *Values {
	if ttl <= 0 {
		ttl = DefaultMaxAge
	}
	return &Values{store: store, ttl: ttl, now: time.Now}
}

// Store returns the underlying store.
func (v *Values) Store() Store { return v.store }

func (v *Values) load(ctx context.Context, sessionID string) (*Record, error) {
	data, err := v.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		now := v.now()
		return &Record{ID: sessionID, CreatedAt: now, LastActive: now}, nil
	}
	return Deserialize(data)
}

func (v *Values) save(ctx context.Context, r *Record) error {
	r.LastActive = v.now()
	data, err := Serialize(r)
	if err != nil {
		return err
	}
	return v.store.Save(ctx, r.ID, data, r.LastActive.Add(v.ttl))
}

// Get decodes the value stored under key into dst. It reports false when the
// session or key is missing.
func (v *Values) Get(ctx context.Context, sessionID, key string, dst any) (bool, error) {
	r, err := v.load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	raw, ok := r.Values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("session: decode %q: %w", key, err)
	}
	return true, nil
}

// Set stores val under key.
func (v *Values) Set(ctx context.Context, sessionID, key string, val any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("session: encode %q: %w", key, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if r.Values == nil {
		r.Values = make(map[string]json.RawMessage)
	}
	r.Values[key] = raw
	return v.save(ctx, r)
}

// Delete removes key from the session.
func (v *Values) Delete(ctx context.Context, sessionID, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, ok := r.Values[key]; !ok {
		return nil
	}
	delete(r.Values, key)
	return v.save(ctx, r)
}

// Clear removes the whole session.
func (v *Values) Clear(ctx context.Context, sessionID string) error {
	return v.store.Delete(ctx, sessionID)
}

// Touch extends the session's expiry.
func (v *Values) Touch(ctx context.Context, sessionID string) error {
	return v.store.Touch(ctx, sessionID, v.now().Add(v.ttl))
}
