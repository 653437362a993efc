package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrDecode wraps every failure to turn client bytes into an Envelope.
	ErrDecode = errors.New("protocol: malformed message")

	// ErrMaxDepthExceeded is returned for payloads nested deeper than
	// MaxPayloadDepth.
	ErrMaxDepthExceeded = errors.New("protocol: maximum nesting depth exceeded")
)

// Kind classifies a client message.
type Kind string

const (
	KindConnect    Kind = "connect"
	KindEvent      Kind = "event"
	KindPageEvent  Kind = "page_event"
	KindDisconnect Kind = "disconnect"
)

func (k Kind) valid() bool {
	switch k {
	case KindConnect, KindEvent, KindPageEvent, KindDisconnect:
		return true
	}
	return false
}

// Event types with framework meaning.
const (
	// EventPageUpdate asks for the current tree without running handlers.
	EventPageUpdate = "page_update"

	// EventBeforeUnload is sent by polling clients when the tab goes away.
	EventBeforeUnload = "beforeunload"
)

// Payload keys the server interprets or owns.
const (
	keyEventType   = "event_type"
	keyPageID      = "page_id"
	keyComponentID = "id"
	keyWebsocketID = "websocket_id"
	keySessionID   = "session_id"
)

// Envelope is a decoded client message.
type Envelope struct {
	Kind      Kind
	EventType string
	PageID    int64

	ComponentID  int64
	HasComponent bool

	// ConnectionID is the channel the message arrived on. The server sets it;
	// the client-sent websocket_id is only used by polling requests.
	ConnectionID int64

	// SessionID is always filled in by the server.
	SessionID string

	Payload map[string]any
}

type rawEnvelope struct {
	Type      string          `json:"type"`
	EventData json.RawMessage `json:"event_data"`
	PageID    json.RawMessage `json:"page_id"`
}

// Decode parses a client message. Numbers in the payload are kept as
// json.Number. Any session id sent by the client is discarded.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > MaxMessageSize {
		return nil, decodeErr("message too large")
	}

	var raw rawEnvelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	env := &Envelope{Kind: Kind(raw.Type)}
	if !env.Kind.valid() {
		return nil, decodeErr("unknown message type %q", raw.Type)
	}

	env.Payload = map[string]any{}
	if len(raw.EventData) > 0 && !bytes.Equal(raw.EventData, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw.EventData))
		dec.UseNumber()
		if err := dec.Decode(&env.Payload); err != nil {
			return nil, fmt.Errorf("%w: event_data: %v", ErrDecode, err)
		}
		if env.Payload == nil {
			env.Payload = map[string]any{}
		}
	}
	if err := checkDepth(env.Payload, newDepthContext(MaxPayloadDepth)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	delete(env.Payload, keySessionID)

	pageID, ok := toInt64(env.Payload[keyPageID])
	if !ok && len(raw.PageID) > 0 {
		var v any
		dec := json.NewDecoder(bytes.NewReader(raw.PageID))
		dec.UseNumber()
		if err := dec.Decode(&v); err == nil {
			pageID, ok = toInt64(v)
		}
	}
	if !ok {
		return nil, decodeErr("missing page_id")
	}
	env.PageID = pageID

	if et, ok := env.Payload[keyEventType]; ok {
		s, isString := et.(string)
		if !isString {
			return nil, decodeErr("event_type must be a string")
		}
		env.EventType = s
	}
	if env.EventType == "" && (env.Kind == KindEvent || env.Kind == KindPageEvent) {
		return nil, decodeErr("missing event_type")
	}

	if v, present := env.Payload[keyComponentID]; present && v != nil {
		id, ok := toInt64(v)
		if !ok {
			return nil, decodeErr("component id must be an integer")
		}
		env.ComponentID = id
		env.HasComponent = true
	}
	if id, ok := toInt64(env.Payload[keyWebsocketID]); ok {
		env.ConnectionID = id
	}
	return env, nil
}

// IsPageUpdate reports whether the envelope is a pure tree request.
func (e *Envelope) IsPageUpdate() bool {
	return e.EventType == EventPageUpdate
}

// IsDisconnect reports whether the envelope ends the page's life on the
// client.
func (e *Envelope) IsDisconnect() bool {
	return e.Kind == KindDisconnect || e.EventType == EventBeforeUnload
}

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		return 0, false
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	case int64:
		return x, true
	case int:
		return int64(x), true
	}
	return 0, false
}
