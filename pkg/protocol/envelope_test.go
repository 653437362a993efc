package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, env *Envelope)
	}{
		{
			name:  "component event",
			input: `{"type":"event","event_data":{"event_type":"click","page_id":3,"id":17,"value":"x"}}`,
			check: func(t *testing.T, env *Envelope) {
				assert.Equal(t, KindEvent, env.Kind)
				assert.Equal(t, "click", env.EventType)
				assert.Equal(t, int64(3), env.PageID)
				assert.True(t, env.HasComponent)
				assert.Equal(t, int64(17), env.ComponentID)
				assert.Equal(t, "x", env.Payload["value"])
			},
		},
		{
			name:  "page event",
			input: `{"type":"page_event","event_data":{"event_type":"keydown","page_id":"5","key":"a"}}`,
			check: func(t *testing.T, env *Envelope) {
				assert.Equal(t, KindPageEvent, env.Kind)
				assert.Equal(t, int64(5), env.PageID)
				assert.False(t, env.HasComponent)
			},
		},
		{
			name:  "legacy connect",
			input: `{"type":"connect","page_id":9}`,
			check: func(t *testing.T, env *Envelope) {
				assert.Equal(t, KindConnect, env.Kind)
				assert.Equal(t, int64(9), env.PageID)
				assert.NotNil(t, env.Payload)
			},
		},
		{
			name:  "connect in event_data",
			input: `{"type":"connect","event_data":{"page_id":4}}`,
			check: func(t *testing.T, env *Envelope) {
				assert.Equal(t, int64(4), env.PageID)
			},
		},
		{
			name:  "polling with websocket id",
			input: `{"type":"event","event_data":{"event_type":"page_update","page_id":1,"websocket_id":8}}`,
			check: func(t *testing.T, env *Envelope) {
				assert.True(t, env.IsPageUpdate())
				assert.Equal(t, int64(8), env.ConnectionID)
			},
		},
		{
			name:  "client session id is discarded",
			input: `{"type":"event","event_data":{"event_type":"click","page_id":1,"session_id":"spoof"}}`,
			check: func(t *testing.T, env *Envelope) {
				assert.Empty(t, env.SessionID)
				_, ok := env.Payload["session_id"]
				assert.False(t, ok)
			},
		},
		{
			name:  "beforeunload",
			input: `{"type":"event","event_data":{"event_type":"beforeunload","page_id":1}}`,
			check: func(t *testing.T, env *Envelope) {
				assert.True(t, env.IsDisconnect())
			},
		},
		{
			name:  "numbers stay json.Number",
			input: `{"type":"event","event_data":{"event_type":"input","page_id":1,"id":2,"value":12345678901234567}}`,
			check: func(t *testing.T, env *Envelope) {
				assert.Equal(t, json.Number("12345678901234567"), env.Payload["value"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.input))
			require.NoError(t, err)
			tt.check(t, env)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	deep := `{"type":"event","event_data":{"event_type":"x","page_id":1,"v":` +
		strings.Repeat("[", MaxPayloadDepth+1) + strings.Repeat("]", MaxPayloadDepth+1) + `}}`

	tests := []struct {
		name  string
		input string
	}{
		{"not json", `hello`},
		{"empty", ``},
		{"unknown type", `{"type":"nope","page_id":1}`},
		{"missing type", `{"page_id":1}`},
		{"missing page", `{"type":"event","event_data":{"event_type":"click"}}`},
		{"bad page", `{"type":"event","event_data":{"event_type":"click","page_id":"abc"}}`},
		{"fractional page", `{"type":"event","event_data":{"event_type":"click","page_id":1.5}}`},
		{"missing event type", `{"type":"event","event_data":{"page_id":1}}`},
		{"non-string event type", `{"type":"event","event_data":{"event_type":5,"page_id":1}}`},
		{"bad component id", `{"type":"event","event_data":{"event_type":"click","page_id":1,"id":"x"}}`},
		{"event_data not object", `{"type":"event","event_data":[1,2]}`},
		{"too deep", deep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("Decode(%q) error = %v, want ErrDecode", tt.input, err)
			}
		})
	}
}

func TestDecodeTooLarge(t *testing.T) {
	data := make([]byte, MaxMessageSize+1)
	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeDepthError(t *testing.T) {
	deep := `{"type":"event","event_data":{"event_type":"x","page_id":1,"v":` +
		strings.Repeat(`{"a":`, MaxPayloadDepth) + `1` + strings.Repeat(`}`, MaxPayloadDepth) + `}}`
	_, err := Decode([]byte(deep))
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)
}
