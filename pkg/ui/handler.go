package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/oklog/ulid/v2"
)

// Reserved handler names. Before and After run around every named handler of
// the same component or page; Disconnect runs once when a page loses its last
// channel or the browser unloads it.
const (
	PhaseBefore     = "before"
	PhaseAfter      = "after"
	EventDisconnect = "disconnect"
)

// Result tells the dispatcher whether the page must be rebuilt and resent.
type Result int

const (
	// Update is the zero value: the page is rebuilt and pushed.
	Update Result = iota
	// NoUpdate suppresses the rebuild.
	NoUpdate
)

func (r Result) String() string {
	switch r {
	case Update:
		return "update"
	case NoUpdate:
		return "no_update"
	default:
		return "Result(" + strconv.Itoa(int(r)) + ")"
	}
}

// Handler reacts to a browser event. Returning an error marks the event as
// failed; the page is not rebuilt.
type Handler func(ctx context.Context, e *Event) (Result, error)

// Event is what a handler receives.
type Event struct {
	// ID correlates log lines for one dispatched event.
	ID ulid.ULID

	// Kind is the envelope kind ("event" or "page_event").
	Kind string

	// Type is the event type, e.g. "click" or "input".
	Type string

	Page *Page

	// Target is nil for page events.
	Target *Component

	ComponentID  int64
	ConnectionID int64
	SessionID    string

	// Payload is the raw event data sent by the browser.
	Payload map[string]any
}

// Value returns the raw payload value for key.
func (e *Event) Value(key string) any {
	if e == nil || e.Payload == nil {
		return nil
	}
	return e.Payload[key]
}

// Get returns the payload value for key formatted as a string.
// Missing keys yield "".
func (e *Event) Get(key string) string {
	switch v := e.Value(key).(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the payload value for key as an integer.
func (e *Event) Int(key string) (int64, bool) {
	switch v := e.Value(key).(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Target is anything that carries named handlers: a Component or a Page.
type Target interface {
	Handlers(event string) []Handler
}

type handlerSet map[string][]Handler

func (s *handlerSet) add(event string, h Handler) {
	if h == nil {
		return
	}
	if *s == nil {
		*s = make(handlerSet)
	}
	(*s)[event] = append((*s)[event], h)
}

func (s handlerSet) get(event string) []Handler {
	hs := s[event]
	if len(hs) == 0 {
		return nil
	}
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

// events lists the browser events with handlers, sorted, without the
// reserved phase names.
func (s handlerSet) events() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for name := range s {
		switch name {
		case PhaseBefore, PhaseAfter, EventDisconnect:
			continue
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
