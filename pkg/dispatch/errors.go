package dispatch

import (
	"fmt"

	"github.com/oklog/ulid/v2"
	pkgerrors "github.com/pkg/errors"
)

// HandlerError wraps a failure inside user event code. Err carries the stack
// captured where the failure was observed; format it with %+v to print it.
type HandlerError struct {
	PageID      int64
	ComponentID int64
	EventType   string
	EventID     ulid.ULID
	SessionID   string

	// Panic is the recovered value when the handler panicked, and Stack the
	// goroutine stack at the panic site.
	Panic any
	Stack []byte

	Err error
}

func (e *HandlerError) Error() string {
	if e.ComponentID != 0 {
		return fmt.Sprintf("dispatch: handler %q on page %d component %d: %v",
			e.EventType, e.PageID, e.ComponentID, e.Err)
	}
	return fmt.Sprintf("dispatch: handler %q on page %d: %v", e.EventType, e.PageID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Trace returns the stack to log for the failure: the panic site for a
// panic, otherwise the stack recorded when the error was returned.
func (e *HandlerError) Trace() string {
	if len(e.Stack) > 0 {
		return string(e.Stack)
	}
	return fmt.Sprintf("%+v", e.Err)
}

func newHandlerError(ev eventInfo, err error, p *recovered) *HandlerError {
	herr := &HandlerError{
		PageID:      ev.pageID,
		ComponentID: ev.componentID,
		EventType:   ev.eventType,
		EventID:     ev.id,
		SessionID:   ev.sessionID,
	}
	if p != nil {
		herr.Panic = p.value
		herr.Stack = p.stack
		herr.Err = pkgerrors.Errorf("panic: %v", p.value)
	} else {
		herr.Err = pkgerrors.WithStack(err)
	}
	return herr
}

type eventInfo struct {
	id          ulid.ULID
	pageID      int64
	componentID int64
	eventType   string
	sessionID   string
}
