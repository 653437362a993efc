package pagetest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/vango-dev/pagewire/pkg/dispatch"
	"github.com/vango-dev/pagewire/pkg/protocol"
	"github.com/vango-dev/pagewire/pkg/registry"
	"github.com/vango-dev/pagewire/pkg/transport"
	"github.com/vango-dev/pagewire/pkg/ui"
)

// Harness is a registry and dispatcher pair for tests.
type Harness struct {
	t          testing.TB
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
}

// New creates a Harness. Reaping is disabled; the registry is closed when
// the test ends.
func New(t testing.TB, opts ...dispatch.Option) *Harness {
	t.Helper()
	reg := registry.New(registry.WithIdleTimeout(0))
	t.Cleanup(reg.Close)
	return &Harness{
		t:          t,
		Registry:   reg,
		Dispatcher: dispatch.New(reg, opts...),
	}
}

// Register registers page and returns its id.
func (h *Harness) Register(page *ui.Page) int64 {
	h.t.Helper()
	id, err := h.Registry.Register(page)
	if err != nil {
		h.t.Fatalf("register page: %v", err)
	}
	return id
}

// Connect opens a push-capable recorder on the page, the way a channel's
// connect message does.
func (h *Harness) Connect(pageID int64) *Recorder {
	h.t.Helper()
	rec := NewRecorder(h.Registry.NextConnID(), true)
	env := &protocol.Envelope{Kind: protocol.KindConnect, PageID: pageID, ConnectionID: rec.ID()}
	outcome, err := h.Dispatcher.Dispatch(context.Background(), env, rec)
	if err != nil || outcome != dispatch.OutcomeConnect {
		h.t.Fatalf("connect to page %d: outcome=%v err=%v", pageID, outcome, err)
	}
	return rec
}

// Disconnect closes rec the way a channel close does.
func (h *Harness) Disconnect(pageID int64, rec *Recorder) {
	_ = rec.Close()
	remaining, removed := h.Registry.RemoveTransport(pageID, rec.ID())
	if removed && remaining == 0 {
		h.Dispatcher.Disconnect(context.Background(), pageID)
	}
}

// Send decodes raw client JSON and dispatches it from origin.
func (h *Harness) Send(origin transport.Transport, raw string) (dispatch.Outcome, error) {
	h.t.Helper()
	env, err := protocol.Decode([]byte(raw))
	if err != nil {
		h.t.Fatalf("decode %s: %v", truncate(raw, 200), err)
	}
	env.ConnectionID = origin.ID()
	return h.Dispatcher.Dispatch(context.Background(), env, origin)
}

// Event dispatches a component event.
func (h *Harness) Event(origin transport.Transport, pageID, componentID int64, eventType string, payload map[string]any) (dispatch.Outcome, error) {
	env := &protocol.Envelope{
		Kind:         protocol.KindEvent,
		EventType:    eventType,
		PageID:       pageID,
		ComponentID:  componentID,
		HasComponent: true,
		ConnectionID: origin.ID(),
		Payload:      payload,
	}
	return h.Dispatcher.Dispatch(context.Background(), env, origin)
}

// Click dispatches a click on a component.
func (h *Harness) Click(origin transport.Transport, pageID, componentID int64) (dispatch.Outcome, error) {
	return h.Event(origin, pageID, componentID, "click", map[string]any{})
}

// PageEvent dispatches a page-level event.
func (h *Harness) PageEvent(origin transport.Transport, pageID int64, eventType string, payload map[string]any) (dispatch.Outcome, error) {
	env := &protocol.Envelope{
		Kind:         protocol.KindPageEvent,
		EventType:    eventType,
		PageID:       pageID,
		ConnectionID: origin.ID(),
		Payload:      payload,
	}
	return h.Dispatcher.Dispatch(context.Background(), env, origin)
}

// PollUpdate sends a page_update request over a fresh poll transport.
func (h *Harness) PollUpdate(pageID int64) *transport.Poll {
	h.t.Helper()
	poll := transport.NewPoll(0)
	env := &protocol.Envelope{
		Kind:      protocol.KindEvent,
		EventType: protocol.EventPageUpdate,
		PageID:    pageID,
		Payload:   map[string]any{},
	}
	if _, err := h.Dispatcher.Dispatch(context.Background(), env, poll); err != nil {
		h.t.Fatalf("page_update: %v", err)
	}
	return poll
}

// Nodes extracts the tree carried by a page_update message.
func Nodes(t testing.TB, msg *protocol.Message) []ui.Node {
	t.Helper()
	if msg == nil {
		t.Fatalf("expected a page_update message, got nil")
		return nil
	}
	if msg.Type != protocol.MsgPageUpdate {
		t.Fatalf("expected page_update, got %q", msg.Type)
	}
	nodes, ok := msg.Data.([]ui.Node)
	if !ok {
		t.Fatalf("page_update data is %T, want []ui.Node", msg.Data)
	}
	return nodes
}

// Find returns the first node with the given component id.
func Find(nodes []ui.Node, id int64) (ui.Node, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
		if found, ok := Find(n.Children, id); ok {
			return found, true
		}
	}
	return ui.Node{}, false
}

// ExpectText asserts that the message's encoded tree contains text.
func ExpectText(t testing.TB, msg *protocol.Message, text string) {
	t.Helper()
	data := encode(t, msg)
	if !strings.Contains(data, text) {
		t.Errorf("expected update to contain %q, got:\n%s", text, truncate(data, 500))
	}
}

// ExpectNoText asserts that the message's encoded tree does not contain
// text.
func ExpectNoText(t testing.TB, msg *protocol.Message, text string) {
	t.Helper()
	data := encode(t, msg)
	if strings.Contains(data, text) {
		t.Errorf("expected update to NOT contain %q, got:\n%s", text, truncate(data, 500))
	}
}

func encode(t testing.TB, msg *protocol.Message) string {
	t.Helper()
	if msg == nil {
		t.Fatalf("expected a message, got nil")
		return ""
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	return string(data)
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
