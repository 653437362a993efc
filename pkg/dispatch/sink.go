package dispatch

import (
	"context"

	"github.com/vango-dev/pagewire/pkg/protocol"
	"github.com/vango-dev/pagewire/pkg/registry"
	"github.com/vango-dev/pagewire/pkg/transport"
)

var _ transport.Sink = (*Dispatcher)(nil)

// OnConnect binds a channel to its page.
func (d *Dispatcher) OnConnect(ctx context.Context, pageID int64, ch *transport.Channel) error {
	env := &protocol.Envelope{
		Kind:         protocol.KindConnect,
		PageID:       pageID,
		ConnectionID: ch.ID(),
		SessionID:    ch.SessionID(),
		Payload:      map[string]any{},
	}
	outcome, err := d.Dispatch(ctx, env, ch)
	if err != nil {
		return err
	}
	if outcome == OutcomeNoPage {
		return registry.ErrNotFound
	}
	return nil
}

// OnEnvelope dispatches an event read from a channel. Errors were already
// logged by the pipeline.
func (d *Dispatcher) OnEnvelope(ctx context.Context, env *protocol.Envelope, ch *transport.Channel) {
	_, _ = d.Dispatch(ctx, env, ch)
}

// OnClose drops the channel from its page. When it was the page's last
// channel, the page's disconnect hook runs.
func (d *Dispatcher) OnClose(ctx context.Context, ch *transport.Channel) {
	pageID := ch.PageID()
	if pageID == 0 {
		return
	}
	remaining, removed := d.reg.RemoveTransport(pageID, ch.ID())
	d.logger.Debug("channel closed",
		"page_id", pageID,
		"conn_id", ch.ID(),
		"remaining", remaining)
	if removed && remaining == 0 {
		d.Disconnect(ctx, pageID)
	}
}
