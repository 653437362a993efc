// Package dispatch turns decoded client envelopes into handler calls and
// decides what, if anything, is sent back.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/pagewire/pkg/protocol"
	"github.com/vango-dev/pagewire/pkg/registry"
	"github.com/vango-dev/pagewire/pkg/transport"
	"github.com/vango-dev/pagewire/pkg/ui"
)

// Func is the shape of one dispatch step. Middleware wraps it.
type Func func(ctx context.Context, env *protocol.Envelope, origin transport.Transport) (Outcome, error)

// Middleware decorates dispatch, e.g. for metrics or tracing.
type Middleware func(next Func) Func

// Dispatcher runs the event pipeline against pages held in a Registry.
type Dispatcher struct {
	reg    *registry.Registry
	logger *slog.Logger

	crash   bool
	latency time.Duration
	exit    func(code int)

	middleware []Middleware
	chain      Func
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Nil keeps slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithCrashOnHandlerError terminates the process when a handler fails.
// Meant for development.
func WithCrashOnHandlerError(crash bool) Option {
	return func(d *Dispatcher) { d.crash = crash }
}

// WithLatency delays every push by d, to exercise clients under lag.
func WithLatency(latency time.Duration) Option {
	return func(d *Dispatcher) { d.latency = latency }
}

// WithExit replaces os.Exit for crash mode.
func WithExit(exit func(code int)) Option {
	return func(d *Dispatcher) {
		if exit != nil {
			d.exit = exit
		}
	}
}

// WithMiddleware appends dispatch middleware. The first one registered is
// the outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(d *Dispatcher) { d.middleware = append(d.middleware, mw...) }
}

// New creates a Dispatcher over reg.
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:    reg,
		logger: slog.Default(),
		exit:   os.Exit,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")

	chain := Func(d.dispatch)
	for i := len(d.middleware) - 1; i >= 0; i-- {
		chain = d.middleware[i](chain)
	}
	d.chain = chain
	return d
}

// Registry returns the registry the dispatcher works against.
func (d *Dispatcher) Registry() *registry.Registry { return d.reg }

// Latency returns the configured artificial push delay.
func (d *Dispatcher) Latency() time.Duration { return d.latency }

// Dispatch processes one envelope that arrived on origin. Unknown pages and
// components are not errors. The returned error is non-nil only for handler
// failures; it is informational, the outcome already reflects it.
func (d *Dispatcher) Dispatch(ctx context.Context, env *protocol.Envelope, origin transport.Transport) (Outcome, error) {
	return d.chain(ctx, env, origin)
}

func (d *Dispatcher) dispatch(ctx context.Context, env *protocol.Envelope, origin transport.Transport) (Outcome, error) {
	page, err := d.reg.Lookup(env.PageID)
	if err != nil {
		d.logger.Info("no page to load",
			"page_id", env.PageID,
			"kind", env.Kind,
			"event_type", env.EventType)
		return OutcomeNoPage, nil
	}
	d.reg.Touch(env.PageID)

	switch {
	case env.Kind == protocol.KindConnect:
		return d.connect(page, origin)
	case env.IsDisconnect():
		if origin.CanPush() {
			// Channels disconnect by closing; see OnClose.
			d.logger.Debug("ignoring disconnect sent over a channel",
				"page_id", env.PageID,
				"conn_id", origin.ID())
			return OutcomeNoUpdate, nil
		}
		d.Disconnect(ctx, env.PageID)
		return OutcomeDisconnect, nil
	case env.IsPageUpdate():
		return d.pageUpdate(ctx, page, origin)
	}

	e := &ui.Event{
		ID:           ulid.Make(),
		Kind:         string(env.Kind),
		Type:         env.EventType,
		Page:         page,
		ConnectionID: env.ConnectionID,
		SessionID:    env.SessionID,
		Payload:      env.Payload,
	}
	if env.Kind == protocol.KindEvent && env.HasComponent {
		e.ComponentID = env.ComponentID
	}

	var (
		outcome Outcome
		herr    *HandlerError
		nodes   []ui.Node
		opts    *protocol.PageOptions
	)
	page.Exclusive(func() {
		outcome, herr = d.run(ctx, page, env, e)
		if outcome == OutcomeRebuild {
			nodes = page.Build()
			opts = protocol.OptionsOf(page.Options)
		}
	})

	if herr != nil {
		d.logger.Error("error in event handler",
			"page_id", herr.PageID,
			"component_id", herr.ComponentID,
			"event_type", herr.EventType,
			"event_id", herr.EventID.String(),
			"error", herr.Err.Error(),
			"trace", herr.Trace())
		if d.crash {
			d.exit(1)
		}
		return outcome, herr
	}
	if outcome != OutcomeRebuild {
		return outcome, nil
	}

	d.pause(ctx)
	if origin.CanPush() {
		if err := d.broadcast(ctx, page.ID(), protocol.PageUpdate(nodes, nil)); err != nil {
			d.logger.Warn("broadcast incomplete", "page_id", page.ID(), "error", err)
		}
		return outcome, nil
	}
	if err := origin.Push(ctx, protocol.PageUpdate(nodes, opts)); err != nil {
		d.logger.Warn("reply failed", "page_id", page.ID(), "error", err)
	}
	return outcome, nil
}

func (d *Dispatcher) connect(page *ui.Page, origin transport.Transport) (Outcome, error) {
	if !origin.CanPush() {
		return OutcomeNoUpdate, nil
	}
	if err := d.reg.AddTransport(page.ID(), origin); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return OutcomeNoPage, nil
		}
		return OutcomeNoPage, err
	}
	d.logger.Debug("channel connected", "page_id", page.ID(), "conn_id", origin.ID())
	return OutcomeConnect, nil
}

func (d *Dispatcher) pageUpdate(ctx context.Context, page *ui.Page, origin transport.Transport) (Outcome, error) {
	var (
		nodes []ui.Node
		opts  *protocol.PageOptions
	)
	page.Exclusive(func() {
		nodes = page.Build()
		if !origin.CanPush() {
			opts = protocol.OptionsOf(page.Options)
		}
	})
	d.pause(ctx)
	if err := origin.Push(ctx, protocol.PageUpdate(nodes, opts)); err != nil {
		d.logger.Warn("page update reply failed", "page_id", page.ID(), "error", err)
	}
	return OutcomePoll, nil
}

// run executes the hook and handler phases. It is called with the page lock
// held.
func (d *Dispatcher) run(ctx context.Context, page *ui.Page, env *protocol.Envelope, e *ui.Event) (Outcome, *HandlerError) {
	var target ui.Target = page
	if env.Kind == protocol.KindEvent && env.HasComponent {
		c, err := page.Component(env.ComponentID)
		if err != nil {
			d.logger.Warn("component doesn't exist, it might have been removed before the event arrived",
				"page_id", env.PageID,
				"component_id", env.ComponentID,
				"event_type", env.EventType)
			d.hook(ctx, page, ui.PhaseBefore, e)
			d.hook(ctx, page, ui.PhaseAfter, e)
			return OutcomeNoTarget, nil
		}
		e.Target = c
		target = c
	}

	d.hook(ctx, target, ui.PhaseBefore, e)
	defer d.hook(ctx, target, ui.PhaseAfter, e)

	handlers := target.Handlers(env.EventType)
	if len(handlers) == 0 {
		d.logger.Debug("no handler",
			"page_id", env.PageID,
			"component_id", e.ComponentID,
			"event_type", env.EventType)
		return OutcomeNoHandler, nil
	}

	info := eventInfo{
		id:          e.ID,
		pageID:      env.PageID,
		componentID: e.ComponentID,
		eventType:   env.EventType,
		sessionID:   env.SessionID,
	}
	update := false
	for _, h := range handlers {
		res, p, err := call(ctx, h, e)
		if err != nil || p != nil {
			return OutcomeHandlerFailed, newHandlerError(info, err, p)
		}
		if res == ui.Update {
			update = true
		}
	}
	if update {
		return OutcomeRebuild, nil
	}
	return OutcomeNoUpdate, nil
}

// recovered is a panic caught in user code, with the stack of the
// panicking goroutine.
type recovered struct {
	value any
	stack []byte
}

func call(ctx context.Context, h ui.Handler, e *ui.Event) (res ui.Result, p *recovered, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = &recovered{value: r, stack: debug.Stack()}
		}
	}()
	res, err = h(ctx, e)
	return res, nil, err
}

// hook runs lifecycle hooks. Their failures never affect the outcome.
func (d *Dispatcher) hook(ctx context.Context, target ui.Target, phase string, e *ui.Event) {
	for _, h := range target.Handlers(phase) {
		_, p, err := call(ctx, h, e)
		switch {
		case p != nil:
			d.logger.Debug("hook panic", "phase", phase, "event_type", e.Type, "panic", p.value)
		case err != nil:
			d.logger.Debug("hook failed", "phase", phase, "event_type", e.Type, "error", err)
		}
	}
}

func (d *Dispatcher) pause(ctx context.Context) {
	if d.latency <= 0 {
		return
	}
	t := time.NewTimer(d.latency)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// broadcast pushes msg to every push-capable transport of the page
// concurrently. A transport that fails is closed.
func (d *Dispatcher) broadcast(ctx context.Context, pageID int64, msg *protocol.Message) error {
	var g errgroup.Group
	for _, t := range d.reg.Transports(pageID) {
		if !t.CanPush() {
			continue
		}
		t := t
		g.Go(func() error {
			if err := t.Push(ctx, msg); err != nil {
				d.logger.Debug("push failed, closing transport",
					"page_id", pageID,
					"conn_id", t.ID(),
					"error", err)
				_ = t.Close()
				return fmt.Errorf("conn %d: %w", t.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Update runs fn against the page under its lock and pushes the rebuilt tree
// to every open channel. Background goroutines use it to change a page
// outside of an event. Polling clients pick the change up with their next
// page_update.
func (d *Dispatcher) Update(ctx context.Context, pageID int64, fn func(p *ui.Page) error) error {
	page, err := d.reg.Lookup(pageID)
	if err != nil {
		return err
	}

	var nodes []ui.Node
	var fnErr error
	page.Exclusive(func() {
		if fnErr = fn(page); fnErr == nil {
			nodes = page.Build()
		}
	})
	if fnErr != nil {
		return fnErr
	}
	d.pause(ctx)
	return d.broadcast(ctx, pageID, protocol.PageUpdate(nodes, nil))
}

// Disconnect runs the page's disconnect hook and, when the page asks for
// it, forgets the page. Unknown pages are ignored.
func (d *Dispatcher) Disconnect(ctx context.Context, pageID int64) {
	page, err := d.reg.Lookup(pageID)
	if err != nil {
		return
	}

	var forget bool
	page.Exclusive(func() {
		e := &ui.Event{
			ID:   ulid.Make(),
			Kind: string(protocol.KindDisconnect),
			Type: ui.EventDisconnect,
			Page: page,
		}
		d.hook(ctx, page, ui.EventDisconnect, e)
		forget = page.Options.DeleteOnDisconnect
	})

	if forget {
		d.reg.Forget(pageID)
		d.logger.Debug("page forgotten on disconnect", "page_id", pageID)
	}
}
