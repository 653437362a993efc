package transport

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vango-dev/pagewire/pkg/protocol"
)

// ErrEventQueueFull is returned when a channel's event queue is full.
var ErrEventQueueFull = errors.New("transport: event queue full")

// ChannelConfig tunes a websocket channel.
type ChannelConfig struct {
	// ReadTimeout is the maximum time to wait for a message or pong from the
	// client.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// MaxMessageSize is the maximum size of an incoming message.
	// Default: protocol.MaxMessageSize.
	MaxMessageSize int64

	// MaxEventQueue is the number of events buffered ahead of the handler.
	// Default: 256.
	MaxEventQueue int

	// EventRate limits inbound events per second. Zero means unlimited.
	EventRate float64

	// EventBurst is the limiter's burst size.
	// Default: 20 when EventRate is set.
	EventBurst int
}

// DefaultChannelConfig returns a ChannelConfig with sensible defaults.
func DefaultChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    protocol.MaxMessageSize,
		MaxEventQueue:     256,
	}
}

func (c *ChannelConfig) withDefaults() *ChannelConfig {
	d := DefaultChannelConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = d.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = d.MaxMessageSize
	}
	if out.MaxEventQueue <= 0 {
		out.MaxEventQueue = d.MaxEventQueue
	}
	if out.EventRate > 0 && out.EventBurst <= 0 {
		out.EventBurst = 20
	}
	return &out
}

// Sink receives what a channel reads.
type Sink interface {
	// OnConnect binds the channel to a page. An error leaves the channel
	// unbound; later events still flow. A bound channel never calls it again.
	OnConnect(ctx context.Context, pageID int64, ch *Channel) error

	// OnEnvelope handles one event. Calls for one channel never overlap and
	// arrive in the order the client sent them.
	OnEnvelope(ctx context.Context, env *protocol.Envelope, ch *Channel)

	// OnClose runs once after the connection ends.
	OnClose(ctx context.Context, ch *Channel)
}

// Channel is a persistent websocket transport.
type Channel struct {
	id        int64
	sessionID string
	conn      *websocket.Conn
	config    *ChannelConfig
	limiter   *rate.Limiter
	logger    *slog.Logger

	pageID atomic.Int64

	writeMu sync.Mutex
	events  chan *protocol.Envelope
	done    chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithChannelConfig sets timeouts and limits. Zero fields take defaults.
func WithChannelConfig(cfg *ChannelConfig) ChannelOption {
	return func(c *Channel) { c.config = cfg }
}

func WithChannelLogger(l *slog.Logger) ChannelOption {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSessionID stamps every envelope read from the channel with id.
func WithSessionID(id string) ChannelOption {
	return func(c *Channel) { c.sessionID = id }
}

// NewChannel wraps an upgraded websocket connection.
func NewChannel(conn *websocket.Conn, id int64, opts ...ChannelOption) *Channel {
	c := &Channel{
		id:     id,
		conn:   conn,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.config = c.config.withDefaults()
	c.events = make(chan *protocol.Envelope, c.config.MaxEventQueue)
	if c.config.EventRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(c.config.EventRate), c.config.EventBurst)
	}
	c.logger = c.logger.With("component", "channel", "conn_id", id)
	return c
}

func (c *Channel) ID() int64 { return c.id }

func (c *Channel) CanPush() bool { return true }

// PageID returns the page the channel connected to, or 0.
func (c *Channel) PageID() int64 { return c.pageID.Load() }

func (c *Channel) SessionID() string { return c.sessionID }

// Done is closed when the channel closes.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Serve announces the connection id to the client, then reads until the
// connection ends. It blocks; the sink's OnClose has run when it returns.
func (c *Channel) Serve(ctx context.Context, sink Sink) error {
	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	if err := c.Push(ctx, protocol.WebsocketUpdate(c.id)); err != nil {
		c.Close()
		return err
	}

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		c.eventLoop(ctx, sink)
	}()
	go func() {
		defer loops.Done()
		c.heartbeatLoop()
	}()

	err := c.readLoop(ctx, sink)
	c.Close()
	// readLoop is the only sender; the event loop drains what is queued.
	close(c.events)
	loops.Wait()
	sink.OnClose(ctx, c)
	return err
}

func (c *Channel) readLoop(ctx context.Context, sink Sink) error {
	for {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
				return err
			}
			return nil
		}

		env, err := protocol.Decode(msg)
		if err != nil {
			c.logger.Warn("dropping malformed message", "error", err)
			continue
		}
		env.ConnectionID = c.id
		env.SessionID = c.sessionID

		if env.Kind == protocol.KindConnect {
			if bound := c.pageID.Load(); bound != 0 {
				if bound != env.PageID {
					c.logger.Warn("channel already bound, ignoring connect",
						"page_id", bound,
						"requested_page_id", env.PageID)
				}
				continue
			}
			if err := sink.OnConnect(ctx, env.PageID, c); err != nil {
				c.logger.Warn("connect rejected", "page_id", env.PageID, "error", err)
				continue
			}
			c.pageID.Store(env.PageID)
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.logger.Warn("rate limited, dropping event",
				"page_id", env.PageID,
				"event_type", env.EventType)
			continue
		}
		if err := c.queue(env); err != nil {
			c.logger.Warn("event queue full, dropping event",
				"page_id", env.PageID,
				"event_type", env.EventType)
		}
	}
}

func (c *Channel) queue(env *protocol.Envelope) error {
	select {
	case c.events <- env:
		return nil
	default:
		return ErrEventQueueFull
	}
}

func (c *Channel) eventLoop(ctx context.Context, sink Sink) {
	for env := range c.events {
		c.handle(ctx, sink, env)
	}
}

func (c *Channel) handle(ctx context.Context, sink Sink, env *protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event panic",
				"panic", r,
				"page_id", env.PageID,
				"event_type", env.EventType,
				"stack", string(debug.Stack()))
		}
	}()
	sink.OnEnvelope(ctx, env, c)
}

func (c *Channel) heartbeatLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping error", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Push writes msg to the client.
func (c *Channel) Push(ctx context.Context, msg *protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close ends the connection. It is safe to call more than once and from
// any goroutine.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
	return nil
}
