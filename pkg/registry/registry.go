// Package registry tracks the live pages of a process and the transports
// connected to each of them.
package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/pagewire/pkg/transport"
	"github.com/vango-dev/pagewire/pkg/ui"
)

var (
	// ErrNotFound is returned when a page id is not registered.
	ErrNotFound = errors.New("registry: page not found")

	// ErrDisposed is returned when registering a disposed page.
	ErrDisposed = errors.New("registry: page disposed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registry: closed")
)

const (
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultCleanupInterval = time.Minute
)

type entry struct {
	page       *ui.Page
	transports map[int64]transport.Transport
	lastActive time.Time
}

// Registry maps page ids to pages and (page id, connection id) pairs to
// transports.
type Registry struct {
	mu    sync.RWMutex
	pages map[int64]*entry

	nextPageID atomic.Int64
	nextConnID atomic.Int64

	idleTimeout     time.Duration
	cleanupInterval time.Duration
	onForget        func(*ui.Page)
	now             func() time.Time

	done        chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
	closed      atomic.Bool

	totalRegistered atomic.Uint64
	totalForgotten  atomic.Uint64

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Nil keeps slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithIdleTimeout sets how long a page without transports survives. Zero or
// negative disables reaping.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idleTimeout = d }
}

// WithCleanupInterval sets how often the reaper runs.
func WithCleanupInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.cleanupInterval = d
		}
	}
}

// WithOnForget registers a callback run after a page is forgotten.
func WithOnForget(fn func(*ui.Page)) Option {
	return func(r *Registry) { r.onForget = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a registry and starts its reaper.
func New(opts ...Option) *Registry {
	r := &Registry{
		pages:           make(map[int64]*entry),
		idleTimeout:     DefaultIdleTimeout,
		cleanupInterval: DefaultCleanupInterval,
		now:             time.Now,
		done:            make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")

	if r.idleTimeout > 0 {
		go r.cleanupLoop()
	} else {
		close(r.cleanupDone)
	}
	return r
}

// Register assigns p the next page id and makes it reachable. Registering an
// already registered page returns its existing id.
func (r *Registry) Register(p *ui.Page) (int64, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if p.Disposed() {
		return 0, ErrDisposed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id := p.ID(); id != 0 {
		if e, ok := r.pages[id]; ok && e.page == p {
			return id, nil
		}
	}

	id := r.nextPageID.Add(1)
	p.SetID(id)
	r.pages[id] = r.newEntry(p)
	r.totalRegistered.Add(1)
	return id, nil
}

func (r *Registry) newEntry(p *ui.Page) *entry {
	return &entry{
		page:       p,
		transports: make(map[int64]transport.Transport),
		lastActive: r.now(),
	}
}

// Lookup returns the page registered under id.
func (r *Registry) Lookup(id int64) (*ui.Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.pages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.page, nil
}

// Touch marks the page as active.
func (r *Registry) Touch(id int64) {
	r.mu.Lock()
	if e, ok := r.pages[id]; ok {
		e.lastActive = r.now()
	}
	r.mu.Unlock()
}

// Forget removes the page, closes its transports and disposes it. Forgetting
// an unknown id is a no-op.
func (r *Registry) Forget(id int64) {
	r.mu.Lock()
	e, ok := r.pages[id]
	if ok {
		delete(r.pages, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.release(e)
}

func (r *Registry) release(e *entry) {
	for _, t := range e.transports {
		if err := t.Close(); err != nil {
			r.logger.Debug("transport close failed",
				"page_id", e.page.ID(),
				"conn_id", t.ID(),
				"error", err)
		}
	}
	e.page.Dispose()
	r.totalForgotten.Add(1)
	if r.onForget != nil {
		r.onForget(e.page)
	}
}

// AddTransport attaches t to the page. A transport with the same id
// replaces the previous one.
func (r *Registry) AddTransport(pageID int64, t transport.Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pages[pageID]
	if !ok {
		return ErrNotFound
	}
	e.transports[t.ID()] = t
	e.lastActive = r.now()
	return nil
}

// RemoveTransport detaches a connection and reports how many remain. The
// boolean is false when the page or the connection was not known.
func (r *Registry) RemoveTransport(pageID, connID int64) (remaining int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pages[pageID]
	if !ok {
		return 0, false
	}
	if _, ok := e.transports[connID]; !ok {
		return len(e.transports), false
	}
	delete(e.transports, connID)
	e.lastActive = r.now()
	return len(e.transports), true
}

// Transports returns the page's transports ordered by connection id.
func (r *Registry) Transports(pageID int64) []transport.Transport {
	r.mu.RLock()
	e, ok := r.pages[pageID]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	out := make([]transport.Transport, 0, len(e.transports))
	for _, t := range e.transports {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// NextConnID allocates a connection id.
func (r *Registry) NextConnID() int64 {
	return r.nextConnID.Add(1)
}

// Len returns the number of live pages.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pages)
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Pages           int
	Transports      int
	TotalRegistered uint64
	TotalForgotten  uint64
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	s := Stats{Pages: len(r.pages)}
	for _, e := range r.pages {
		s.Transports += len(e.transports)
	}
	r.mu.RUnlock()
	s.TotalRegistered = r.totalRegistered.Load()
	s.TotalForgotten = r.totalForgotten.Load()
	return s
}

func (r *Registry) cleanupLoop() {
	defer close(r.cleanupDone)

	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reap()
		case <-r.done:
			return
		}
	}
}

// Reap forgets pages that have no transports and have been idle longer
// than the idle timeout. It returns the number of pages forgotten.
func (r *Registry) Reap() int {
	if r.idleTimeout <= 0 {
		return 0
	}
	now := r.now()

	r.mu.Lock()
	var expired []*entry
	for id, e := range r.pages {
		if len(e.transports) == 0 && now.Sub(e.lastActive) > r.idleTimeout {
			expired = append(expired, e)
			delete(r.pages, id)
		}
	}
	remaining := len(r.pages)
	r.mu.Unlock()

	for _, e := range expired {
		r.release(e)
	}
	if len(expired) > 0 {
		r.logger.Info("reaped idle pages",
			"count", len(expired),
			"remaining", remaining)
	}
	return len(expired)
}

// Close stops the reaper and forgets every page.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		<-r.cleanupDone

		r.mu.Lock()
		entries := make([]*entry, 0, len(r.pages))
		for _, e := range r.pages {
			entries = append(entries, e)
		}
		r.pages = make(map[int64]*entry)
		r.mu.Unlock()

		for _, e := range entries {
			r.release(e)
		}
		r.logger.Info("registry closed", "pages", len(entries))
	})
}
