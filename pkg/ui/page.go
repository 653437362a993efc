package ui

import (
	"net/http"
	"sync"
	"sync/atomic"
)

// Options are the page-level settings sent to the browser with the first
// render and, for the ones a client can act on, with every polling reply.
type Options struct {
	Title       string
	Favicon     string
	Redirect    string
	DisplayURL  string
	Open        string
	HeadHTML    string
	BodyHTML    string
	CSS         string
	BodyStyle   string
	BodyClasses string

	// ReloadInterval asks the client to poll for page_update every n seconds.
	// Zero disables it.
	ReloadInterval float64

	Debug bool
	Dark  bool

	// UseChannel selects the websocket channel over polling for this page.
	UseChannel bool

	// DeleteOnDisconnect forgets the page once its last channel closes.
	DeleteOnDisconnect bool

	// Events lists page-level events the client should forward, e.g.
	// "keydown" or "visibilitychange".
	Events []string
}

// Page is the unit of rendering: a forest of root components plus the
// per-page state the dispatcher needs.
type Page struct {
	id atomic.Int64

	mu sync.Mutex

	roots      []*Component
	components map[int64]*Component
	handlers   handlerSet
	html       string
	cookies    []*http.Cookie

	cache      []Node
	cacheValid bool
	disposed   atomic.Bool

	Options Options
}

// NewPage creates an unregistered page with channel transport and
// delete-on-disconnect enabled.
func NewPage() *Page {
	return &Page{
		components: make(map[int64]*Component),
		Options: Options{
			UseChannel:         true,
			DeleteOnDisconnect: true,
		},
	}
}

// Redirect returns a page whose only purpose is to send the browser to url.
func Redirect(url string) *Page {
	p := NewPage()
	_ = p.Add(New("div"))
	p.Options.Redirect = url
	return p
}

// ID returns the registry id, or 0 before registration.
func (p *Page) ID() int64 { return p.id.Load() }

// SetID is called by the registry.
func (p *Page) SetID(id int64) { p.id.Store(id) }

// Exclusive runs fn while holding the page lock. Handlers already run under
// it; background goroutines that touch the tree must go through Exclusive.
// fn must not call Exclusive again.
func (p *Page) Exclusive(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// Roots returns the root components in order.
func (p *Page) Roots() []*Component {
	out := make([]*Component, len(p.roots))
	copy(out, p.roots)
	return out
}

// Len returns the number of live components on the page.
func (p *Page) Len() int { return len(p.components) }

// Component resolves a component id.
func (p *Page) Component(id int64) (*Component, error) {
	c, ok := p.components[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Add appends root components.
func (p *Page) Add(cs ...*Component) error {
	for _, c := range cs {
		if err := p.Insert(-1, c); err != nil {
			return err
		}
	}
	return nil
}

// Insert places c among the page roots at pos, clamped to range.
func (p *Page) Insert(pos int, c *Component) error {
	if c == nil {
		return ErrInvalidState
	}
	if p.Disposed() {
		return ErrDisposed
	}
	if c.page != nil && c.page != p {
		return ErrInvalidState
	}
	switch {
	case c.parent != nil:
		c.parent.children = removeChild(c.parent.children, c)
		c.parent = nil
	case c.page == p:
		p.roots = removeChild(p.roots, c)
	}
	p.roots = insertChild(p.roots, c, pos)
	if c.page == nil {
		p.adopt(c)
	}
	p.invalidate()
	return nil
}

// Remove detaches c from the page. It fails with ErrNotFound when c is not
// on p.
func (p *Page) Remove(c *Component) error {
	if c == nil || c.page != p {
		return ErrNotFound
	}
	Detach(c)
	return nil
}

// Clear removes every root.
func (p *Page) Clear() {
	for _, c := range p.Roots() {
		Detach(c)
	}
}

// SetHTML sets raw inner HTML rendered when the page has no components.
func (p *Page) SetHTML(html string) {
	p.html = html
	p.invalidate()
}

// HTML returns the raw inner HTML set with SetHTML.
func (p *Page) HTML() string { return p.html }

// Empty reports whether the page has neither components nor raw HTML.
func (p *Page) Empty() bool {
	return len(p.roots) == 0 && p.html == ""
}

// SetCookie queues a cookie for the response that first renders the page.
func (p *Page) SetCookie(c *http.Cookie) {
	p.cookies = append(p.cookies, c)
}

// Cookies returns a copy of the queued cookies.
func (p *Page) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, len(p.cookies))
	copy(out, p.cookies)
	return out
}

// On registers a page-level handler: a declared page event, or one of
// PhaseBefore, PhaseAfter and EventDisconnect.
func (p *Page) On(event string, h Handler) *Page {
	p.handlers.add(event, h)
	return p
}

// Handlers implements Target.
func (p *Page) Handlers(event string) []Handler {
	return p.handlers.get(event)
}

// Dispose releases every component. A disposed page rejects further
// attachments.
func (p *Page) Dispose() {
	if !p.disposed.CompareAndSwap(false, true) {
		return
	}
	p.Exclusive(func() {
		for _, c := range p.roots {
			p.release(c)
		}
		p.roots = nil
		p.cache = nil
		p.cacheValid = false
	})
}

// Disposed reports whether Dispose has run.
func (p *Page) Disposed() bool { return p.disposed.Load() }

func (p *Page) adopt(c *Component) {
	if p.components == nil {
		p.components = make(map[int64]*Component)
	}
	c.walk(func(x *Component) {
		x.page = p
		p.components[x.id] = x
	})
}

func (p *Page) release(c *Component) {
	c.walk(func(x *Component) {
		if x.page == p {
			delete(p.components, x.id)
			x.page = nil
		}
	})
}

func (p *Page) invalidate() {
	p.cache = nil
	p.cacheValid = false
}
