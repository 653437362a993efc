package ui

import (
	"strings"
	"sync/atomic"
)

var nextComponentID atomic.Int64

// Component is one element of a page's tree.
type Component struct {
	id       int64
	tag      string
	text     string
	attrs    map[string]any
	children []*Component
	parent   *Component
	page     *Page
	handlers handlerSet
}

// Option configures a Component at construction.
type Option func(*Component)

// WithText sets the component's text content.
func WithText(text string) Option {
	return func(c *Component) { c.text = text }
}

// WithAttr sets a single attribute.
func WithAttr(name string, value any) Option {
	return func(c *Component) {
		if c.attrs == nil {
			c.attrs = make(map[string]any)
		}
		c.attrs[name] = value
	}
}

// WithClasses sets the class attribute.
func WithClasses(classes ...string) Option {
	return WithAttr("class", strings.Join(classes, " "))
}

// Handle registers h for event at construction.
func Handle(event string, h Handler) Option {
	return func(c *Component) { c.handlers.add(event, h) }
}

// New creates a detached component with a fresh id.
func New(tag string, opts ...Option) *Component {
	c := &Component{
		id:  nextComponentID.Add(1),
		tag: tag,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the component's process-wide unique id.
func (c *Component) ID() int64 { return c.id }

// Tag returns the HTML tag name.
func (c *Component) Tag() string { return c.tag }

// Text returns the text content.
func (c *Component) Text() string { return c.text }

// Page returns the owning page, or nil when the component is detached.
func (c *Component) Page() *Page { return c.page }

// Parent returns the parent component, or nil for roots and detached
// components.
func (c *Component) Parent() *Component { return c.parent }

// Children returns a copy of the child list in DOM order.
func (c *Component) Children() []*Component {
	out := make([]*Component, len(c.children))
	copy(out, c.children)
	return out
}

// Attr returns an attribute value.
func (c *Component) Attr(name string) (any, bool) {
	v, ok := c.attrs[name]
	return v, ok
}

// SetText replaces the text content.
func (c *Component) SetText(text string) *Component {
	if c.text != text {
		c.text = text
		c.touch()
	}
	return c
}

// SetTag changes the element rendered for the component.
func (c *Component) SetTag(tag string) *Component {
	if c.tag != tag {
		c.tag = tag
		c.touch()
	}
	return c
}

// SetAttr sets an attribute. Values must be JSON-encodable.
func (c *Component) SetAttr(name string, value any) *Component {
	if c.attrs == nil {
		c.attrs = make(map[string]any)
	}
	c.attrs[name] = value
	c.touch()
	return c
}

// DelAttr removes an attribute if present.
func (c *Component) DelAttr(name string) *Component {
	if _, ok := c.attrs[name]; ok {
		delete(c.attrs, name)
		c.touch()
	}
	return c
}

// On registers h for the named browser event. Several handlers for the same
// event run in registration order.
func (c *Component) On(event string, h Handler) *Component {
	c.handlers.add(event, h)
	c.touch()
	return c
}

// Before registers a hook that runs ahead of every handler of c.
func (c *Component) Before(h Handler) *Component {
	c.handlers.add(PhaseBefore, h)
	return c
}

// After registers a hook that runs after every handler of c.
func (c *Component) After(h Handler) *Component {
	c.handlers.add(PhaseAfter, h)
	return c
}

// Handlers implements Target.
func (c *Component) Handlers(event string) []Handler {
	return c.handlers.get(event)
}

// Events lists the browser events c listens to, sorted.
func (c *Component) Events() []string {
	return c.handlers.events()
}

// Add appends children to c.
func (c *Component) Add(children ...*Component) error {
	for _, child := range children {
		if err := Attach(c, child, -1); err != nil {
			return err
		}
	}
	return nil
}

// Insert places child at pos among c's children.
func (c *Component) Insert(pos int, child *Component) error {
	return Attach(c, child, pos)
}

// Remove detaches c from its parent or page.
func (c *Component) Remove() {
	Detach(c)
}

func (c *Component) touch() {
	if c.page != nil {
		c.page.invalidate()
	}
}

func (c *Component) isAncestorOf(other *Component) bool {
	for p := other; p != nil; p = p.parent {
		if p == c {
			return true
		}
	}
	return false
}

func (c *Component) walk(fn func(*Component)) {
	fn(c)
	for _, child := range c.children {
		child.walk(fn)
	}
}

// Attach places child under parent at pos. A negative or out-of-range pos
// appends; positions are clamped. A child that already has a parent on the
// same page is moved. A child owned by a different page must be detached
// first.
func Attach(parent, child *Component, pos int) error {
	if parent == nil || child == nil || parent == child {
		return ErrInvalidState
	}
	if child.isAncestorOf(parent) {
		return ErrInvalidState
	}
	if child.page != nil && child.page != parent.page {
		return ErrInvalidState
	}
	if parent.page != nil && parent.page.Disposed() {
		return ErrDisposed
	}

	switch {
	case child.parent != nil:
		child.parent.children = removeChild(child.parent.children, child)
	case child.page != nil:
		child.page.roots = removeChild(child.page.roots, child)
	}

	parent.children = insertChild(parent.children, child, pos)
	child.parent = parent
	if parent.page != nil && child.page == nil {
		parent.page.adopt(child)
	}
	parent.touch()
	return nil
}

// Detach removes c from its parent (or from its page's roots) and drops c and
// all of its descendants from the page's lookup table. Detaching a component
// that is not attached is a no-op.
func Detach(c *Component) {
	if c == nil {
		return
	}
	page := c.page
	switch {
	case c.parent != nil:
		c.parent.children = removeChild(c.parent.children, c)
		c.parent = nil
	case page != nil:
		page.roots = removeChild(page.roots, c)
	}
	if page != nil {
		page.release(c)
		page.invalidate()
	}
}

func insertChild(list []*Component, c *Component, pos int) []*Component {
	if pos < 0 || pos > len(list) {
		pos = len(list)
	}
	list = append(list, nil)
	copy(list[pos+1:], list[pos:])
	list[pos] = c
	return list
}

func removeChild(list []*Component, c *Component) []*Component {
	for i, x := range list {
		if x == c {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}
