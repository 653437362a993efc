package ui

// Node is the serialized form of a Component sent to the client.
type Node struct {
	ID       int64          `json:"id"`
	Tag      string         `json:"tag"`
	Text     string         `json:"text,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
	Events   []string       `json:"events,omitempty"`
	Children []Node         `json:"children"`
}

// Serialize converts c and its descendants into a Node tree. Child order is
// preserved; encoding/json sorts attribute keys, so equal trees encode to
// equal bytes.
func Serialize(c *Component) Node {
	n := Node{
		ID:       c.id,
		Tag:      c.tag,
		Text:     c.text,
		Events:   c.handlers.events(),
		Children: make([]Node, 0, len(c.children)),
	}
	if len(c.attrs) > 0 {
		n.Attrs = make(map[string]any, len(c.attrs))
		for k, v := range c.attrs {
			n.Attrs[k] = v
		}
	}
	for _, child := range c.children {
		n.Children = append(n.Children, Serialize(child))
	}
	return n
}

// Build returns the serialized roots of the page. The result is cached until
// the next mutation; callers must not modify it.
func (p *Page) Build() []Node {
	if p.cacheValid {
		return p.cache
	}
	nodes := make([]Node, 0, len(p.roots))
	for _, c := range p.roots {
		nodes = append(nodes, Serialize(c))
	}
	p.cache = nodes
	p.cacheValid = true
	return nodes
}

// Cached reports whether the next Build will be served from cache.
func (p *Page) Cached() bool { return p.cacheValid }
