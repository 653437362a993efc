package ui

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *Event) (Result, error) { return Update, nil }

func tags(cs []*Component) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Tag()
	}
	return out
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		c := New("div")
		if seen[c.ID()] {
			t.Fatalf("duplicate id %d", c.ID())
		}
		seen[c.ID()] = true
	}
}

func TestAttachPreservesOrder(t *testing.T) {
	page := NewPage()
	root := New("div")
	require.NoError(t, page.Add(root))

	a, b, c := New("a"), New("b"), New("c")
	require.NoError(t, root.Add(a, b, c))
	assert.Equal(t, []string{"a", "b", "c"}, tags(root.Children()))

	nodes := page.Build()
	require.Len(t, nodes, 1)
	got := make([]string, 0, 3)
	for _, n := range nodes[0].Children {
		got = append(got, n.Tag)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestAttachPositionClamps(t *testing.T) {
	tests := []struct {
		name string
		pos  int
		want []string
	}{
		{"front", 0, []string{"x", "a", "b"}},
		{"middle", 1, []string{"a", "x", "b"}},
		{"end", 2, []string{"a", "b", "x"}},
		{"past end", 99, []string{"a", "b", "x"}},
		{"negative", -5, []string{"a", "b", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := New("div")
			require.NoError(t, root.Add(New("a"), New("b")))
			require.NoError(t, root.Insert(tt.pos, New("x")))
			assert.Equal(t, tt.want, tags(root.Children()))
		})
	}
}

func TestAttachRejectsCycles(t *testing.T) {
	a := New("a")
	b := New("b")
	c := New("c")
	require.NoError(t, a.Add(b))
	require.NoError(t, b.Add(c))

	assert.ErrorIs(t, Attach(a, a, -1), ErrInvalidState)
	assert.ErrorIs(t, Attach(c, a, -1), ErrInvalidState)
	assert.ErrorIs(t, Attach(b, a, -1), ErrInvalidState)
}

func TestAttachRejectsForeignPage(t *testing.T) {
	p1 := NewPage()
	p2 := NewPage()
	owned := New("span")
	require.NoError(t, p1.Add(owned))

	target := New("div")
	require.NoError(t, p2.Add(target))

	err := target.Add(owned)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Attach across pages = %v, want ErrInvalidState", err)
	}
	assert.ErrorIs(t, p2.Add(owned), ErrInvalidState)

	// Detached parent cannot take an owned child either.
	assert.ErrorIs(t, New("div").Add(owned), ErrInvalidState)

	owned.Remove()
	require.NoError(t, target.Add(owned))
	assert.Same(t, p2, owned.Page())
}

func TestAttachMovesWithinPage(t *testing.T) {
	page := NewPage()
	left := New("left")
	right := New("right")
	item := New("item")
	require.NoError(t, page.Add(left, right))
	require.NoError(t, left.Add(item))

	require.NoError(t, right.Add(item))
	assert.Empty(t, left.Children())
	assert.Equal(t, []*Component{item}, right.Children())
	assert.Same(t, right, item.Parent())

	got, err := page.Component(item.ID())
	require.NoError(t, err)
	assert.Same(t, item, got)
}

func TestDetachReleasesSubtree(t *testing.T) {
	page := NewPage()
	root := New("div")
	child := New("ul")
	grand := New("li")
	require.NoError(t, page.Add(root))
	require.NoError(t, root.Add(child))
	require.NoError(t, child.Add(grand))
	assert.Equal(t, 3, page.Len())

	Detach(child)

	for _, id := range []int64{child.ID(), grand.ID()} {
		_, err := page.Component(id)
		assert.ErrorIs(t, err, ErrNotFound, "id %d", id)
	}
	_, err := page.Component(root.ID())
	assert.NoError(t, err)
	assert.Nil(t, child.Page())
	assert.Nil(t, grand.Page())
	assert.Equal(t, 1, page.Len())
}

func TestDetachUnattachedIsNoop(t *testing.T) {
	c := New("div")
	Detach(c)
	Detach(nil)
	assert.Nil(t, c.Parent())
}

func TestSerializeShape(t *testing.T) {
	btn := New("button",
		WithText("Clicked 0 times"),
		WithAttr("type", "button"),
		WithClasses("btn", "primary"),
		Handle("click", noop),
	)
	btn.Before(noop).After(noop).On("mouseover", noop)

	n := Serialize(btn)
	assert.Equal(t, btn.ID(), n.ID)
	assert.Equal(t, "button", n.Tag)
	assert.Equal(t, "Clicked 0 times", n.Text)
	assert.Equal(t, "btn primary", n.Attrs["class"])
	assert.Equal(t, []string{"click", "mouseover"}, n.Events)
	assert.NotNil(t, n.Children)

	first, err := json.Marshal(n)
	require.NoError(t, err)
	second, err := json.Marshal(Serialize(btn))
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, string(first), string(second))
}

func TestSetterNoChangeKeepsCache(t *testing.T) {
	page := NewPage()
	c := New("p", WithText("same"))
	require.NoError(t, page.Add(c))
	page.Build()

	c.SetText("same")
	assert.True(t, page.Cached())
	c.DelAttr("missing")
	assert.True(t, page.Cached())

	c.SetText("different")
	assert.False(t, page.Cached())
}
