package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeserializeRejectsNewerVersion(t *testing.T) {
	_, err := Deserialize([]byte(`{"id":"x","version":99}`))
	assert.Error(t, err)

	r, err := Deserialize([]byte(`{"id":"x","version":1}`))
	require.NoError(t, err)
	assert.Equal(t, "x", r.ID)
}

func TestValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithCleanupInterval(0))
	defer store.Close()
	v := NewValues(store, time.Hour)

	var n int
	ok, err := v.Get(ctx, "s1", "count", &n)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, v.Set(ctx, "s1", "count", 3))
	require.NoError(t, v.Set(ctx, "s1", "name", "ada"))

	ok, err = v.Get(ctx, "s1", "count", &n)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	var name string
	ok, err = v.Get(ctx, "s1", "name", &name)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ada", name)

	// sessions are isolated
	ok, err = v.Get(ctx, "s2", "count", &n)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, v.Delete(ctx, "s1", "count"))
	ok, err = v.Get(ctx, "s1", "count", &n)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, v.Touch(ctx, "s1"))
	require.NoError(t, v.Clear(ctx, "s1"))
	ok, err = v.Get(ctx, "s1", "name", &name)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValuesOnSQLStore(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	v := NewValues(newSQLiteStore(t, &now), 0)

	require.NoError(t, v.Set(ctx, "s1", "items", []string{"a", "b"}))
	var items []string
	ok, err := v.Get(ctx, "s1", "items", &items)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, items)
}
