package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSQLiteStore(t *testing.T, now *time.Time) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// every pooled connection would get its own in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db,
		WithSQLDialect(DialectSQLite),
		WithSQLCleanupInterval(0),
		WithSQLClock(fixedClock(now)))
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestSQLStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newSQLiteStore(t, &now)

	require.NoError(t, store.Save(ctx, "s1", []byte("hello"), now.Add(time.Hour)))
	data, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// upsert
	require.NoError(t, store.Save(ctx, "s1", []byte("again"), now.Add(time.Hour)))
	data, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), data)

	data, err = store.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, store.Delete(ctx, "s1"))
	data, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSQLStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newSQLiteStore(t, &now)

	require.NoError(t, store.Save(ctx, "short", []byte("a"), now.Add(time.Minute)))
	require.NoError(t, store.Save(ctx, "long", []byte("b"), now.Add(time.Minute)))
	require.NoError(t, store.Touch(ctx, "long", now.Add(time.Hour)))

	now = now.Add(10 * time.Minute)

	data, err := store.Load(ctx, "short")
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = store.Load(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)

	n, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSQLStoreSaveAll(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newSQLiteStore(t, &now)

	require.NoError(t, store.SaveAll(ctx, map[string]Data{
		"a": {Data: []byte("1"), ExpiresAt: now.Add(time.Hour)},
		"b": {Data: nil, ExpiresAt: now.Add(time.Hour)},
	}))

	data, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), data)

	data, err = store.Load(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, store.SaveAll(ctx, nil))
}

func TestSQLStoreMigrateIdempotent(t *testing.T) {
	now := time.Now()
	store := newSQLiteStore(t, &now)
	assert.NoError(t, store.Migrate(context.Background()))
}

func TestSQLStoreClosed(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := newSQLiteStore(t, &now)
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Save(ctx, "s", nil, now), ErrStoreClosed)
	_, err := store.Load(ctx, "s")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.Sweep(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestSQLDialectPlaceholders(t *testing.T) {
	tests := []struct {
		dialect SQLDialect
		want    string
		name    string
	}{
		{DialectPostgreSQL, "$2", "postgres"},
		{DialectMySQL, "?", "mysql"},
		{DialectSQLite, "?", "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &SQLStore{dialect: tt.dialect}
			assert.Equal(t, tt.want, s.placeholder(2))
			assert.Equal(t, tt.name, tt.dialect.String())
		})
	}
}
