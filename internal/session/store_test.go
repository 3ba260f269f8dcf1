package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	got, err := store.Get(ctx, "shop1", "393331234567")
	require.NoError(t, err)
	assert.Nil(t, got, "missing session reads as nil, nil")

	sess := New("shop1", "393331234567")
	sess.Payload.ServiceName = "Taglio"
	require.NoError(t, store.Put(ctx, sess))

	got, err = store.Get(ctx, "shop1", "393331234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Taglio", got.Payload.ServiceName)

	// The store hands out copies, not aliases.
	got.Payload.ServiceName = "Colore"
	again, err := store.Get(ctx, "shop1", "393331234567")
	require.NoError(t, err)
	assert.Equal(t, "Taglio", again.Payload.ServiceName)

	require.NoError(t, store.Clear(ctx, "shop1", "393331234567"))
	got, err = store.Get(ctx, "shop1", "393331234567")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	sess := New("shop1", "393331234567")
	sess.UpdatedAt = time.Now().Add(-2 * time.Minute)
	require.NoError(t, store.Put(ctx, sess))

	got, err := store.Get(ctx, "shop1", "393331234567")
	require.NoError(t, err)
	assert.Nil(t, got, "expired session reads as missing")

	require.NoError(t, store.Put(ctx, sess))
	assert.Equal(t, 1, store.Cleanup())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	got, err := store.Get(ctx, "shop1", "393331234567")
	require.NoError(t, err)
	assert.Nil(t, got)

	sess := New("shop1", "393331234567")
	sess.State = StateNeedWhen
	sess.Payload.ServiceName = "Piega"
	require.NoError(t, store.Put(ctx, sess))

	got, err = store.Get(ctx, "shop1", "393331234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StateNeedWhen, got.State)
	assert.Equal(t, "Piega", got.Payload.ServiceName)

	// Redis expiry makes the session vanish.
	mr.FastForward(2 * time.Hour)
	got, err = store.Get(ctx, "shop1", "393331234567")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string, string) (*Session, error) {
	return nil, errors.New("store down")
}
func (brokenStore) Put(context.Context, *Session) error         { return errors.New("store down") }
func (brokenStore) Clear(context.Context, string, string) error { return errors.New("store down") }

func TestFailoverStore(t *testing.T) {
	ctx := context.Background()
	fallback := NewMemoryStore(time.Hour)
	store := NewFailoverStore(brokenStore{}, fallback, nil)

	sess := New("shop1", "393331234567")
	sess.Payload.ServiceName = "Barba"
	require.NoError(t, store.Put(ctx, sess), "fallback write keeps the conversation alive")

	got, err := store.Get(ctx, "shop1", "393331234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Barba", got.Payload.ServiceName)

	require.NoError(t, store.Clear(ctx, "shop1", "393331234567"))
	got, err = store.Get(ctx, "shop1", "393331234567")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryDeduper(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeduper(time.Hour)

	seen, err := d.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, seen, "redelivery is recognized")

	seen, err = d.Seen(ctx, "wamid.2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, seen)

	// After the window the id may come around again.
	mr.FastForward(2 * time.Minute)
	seen, err = d.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, seen)
}

// brokenDeduper fails every call.
type brokenDeduper struct{}

func (brokenDeduper) Seen(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestFailoverDeduperDegradesOpen(t *testing.T) {
	ctx := context.Background()
	d := NewFailoverDeduper(brokenDeduper{}, NewMemoryDeduper(time.Hour))

	seen, err := d.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, seen, "memory window still catches redelivery")
}
