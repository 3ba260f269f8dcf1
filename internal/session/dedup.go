package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers transport message ids for a short window so a redelivered
// webhook is recognized and dropped before it re-enters the state machine.
type Deduper interface {
	// Seen records the id and reports whether it was already present.
	Seen(ctx context.Context, messageID string) (bool, error)
}

// RedisDeduper backs the window with SETNX + TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper with the given remember-window.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, messageID string) (bool, error) {
	set, err := d.client.SetNX(ctx, "msgid:"+messageID, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// MemoryDeduper is the in-process fallback.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewMemoryDeduper creates an in-memory deduper.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl}
}

func (d *MemoryDeduper) Seen(_ context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	for id, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, id)
		}
	}
	if _, ok := d.seen[messageID]; ok {
		return true, nil
	}
	d.seen[messageID] = now
	return false, nil
}

// FailoverDeduper degrades open: if Redis is unreachable the message is
// treated as unseen rather than dropped, and the memory window still catches
// redeliveries within this process.
type FailoverDeduper struct {
	primary  Deduper
	fallback Deduper
}

// NewFailoverDeduper wraps a primary deduper with a fallback.
func NewFailoverDeduper(primary, fallback Deduper) *FailoverDeduper {
	return &FailoverDeduper{primary: primary, fallback: fallback}
}

func (d *FailoverDeduper) Seen(ctx context.Context, messageID string) (bool, error) {
	seen, err := d.primary.Seen(ctx, messageID)
	if err == nil {
		return seen, nil
	}
	return d.fallback.Seen(ctx, messageID)
}
