package redisx

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers events one consumer has finished with. It is a fast path
// only: the state guards behind it still decide whether an event changes
// anything. An event is marked after it was handled, never before, so a crash
// or a failed handler leaves nothing behind that would swallow the redelivery.
type Deduper struct {
	Redis    redis.Cmdable
	Consumer string
}

// Seen reports whether eventID was already handled. A nil Deduper has seen nothing.
func (d *Deduper) Seen(ctx context.Context, eventID string) (bool, error) {
	if d == nil || d.Redis == nil {
		return false, nil
	}
	return Exists(ctx, d.Redis, DedupKey(d.Consumer, eventID))
}

// Mark records eventID as handled for TTLDedup.
func (d *Deduper) Mark(ctx context.Context, eventID string) error {
	if d == nil || d.Redis == nil {
		return nil
	}
	return d.Redis.Set(ctx, DedupKey(d.Consumer, eventID), "1", TTLDedup).Err()
}
