package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Counter is the fast-path confirmed-booking counter, one key per event.
// INCR/DECR are single indivisible operations on the redis side, which is
// the only serialization the admission fast path relies on.
type Counter struct {
	rdb *redis.Client
}

func NewCounter(rdb *redis.Client) *Counter {
	return &Counter{rdb: rdb}
}

func (c *Counter) Increment(ctx context.Context, eventID string) (int64, error) {
	const op = "redis.Counter.Increment"

	n, err := c.rdb.Incr(ctx, KeyEventConfirmed(eventID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return n, nil
}

func (c *Counter) Decrement(ctx context.Context, eventID string) (int64, error) {
	const op = "redis.Counter.Decrement"

	n, err := c.rdb.Decr(ctx, KeyEventConfirmed(eventID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return n, nil
}

// Get returns the counter value and whether the key exists at all. A
// missing key means the counter has not been seeded since the last
// restart and must not be read as zero.
func (c *Counter) Get(ctx context.Context, eventID string) (int64, bool, error) {
	const op = "redis.Counter.Get"

	s, err := c.rdb.Get(ctx, KeyEventConfirmed(eventID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s:%w", op, err)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: bad counter value %q: %w", op, s, err)
	}

	return n, true, nil
}

// InitIfAbsent seeds the counter with SETNX so concurrent cold starts
// cannot clobber increments that already happened.
func (c *Counter) InitIfAbsent(ctx context.Context, eventID string, value int64) error {
	const op = "redis.Counter.InitIfAbsent"

	if err := c.rdb.SetNX(ctx, KeyEventConfirmed(eventID), value, 0).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Set overwrites the counter. Reconciliation only.
func (c *Counter) Set(ctx context.Context, eventID string, value int64) error {
	const op = "redis.Counter.Set"

	if err := c.rdb.Set(ctx, KeyEventConfirmed(eventID), value, 0).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}
