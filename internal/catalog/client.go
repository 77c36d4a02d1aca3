// Package catalog is the HTTP client for the event-catalog service, which
// doubles as the capacity authority: it owns each event's capacity and the
// canonical confirmed-booking count, and serializes all ±1 updates to it.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kirinyoku/bookd/internal/domain"
	redisrepo "github.com/kirinyoku/bookd/internal/repository/redis"
)

var (
	ErrEventNotFound = errors.New("event not found")
	// ErrCapacityExceeded is the authority refusing an increment that would
	// pass capacity. Terminal for the reservation.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrUnavailable covers transport failures, timeouts and 5xx. The
	// caller cannot know whether the update was applied.
	ErrUnavailable = errors.New("capacity authority unavailable")
)

type Config struct {
	BaseURL     string
	Timeout     time.Duration
	ReadRetries int
	SnapshotTTL time.Duration
}

type Client struct {
	http  *http.Client
	cache *redisrepo.Cache
	cfg   Config
}

// New builds a catalog client. cache may be nil; event snapshots are then
// fetched on every call.
func New(cache *redisrepo.Cache, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}

	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 30 * time.Second
	}

	return &Client{
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: cache,
		cfg:   cfg,
	}
}

// GetEvent retrieves an event snapshot, through the cache when one is
// configured. The read is idempotent, so transport failures are retried a
// bounded number of times.
//
// Returns:
//   - *domain.EventSnapshot: the event when found.
//   - error: catalog.ErrEventNotFound if the catalog has no such event.
//   - error: catalog.ErrUnavailable if the catalog cannot be reached.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*domain.EventSnapshot, error) {
	const op = "catalog.Client.GetEvent"

	if c.cache == nil {
		snap, err := c.fetchEvent(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return snap, nil
	}

	snap, err := redisrepo.GetOrSetJSON(
		ctx,
		c.cache,
		redisrepo.KeyEventSnapshot(eventID),
		c.cfg.SnapshotTTL,
		func(ctx context.Context) (domain.EventSnapshot, error) {
			s, err := c.fetchEvent(ctx, eventID)
			if err != nil {
				return domain.EventSnapshot{}, err
			}
			return *s, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &snap, nil
}

// TryIncrement asks the authority to count one more confirmed booking for
// the event. The check against capacity happens on the authority's side;
// this call is the final arbiter of admission.
//
// Returns:
//   - error: nil when the authority accepted the increment.
//   - error: catalog.ErrCapacityExceeded when the authority refused it.
//   - error: catalog.ErrUnavailable when the outcome is unknown.
func (c *Client) TryIncrement(ctx context.Context, eventID string) error {
	const op = "catalog.Client.TryIncrement"

	if err := c.putCapacity(ctx, eventID, true); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Decrement releases one confirmed booking on the authority's side.
//
// Returns:
//   - error: catalog.ErrUnavailable when the outcome is unknown.
func (c *Client) Decrement(ctx context.Context, eventID string) error {
	const op = "catalog.Client.Decrement"

	if err := c.putCapacity(ctx, eventID, false); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (c *Client) fetchEvent(ctx context.Context, eventID string) (*domain.EventSnapshot, error) {
	url := fmt.Sprintf("%s/events/%s", c.cfg.BaseURL, eventID)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.ReadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var snap domain.EventSnapshot
			err := json.NewDecoder(resp.Body).Decode(&snap)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: decoding event: %v", ErrUnavailable, err)
			}
			return &snap, nil
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, ErrEventNotFound
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
			continue
		default:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
	}

	return nil, lastErr
}

// putCapacity sends the atomic ±1. Never retried: a replay without an
// idempotency key could double-count.
func (c *Client) putCapacity(ctx context.Context, eventID string, increment bool) error {
	url := fmt.Sprintf("%s/events/%s/capacity", c.cfg.BaseURL, eventID)

	body, _ := json.Marshal(map[string]bool{"increment": increment})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && increment:
		return ErrCapacityExceeded
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
