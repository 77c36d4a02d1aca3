package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/kirinyoku/bookd/internal/catalog"
	"github.com/kirinyoku/bookd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLedger struct {
	counts map[string]int64
	err    error
}

func (s *stubLedger) ConfirmedCountsByEvent(ctx context.Context) (map[string]int64, error) {
	return s.counts, s.err
}

type recordingCounter struct {
	mu   sync.Mutex
	sets map[string]int64
	err  error
}

func (c *recordingCounter) Set(ctx context.Context, eventID string, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	if c.sets == nil {
		c.sets = make(map[string]int64)
	}
	c.sets[eventID] = value

	return nil
}

type stubAuthority struct {
	events map[string]*domain.EventSnapshot
}

func (s *stubAuthority) GetEvent(ctx context.Context, eventID string) (*domain.EventSnapshot, error) {
	ev, ok := s.events[eventID]
	if !ok {
		return nil, catalog.ErrEventNotFound
	}
	return ev, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcile_ResetsCountersFromLedger(t *testing.T) {
	ledger := &stubLedger{counts: map[string]int64{"e1": 3, "e2": 7}}
	counter := &recordingCounter{}
	authority := &stubAuthority{events: map[string]*domain.EventSnapshot{
		"e1": {ID: "e1", Capacity: 10, ConfirmedCount: 3},
		"e2": {ID: "e2", Capacity: 10, ConfirmedCount: 7},
	}}

	r := New(ledger, counter, authority, discardLogger(), 0)

	require.NoError(t, r.Reconcile(context.Background()))

	assert.Equal(t, map[string]int64{"e1": 3, "e2": 7}, counter.sets)
}

func TestReconcile_LedgerFailureStopsPass(t *testing.T) {
	boom := errors.New("boom")
	r := New(&stubLedger{err: boom}, &recordingCounter{}, &stubAuthority{}, discardLogger(), 0)

	err := r.Reconcile(context.Background())

	require.ErrorIs(t, err, boom)
}

func TestReconcile_AuthorityUnreachableIsNotFatal(t *testing.T) {
	ledger := &stubLedger{counts: map[string]int64{"e1": 3}}
	counter := &recordingCounter{}

	r := New(ledger, counter, &stubAuthority{}, discardLogger(), 0)

	require.NoError(t, r.Reconcile(context.Background()))
	assert.EqualValues(t, 3, counter.sets["e1"])
}

func TestReconcile_CounterFailureSkipsEvent(t *testing.T) {
	ledger := &stubLedger{counts: map[string]int64{"e1": 3}}
	counter := &recordingCounter{err: errors.New("redis down")}
	authority := &stubAuthority{events: map[string]*domain.EventSnapshot{
		"e1": {ID: "e1", Capacity: 10},
	}}

	r := New(ledger, counter, authority, discardLogger(), 0)

	require.NoError(t, r.Reconcile(context.Background()))
	assert.Empty(t, counter.sets)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ledger := &stubLedger{counts: map[string]int64{}}
	r := New(ledger, &recordingCounter{}, &stubAuthority{}, discardLogger(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
}
