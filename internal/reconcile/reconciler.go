// Package reconcile realigns the fast counter with the booking ledger and
// flags divergence from the capacity authority. It is the out-of-band
// repair path for the cases compensation cannot fix on its own.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirinyoku/bookd/internal/domain"
)

type Ledger interface {
	ConfirmedCountsByEvent(ctx context.Context) (map[string]int64, error)
}

type CounterSetter interface {
	Set(ctx context.Context, eventID string, value int64) error
}

type Authority interface {
	GetEvent(ctx context.Context, eventID string) (*domain.EventSnapshot, error)
}

type Reconciler struct {
	ledger    Ledger
	counter   CounterSetter
	authority Authority
	logger    *slog.Logger
	interval  time.Duration
}

func New(
	ledger Ledger,
	counter CounterSetter,
	authority Authority,
	logger *slog.Logger,
	interval time.Duration,
) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Reconciler{
		ledger:    ledger,
		counter:   counter,
		authority: authority,
		logger:    logger,
		interval:  interval,
	}
}

// Run reconciles once immediately, then on every tick until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.Reconcile(ctx); err != nil {
		r.logger.Error("reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				r.logger.Error("reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile recomputes every event's fast counter from the ledger's
// confirmed count and compares the ledger against the authority's view.
// The ledger wins for the counter; authority divergence is only reported,
// since the authority serializes its own state.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	counts, err := r.ledger.ConfirmedCountsByEvent(ctx)
	if err != nil {
		return err
	}

	for eventID, n := range counts {
		if err := r.counter.Set(ctx, eventID, n); err != nil {
			r.logger.Error("counter reset failed", "event_id", eventID, "error", err)
			continue
		}

		ev, err := r.authority.GetEvent(ctx, eventID)
		if err != nil {
			r.logger.Warn("authority unreachable during reconciliation",
				"event_id", eventID,
				"error", err,
			)
			continue
		}

		if ev.ConfirmedCount != n {
			r.logger.Warn("ledger and authority diverged",
				"event_id", eventID,
				"ledger_confirmed", n,
				"authority_confirmed", ev.ConfirmedCount,
			)
		}

		if n > ev.Capacity {
			r.logger.Error("confirmed bookings exceed capacity",
				"event_id", eventID,
				"confirmed", n,
				"capacity", ev.Capacity,
			)
		}
	}

	r.logger.Info("reconciliation pass complete", "events", len(counts))

	return nil
}
