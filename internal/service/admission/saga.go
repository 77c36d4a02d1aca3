package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// step is one unit of the reservation protocol: a forward action and the
// compensation that undoes it. A step with a nil compensate entry has
// nothing to undo.
type step struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// saga executes steps in order and, on failure, compensates every
// completed step in reverse order. Forward steps are conservative: the
// first error stops the protocol. Compensations are best effort with a
// bounded retry; a compensation that still fails is surfaced as
// ErrCompensationFailed on top of the original error, never swallowed.
type saga struct {
	logger    *slog.Logger
	retries   int
	backoff   time.Duration
	completed []step
}

func newSaga(logger *slog.Logger, retries int, backoff time.Duration) *saga {
	if retries < 0 {
		retries = 0
	}

	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}

	return &saga{
		logger:  logger,
		retries: retries,
		backoff: backoff,
	}
}

func (s *saga) run(ctx context.Context, steps []step) error {
	for _, st := range steps {
		if err := st.run(ctx); err != nil {
			if cerr := s.rollback(ctx); cerr != nil {
				return errors.Join(err, cerr)
			}
			return err
		}

		s.completed = append(s.completed, st)
	}

	return nil
}

func (s *saga) rollback(ctx context.Context) error {
	var failed []string

	for i := len(s.completed) - 1; i >= 0; i-- {
		st := s.completed[i]
		if st.compensate == nil {
			continue
		}

		if err := s.compensateStep(ctx, st); err != nil {
			s.logger.Error("compensation failed",
				"step", st.name,
				"error", err,
			)
			failed = append(failed, st.name)
			continue
		}

		s.logger.Info("compensated", "step", st.name)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrCompensationFailed, strings.Join(failed, ", "))
	}

	return nil
}

func (s *saga) compensateStep(ctx context.Context, st step) error {
	var err error

	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
		}

		if err = st.compensate(ctx); err == nil {
			return nil
		}
	}

	return err
}
