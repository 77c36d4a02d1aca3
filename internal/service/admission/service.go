package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/bookd/internal/catalog"
	"github.com/kirinyoku/bookd/internal/domain"
	"github.com/kirinyoku/bookd/internal/kafka"
	"github.com/kirinyoku/bookd/internal/notifier"
	"github.com/kirinyoku/bookd/internal/repository"
	redisrepo "github.com/kirinyoku/bookd/internal/repository/redis"
)

// Ledger is the durable booking store, the source of truth for which
// bookings exist and in what state.
type Ledger interface {
	Insert(ctx context.Context, b *domain.Booking) error
	Delete(ctx context.Context, id uuid.UUID) error
	CancelConfirmed(ctx context.Context, id uuid.UUID) (string, error)
	Reinstate(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	FindConfirmedByUserAndEvent(ctx context.Context, userID, eventID string) (*domain.Booking, error)
	CountConfirmedByEvent(ctx context.Context, eventID string) (int64, error)
}

// Counter is the volatile per-event confirmed-booking counter. It is an
// admission filter, not the source of truth; the only requirement is that
// Increment and Decrement are atomic per event id.
type Counter interface {
	Increment(ctx context.Context, eventID string) (int64, error)
	Decrement(ctx context.Context, eventID string) (int64, error)
	Get(ctx context.Context, eventID string) (int64, bool, error)
	InitIfAbsent(ctx context.Context, eventID string, value int64) error
}

// Authority is the capacity authority: the system of record for an
// event's capacity, with capacity-checked atomic ±1 on its side.
type Authority interface {
	GetEvent(ctx context.Context, eventID string) (*domain.EventSnapshot, error)
	TryIncrement(ctx context.Context, eventID string) error
	Decrement(ctx context.Context, eventID string) error
}

// Dispatcher delivers fire-and-forget notifications after a booking
// reaches a terminal state.
type Dispatcher interface {
	Dispatch(ctx context.Context, b *domain.Booking, notifType string)
}

// Publisher is the optional booking event stream.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// ChangeSignal fans bookings-changed hints out to other replicas.
type ChangeSignal interface {
	PublishBookingChanged(ctx context.Context, eventID, bookingID string) error
}

type Config struct {
	// ProtocolTimeout bounds the whole reserve/cancel protocol once it is
	// detached from the caller's context.
	ProtocolTimeout     time.Duration
	CompensationRetries int
	CompensationBackoff time.Duration
	EventsTopic         string
}

type Service struct {
	ledger    Ledger
	counter   Counter
	authority Authority
	notifier  Dispatcher
	producer  Publisher
	signal    ChangeSignal
	limiter   *redisrepo.SlidingWindowLimiter
	logger    *slog.Logger
	cfg       Config
}

func New(
	ledger Ledger,
	counter Counter,
	authority Authority,
	dispatcher Dispatcher,
	producer Publisher,
	signal ChangeSignal,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.ProtocolTimeout <= 0 {
		cfg.ProtocolTimeout = 10 * time.Second
	}

	if cfg.CompensationRetries <= 0 {
		cfg.CompensationRetries = 2
	}

	if cfg.CompensationBackoff <= 0 {
		cfg.CompensationBackoff = 100 * time.Millisecond
	}

	return &Service{
		ledger:    ledger,
		counter:   counter,
		authority: authority,
		notifier:  dispatcher,
		producer:  producer,
		signal:    signal,
		limiter:   limiter,
		logger:    logger,
		cfg:       cfg,
	}
}

// Reserve runs the admission protocol for one (event, user) pair:
// duplicate check, counter-first fast-path admission, ledger insert,
// authority confirmation. Any step failure compensates the completed
// steps in reverse order before the error is returned, so no partial
// reservation survives.
//
// Parameters:
//   - ctx: request-scoped context. Once admission begins the protocol
//     detaches from it; a client disconnect cannot strand a reservation
//     between RESERVED and CONFIRMED.
//   - eventID, userID: the pair to admit.
//   - rlKey: rate-limit key for the caller, empty to skip limiting.
//
// Returns:
//   - *domain.Booking: the confirmed booking.
//   - error: admission.ErrDuplicateBooking, admission.ErrEventFull,
//     admission.ErrEventNotFound, admission.ErrEventInactive,
//     admission.ErrPersistence, admission.ErrCapacityUpdateFailed, or
//     admission.ErrCompensationFailed joined onto the step error when an
//     undo also failed.
func (s *Service) Reserve(ctx context.Context, eventID, userID, rlKey string) (*domain.Booking, error) {
	const op = "service.admission.Reserve"

	if eventID == "" || userID == "" {
		return nil, fmt.Errorf("%s: event id and user id are required", op)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: rate limited, retry in %s", op, retry)
		}
	}

	ev, err := s.authority.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, catalog.ErrEventNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if !ev.Active {
		return nil, fmt.Errorf("%s:%w", op, ErrEventInactive)
	}

	// Step 1: duplicate check. Nothing is reserved yet, so failing here
	// needs no compensation.
	if _, err := s.ledger.FindConfirmedByUserAndEvent(ctx, userID, eventID); err == nil {
		return nil, fmt.Errorf("%s:%w", op, ErrDuplicateBooking)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s:%w: %v", op, ErrPersistence, err)
	}

	// From here the protocol must reach CONFIRMED or ROLLED_BACK even if
	// the caller goes away.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProtocolTimeout)
	defer cancel()

	if err := s.ensureCounter(pctx, eventID); err != nil {
		return nil, fmt.Errorf("%s:%w: %v", op, ErrPersistence, err)
	}

	now := time.Now().UTC()
	booking := &domain.Booking{
		ID:        uuid.New(),
		EventID:   eventID,
		UserID:    userID,
		Status:    domain.BookingConfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	log := s.logger.With("booking_id", booking.ID.String(), "event_id", eventID)
	sg := newSaga(log, s.cfg.CompensationRetries, s.cfg.CompensationBackoff)

	err = sg.run(pctx, []step{
		{
			// Fast-path admission: post-increment value against the
			// capacity snapshot. Over-admission by a stale snapshot is
			// bounded by the authority step.
			name: "counter-admit",
			run: func(ctx context.Context) error {
				n, err := s.counter.Increment(ctx, eventID)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrPersistence, err)
				}
				if n > ev.Capacity {
					if _, derr := s.counter.Decrement(ctx, eventID); derr != nil {
						log.Error("compensation failed", "step", "counter-admit", "error", derr)
						return errors.Join(ErrEventFull, fmt.Errorf("%w: counter-admit", ErrCompensationFailed))
					}
					return ErrEventFull
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				_, err := s.counter.Decrement(ctx, eventID)
				return err
			},
		},
		{
			name: "ledger-insert",
			run: func(ctx context.Context) error {
				if err := s.ledger.Insert(ctx, booking); err != nil {
					if errors.Is(err, repository.ErrConflict) {
						// Lost a race with another reservation by the
						// same user.
						return ErrDuplicateBooking
					}
					return fmt.Errorf("%w: %v", ErrPersistence, err)
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				return s.ledger.Delete(ctx, booking.ID)
			},
		},
		{
			// The authority is the final arbiter; its refusal discards
			// the local booking entirely.
			name: "authority-confirm",
			run: func(ctx context.Context) error {
				if err := s.authority.TryIncrement(ctx, eventID); err != nil {
					return fmt.Errorf("%w: %v", ErrCapacityUpdateFailed, err)
				}
				return nil
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.afterTerminal(ctx, booking, notifier.TypeBookingConfirmed)

	return booking, nil
}

// Cancel runs the cancellation protocol: ownership check, status-guarded
// ledger cancel, counter release, authority decrement. An authority
// failure reinstates the booking so no seat is lost.
//
// Returns:
//   - error: admission.ErrNotFound if the booking does not exist or is
//     already cancelled, admission.ErrForbidden if owned by another user,
//     admission.ErrPersistence, admission.ErrCapacityUpdateFailed, or
//     admission.ErrCompensationFailed joined onto the step error.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, userID string) error {
	const op = "service.admission.Cancel"

	b, err := s.ledger.FindByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrNotFound)
		}
		return fmt.Errorf("%s:%w: %v", op, ErrPersistence, err)
	}

	if b.UserID != userID {
		return fmt.Errorf("%s:%w", op, ErrForbidden)
	}

	// A cancelled booking reads as not-found so a repeated cancel cannot
	// decrement the counters twice.
	if b.Status != domain.BookingConfirmed {
		return fmt.Errorf("%s:%w", op, ErrNotFound)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProtocolTimeout)
	defer cancel()

	if err := s.ensureCounter(pctx, b.EventID); err != nil {
		return fmt.Errorf("%s:%w: %v", op, ErrPersistence, err)
	}

	log := s.logger.With("booking_id", bookingID.String(), "event_id", b.EventID)
	sg := newSaga(log, s.cfg.CompensationRetries, s.cfg.CompensationBackoff)

	err = sg.run(pctx, []step{
		{
			name: "ledger-cancel",
			run: func(ctx context.Context) error {
				if _, err := s.ledger.CancelConfirmed(ctx, bookingID); err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						return ErrNotFound
					}
					return fmt.Errorf("%w: %v", ErrPersistence, err)
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				return s.ledger.Reinstate(ctx, bookingID)
			},
		},
		{
			name: "counter-release",
			run: func(ctx context.Context) error {
				if _, err := s.counter.Decrement(ctx, b.EventID); err != nil {
					return fmt.Errorf("%w: %v", ErrPersistence, err)
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				_, err := s.counter.Increment(ctx, b.EventID)
				return err
			},
		},
		{
			name: "authority-release",
			run: func(ctx context.Context) error {
				if err := s.authority.Decrement(ctx, b.EventID); err != nil {
					return fmt.Errorf("%w: %v", ErrCapacityUpdateFailed, err)
				}
				return nil
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	b.Status = domain.BookingCancelled
	b.UpdatedAt = time.Now().UTC()

	s.afterTerminal(ctx, b, notifier.TypeBookingCancelled)

	return nil
}

// ensureCounter seeds the fast counter from the ledger's confirmed count
// when the key is absent. A restarted counter read as zero would re-admit
// over capacity.
func (s *Service) ensureCounter(ctx context.Context, eventID string) error {
	_, ok, err := s.counter.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	n, err := s.ledger.CountConfirmedByEvent(ctx, eventID)
	if err != nil {
		return err
	}

	return s.counter.InitIfAbsent(ctx, eventID, n)
}

// afterTerminal fires the non-blocking side effects of a terminal state:
// notification, the kafka stream, the replica change signal.
func (s *Service) afterTerminal(ctx context.Context, b *domain.Booking, notifType string) {
	if s.notifier != nil {
		s.notifier.Dispatch(ctx, b, notifType)
	}

	if s.producer != nil && s.cfg.EventsTopic != "" {
		ev := kafka.BookingEvent{
			Type:      notifType,
			BookingID: b.ID.String(),
			EventID:   b.EventID,
			UserID:    b.UserID,
			Status:    string(b.Status),
			At:        b.UpdatedAt,
		}
		if err := s.producer.Publish(context.WithoutCancel(ctx), s.cfg.EventsTopic, b.ID.String(), ev); err != nil {
			s.logger.Error("booking event publish failed", "booking_id", b.ID.String(), "error", err)
		}
	}

	if s.signal != nil {
		_ = s.signal.PublishBookingChanged(context.WithoutCancel(ctx), b.EventID, b.ID.String())
	}
}
