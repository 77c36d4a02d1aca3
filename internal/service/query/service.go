package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kirinyoku/bookd/internal/catalog"
	"github.com/kirinyoku/bookd/internal/domain"
	"github.com/kirinyoku/bookd/internal/repository"
)

type Ledger interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	FindByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Booking, error)
	FindByEvent(ctx context.Context, eventID string, limit, offset int) ([]domain.Booking, error)
	CountConfirmedByEvent(ctx context.Context, eventID string) (int64, error)
}

type Events interface {
	GetEvent(ctx context.Context, eventID string) (*domain.EventSnapshot, error)
}

type CounterReader interface {
	Get(ctx context.Context, eventID string) (int64, bool, error)
}

type Config struct {
	DefaultPage int
	MaxPage     int
}

type Service struct {
	ledger  Ledger
	events  Events
	counter CounterReader
	cfg     Config
}

func New(ledger Ledger, events Events, counter CounterReader, cfg Config) *Service {
	if cfg.DefaultPage <= 0 {
		cfg.DefaultPage = 100
	}

	if cfg.MaxPage <= 0 {
		cfg.MaxPage = 500
	}

	return &Service{
		ledger:  ledger,
		events:  events,
		counter: counter,
		cfg:     cfg,
	}
}

// BookingsForUser lists a user's bookings with event details attached.
// Only the user themselves may list them.
//
// Returns:
//   - []domain.BookingWithEvent: the bookings, newest first. Event details
//     are best effort and nil when the catalog is unreachable.
//   - error: query.ErrForbidden when requesterID differs from userID.
func (s *Service) BookingsForUser(
	ctx context.Context,
	requesterID, userID string,
	limit, offset int,
) ([]domain.BookingWithEvent, error) {
	const op = "service.query.BookingsForUser"

	if requesterID != userID {
		return nil, fmt.Errorf("%s:%w", op, ErrForbidden)
	}

	bookings, err := s.ledger.FindByUser(ctx, userID, s.clampPage(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out := make([]domain.BookingWithEvent, 0, len(bookings))
	for _, b := range bookings {
		ev, _ := s.events.GetEvent(ctx, b.EventID)
		out = append(out, domain.BookingWithEvent{Booking: b, EventDetails: ev})
	}

	return out, nil
}

// BookingsForEvent lists an event's bookings. Only the event's organizer
// may list them.
//
// Returns:
//   - error: query.ErrEventNotFound if the event does not exist.
//   - error: query.ErrForbidden when the requester is not the organizer.
func (s *Service) BookingsForEvent(
	ctx context.Context,
	requesterID, eventID string,
	limit, offset int,
) ([]domain.BookingWithEvent, error) {
	const op = "service.query.BookingsForEvent"

	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, catalog.ErrEventNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if ev.OrganizerID != requesterID {
		return nil, fmt.Errorf("%s:%w", op, ErrForbidden)
	}

	bookings, err := s.ledger.FindByEvent(ctx, eventID, s.clampPage(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out := make([]domain.BookingWithEvent, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, domain.BookingWithEvent{Booking: b, EventDetails: ev})
	}

	return out, nil
}

// GetBooking retrieves one booking, visible to its owner and to the
// event's organizer.
//
// Returns:
//   - error: query.ErrBookingNotFound if the booking does not exist.
//   - error: query.ErrForbidden for any other requester.
func (s *Service) GetBooking(
	ctx context.Context,
	requesterID string,
	id uuid.UUID,
) (*domain.BookingWithEvent, error) {
	const op = "service.query.GetBooking"

	b, err := s.ledger.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	ev, _ := s.events.GetEvent(ctx, b.EventID)

	if b.UserID != requesterID && (ev == nil || ev.OrganizerID != requesterID) {
		return nil, fmt.Errorf("%s:%w", op, ErrForbidden)
	}

	return &domain.BookingWithEvent{Booking: *b, EventDetails: ev}, nil
}

// Availability reports the confirmed count against capacity. The fast
// counter serves the read when warm; otherwise the ledger count does.
//
// Returns:
//   - error: query.ErrEventNotFound if the event does not exist.
func (s *Service) Availability(ctx context.Context, eventID string) (*domain.EventAvailability, error) {
	const op = "service.query.Availability"

	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, catalog.ErrEventNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	confirmed, ok, err := s.counter.Get(ctx, eventID)
	if err != nil || !ok {
		confirmed, err = s.ledger.CountConfirmedByEvent(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
	}

	remaining := ev.Capacity - confirmed
	if remaining < 0 {
		remaining = 0
	}

	return &domain.EventAvailability{
		EventID:   eventID,
		Capacity:  ev.Capacity,
		Confirmed: confirmed,
		Remaining: remaining,
	}, nil
}

func (s *Service) clampPage(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultPage
	}

	if limit > s.cfg.MaxPage {
		return s.cfg.MaxPage
	}

	return limit
}
