package query

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/bookd/internal/catalog"
	"github.com/kirinyoku/bookd/internal/domain"
	"github.com/kirinyoku/bookd/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) FindByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockLedger) FindByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Booking, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockLedger) FindByEvent(ctx context.Context, eventID string, limit, offset int) ([]domain.Booking, error) {
	args := m.Called(ctx, eventID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockLedger) CountConfirmedByEvent(ctx context.Context, eventID string) (int64, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(int64), args.Error(1)
}

type MockEvents struct {
	mock.Mock
}

func (m *MockEvents) GetEvent(ctx context.Context, eventID string) (*domain.EventSnapshot, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EventSnapshot), args.Error(1)
}

type MockCounter struct {
	mock.Mock
}

func (m *MockCounter) Get(ctx context.Context, eventID string) (int64, bool, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func testBooking(userID, eventID string) domain.Booking {
	now := time.Now().UTC()
	return domain.Booking{
		ID:        uuid.New(),
		EventID:   eventID,
		UserID:    userID,
		Status:    domain.BookingConfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testSnapshot(id, organizerID string, capacity int64) *domain.EventSnapshot {
	return &domain.EventSnapshot{
		ID:          id,
		Title:       "Concert",
		OrganizerID: organizerID,
		Capacity:    capacity,
		Active:      true,
	}
}

func TestBookingsForUser_Success(t *testing.T) {
	ledger := new(MockLedger)
	events := new(MockEvents)
	svc := New(ledger, events, new(MockCounter), Config{})

	b := testBooking("u1", "e1")
	ev := testSnapshot("e1", "org-1", 100)

	ledger.On("FindByUser", mock.Anything, "u1", 100, 0).Return([]domain.Booking{b}, nil)
	events.On("GetEvent", mock.Anything, "e1").Return(ev, nil)

	out, err := svc.BookingsForUser(context.Background(), "u1", "u1", 0, 0)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, b.ID, out[0].ID)
	assert.Equal(t, ev, out[0].EventDetails)
	ledger.AssertExpectations(t)
}

func TestBookingsForUser_Forbidden(t *testing.T) {
	svc := New(new(MockLedger), new(MockEvents), new(MockCounter), Config{})

	_, err := svc.BookingsForUser(context.Background(), "u2", "u1", 0, 0)

	require.ErrorIs(t, err, ErrForbidden)
}

func TestBookingsForUser_CatalogDownIsBestEffort(t *testing.T) {
	ledger := new(MockLedger)
	events := new(MockEvents)
	svc := New(ledger, events, new(MockCounter), Config{})

	b := testBooking("u1", "e1")

	ledger.On("FindByUser", mock.Anything, "u1", 100, 0).Return([]domain.Booking{b}, nil)
	events.On("GetEvent", mock.Anything, "e1").Return(nil, catalog.ErrUnavailable)

	out, err := svc.BookingsForUser(context.Background(), "u1", "u1", 0, 0)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].EventDetails)
}

func TestBookingsForUser_LimitClamped(t *testing.T) {
	ledger := new(MockLedger)
	events := new(MockEvents)
	svc := New(ledger, events, new(MockCounter), Config{DefaultPage: 50, MaxPage: 200})

	ledger.On("FindByUser", mock.Anything, "u1", 200, 0).Return([]domain.Booking{}, nil)

	_, err := svc.BookingsForUser(context.Background(), "u1", "u1", 9999, 0)

	require.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestBookingsForEvent_OrganizerOnly(t *testing.T) {
	ledger := new(MockLedger)
	events := new(MockEvents)
	svc := New(ledger, events, new(MockCounter), Config{})

	ev := testSnapshot("e1", "org-1", 100)
	events.On("GetEvent", mock.Anything, "e1").Return(ev, nil)

	_, err := svc.BookingsForEvent(context.Background(), "someone-else", "e1", 0, 0)

	require.ErrorIs(t, err, ErrForbidden)
}

func TestBookingsForEvent_Success(t *testing.T) {
	ledger := new(MockLedger)
	events := new(MockEvents)
	svc := New(ledger, events, new(MockCounter), Config{})

	ev := testSnapshot("e1", "org-1", 100)
	b := testBooking("u1", "e1")

	events.On("GetEvent", mock.Anything, "e1").Return(ev, nil)
	ledger.On("FindByEvent", mock.Anything, "e1", 100, 0).Return([]domain.Booking{b}, nil)

	out, err := svc.BookingsForEvent(context.Background(), "org-1", "e1", 0, 0)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ev, out[0].EventDetails)
}

func TestBookingsForEvent_EventNotFound(t *testing.T) {
	events := new(MockEvents)
	svc := New(new(MockLedger), events, new(MockCounter), Config{})

	events.On("GetEvent", mock.Anything, "missing").Return(nil, catalog.ErrEventNotFound)

	_, err := svc.BookingsForEvent(context.Background(), "org-1", "missing", 0, 0)

	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestGetBooking_Owner(t *testing.T) {
	ledger := new(MockLedger)
	events := new(MockEvents)
	svc := New(ledger, events, new(MockCounter), Config{})

	b := testBooking("u1", "e1")
	ledger.On("FindByID", mock.Anything, b.ID).Return(&b, nil)
	events.On("GetEvent", mock.Anything, "e1").Return(testSnapshot("e1", "org-1", 100), nil)

	out, err := svc.GetBooking(context.Background(), "u1", b.ID)

	require.NoError(t, err)
	assert.Equal(t, b.ID, out.ID)
}

func TestGetBooking_Organizer(t *testing.T) {
	ledger := new(MockLedger)
	events := new(MockEvents)
	svc := New(ledger, events, new(MockCounter), Config{})

	b := testBooking("u1", "e1")
	ledger.On("FindByID", mock.Anything, b.ID).Return(&b, nil)
	events.On("GetEvent", mock.Anything, "e1").Return(testSnapshot("e1", "org-1", 100), nil)

	out, err := svc.GetBooking(context.Background(), "org-1", b.ID)

	require.NoError(t, err)
	assert.Equal(t, b.ID, out.ID)
}

func TestGetBooking_Forbidden(t *testing.T) {
	ledger := new(MockLedger)
	events := new(MockEvents)
	svc := New(ledger, events, new(MockCounter), Config{})

	b := testBooking("u1", "e1")
	ledger.On("FindByID", mock.Anything, b.ID).Return(&b, nil)
	events.On("GetEvent", mock.Anything, "e1").Return(testSnapshot("e1", "org-1", 100), nil)

	_, err := svc.GetBooking(context.Background(), "stranger", b.ID)

	require.ErrorIs(t, err, ErrForbidden)
}

func TestGetBooking_NotFound(t *testing.T) {
	ledger := new(MockLedger)
	svc := New(ledger, new(MockEvents), new(MockCounter), Config{})

	id := uuid.New()
	ledger.On("FindByID", mock.Anything, id).Return(nil, repository.ErrNotFound)

	_, err := svc.GetBooking(context.Background(), "u1", id)

	require.ErrorIs(t, err, ErrBookingNotFound)
}

func TestAvailability_WarmCounter(t *testing.T) {
	events := new(MockEvents)
	counter := new(MockCounter)
	svc := New(new(MockLedger), events, counter, Config{})

	events.On("GetEvent", mock.Anything, "e1").Return(testSnapshot("e1", "org-1", 100), nil)
	counter.On("Get", mock.Anything, "e1").Return(int64(40), true, nil)

	out, err := svc.Availability(context.Background(), "e1")

	require.NoError(t, err)
	assert.EqualValues(t, 40, out.Confirmed)
	assert.EqualValues(t, 60, out.Remaining)
}

func TestAvailability_ColdCounterFallsBackToLedger(t *testing.T) {
	ledger := new(MockLedger)
	events := new(MockEvents)
	counter := new(MockCounter)
	svc := New(ledger, events, counter, Config{})

	events.On("GetEvent", mock.Anything, "e1").Return(testSnapshot("e1", "org-1", 100), nil)
	counter.On("Get", mock.Anything, "e1").Return(int64(0), false, nil)
	ledger.On("CountConfirmedByEvent", mock.Anything, "e1").Return(int64(70), nil)

	out, err := svc.Availability(context.Background(), "e1")

	require.NoError(t, err)
	assert.EqualValues(t, 70, out.Confirmed)
	assert.EqualValues(t, 30, out.Remaining)
	ledger.AssertExpectations(t)
}

func TestAvailability_RemainingNeverNegative(t *testing.T) {
	events := new(MockEvents)
	counter := new(MockCounter)
	svc := New(new(MockLedger), events, counter, Config{})

	events.On("GetEvent", mock.Anything, "e1").Return(testSnapshot("e1", "org-1", 10), nil)
	counter.On("Get", mock.Anything, "e1").Return(int64(12), true, nil)

	out, err := svc.Availability(context.Background(), "e1")

	require.NoError(t, err)
	assert.EqualValues(t, 0, out.Remaining)
}

func TestAvailability_EventNotFound(t *testing.T) {
	events := new(MockEvents)
	svc := New(new(MockLedger), events, new(MockCounter), Config{})

	events.On("GetEvent", mock.Anything, "missing").Return(nil, catalog.ErrEventNotFound)

	_, err := svc.Availability(context.Background(), "missing")

	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestClampPage(t *testing.T) {
	svc := New(new(MockLedger), new(MockEvents), new(MockCounter), Config{DefaultPage: 25, MaxPage: 100})

	assert.Equal(t, 25, svc.clampPage(0))
	assert.Equal(t, 25, svc.clampPage(-5))
	assert.Equal(t, 50, svc.clampPage(50))
	assert.Equal(t, 100, svc.clampPage(1000))
}
