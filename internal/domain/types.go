package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

// Booking lifecycle. Requested and Reserved never leave the admission
// controller; Confirmed is the only status a caller ever sees as success.
const (
	BookingRequested  BookingStatus = "requested"
	BookingReserved   BookingStatus = "reserved"
	BookingPersisted  BookingStatus = "persisted"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingCancelled  BookingStatus = "cancelled"
	BookingRolledBack BookingStatus = "rolled_back"
)

type Booking struct {
	ID        uuid.UUID     `json:"id"`
	EventID   string        `json:"event_id"`
	UserID    string        `json:"user_id"`
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// EventSnapshot is the booking service's read-only view of an event owned
// by the catalog service. Capacity is the immutable business limit;
// ConfirmedCount is the authority's own bookkeeping and may lag the ledger.
type EventSnapshot struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	OrganizerID    string `json:"organizer_id"`
	Capacity       int64  `json:"capacity"`
	ConfirmedCount int64  `json:"confirmed_count"`
	Active         bool   `json:"active"`
}

type BookingWithEvent struct {
	Booking
	EventDetails *EventSnapshot `json:"event_details,omitempty"`
}

// EventAvailability is the externally observable admission state of an
// event: confirmed bookings against the allowed capacity.
type EventAvailability struct {
	EventID   string `json:"event_id"`
	Capacity  int64  `json:"capacity"`
	Confirmed int64  `json:"confirmed"`
	Remaining int64  `json:"remaining"`
}
