package query

import "errors"

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrEventNotFound   = errors.New("event not found")
	ErrForbidden       = errors.New("not authorized to view these bookings")
)
