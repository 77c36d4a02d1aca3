package admission

import "errors"

var (
	// Terminal, caller-side outcomes. Safe to surface as 4xx and never
	// worth a retry.
	ErrDuplicateBooking = errors.New("user already holds a confirmed booking for this event")
	ErrEventFull        = errors.New("event is full")
	ErrEventNotFound    = errors.New("event not found")
	ErrEventInactive    = errors.New("event is not active")
	ErrNotFound         = errors.New("booking not found")
	ErrForbidden        = errors.New("booking belongs to another user")

	// Transient outcomes. Compensation has already run, so a resubmit is
	// safe.
	ErrPersistence          = errors.New("booking ledger unavailable")
	ErrCapacityUpdateFailed = errors.New("capacity authority update failed")

	// ErrCompensationFailed means an undo step did not go through and the
	// counter, ledger and authority may have diverged. Needs operator
	// reconciliation, not a client retry.
	ErrCompensationFailed = errors.New("compensation failed")
)
