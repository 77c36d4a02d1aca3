package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kirinyoku/bookd/internal/domain"
	"github.com/kirinyoku/bookd/internal/repository"
)

type BookingRepo struct {
	store *Store
	db    DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.store.pool
}

// Insert writes a booking row after rechecking, in the same serializable
// transaction, that the user holds no confirmed booking for the event. The
// partial unique index enforces the same rule; the transactional recheck
// turns the race into a clean conflict instead of a constraint violation.
// Re-inserting an existing booking id is a no-op, so a retried write can
// never produce a duplicate row.
//
// Returns:
//   - error: repository.ErrConflict if a confirmed booking already exists
//     for the same (user_id, event_id) pair.
func (r *BookingRepo) Insert(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Insert"

	if r.db != nil {
		if err := r.insert(ctx, r.db, b); err != nil {
			return fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return nil
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = r.store.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
			return r.insert(ctx, tx, b)
		})
		if err == nil || !IsRetryable(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

func (r *BookingRepo) insert(ctx context.Context, db DB, b *domain.Booking) error {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS (
        	SELECT 1 FROM bookings
       	 WHERE user_id = $1 AND event_id = $2 AND status = $3)`,
		b.UserID, b.EventID, string(domain.BookingConfirmed),
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		return repository.ErrConflict
	}

	_, err = db.Exec(ctx,
		`INSERT INTO bookings (id, event_id, user_id, status, created_at, updated_at)
       	 VALUES ($1, $2, $3, $4, $5, $6)
       	 ON CONFLICT (id) DO NOTHING`,
		b.ID, b.EventID, b.UserID, string(b.Status), b.CreatedAt, b.UpdatedAt,
	)

	return err
}

// Delete removes a booking row entirely. Used only on the reservation
// rollback path, where the booking id was never exposed to the caller.
func (r *BookingRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.BookingRepo.Delete"

	db := r.handle()

	if _, err := db.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// CancelConfirmed flips a confirmed booking to cancelled.
//
// Returns:
//   - string: the event id of the cancelled booking.
//   - error: repository.ErrNotFound if no confirmed row exists for the id,
//     which makes a repeated cancel observable as not-found rather than a
//     second decrement.
func (r *BookingRepo) CancelConfirmed(ctx context.Context, id uuid.UUID) (string, error) {
	const op = "postgres.BookingRepo.CancelConfirmed"

	db := r.handle()

	var eventID string
	err := db.QueryRow(ctx,
		`UPDATE bookings
        	SET status = $2, updated_at = now()
      	 WHERE id = $1 AND status = $3
      	 RETURNING event_id`,
		id, string(domain.BookingCancelled), string(domain.BookingConfirmed),
	).Scan(&eventID)
	if err != nil {
		return "", fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return eventID, nil
}

// Reinstate puts a booking back into confirmed state. Compensation for a
// cancel whose authority decrement did not go through.
//
// Returns:
//   - error: repository.ErrNotFound if the booking row is gone.
func (r *BookingRepo) Reinstate(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.BookingRepo.Reinstate"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE bookings
        	SET status = $2, updated_at = now()
      	 WHERE id = $1`,
		id, string(domain.BookingConfirmed),
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// FindByID retrieves a booking by its id.
//
// Returns:
//   - *domain.Booking: the booking when found.
//   - error: repository.ErrNotFound if the booking does not exist.
func (r *BookingRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.FindByID"

	db := r.handle()

	var b domain.Booking
	var status string
	err := db.QueryRow(ctx,
		`SELECT id, event_id, user_id, status, created_at, updated_at
       	 FROM bookings
      	 WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.EventID, &b.UserID, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	b.Status = domain.BookingStatus(status)

	return &b, nil
}

// FindConfirmedByUserAndEvent looks up the confirmed booking one user holds
// for one event. Backed by the partial unique index on
// (user_id, event_id) WHERE status = 'confirmed', so the duplicate check is
// an index probe, not a scan.
//
// Returns:
//   - *domain.Booking: the confirmed booking when present.
//   - error: repository.ErrNotFound when the user holds no confirmed
//     booking for the event.
func (r *BookingRepo) FindConfirmedByUserAndEvent(
	ctx context.Context,
	userID, eventID string,
) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.FindConfirmedByUserAndEvent"

	db := r.handle()

	var b domain.Booking
	var status string
	err := db.QueryRow(ctx,
		`SELECT id, event_id, user_id, status, created_at, updated_at
       	 FROM bookings
      	 WHERE user_id = $1 AND event_id = $2 AND status = $3`,
		userID, eventID, string(domain.BookingConfirmed),
	).Scan(&b.ID, &b.EventID, &b.UserID, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	b.Status = domain.BookingStatus(status)

	return &b, nil
}

// FindByUser lists a user's bookings, newest first.
func (r *BookingRepo) FindByUser(
	ctx context.Context,
	userID string,
	limit, offset int,
) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.FindByUser"

	return r.list(ctx, op,
		`SELECT id, event_id, user_id, status, created_at, updated_at
       	 FROM bookings
      	 WHERE user_id = $1
      	 ORDER BY created_at DESC
      	 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
}

// FindByEvent lists an event's bookings, newest first.
func (r *BookingRepo) FindByEvent(
	ctx context.Context,
	eventID string,
	limit, offset int,
) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.FindByEvent"

	return r.list(ctx, op,
		`SELECT id, event_id, user_id, status, created_at, updated_at
       	 FROM bookings
      	 WHERE event_id = $1
      	 ORDER BY created_at DESC
      	 LIMIT $2 OFFSET $3`,
		eventID, limit, offset,
	)
}

// CountConfirmedByEvent counts the confirmed bookings for one event. Seeds
// the fast counter on cold start.
func (r *BookingRepo) CountConfirmedByEvent(ctx context.Context, eventID string) (int64, error) {
	const op = "postgres.BookingRepo.CountConfirmedByEvent"

	db := r.handle()

	var n int64
	err := db.QueryRow(ctx,
		`SELECT COUNT(*)
       	 FROM bookings
      	 WHERE event_id = $1 AND status = $2`,
		eventID, string(domain.BookingConfirmed),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return n, nil
}

// ConfirmedCountsByEvent returns the confirmed booking count per event id
// for the reconciliation sweep.
func (r *BookingRepo) ConfirmedCountsByEvent(ctx context.Context) (map[string]int64, error) {
	const op = "postgres.BookingRepo.ConfirmedCountsByEvent"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT event_id, COUNT(*)
       	 FROM bookings
      	 WHERE status = $1
      	 GROUP BY event_id`,
		string(domain.BookingConfirmed),
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var eventID string
		var n int64
		if err := rows.Scan(&eventID, &n); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out[eventID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *BookingRepo) list(
	ctx context.Context,
	op string,
	sql string,
	args ...any,
) ([]domain.Booking, error) {
	db := r.handle()

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		var status string
		if err := rows.Scan(
			&b.ID,
			&b.EventID,
			&b.UserID,
			&status,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		b.Status = domain.BookingStatus(status)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
