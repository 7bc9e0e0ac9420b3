package engine

import (
	"context"
	"time"

	"github.com/openshelf/circulation/internal/model"
)

// queueManager maintains the per-book waiting list: admission of new
// reservations, expiry of stale ones and promotion of the head once a
// copy frees up.  Pending reservations keep dense 1-based positions in
// strict creation order; there is no priority dimension.  Every method
// must be called inside the book's critical section so compaction is
// atomic with respect to concurrent enqueues.
type queueManager struct {
	store  Store
	policy Policy
}

// expireStale transitions pending reservations whose expiry has passed
// to Expired and compacts the positions of those remaining.  It runs
// opportunistically on every queue read and mutation, so correctness
// never depends on a background sweep actually firing.  It returns the
// still-pending reservations in queue order.
func (q *queueManager) expireStale(ctx context.Context, bookID uint64, now time.Time) ([]*model.Reservation, error) {
	pending, err := q.store.PendingReservations(ctx, bookID)
	if err != nil {
		return nil, err
	}
	remaining := pending[:0]
	expiredAny := false
	for _, res := range pending {
		if !res.ExpiresAt.After(now) {
			res.Status = model.ReservationExpired
			if err := q.store.UpdateReservation(ctx, res); err != nil {
				return nil, err
			}
			expiredAny = true
			continue
		}
		remaining = append(remaining, res)
	}
	if expiredAny {
		if err := q.compact(ctx, remaining); err != nil {
			return nil, err
		}
	}
	return remaining, nil
}

// compact renumbers the given pending reservations 1..n, preserving
// their relative order, so positions stay dense after a cancellation
// or expiry.  Rows whose position is already correct are not written.
func (q *queueManager) compact(ctx context.Context, pending []*model.Reservation) error {
	for i, res := range pending {
		want := uint32(i + 1)
		if res.QueuePos == want {
			continue
		}
		res.QueuePos = want
		if err := q.store.UpdateReservation(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

// enqueue admits a new reservation at the tail of the book's queue.
// It is rejected when the requester already holds an open loan on the
// book or already waits in its queue; one queue entry per user per
// book.
func (q *queueManager) enqueue(ctx context.Context, bookID, userID uint64, now time.Time) (*model.Reservation, error) {
	pending, err := q.expireStale(ctx, bookID, now)
	if err != nil {
		return nil, err
	}
	open, err := q.store.OpenLoanByUser(ctx, bookID, userID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, ErrAlreadyBorrowed
	}
	existing, err := q.store.PendingReservationByUser(ctx, bookID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateReservation
	}
	res := &model.Reservation{
		BookID:    bookID,
		UserID:    userID,
		Status:    model.ReservationPending,
		QueuePos:  uint32(len(pending) + 1),
		CreatedAt: now,
		ExpiresAt: now.Add(q.policy.ReservationTTL),
	}
	if err := q.store.CreateReservation(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// cancel withdraws a pending reservation and closes the gap it leaves
// in the queue.  Terminal reservations cannot be cancelled again.
func (q *queueManager) cancel(ctx context.Context, res *model.Reservation) error {
	if res.Status != model.ReservationPending {
		return ErrNotPending
	}
	res.Status = model.ReservationCancelled
	if err := q.store.UpdateReservation(ctx, res); err != nil {
		return err
	}
	pending, err := q.store.PendingReservations(ctx, res.BookID)
	if err != nil {
		return err
	}
	return q.compact(ctx, pending)
}

// promoteHead fulfils the reservation at position 1, if any remains
// after expiring stale entries, and compacts the rest.  The caller
// creates the corresponding loan in the same critical section, so the
// freed copy is never visible as generally available while someone is
// waiting for it.  Returns (nil, nil) when the queue is empty.
func (q *queueManager) promoteHead(ctx context.Context, bookID uint64, now time.Time) (*model.Reservation, error) {
	pending, err := q.expireStale(ctx, bookID, now)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	head := pending[0]
	head.Status = model.ReservationFulfilled
	if err := q.store.UpdateReservation(ctx, head); err != nil {
		return nil, err
	}
	if err := q.compact(ctx, pending[1:]); err != nil {
		return nil, err
	}
	return head, nil
}

// position recomputes a pending reservation's 1-based place from the
// current pending set rather than trusting the stored column, so the
// reported position can never drift.  Returns 0 for reservations that
// are no longer pending.
func (q *queueManager) position(ctx context.Context, res *model.Reservation, now time.Time) (uint32, error) {
	if res.Status != model.ReservationPending {
		return 0, nil
	}
	pending, err := q.expireStale(ctx, res.BookID, now)
	if err != nil {
		return 0, err
	}
	for i, p := range pending {
		if p.ID == res.ID {
			return uint32(i + 1), nil
		}
	}
	// The reservation itself expired during the sweep above.
	return 0, nil
}
