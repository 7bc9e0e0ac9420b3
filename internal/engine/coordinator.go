package engine

import (
	"context"
	"log"
	"time"

	"github.com/openshelf/circulation/internal/model"
)

// Events receives notifications about completed lifecycle transitions.
// The Coordinator calls it after the transition is durably applied;
// implementations must not block the request path for long and must
// tolerate being called concurrently.  A nil Events is allowed.
type Events interface {
	LoanOpened(ctx context.Context, loan model.Loan)
	LoanClosed(ctx context.Context, loan model.Loan)
	ReservationPromoted(ctx context.Context, res model.Reservation, loan model.Loan)
}

// Coordinator sequences every borrow, return, renew and reserve
// request under a per-book exclusivity boundary.  It is the only
// writer of loan and reservation state; the HTTP layer performs
// authentication and role checks before calling in, and the engine
// trusts the opaque user ids it is handed.
type Coordinator struct {
	store  Store
	policy Policy
	locks  *lockTable
	ledger ledger
	loans  loanMachine
	queue  queueManager
	events Events
}

// NewCoordinator builds a Coordinator over the given store and policy.
// events may be nil when no downstream consumer is interested.
func NewCoordinator(store Store, policy Policy, events Events) *Coordinator {
	return &Coordinator{
		store:  store,
		policy: policy,
		locks:  newLockTable(),
		ledger: ledger{store: store},
		loans:  loanMachine{store: store, policy: policy},
		queue:  queueManager{store: store, policy: policy},
		events: events,
	}
}

// withBook runs fn inside the book's critical section, retrying the
// bounded-wait acquisition a few times with linear backoff before
// surfacing ErrTransientConflict.  Operations on different books take
// different locks and never contend.
func (c *Coordinator) withBook(ctx context.Context, bookID uint64, fn func(ctx context.Context) error) error {
	attempts := c.policy.LockRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		release, err := c.locks.acquire(ctx, bookID, c.policy.LockWait)
		if err == nil {
			defer release()
			return fn(ctx)
		}
		if i+1 < attempts {
			select {
			case <-time.After(c.policy.LockBackoff * time.Duration(i+1)):
			case <-ctx.Done():
				return ErrTransientConflict
			}
		}
	}
	return ErrTransientConflict
}

// Borrow grants the user a copy of the book, creating an Active loan
// due one loan period from now.  A borrow is refused when the user
// already holds the book, when others are waiting for it (the user
// must reserve instead of jumping the queue), or when no copy is free.
func (c *Coordinator) Borrow(ctx context.Context, bookID, userID uint64, now time.Time) (*model.Loan, error) {
	var loan *model.Loan
	err := c.withBook(ctx, bookID, func(ctx context.Context) error {
		pending, err := c.queue.expireStale(ctx, bookID, now)
		if err != nil {
			return err
		}
		open, err := c.store.OpenLoanByUser(ctx, bookID, userID)
		if err != nil {
			return err
		}
		if open != nil {
			return ErrAlreadyBorrowed
		}
		if len(pending) > 0 {
			return ErrQueueJumpRejected
		}
		ok, err := c.ledger.reserveCapacity(ctx, bookID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCapacityExhausted
		}
		loan, err = c.loans.issue(ctx, bookID, userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if c.events != nil {
		c.events.LoanOpened(ctx, *loan)
	}
	return loan, nil
}

// ReturnResult reports the outcome of a return: the closed loan and,
// when the freed copy went straight to the head of the queue, the
// fulfilled reservation together with the loan opened for its holder.
type ReturnResult struct {
	Loan         *model.Loan
	Promoted     *model.Reservation
	PromotedLoan *model.Loan
}

// ReturnLoan closes an open loan, freezes its fine and hands the freed
// copy to the queue head if one is waiting – all in one critical
// section, so availability never transiently shows the copy as free.
// Returning an already-closed loan is a no-op that reports the prior
// result; duplicate return requests are expected under retries.
func (c *Coordinator) ReturnLoan(ctx context.Context, loanID uint64, now time.Time) (*ReturnResult, error) {
	loan, err := c.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	result := &ReturnResult{}
	closed := false
	err = c.withBook(ctx, loan.BookID, func(ctx context.Context) error {
		// Re-read inside the critical section; a concurrent return may
		// have closed the loan between the lookup above and the lock.
		loan, err = c.store.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Terminal() {
			result.Loan = loan
			return nil
		}
		if err := c.loans.close(ctx, loan, now); err != nil {
			return err
		}
		result.Loan = loan
		closed = true
		return c.promote(ctx, loan.BookID, now, result)
	})
	if err != nil {
		return nil, err
	}
	if closed && c.events != nil {
		c.events.LoanClosed(ctx, *result.Loan)
		if result.Promoted != nil {
			c.events.ReservationPromoted(ctx, *result.Promoted, *result.PromotedLoan)
		}
	}
	return result, nil
}

// promote hands just-released capacity to the queue head.  Promotion
// has priority over open borrowing: the new loan is created before the
// critical section ends, so no ordinary borrow can observe the copy.
// When the catalog shrank the book below its open loans there is
// nothing to hand over and the queue simply keeps waiting.
func (c *Coordinator) promote(ctx context.Context, bookID uint64, now time.Time, result *ReturnResult) error {
	ok, err := c.ledger.reserveCapacity(ctx, bookID)
	if err != nil || !ok {
		return err
	}
	res, err := c.queue.promoteHead(ctx, bookID, now)
	if err != nil || res == nil {
		return err
	}
	promotedLoan, err := c.loans.issue(ctx, bookID, res.UserID, now)
	if err != nil {
		return err
	}
	result.Promoted = res
	result.PromotedLoan = promotedLoan
	return nil
}

// Renew extends a loan's due date by one loan period from now, bounded
// by the renewal ceiling and blocked while the book has a waiting
// queue or the loan is no longer Active.
func (c *Coordinator) Renew(ctx context.Context, loanID uint64, now time.Time) (*model.Loan, error) {
	loan, err := c.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	err = c.withBook(ctx, loan.BookID, func(ctx context.Context) error {
		loan, err = c.store.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		pending, err := c.queue.expireStale(ctx, loan.BookID, now)
		if err != nil {
			return err
		}
		return c.loans.renew(ctx, loan, len(pending), now)
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// Reserve places the user at the tail of the book's waiting queue.
// Reservations exist only for books with no copies free; when one can
// be borrowed directly the request is refused with ErrCopiesAvailable.
func (c *Coordinator) Reserve(ctx context.Context, bookID, userID uint64, now time.Time) (*model.Reservation, error) {
	var res *model.Reservation
	err := c.withBook(ctx, bookID, func(ctx context.Context) error {
		avail, err := c.ledger.availableCopies(ctx, bookID)
		if err != nil {
			return err
		}
		if avail > 0 {
			return ErrCopiesAvailable
		}
		res, err = c.queue.enqueue(ctx, bookID, userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CancelReservation withdraws a pending reservation and compacts the
// positions behind it.
func (c *Coordinator) CancelReservation(ctx context.Context, reservationID uint64) (*model.Reservation, error) {
	res, err := c.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	err = c.withBook(ctx, res.BookID, func(ctx context.Context) error {
		res, err = c.store.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		return c.queue.cancel(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// MarkLost records the administrative decision that a borrowed copy is
// lost.  The transition is terminal; the fine accrued so far is
// frozen.  The released capacity is offered to the queue like any
// other – whether the physical copy re-enters the catalog's pool is
// the catalog's concern, expressed through the book's copy count.
func (c *Coordinator) MarkLost(ctx context.Context, loanID uint64, now time.Time) (*model.Loan, error) {
	return c.markTerminal(ctx, loanID, model.LoanLost, now)
}

// MarkDamaged records the administrative decision that a borrowed copy
// came back damaged.  Same semantics as MarkLost.
func (c *Coordinator) MarkDamaged(ctx context.Context, loanID uint64, now time.Time) (*model.Loan, error) {
	return c.markTerminal(ctx, loanID, model.LoanDamaged, now)
}

func (c *Coordinator) markTerminal(ctx context.Context, loanID uint64, status string, now time.Time) (*model.Loan, error) {
	loan, err := c.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	result := &ReturnResult{}
	err = c.withBook(ctx, loan.BookID, func(ctx context.Context) error {
		loan, err = c.store.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if err := c.loans.markTerminal(ctx, loan, status, now); err != nil {
			return err
		}
		return c.promote(ctx, loan.BookID, now, result)
	})
	if err != nil {
		return nil, err
	}
	if c.events != nil {
		c.events.LoanClosed(ctx, *loan)
		if result.Promoted != nil {
			c.events.ReservationPromoted(ctx, *result.Promoted, *result.PromotedLoan)
		}
	}
	return loan, nil
}

// AvailableCopies reports how many copies of the book can be borrowed
// right now.  The read takes the book's critical section so it can
// never observe the window inside a return where the loan is closed
// but the freed copy has not yet reached the queue head: a copy owed
// to a waiting reservation is never reported as free.
func (c *Coordinator) AvailableCopies(ctx context.Context, bookID uint64) (int, error) {
	var avail int
	err := c.withBook(ctx, bookID, func(ctx context.Context) error {
		var err error
		avail, err = c.ledger.availableCopies(ctx, bookID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return avail, nil
}

// QueueLength reports how many users are waiting for the book.  Taken
// under the book's critical section for the same reason as
// AvailableCopies.
func (c *Coordinator) QueueLength(ctx context.Context, bookID uint64) (int, error) {
	var n int
	err := c.withBook(ctx, bookID, func(ctx context.Context) error {
		pending, err := c.store.PendingReservations(ctx, bookID)
		if err != nil {
			return err
		}
		n = len(pending)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// LoanStatus returns the loan with overdue state evaluated lazily
// against "now" and, for open loans, the fine accrued so far.  The
// accrued figure is derived, not persisted; only the Overdue flip is
// written back.  The flip is re-read and written inside the book's
// critical section: a stale snapshot must never overwrite a return
// that closed the loan in the meantime.
func (c *Coordinator) LoanStatus(ctx context.Context, loanID uint64, now time.Time) (*model.Loan, error) {
	loan, err := c.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	err = c.withBook(ctx, loan.BookID, func(ctx context.Context) error {
		loan, err = c.store.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if changed := c.loans.evaluateOverdue(loan, now); changed {
			return c.store.UpdateLoan(ctx, loan)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if loan.Open() {
		loan.FineCents = c.loans.accruedFine(loan, now)
	}
	return loan, nil
}

// QueuePosition returns the reservation together with its recomputed
// dense queue position; position 0 means the reservation is no longer
// pending.
func (c *Coordinator) QueuePosition(ctx context.Context, reservationID uint64, now time.Time) (*model.Reservation, uint32, error) {
	res, err := c.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, 0, err
	}
	var pos uint32
	err = c.withBook(ctx, res.BookID, func(ctx context.Context) error {
		res, err = c.store.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		pos, err = c.queue.position(ctx, res, now)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return res, pos, nil
}

// OverdueSweep flips every Active loan past its due date to Overdue
// and returns how many were touched.  The sweep is an optimization for
// proactive fine visibility; the same transition happens lazily on any
// read, so nothing depends on this being scheduled.  The candidate
// list is only a hint: each loan is re-read under its book's critical
// section before the flip, so a candidate returned or renewed since
// the listing is left alone rather than overwritten.
func (c *Coordinator) OverdueSweep(ctx context.Context, now time.Time) (int, error) {
	candidates, err := c.store.OverdueCandidates(ctx, now)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, cand := range candidates {
		err := c.withBook(ctx, cand.BookID, func(ctx context.Context) error {
			loan, err := c.store.GetLoan(ctx, cand.ID)
			if err != nil {
				return err
			}
			if changed := c.loans.evaluateOverdue(loan, now); !changed {
				return nil
			}
			if err := c.store.UpdateLoan(ctx, loan); err != nil {
				return err
			}
			n++
			return nil
		})
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// CopyCountChanged is the catalog's notification that a book's total
// copy count moved.  Existing loans stay valid either way.  On growth
// the new capacity goes to waiting reservations immediately; on
// shrinkage the engine just logs the shortfall and lets the derived
// availability suppress borrows and promotions until copies return.
func (c *Coordinator) CopyCountChanged(ctx context.Context, bookID uint64, now time.Time) ([]*ReturnResult, error) {
	var promoted []*ReturnResult
	err := c.withBook(ctx, bookID, func(ctx context.Context) error {
		total, err := c.store.TotalCopies(ctx, bookID)
		if err != nil {
			return err
		}
		open, err := c.store.CountOpenLoans(ctx, bookID)
		if err != nil {
			return err
		}
		if int(total) < open {
			log.Printf("engine: book %d has %d open loans against %d copies; suppressing new loans until capacity recovers", bookID, open, total)
			return nil
		}
		for {
			result := &ReturnResult{}
			if err := c.promote(ctx, bookID, now, result); err != nil {
				return err
			}
			if result.Promoted == nil {
				return nil
			}
			promoted = append(promoted, result)
		}
	})
	if err != nil {
		return nil, err
	}
	if c.events != nil {
		for _, r := range promoted {
			c.events.ReservationPromoted(ctx, *r.Promoted, *r.PromotedLoan)
		}
	}
	return promoted, nil
}
