// Package engine implements the loan and reservation lifecycle for the
// library: copy-availability accounting, loan state transitions,
// renewal policy, fine computation and reservation-queue advancement.
// All mutating operations go through the Coordinator, which serializes
// them per book so that no two users are ever granted the same last
// copy and reservations are honored strictly in order.
package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by the engine.  Handlers compare with
// errors.Is and translate them into HTTP statuses; none of them is
// fatal to the process.
var (
	// ErrCapacityExhausted means a borrow was attempted with zero
	// available copies and an empty queue.  The caller may reserve
	// instead.
	ErrCapacityExhausted = errors.New("no copies available, reservation required")

	// ErrQueueJumpRejected means a direct borrow was attempted while
	// other users are already waiting for the book.
	ErrQueueJumpRejected = errors.New("book has a waiting queue, reserve instead")

	// ErrDuplicateReservation means the requester already has a
	// pending reservation for the book.
	ErrDuplicateReservation = errors.New("user already has a pending reservation for this book")

	// ErrAlreadyBorrowed means the requester already holds an open
	// loan on the book.
	ErrAlreadyBorrowed = errors.New("user already has this book on loan")

	// ErrCopiesAvailable means a reservation was attempted while
	// copies can be borrowed directly.  Reservations exist only for
	// genuinely unavailable books.
	ErrCopiesAvailable = errors.New("copies are available, borrow directly")

	// ErrNotFound means the referenced book, loan or reservation does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotPending means a cancel was attempted on a reservation
	// that already reached a terminal state.
	ErrNotPending = errors.New("reservation is not pending")

	// ErrLoanClosed means an administrative transition was attempted
	// on a loan that is no longer open.
	ErrLoanClosed = errors.New("loan is already closed")

	// ErrRenewalDenied is the base error wrapped by RenewalDeniedError.
	ErrRenewalDenied = errors.New("renewal denied")

	// ErrTransientConflict means the per-book critical section could
	// not be entered within the bounded wait.  The caller should
	// retry; the Coordinator already retried a few times itself.
	ErrTransientConflict = errors.New("conflicting operation in progress, retry")
)

// RenewalReason identifies why a renewal was refused, so callers can
// present "renewal limit reached" and "reserved by another user"
// distinctly.
type RenewalReason string

const (
	RenewalLimitReached  RenewalReason = "renewal_limit_reached"
	RenewalLoanNotActive RenewalReason = "loan_not_active"
	RenewalQueueNotEmpty RenewalReason = "reserved_by_another_user"
)

// RenewalDeniedError carries the specific denial reason.  It unwraps
// to ErrRenewalDenied so errors.Is(err, ErrRenewalDenied) holds.
type RenewalDeniedError struct {
	Reason RenewalReason
}

func (e *RenewalDeniedError) Error() string {
	return fmt.Sprintf("renewal denied: %s", e.Reason)
}

func (e *RenewalDeniedError) Unwrap() error { return ErrRenewalDenied }

// renewalDenied is a convenience constructor used by the loan machine.
func renewalDenied(reason RenewalReason) error {
	return &RenewalDeniedError{Reason: reason}
}
