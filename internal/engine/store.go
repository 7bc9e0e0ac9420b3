package engine

import (
	"context"
	"time"

	"github.com/openshelf/circulation/internal/model"
)

// Store is the persistence contract the engine operates over.  The
// engine holds no durable state of its own; it can run against any
// implementation of this interface.  Two ship with the service: the
// MySQL-backed repository.Store used in production and the in-memory
// MemoryStore used by tests.
//
// Mutating methods are only ever invoked while the Coordinator holds
// the critical section for the affected book, so implementations do
// not need their own cross-call serialization beyond making each
// individual call atomic.
//
// Lookup methods return ErrNotFound when the referenced row does not
// exist.  "ByUser"/"Pending" finders return (nil, nil) when there is
// no match, since absence is an ordinary outcome for them.
type Store interface {
	// TotalCopies reads the catalog's copy count for a book.
	TotalCopies(ctx context.Context, bookID uint64) (uint32, error)

	// CountOpenLoans counts loans in Active or Overdue state for a book.
	CountOpenLoans(ctx context.Context, bookID uint64) (int, error)

	GetLoan(ctx context.Context, loanID uint64) (*model.Loan, error)

	// CreateLoan inserts the loan and populates its ID.
	CreateLoan(ctx context.Context, loan *model.Loan) error

	UpdateLoan(ctx context.Context, loan *model.Loan) error

	// OpenLoanByUser finds the user's Active/Overdue loan on a book,
	// or (nil, nil) when they hold none.
	OpenLoanByUser(ctx context.Context, bookID, userID uint64) (*model.Loan, error)

	// OverdueCandidates lists Active loans across all books whose due
	// timestamp has passed.  Used by the optional sweep only.
	OverdueCandidates(ctx context.Context, now time.Time) ([]*model.Loan, error)

	GetReservation(ctx context.Context, reservationID uint64) (*model.Reservation, error)

	// CreateReservation inserts the reservation and populates its ID.
	CreateReservation(ctx context.Context, res *model.Reservation) error

	UpdateReservation(ctx context.Context, res *model.Reservation) error

	// PendingReservations lists a book's Pending reservations ordered
	// by queue position ascending.
	PendingReservations(ctx context.Context, bookID uint64) ([]*model.Reservation, error)

	// PendingReservationByUser finds the user's Pending reservation on
	// a book, or (nil, nil) when they have none.
	PendingReservationByUser(ctx context.Context, bookID, userID uint64) (*model.Reservation, error)
}
