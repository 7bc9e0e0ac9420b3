package engine

import "context"

// ledger is the availability accounting for a book: total copies read
// from the catalog minus loans currently in an open state.  It is a
// pure derive-on-read component – the "decrement" of a successful
// admission is the loan row the Coordinator inserts inside the same
// critical section, and the "increment" is the row leaving an open
// state on closure.  Deriving from the loan rows keeps the count
// impossible to drift from the loans it summarizes.
type ledger struct {
	store Store
}

// availableCopies returns total copies minus open loans, clamped at
// zero.  The clamp matters when the catalog reduced a book's copy
// count below the loans already out: those loans stay valid and the
// book simply reports no availability until copies come back.
func (l *ledger) availableCopies(ctx context.Context, bookID uint64) (int, error) {
	total, err := l.store.TotalCopies(ctx, bookID)
	if err != nil {
		return 0, err
	}
	open, err := l.store.CountOpenLoans(ctx, bookID)
	if err != nil {
		return 0, err
	}
	avail := int(total) - open
	if avail < 0 {
		avail = 0
	}
	return avail, nil
}

// reserveCapacity is the sole admission-control gate for loan
// creation.  It reports whether a copy is free right now; the caller
// must hold the book's critical section, which is what makes the
// test-and-use atomic with respect to concurrent borrowers.  It never
// lets the derived availability go negative because loan creation is
// conditioned on it.
func (l *ledger) reserveCapacity(ctx context.Context, bookID uint64) (bool, error) {
	avail, err := l.availableCopies(ctx, bookID)
	if err != nil {
		return false, err
	}
	return avail > 0, nil
}
