package engine

import "time"

// Policy carries the circulation rules the engine applies.  All values
// are supplied by configuration so they can change without touching
// engine logic: loan period, renewal ceiling, fine rate, reservation
// lifetime and the bounds on per-book lock acquisition.
//
// Fields:
//  LoanPeriod      – how long a borrowed copy may be kept; renewals
//                    extend the due date by this much from "now".
//  MaxRenewals     – how many times a single loan may be renewed.
//  FinePerDayCents – fine accrued per whole day a loan is late.
//  ReservationTTL  – how long a pending reservation stays valid.
//  LockWait        – how long one attempt waits for a book's lock.
//  LockRetries     – how many acquisition attempts before the
//                    conflict is surfaced to the caller.
//  LockBackoff     – base delay between acquisition attempts.
type Policy struct {
	LoanPeriod      time.Duration
	MaxRenewals     uint32
	FinePerDayCents uint32
	ReservationTTL  time.Duration
	LockWait        time.Duration
	LockRetries     int
	LockBackoff     time.Duration
}

// DefaultPolicy returns the rules the original library operated under:
// two-week loans, two renewals, one dollar per late day and week-long
// reservations.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriod:      14 * 24 * time.Hour,
		MaxRenewals:     2,
		FinePerDayCents: 100,
		ReservationTTL:  7 * 24 * time.Hour,
		LockWait:        500 * time.Millisecond,
		LockRetries:     3,
		LockBackoff:     50 * time.Millisecond,
	}
}
