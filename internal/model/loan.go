package model

import "time"

// Loan status values.  Active and Overdue are the open states that
// occupy a copy; Returned, Lost and Damaged are terminal and final.
const (
    LoanActive   = "ACTIVE"
    LoanOverdue  = "OVERDUE"
    LoanReturned = "RETURNED"
    LoanLost     = "LOST"
    LoanDamaged  = "DAMAGED"
)

// Loan records one copy of a book held by one user for a bounded
// period.  A loan is created when a borrow is granted (directly or by
// promoting a reservation), mutated by return, renew and the overdue
// sweep, and never deleted.
//
// Fields:
//  ID           – primary key identifier.
//  BookID       – book being borrowed.
//  UserID       – user holding the copy.
//  Status       – one of the Loan* constants above.
//  IssuedAt     – when the loan was opened.
//  DueAt        – when the copy is due back; extended by renewals.
//  ReturnedAt   – when the copy came back (nil while open).
//  RenewalCount – number of renewals granted so far (0..max).
//  FineCents    – accrued fine in cents; frozen at return time.
//  CreatedAt    – creation timestamp.
//  UpdatedAt    – last update timestamp.
type Loan struct {
    ID           uint64     // loans.id
    BookID       uint64     // loans.book_id
    UserID       uint64     // loans.user_id
    Status       string     // loans.status
    IssuedAt     time.Time  // loans.issued_at
    DueAt        time.Time  // loans.due_at
    ReturnedAt   *time.Time // loans.returned_at (nullable)
    RenewalCount uint32     // loans.renewal_count
    FineCents    uint32     // loans.fine_cents
    CreatedAt    time.Time  // loans.created_at
    UpdatedAt    time.Time  // loans.updated_at
}

// Open reports whether the loan still occupies a copy.
func (l *Loan) Open() bool {
    return l.Status == LoanActive || l.Status == LoanOverdue
}

// Terminal reports whether the loan has reached a final state.
func (l *Loan) Terminal() bool {
    return l.Status == LoanReturned || l.Status == LoanLost || l.Status == LoanDamaged
}
