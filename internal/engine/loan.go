package engine

import (
	"context"
	"time"

	"github.com/openshelf/circulation/internal/model"
)

// loanMachine owns the lifecycle of a single loan record from issue to
// closure: due dates, lazy overdue detection, fine computation and the
// renewal rule.  Overdue and fines are pure functions of stored
// timestamps and "now", so no background scheduler is required for
// correctness.
type loanMachine struct {
	store  Store
	policy Policy
}

// issue creates a new Active loan due one loan period from now.  The
// caller must already have passed the ledger's admission gate inside
// the book's critical section.
func (m *loanMachine) issue(ctx context.Context, bookID, userID uint64, now time.Time) (*model.Loan, error) {
	loan := &model.Loan{
		BookID:   bookID,
		UserID:   userID,
		Status:   model.LoanActive,
		IssuedAt: now,
		DueAt:    now.Add(m.policy.LoanPeriod),
	}
	if err := m.store.CreateLoan(ctx, loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// evaluateOverdue flips an Active loan to Overdue once its due
// timestamp has passed.  It mutates the loan in memory and reports
// whether anything changed; the transition is monotone and idempotent,
// so callers may persist it from reads as well as writes.
func (m *loanMachine) evaluateOverdue(loan *model.Loan, now time.Time) bool {
	if loan.Status == model.LoanActive && now.After(loan.DueAt) {
		loan.Status = model.LoanOverdue
		return true
	}
	return false
}

// accruedFine computes the fine owed on a loan at the given instant:
// whole days late times the per-day rate.  Repeated evaluation before
// return yields a monotonically non-decreasing figure; after return
// the returned timestamp caps the computation, freezing the fine.
func (m *loanMachine) accruedFine(loan *model.Loan, now time.Time) uint32 {
	end := now
	if loan.ReturnedAt != nil && loan.ReturnedAt.Before(end) {
		end = *loan.ReturnedAt
	}
	if !end.After(loan.DueAt) {
		return 0
	}
	daysLate := int(end.Sub(loan.DueAt).Hours() / 24)
	if daysLate <= 0 {
		return 0
	}
	return uint32(daysLate) * m.policy.FinePerDayCents
}

// close transitions an open loan to Returned, stamps the return time
// and freezes the fine at its value as of that moment.  The caller
// handles the idempotent already-returned case before calling.
func (m *loanMachine) close(ctx context.Context, loan *model.Loan, now time.Time) error {
	m.evaluateOverdue(loan, now)
	returnedAt := now
	loan.ReturnedAt = &returnedAt
	loan.FineCents = m.accruedFine(loan, now)
	loan.Status = model.LoanReturned
	return m.store.UpdateLoan(ctx, loan)
}

// renew extends an Active loan's due date by one loan period from now.
// Renewal is refused – with a distinct reason each – when the loan is
// not Active (Overdue included), when the renewal ceiling is reached,
// or when the book has a waiting queue; a pending reservation blocks
// renewal to protect queue fairness.  queueLen must be computed after
// stale reservations were expired.
func (m *loanMachine) renew(ctx context.Context, loan *model.Loan, queueLen int, now time.Time) error {
	if changed := m.evaluateOverdue(loan, now); changed {
		if err := m.store.UpdateLoan(ctx, loan); err != nil {
			return err
		}
	}
	if loan.Status != model.LoanActive {
		return renewalDenied(RenewalLoanNotActive)
	}
	if loan.RenewalCount >= m.policy.MaxRenewals {
		return renewalDenied(RenewalLimitReached)
	}
	if queueLen > 0 {
		return renewalDenied(RenewalQueueNotEmpty)
	}
	loan.DueAt = now.Add(m.policy.LoanPeriod)
	loan.RenewalCount++
	return m.store.UpdateLoan(ctx, loan)
}

// markTerminal applies the administrative Lost/Damaged transition.
// The decision is the calling layer's; the engine just records it,
// freezing the fine accrued so far.  Capacity is released by the loan
// leaving its open state.
func (m *loanMachine) markTerminal(ctx context.Context, loan *model.Loan, status string, now time.Time) error {
	if !loan.Open() {
		return ErrLoanClosed
	}
	m.evaluateOverdue(loan, now)
	loan.FineCents = m.accruedFine(loan, now)
	loan.Status = status
	return m.store.UpdateLoan(ctx, loan)
}
