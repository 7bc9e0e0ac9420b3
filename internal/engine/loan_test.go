package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openshelf/circulation/internal/model"
)

func TestAccruedFine(t *testing.T) {
	m := loanMachine{policy: testPolicy()}
	due := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		at   time.Time
		want uint32
	}{
		{"before due", due.Add(-time.Hour), 0},
		{"exactly due", due, 0},
		{"hours late but under a day", due.Add(23 * time.Hour), 0},
		{"one whole day", due.Add(24 * time.Hour), 100},
		{"partial second day floors", due.Add(36 * time.Hour), 100},
		{"five days", due.Add(5 * 24 * time.Hour), 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loan := &model.Loan{Status: model.LoanActive, DueAt: due}
			assert.Equal(t, tc.want, m.accruedFine(loan, tc.at))
		})
	}
}

// Fine monotonicity: for a fixed overdue loan, later evaluation never
// reports less than earlier evaluation.
func TestAccruedFineMonotonic(t *testing.T) {
	m := loanMachine{policy: testPolicy()}
	due := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	loan := &model.Loan{Status: model.LoanOverdue, DueAt: due}

	prev := uint32(0)
	for hours := 0; hours <= 240; hours += 7 {
		fine := m.accruedFine(loan, due.Add(time.Duration(hours)*time.Hour))
		assert.GreaterOrEqual(t, fine, prev, "fine dropped at +%dh", hours)
		prev = fine
	}
}

func TestAccruedFineCappedByReturn(t *testing.T) {
	m := loanMachine{policy: testPolicy()}
	due := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	returnedAt := due.Add(2 * 24 * time.Hour)
	loan := &model.Loan{Status: model.LoanReturned, DueAt: due, ReturnedAt: &returnedAt}

	// Evaluations after the return keep using the return timestamp.
	assert.Equal(t, uint32(200), m.accruedFine(loan, returnedAt))
	assert.Equal(t, uint32(200), m.accruedFine(loan, returnedAt.Add(90*24*time.Hour)))
}

func TestEvaluateOverdue(t *testing.T) {
	m := loanMachine{policy: testPolicy()}
	due := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	loan := &model.Loan{Status: model.LoanActive, DueAt: due}
	assert.False(t, m.evaluateOverdue(loan, due), "due instant itself is not late")
	assert.Equal(t, model.LoanActive, loan.Status)

	assert.True(t, m.evaluateOverdue(loan, due.Add(time.Second)))
	assert.Equal(t, model.LoanOverdue, loan.Status)

	// Idempotent: a second evaluation reports no change.
	assert.False(t, m.evaluateOverdue(loan, due.Add(time.Hour)))

	// Terminal states are never flipped.
	returned := &model.Loan{Status: model.LoanReturned, DueAt: due}
	assert.False(t, m.evaluateOverdue(returned, due.Add(time.Hour)))
	assert.Equal(t, model.LoanReturned, returned.Status)
}
