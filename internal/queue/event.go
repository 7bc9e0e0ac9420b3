// Package queue defines message payloads exchanged over the message broker.
package queue

// Event types published to the circulation.events queue.
const (
    EventLoanOpened          = "loan.opened"
    EventLoanClosed          = "loan.closed"
    EventReservationPromoted = "reservation.promoted"
)

// CirculationEvent is published whenever a copy changes hands: a loan is
// opened (direct borrow or queue promotion), a loan is closed (return,
// lost, damaged), or a reservation is promoted to the head of its queue.
// It contains enough information for downstream consumers to log, notify,
// or trigger analytics without querying the primary database.
type CirculationEvent struct {
    Type          string `json:"type"`
    LoanID        uint64 `json:"loan_id,omitempty"`
    ReservationID uint64 `json:"reservation_id,omitempty"`
    BookID        uint64 `json:"book_id"`
    BookTitle     string `json:"book_title,omitempty"`
    UserID        uint64 `json:"user_id"`
    DueAt         string `json:"due_at,omitempty"`
    FineCents     uint32 `json:"fine_cents,omitempty"`
    OccurredAt    string `json:"occurred_at"`
}
