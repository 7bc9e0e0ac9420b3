package model

import "time"

// Reservation status values.  Pending reservations form the per-book
// waiting queue; the other three states are terminal and final.
const (
    ReservationPending   = "PENDING"
    ReservationFulfilled = "FULFILLED"
    ReservationExpired   = "EXPIRED"
    ReservationCancelled = "CANCELLED"
)

// Reservation is a queued request for the next copy of a book to
// become free.  Pending reservations for a book carry dense, 1-based
// queue positions in creation order (strict FIFO, no priority).
// Cancelling or expiring a reservation compacts the positions of the
// reservations behind it so the queue never has gaps.
//
// Fields:
//  ID        – primary key identifier.
//  BookID    – book being waited on.
//  UserID    – user waiting for a copy.
//  Status    – one of the Reservation* constants above.
//  QueuePos  – dense 1-based position among Pending reservations.
//  CreatedAt – when the reservation was requested.
//  ExpiresAt – when a still-Pending reservation lapses.
type Reservation struct {
    ID        uint64    // reservations.id
    BookID    uint64    // reservations.book_id
    UserID    uint64    // reservations.user_id
    Status    string    // reservations.status
    QueuePos  uint32    // reservations.queue_pos
    CreatedAt time.Time // reservations.created_at
    ExpiresAt time.Time // reservations.expires_at
}
