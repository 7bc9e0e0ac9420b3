package repository

import (
	"context"
	"database/sql"
	"time"
)

// ReservationRepo provides the read queries handlers need for
// presenting reservations.  As with loans, mutations belong to the
// circulation engine's store so queue compaction stays atomic with
// respect to concurrent enqueues.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// ReservationDetail is a reservation row joined with its book, shaped
// for JSON responses.  QueuePos is only meaningful for Pending rows;
// handlers asking about a single reservation get the recomputed
// position from the engine instead.
type ReservationDetail struct {
	ID        uint64    `json:"id"`
	BookID    uint64    `json:"book_id"`
	BookTitle string    `json:"book_title"`
	UserID    uint64    `json:"user_id"`
	Status    string    `json:"status"`
	QueuePos  uint32    `json:"queue_position"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ListByUser returns all reservations for the given user, newest
// first.  When no reservations exist, an empty slice is returned.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID uint64) ([]ReservationDetail, error) {
	const q = `SELECT r.id, r.book_id, b.title, r.user_id, r.status, r.queue_pos, r.created_at, r.expires_at
	           FROM reservations r
	           JOIN books b ON b.id = r.book_id
	           WHERE r.user_id = ?
	           ORDER BY r.created_at DESC, r.id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	details := make([]ReservationDetail, 0)
	for rows.Next() {
		var d ReservationDetail
		if err := rows.Scan(&d.ID, &d.BookID, &d.BookTitle, &d.UserID, &d.Status, &d.QueuePos, &d.CreatedAt, &d.ExpiresAt); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}
