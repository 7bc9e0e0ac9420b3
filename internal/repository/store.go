package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/openshelf/circulation/internal/engine"
	"github.com/openshelf/circulation/internal/model"
)

// Store is the MySQL-backed implementation of engine.Store.  The
// engine invokes its mutating methods only while holding the per-book
// critical section, so each method just needs to be an atomic
// statement; no cross-statement transaction is required here.
// Timestamps are written in UTC (the DSN pins the session to UTC).
type Store struct {
	db *sql.DB
}

// NewStore returns a Store bound to the given database.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const loanColumns = `id, book_id, user_id, status, issued_at, due_at, returned_at,
	       renewal_count, fine_cents, created_at, updated_at`

func scanLoan(row interface{ Scan(...interface{}) error }) (*model.Loan, error) {
	var l model.Loan
	var returnedAt sql.NullTime
	err := row.Scan(
		&l.ID, &l.BookID, &l.UserID, &l.Status, &l.IssuedAt, &l.DueAt, &returnedAt,
		&l.RenewalCount, &l.FineCents, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if returnedAt.Valid {
		ts := returnedAt.Time
		l.ReturnedAt = &ts
	}
	return &l, nil
}

// TotalCopies reads the catalog's copy count for a book.
func (s *Store) TotalCopies(ctx context.Context, bookID uint64) (uint32, error) {
	var total uint32
	err := s.db.QueryRowContext(ctx, `SELECT total_copies FROM books WHERE id = ?`, bookID).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, engine.ErrNotFound
	}
	return total, err
}

// CountOpenLoans counts Active/Overdue loans for a book.
func (s *Store) CountOpenLoans(ctx context.Context, bookID uint64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE book_id = ? AND status IN ('ACTIVE','OVERDUE')`,
		bookID).Scan(&n)
	return n, err
}

func (s *Store) GetLoan(ctx context.Context, loanID uint64) (*model.Loan, error) {
	q := `SELECT ` + loanColumns + ` FROM loans WHERE id = ?`
	loan, err := scanLoan(s.db.QueryRowContext(ctx, q, loanID))
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	return loan, err
}

func (s *Store) CreateLoan(ctx context.Context, loan *model.Loan) error {
	const q = `INSERT INTO loans (book_id, user_id, status, issued_at, due_at, renewal_count, fine_cents)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		loan.BookID, loan.UserID, loan.Status,
		loan.IssuedAt.UTC(), loan.DueAt.UTC(), loan.RenewalCount, loan.FineCents)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	loan.ID = uint64(id)
	return nil
}

func (s *Store) UpdateLoan(ctx context.Context, loan *model.Loan) error {
	const q = `UPDATE loans SET status = ?, due_at = ?, returned_at = ?, renewal_count = ?, fine_cents = ?
	           WHERE id = ?`
	var returnedAt interface{}
	if loan.ReturnedAt != nil {
		returnedAt = loan.ReturnedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, q,
		loan.Status, loan.DueAt.UTC(), returnedAt, loan.RenewalCount, loan.FineCents, loan.ID)
	return err
}

func (s *Store) OpenLoanByUser(ctx context.Context, bookID, userID uint64) (*model.Loan, error) {
	q := `SELECT ` + loanColumns + ` FROM loans
	      WHERE book_id = ? AND user_id = ? AND status IN ('ACTIVE','OVERDUE') LIMIT 1`
	loan, err := scanLoan(s.db.QueryRowContext(ctx, q, bookID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return loan, err
}

func (s *Store) OverdueCandidates(ctx context.Context, now time.Time) ([]*model.Loan, error) {
	q := `SELECT ` + loanColumns + ` FROM loans
	      WHERE status = 'ACTIVE' AND due_at < ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var loans []*model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return loans, nil
}

func (s *Store) GetReservation(ctx context.Context, reservationID uint64) (*model.Reservation, error) {
	const q = `SELECT id, book_id, user_id, status, queue_pos, created_at, expires_at
	           FROM reservations WHERE id = ?`
	var r model.Reservation
	err := s.db.QueryRowContext(ctx, q, reservationID).Scan(
		&r.ID, &r.BookID, &r.UserID, &r.Status, &r.QueuePos, &r.CreatedAt, &r.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateReservation(ctx context.Context, res *model.Reservation) error {
	const q = `INSERT INTO reservations (book_id, user_id, status, queue_pos, created_at, expires_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, q,
		res.BookID, res.UserID, res.Status, res.QueuePos,
		res.CreatedAt.UTC(), res.ExpiresAt.UTC())
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

func (s *Store) UpdateReservation(ctx context.Context, res *model.Reservation) error {
	const q = `UPDATE reservations SET status = ?, queue_pos = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, res.Status, res.QueuePos, res.ID)
	return err
}

func (s *Store) PendingReservations(ctx context.Context, bookID uint64) ([]*model.Reservation, error) {
	const q = `SELECT id, book_id, user_id, status, queue_pos, created_at, expires_at
	           FROM reservations WHERE book_id = ? AND status = 'PENDING'
	           ORDER BY queue_pos`
	rows, err := s.db.QueryContext(ctx, q, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Reservation
	for rows.Next() {
		var r model.Reservation
		if err := rows.Scan(&r.ID, &r.BookID, &r.UserID, &r.Status, &r.QueuePos, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) PendingReservationByUser(ctx context.Context, bookID, userID uint64) (*model.Reservation, error) {
	const q = `SELECT id, book_id, user_id, status, queue_pos, created_at, expires_at
	           FROM reservations
	           WHERE book_id = ? AND user_id = ? AND status = 'PENDING' LIMIT 1`
	var r model.Reservation
	err := s.db.QueryRowContext(ctx, q, bookID, userID).Scan(
		&r.ID, &r.BookID, &r.UserID, &r.Status, &r.QueuePos, &r.CreatedAt, &r.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
