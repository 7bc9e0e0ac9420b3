package repository

import (
	"context"
	"database/sql"
	"time"
)

// LoanRepo provides the read queries handlers need for presenting
// loans: per-user history and the librarian's paginated overview.
// Loan mutations never go through this repo – they belong to the
// circulation engine, which writes through its own store so that
// every transition happens inside the per-book critical section.
type LoanRepo struct {
	db *sql.DB
}

// NewLoanRepo returns a new LoanRepo bound to the given database.
func NewLoanRepo(db *sql.DB) *LoanRepo { return &LoanRepo{db: db} }

// LoanDetail is a loan row joined with its book, shaped for JSON
// responses.  The fine reported here is the stored (frozen or last
// swept) figure; handlers consult the engine for the live accrual on
// single-loan reads.
type LoanDetail struct {
	ID           uint64     `json:"id"`
	BookID       uint64     `json:"book_id"`
	BookTitle    string     `json:"book_title"`
	BookAuthor   string     `json:"book_author"`
	UserID       uint64     `json:"user_id"`
	Status       string     `json:"status"`
	IssuedAt     time.Time  `json:"issued_at"`
	DueAt        time.Time  `json:"due_at"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty"`
	RenewalCount uint32     `json:"renewal_count"`
	FineCents    uint32     `json:"fine_cents"`
}

const loanDetailColumns = `l.id, l.book_id, b.title, b.author, l.user_id, l.status,
	       l.issued_at, l.due_at, l.returned_at, l.renewal_count, l.fine_cents`

func scanLoanDetail(rows *sql.Rows) (LoanDetail, error) {
	var d LoanDetail
	var returnedAt sql.NullTime
	err := rows.Scan(
		&d.ID, &d.BookID, &d.BookTitle, &d.BookAuthor, &d.UserID, &d.Status,
		&d.IssuedAt, &d.DueAt, &returnedAt, &d.RenewalCount, &d.FineCents,
	)
	if err != nil {
		return d, err
	}
	if returnedAt.Valid {
		ts := returnedAt.Time
		d.ReturnedAt = &ts
	}
	return d, nil
}

// ListByUser returns all loans for the given user, newest first.
// When no loans exist, an empty slice is returned.
func (r *LoanRepo) ListByUser(ctx context.Context, userID uint64) ([]LoanDetail, error) {
	q := `SELECT ` + loanDetailColumns + `
	      FROM loans l
	      JOIN books b ON b.id = l.book_id
	      WHERE l.user_id = ?
	      ORDER BY l.issued_at DESC, l.id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	details := make([]LoanDetail, 0)
	for rows.Next() {
		d, err := scanLoanDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

// ListAll returns loans across all users with optional status
// filtering and offset pagination, plus the total row count for the
// filter.  Used by librarian endpoints only.
func (r *LoanRepo) ListAll(ctx context.Context, status string, offset, limit int) (int, []LoanDetail, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	args := make([]interface{}, 0, 3)
	where := ``
	if status != "" {
		where = ` WHERE l.status = ?`
		args = append(args, status)
	}

	var total int
	countQ := `SELECT COUNT(*) FROM loans l` + where
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return 0, nil, err
	}

	q := `SELECT ` + loanDetailColumns + `
	      FROM loans l
	      JOIN books b ON b.id = l.book_id` + where + `
	      ORDER BY l.issued_at DESC, l.id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()
	details := make([]LoanDetail, 0)
	for rows.Next() {
		d, err := scanLoanDetail(rows)
		if err != nil {
			return 0, nil, err
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	return total, details, nil
}
