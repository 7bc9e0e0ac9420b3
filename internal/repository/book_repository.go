package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/openshelf/circulation/internal/model"
)

// BookRepo provides CRUD operations for the books catalog.  The
// circulation engine treats this table as read-only (it only consumes
// total_copies); writes come from librarian endpoints.  All timestamp
// fields are assumed to be stored in UTC.
type BookRepo struct {
	db *sql.DB
}

// NewBookRepo returns a new BookRepo bound to the given database.
func NewBookRepo(db *sql.DB) *BookRepo { return &BookRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions
// spanning multiple repositories.
func (r *BookRepo) DB() *sql.DB { return r.db }

// Create inserts a new book and populates the generated ID and
// timestamps on the provided record.
func (r *BookRepo) Create(ctx context.Context, b *model.Book) error {
	const q = `INSERT INTO books (title, author, isbn, total_copies) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, b.Title, b.Author, b.ISBN, b.TotalCopies)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return ErrISBNExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	const sel = `SELECT created_at, updated_at FROM books WHERE id = ?`
	return r.db.QueryRowContext(ctx, sel, b.ID).Scan(&b.CreatedAt, &b.UpdatedAt)
}

// GetByID returns a single book. When no book with the given ID
// exists, ErrBookNotFound is returned.
func (r *BookRepo) GetByID(ctx context.Context, id uint64) (*model.Book, error) {
	const q = `SELECT id, title, author, isbn, total_copies, created_at, updated_at
	           FROM books WHERE id = ?`
	var b model.Book
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.Title, &b.Author, &b.ISBN, &b.TotalCopies, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns books ordered by title with simple offset pagination.
func (r *BookRepo) List(ctx context.Context, offset, limit int) ([]model.Book, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const q = `SELECT id, title, author, isbn, total_copies, created_at, updated_at
	           FROM books ORDER BY title, id LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	books := make([]model.Book, 0)
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.TotalCopies, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return books, nil
}

// Update rewrites the mutable fields of a book.  Callers that change
// total_copies must notify the circulation engine afterwards so it can
// re-validate its queue assumptions.  Returns ErrBookNotFound when the
// book does not exist.
func (r *BookRepo) Update(ctx context.Context, b *model.Book) error {
	const q = `UPDATE books SET title = ?, author = ?, isbn = ?, total_copies = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, b.Title, b.Author, b.ISBN, b.TotalCopies, b.ID)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return ErrISBNExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either missing or unchanged; distinguish with a lookup.
		var exists uint64
		err := r.db.QueryRowContext(ctx, `SELECT id FROM books WHERE id = ?`, b.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrBookNotFound
		}
		return err
	}
	return nil
}
