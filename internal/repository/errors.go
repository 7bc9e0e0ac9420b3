// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios. For
// example, ErrBookNotFound signals that a referenced catalog entry
// does not exist.
package repository

import "errors"

// ErrBookNotFound is returned when a book id does not reference an
// existing catalog row. Handlers should translate this into an
// HTTP 404 response.
var ErrBookNotFound = errors.New("book not found")

// ErrISBNExists is returned when creating or updating a book would
// duplicate another book's ISBN. Handlers should translate this
// into an HTTP 409 response.
var ErrISBNExists = errors.New("isbn already exists")
