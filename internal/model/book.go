package model

import "time"

// Book represents a catalog title with a fixed number of physical
// copies.  The catalog subsystem owns this record; the circulation
// engine only reads TotalCopies and reacts when it changes.  Copies
// are fungible – there is no per-copy identity, availability is
// derived from the count of open loans against TotalCopies.
//
// Fields:
//  ID          – primary key identifier.
//  Title       – book title.
//  Author      – display name of the author(s).
//  ISBN        – international standard book number (may be empty).
//  TotalCopies – number of physical copies the library owns.
//  CreatedAt   – timestamp when the book was added.
//  UpdatedAt   – timestamp of last update.
type Book struct {
    ID          uint64    // books.id
    Title       string    // books.title
    Author      string    // books.author
    ISBN        string    // books.isbn
    TotalCopies uint32    // books.total_copies
    CreatedAt   time.Time // books.created_at
    UpdatedAt   time.Time // books.updated_at
}
