package handler

import (
    "context"  // context with timeout for DB calls
    "net/http" // HTTP status codes
    "strconv"  // parsing pagination query parameters
    "strings"  // trimming request fields
    "time"     // timeouts and "now" for engine calls

    "github.com/labstack/echo/v4" // Echo web framework

    "github.com/openshelf/circulation/internal/engine"     // circulation engine
    "github.com/openshelf/circulation/internal/model"      // domain records
    "github.com/openshelf/circulation/internal/repository" // catalog persistence
)

// CatalogHandler serves the books catalog.  Reads are public; writes
// are librarian-only (enforced by route middleware).  The engine is
// consulted for the derived availability figure and is notified when a
// book's copy count moves so waiting reservations can be promoted.
type CatalogHandler struct {
    Books  *repository.BookRepo
    Engine *engine.Coordinator
}

// NewCatalogHandler constructs a CatalogHandler. Both dependencies must be non-nil.
func NewCatalogHandler(books *repository.BookRepo, eng *engine.Coordinator) *CatalogHandler {
    if books == nil || eng == nil {
        panic("nil dependency passed to NewCatalogHandler")
    }
    return &CatalogHandler{Books: books, Engine: eng}
}

type bookReq struct {
    Title       string `json:"title"`
    Author      string `json:"author"`
    ISBN        string `json:"isbn"`
    TotalCopies uint32 `json:"total_copies"`
}

// CreateBook handles POST /v1/books.  It validates the body, inserts
// the catalog row and returns the created record with a 201 status.
func (h *CatalogHandler) CreateBook(c echo.Context) error {
    var req bookReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    req.Title = strings.TrimSpace(req.Title)
    req.Author = strings.TrimSpace(req.Author)
    req.ISBN = strings.TrimSpace(req.ISBN)
    if req.Title == "" || req.ISBN == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "title and isbn are required"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    book := &model.Book{Title: req.Title, Author: req.Author, ISBN: req.ISBN, TotalCopies: req.TotalCopies}
    if err := h.Books.Create(ctx, book); err != nil {
        if err == repository.ErrISBNExists {
            return c.JSON(http.StatusConflict, echo.Map{"error": "isbn already exists"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create book failed"})
    }
    return c.JSON(http.StatusCreated, book)
}

// GetBook handles GET /v1/books/:id.
func (h *CatalogHandler) GetBook(c echo.Context) error {
    id, err := pathID(c)
    if err != nil || id == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid book id"})
    }
    book, err := h.Books.GetByID(c.Request().Context(), id)
    if err != nil {
        if err == repository.ErrBookNotFound {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    return c.JSON(http.StatusOK, book)
}

// ListBooks handles GET /v1/books with ?offset= and ?limit= pagination.
func (h *CatalogHandler) ListBooks(c echo.Context) error {
    offset, _ := strconv.Atoi(c.QueryParam("offset"))
    limit, _ := strconv.Atoi(c.QueryParam("limit"))
    if offset < 0 {
        offset = 0
    }
    books, err := h.Books.List(c.Request().Context(), offset, limit)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    return c.JSON(http.StatusOK, echo.Map{"books": books})
}

// UpdateBook handles PUT/PATCH /v1/books/:id.  Omitted fields keep
// their current value.  When total_copies moves, the engine is
// notified inside the same request so freed capacity reaches waiting
// reservations without waiting for the next return.
func (h *CatalogHandler) UpdateBook(c echo.Context) error {
    id, err := pathID(c)
    if err != nil || id == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid book id"})
    }
    var req struct {
        Title       *string `json:"title"`
        Author      *string `json:"author"`
        ISBN        *string `json:"isbn"`
        TotalCopies *uint32 `json:"total_copies"`
    }
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    book, err := h.Books.GetByID(ctx, id)
    if err != nil {
        if err == repository.ErrBookNotFound {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    copiesChanged := false
    if req.Title != nil {
        book.Title = strings.TrimSpace(*req.Title)
    }
    if req.Author != nil {
        book.Author = strings.TrimSpace(*req.Author)
    }
    if req.ISBN != nil {
        book.ISBN = strings.TrimSpace(*req.ISBN)
    }
    if req.TotalCopies != nil && *req.TotalCopies != book.TotalCopies {
        book.TotalCopies = *req.TotalCopies
        copiesChanged = true
    }
    if book.Title == "" || book.ISBN == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "title and isbn cannot be empty"})
    }
    if err := h.Books.Update(ctx, book); err != nil {
        switch err {
        case repository.ErrBookNotFound:
            return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
        case repository.ErrISBNExists:
            return c.JSON(http.StatusConflict, echo.Map{"error": "isbn already exists"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update book failed"})
    }
    if copiesChanged {
        if _, err := h.Engine.CopyCountChanged(ctx, id, time.Now().UTC()); err != nil {
            return engineError(c, err)
        }
    }
    return c.JSON(http.StatusOK, book)
}

// GetAvailability handles GET /v1/books/:id/availability.  The figure
// is derived from the catalog's copy count and the open loans at the
// moment of the read; it is never stored.
func (h *CatalogHandler) GetAvailability(c echo.Context) error {
    id, err := pathID(c)
    if err != nil || id == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid book id"})
    }
    ctx := c.Request().Context()
    book, err := h.Books.GetByID(ctx, id)
    if err != nil {
        if err == repository.ErrBookNotFound {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    avail, err := h.Engine.AvailableCopies(ctx, id)
    if err != nil {
        return engineError(c, err)
    }
    queued, err := h.Engine.QueueLength(ctx, id)
    if err != nil {
        return engineError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "book_id":          id,
        "title":            book.Title,
        "total_copies":     book.TotalCopies,
        "available_copies": avail,
        "queue_length":     queued,
    })
}
