package handler

import (
    "context"  // context type for engine callbacks
    "net/http" // HTTP status codes
    "strconv"  // parsing pagination parameters
    "time"     // "now" snapshots handed to the engine

    "github.com/labstack/echo/v4" // Echo web framework

    "github.com/openshelf/circulation/internal/engine"     // circulation engine
    "github.com/openshelf/circulation/internal/model"      // domain records
    "github.com/openshelf/circulation/internal/repository" // read-side loan queries
)

// CirculationHandler drives the loan lifecycle: borrow, return, renew
// and the librarian's terminal transitions.  Every mutation is a
// single engine call; the handler's job is parameter parsing,
// ownership checks and error translation.  Time enters the engine as
// an explicit snapshot taken once per request.
type CirculationHandler struct {
    Engine *engine.Coordinator
    Loans  *repository.LoanRepo
}

// NewCirculationHandler constructs a CirculationHandler. Both dependencies must be non-nil.
func NewCirculationHandler(eng *engine.Coordinator, loans *repository.LoanRepo) *CirculationHandler {
    if eng == nil || loans == nil {
        panic("nil dependency passed to NewCirculationHandler")
    }
    return &CirculationHandler{Engine: eng, Loans: loans}
}

// loanForCaller loads the loan and enforces that the caller owns it or
// is a librarian.  Returns nil after writing the response on failure.
func (h *CirculationHandler) loanForCaller(c echo.Context, loanID uint64, now time.Time) (*model.Loan, bool) {
    userID, err := getUserID(c)
    if err != nil {
        _ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
        return nil, false
    }
    loan, err := h.Engine.LoanStatus(c.Request().Context(), loanID, now)
    if err != nil {
        _ = engineError(c, err)
        return nil, false
    }
    if loan.UserID != userID && !isLibrarian(c) {
        _ = c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
        return nil, false
    }
    return loan, true
}

// Borrow handles POST /v1/books/:id/borrow.  On success the caller
// receives the new Active loan with its due date.
func (h *CirculationHandler) Borrow(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    bookID, err := pathID(c)
    if err != nil || bookID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid book id"})
    }
    loan, err := h.Engine.Borrow(c.Request().Context(), bookID, userID, time.Now().UTC())
    if err != nil {
        return engineError(c, err)
    }
    return c.JSON(http.StatusCreated, loan)
}

// Return handles POST /v1/loans/:id/return.  Returning an
// already-closed loan replays the prior outcome, so client retries are
// harmless.  The response includes the promoted reservation when the
// freed copy went to the queue head.
func (h *CirculationHandler) Return(c echo.Context) error {
    loanID, err := pathID(c)
    if err != nil || loanID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid loan id"})
    }
    now := time.Now().UTC()
    if _, ok := h.loanForCaller(c, loanID, now); !ok {
        return nil
    }
    result, err := h.Engine.ReturnLoan(c.Request().Context(), loanID, now)
    if err != nil {
        return engineError(c, err)
    }
    resp := echo.Map{"loan": result.Loan}
    if result.Promoted != nil {
        resp["promoted_reservation"] = result.Promoted
        resp["promoted_loan"] = result.PromotedLoan
    }
    return c.JSON(http.StatusOK, resp)
}

// Renew handles POST /v1/loans/:id/renew.
func (h *CirculationHandler) Renew(c echo.Context) error {
    loanID, err := pathID(c)
    if err != nil || loanID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid loan id"})
    }
    now := time.Now().UTC()
    if _, ok := h.loanForCaller(c, loanID, now); !ok {
        return nil
    }
    loan, err := h.Engine.Renew(c.Request().Context(), loanID, now)
    if err != nil {
        return engineError(c, err)
    }
    return c.JSON(http.StatusOK, loan)
}

// GetLoan handles GET /v1/loans/:id.  Open loans report the fine
// accrued up to this moment; closed loans report the frozen figure.
func (h *CirculationHandler) GetLoan(c echo.Context) error {
    loanID, err := pathID(c)
    if err != nil || loanID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid loan id"})
    }
    loan, ok := h.loanForCaller(c, loanID, time.Now().UTC())
    if !ok {
        return nil
    }
    return c.JSON(http.StatusOK, loan)
}

// MarkLost handles POST /v1/loans/:id/lost (librarian only).
func (h *CirculationHandler) MarkLost(c echo.Context) error {
    return h.markTerminal(c, h.Engine.MarkLost)
}

// MarkDamaged handles POST /v1/loans/:id/damaged (librarian only).
func (h *CirculationHandler) MarkDamaged(c echo.Context) error {
    return h.markTerminal(c, h.Engine.MarkDamaged)
}

func (h *CirculationHandler) markTerminal(c echo.Context, fn func(ctx context.Context, loanID uint64, now time.Time) (*model.Loan, error)) error {
    loanID, err := pathID(c)
    if err != nil || loanID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid loan id"})
    }
    loan, err := fn(c.Request().Context(), loanID, time.Now().UTC())
    if err != nil {
        return engineError(c, err)
    }
    return c.JSON(http.StatusOK, loan)
}

// MyLoans handles GET /v1/me/loans: the caller's full loan history.
func (h *CirculationHandler) MyLoans(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    loans, err := h.Loans.ListByUser(c.Request().Context(), userID)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    return c.JSON(http.StatusOK, echo.Map{"loans": loans})
}

// ListLoans handles GET /v1/loans (librarian only).  Supports
// ?status=, ?offset= and ?limit= query parameters.
func (h *CirculationHandler) ListLoans(c echo.Context) error {
    offset, _ := strconv.Atoi(c.QueryParam("offset"))
    limit, _ := strconv.Atoi(c.QueryParam("limit"))
    if offset < 0 {
        offset = 0
    }
    total, loans, err := h.Loans.ListAll(c.Request().Context(), c.QueryParam("status"), offset, limit)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    return c.JSON(http.StatusOK, echo.Map{"total": total, "loans": loans})
}

// OverdueSweep handles POST /v1/admin/overdue-sweep (librarian only).
// The sweep only accelerates visibility of overdue status; the same
// flip happens lazily whenever a loan is read.
func (h *CirculationHandler) OverdueSweep(c echo.Context) error {
    n, err := h.Engine.OverdueSweep(c.Request().Context(), time.Now().UTC())
    if err != nil {
        return engineError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"marked_overdue": n})
}
