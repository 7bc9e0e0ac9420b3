package handler // handler defines http handlers

import (
    "errors"       // errors provides sentinel comparisons for engine failures
    "net/http"     // HTTP status codes
    "strconv"      // strconv converts strings to numeric types

    "github.com/labstack/echo/v4" // echo defines request context types

    "github.com/openshelf/circulation/internal/engine" // engine exposes the circulation error taxonomy
)

// getUserID extracts the user_id from echo.Context and converts it to uint64
func getUserID(c echo.Context) (uint64, error) { // begin getUserID helper
    v := c.Get("user_id") // fetch user_id from context
    switch t := v.(type) { // perform type switch on the value
    case uint64: // when already uint64
        return t, nil // return directly
    case int: // when stored as int
        return uint64(t), nil // convert to uint64
    case int64: // when stored as int64
        return uint64(t), nil // convert to uint64
    case float64: // when stored as float64
        return uint64(t), nil // convert to uint64
    case string: // when stored as string
        if n, err := strconv.ParseUint(t, 10, 64); err == nil { // parse string to uint64
            return n, nil // return parsed number
        }
    } // end type switch
    return 0, errors.New("invalid user_id in context") // return error if value is missing or invalid
}

// isLibrarian reports whether the authenticated caller carries the
// LIBRARIAN role claim.
func isLibrarian(c echo.Context) bool {
    role, _ := c.Get("role").(string)
    return role == "LIBRARIAN"
}

// pathID parses the numeric :id path parameter.
func pathID(c echo.Context) (uint64, error) {
    return strconv.ParseUint(c.Param("id"), 10, 64)
}

// engineError translates the engine's error taxonomy into HTTP
// responses.  Business-rule refusals are conflicts: the request was
// well-formed but the lifecycle state does not admit it.  A lock
// timeout is a retryable 503 so clients back off instead of treating
// contention as a hard failure.
func engineError(c echo.Context, err error) error {
    var denied *engine.RenewalDeniedError
    switch {
    case errors.Is(err, engine.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
    case errors.As(err, &denied):
        return c.JSON(http.StatusConflict, echo.Map{"error": "renewal denied", "reason": string(denied.Reason)})
    case errors.Is(err, engine.ErrCapacityExhausted):
        return c.JSON(http.StatusConflict, echo.Map{"error": "no copies available"})
    case errors.Is(err, engine.ErrQueueJumpRejected):
        return c.JSON(http.StatusConflict, echo.Map{"error": "a waiting queue exists; reserve instead"})
    case errors.Is(err, engine.ErrAlreadyBorrowed):
        return c.JSON(http.StatusConflict, echo.Map{"error": "user already holds this book"})
    case errors.Is(err, engine.ErrDuplicateReservation):
        return c.JSON(http.StatusConflict, echo.Map{"error": "user already has a pending reservation for this book"})
    case errors.Is(err, engine.ErrCopiesAvailable):
        return c.JSON(http.StatusConflict, echo.Map{"error": "copies are available; borrow instead"})
    case errors.Is(err, engine.ErrNotPending):
        return c.JSON(http.StatusConflict, echo.Map{"error": "reservation is no longer pending"})
    case errors.Is(err, engine.ErrLoanClosed):
        return c.JSON(http.StatusConflict, echo.Map{"error": "loan is already closed"})
    case errors.Is(err, engine.ErrTransientConflict):
        c.Response().Header().Set("Retry-After", "1")
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "title is busy, retry shortly"})
    }
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
