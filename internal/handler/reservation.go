package handler

import (
    "net/http" // HTTP status codes
    "time"     // "now" snapshots handed to the engine

    "github.com/labstack/echo/v4" // Echo web framework

    "github.com/openshelf/circulation/internal/engine"     // circulation engine
    "github.com/openshelf/circulation/internal/repository" // read-side reservation queries
)

// ReservationHandler serves the waiting-queue surface: joining a
// book's queue, cancelling, checking position and listing the caller's
// reservation history.
type ReservationHandler struct {
    Engine       *engine.Coordinator
    Reservations *repository.ReservationRepo
}

// NewReservationHandler constructs a ReservationHandler. Both dependencies must be non-nil.
func NewReservationHandler(eng *engine.Coordinator, reservations *repository.ReservationRepo) *ReservationHandler {
    if eng == nil || reservations == nil {
        panic("nil dependency passed to NewReservationHandler")
    }
    return &ReservationHandler{Engine: eng, Reservations: reservations}
}

// Reserve handles POST /v1/books/:id/reserve.  Reservations are only
// admitted while no copy is free; otherwise the caller is told to
// borrow directly.
func (h *ReservationHandler) Reserve(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    bookID, err := pathID(c)
    if err != nil || bookID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid book id"})
    }
    res, err := h.Engine.Reserve(c.Request().Context(), bookID, userID, time.Now().UTC())
    if err != nil {
        return engineError(c, err)
    }
    return c.JSON(http.StatusCreated, res)
}

// Cancel handles DELETE /v1/reservations/:id.  Members may only
// withdraw their own reservations; librarians may withdraw any.
func (h *ReservationHandler) Cancel(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    resID, err := pathID(c)
    if err != nil || resID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
    }
    ctx := c.Request().Context()
    existing, _, err := h.Engine.QueuePosition(ctx, resID, time.Now().UTC())
    if err != nil {
        return engineError(c, err)
    }
    if existing.UserID != userID && !isLibrarian(c) {
        return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
    }
    res, err := h.Engine.CancelReservation(ctx, resID)
    if err != nil {
        return engineError(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

// Get handles GET /v1/reservations/:id.  The queue position is
// recomputed under the book's critical section, so a pending
// reservation always reports its live, dense position; 0 means the
// reservation left the queue.
func (h *ReservationHandler) Get(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    resID, err := pathID(c)
    if err != nil || resID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
    }
    res, pos, err := h.Engine.QueuePosition(c.Request().Context(), resID, time.Now().UTC())
    if err != nil {
        return engineError(c, err)
    }
    if res.UserID != userID && !isLibrarian(c) {
        return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
    }
    return c.JSON(http.StatusOK, echo.Map{"reservation": res, "queue_position": pos})
}

// MyReservations handles GET /v1/me/reservations.
func (h *ReservationHandler) MyReservations(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    reservations, err := h.Reservations.ListByUser(c.Request().Context(), userID)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    return c.JSON(http.StatusOK, echo.Map{"reservations": reservations})
}
