package router

import (
	"github.com/openshelf/circulation/internal/handler"
	"github.com/openshelf/circulation/internal/middleware"
	"github.com/labstack/echo/v4"
)

// RegisterCirculation registers the loan lifecycle endpoints under
// /v1.  Members and librarians alike borrow, return and renew through
// the same routes; handlers enforce that callers only touch their own
// loans unless they carry the LIBRARIAN role.
func RegisterCirculation(e *echo.Echo, h *handler.CirculationHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("LIBRARIAN", "MEMBER"),
	)
	g.POST("/books/:id/borrow", h.Borrow)
	g.POST("/loans/:id/return", h.Return)
	g.POST("/loans/:id/renew", h.Renew)
	g.GET("/loans/:id", h.GetLoan)
	g.GET("/me/loans", h.MyLoans)

	// Librarian-only surface: terminal transitions, the global loan
	// overview and the proactive overdue sweep.
	admin := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("LIBRARIAN"),
	)
	admin.POST("/loans/:id/lost", h.MarkLost)
	admin.POST("/loans/:id/damaged", h.MarkDamaged)
	admin.GET("/loans", h.ListLoans)
	admin.POST("/admin/overdue-sweep", h.OverdueSweep)
}

// RegisterReservations registers the waiting-queue endpoints under
// /v1.  All routes require a valid JWT; members may only inspect or
// cancel their own reservations.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("LIBRARIAN", "MEMBER"),
	)
	g.POST("/books/:id/reserve", h.Reserve)
	g.GET("/reservations/:id", h.Get)
	g.DELETE("/reservations/:id", h.Cancel)
	g.GET("/me/reservations", h.MyReservations)
}
