package router

import (
	"github.com/labstack/echo/v4"

	"github.com/arinwt/lesson-reservation/internal/handler"
	"github.com/arinwt/lesson-reservation/internal/middleware"
)

// RegisterCustomer registers customer-scoped endpoints under /v1.  All
// routes require a valid JWT and the CUSTOMER role.  Customers can reserve
// a lesson slot, start a payment, browse their own enrollments and request
// cancellation of a paid one.
func RegisterCustomer(e *echo.Echo, h *handler.EnrollmentHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("CUSTOMER"),
	)
	// Creates an UNPAID hold; the slot is kept only for the payment window.
	g.POST("/enrollments", h.Reserve)
	g.GET("/enrollments", h.List)
	g.GET("/enrollments/:id", h.Get)
	// Returns the signed KISPG parameter set for the payment window.
	g.POST("/enrollments/:id/payment", h.InitPayment)
	// Opens a cancellation request; settlement waits for an admin decision.
	g.POST("/enrollments/:id/cancel", h.RequestCancel)
}
