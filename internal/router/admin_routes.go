package router // router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/arinwt/lesson-reservation/internal/handler"    // admin handlers
	"github.com/arinwt/lesson-reservation/internal/middleware" // JWT + role middlewares
)

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.
// All routes require a valid JWT and ADMIN role.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	// Attach middlewares at group construction time for clarity.
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("ADMIN"),
	)

	// ---- Lessons ----
	// NOTE: listing lessons is handled by the public browse API; admin-scoped
	// list endpoints were dropped to avoid route conflicts with /v1/lessons.
	g.POST("/lessons", a.CreateLesson)
	g.PUT("/lessons/:id", a.UpdateLesson)
	g.PATCH("/lessons/:id", a.UpdateLesson) // allow partial/semantic updates via PATCH as well
	g.GET("/lessons/:id/enrollments", a.ListLessonEnrollments)

	// ---- Lockers ----
	g.GET("/lockers", a.ListLockers)
	g.GET("/lockers/:gender", a.GetLocker)
	g.PUT("/lockers/:gender", a.SetLockerTotal)

	// ---- Cancellation / refund workflow ----
	g.GET("/cancellations", a.ListCancelRequests)
	g.GET("/enrollments/:id/refund-preview", a.PreviewRefund)
	g.POST("/enrollments/:id/approve", a.ApproveCancel)
	g.POST("/enrollments/:id/deny", a.DenyCancel)
	g.POST("/enrollments/:id/cancel", a.AdminCancel)
}
