package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/arinwt/lesson-reservation/internal/handler"    // import the handlers that implement business logic
	"github.com/arinwt/lesson-reservation/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Load balancers and monitoring poll this to verify the service is up.
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers all authentication-related routes and applies the
// necessary middleware.  Unauthenticated operations live under /v1/auth,
// while protected endpoints live under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Rotates the refresh token.
	g.POST("/refresh", a.Refresh)
	// Issues a new access token without rotating the refresh token.
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout does not require JWT authentication: a valid refresh token in
	// the body is enough to terminate that session.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole("ADMIN", "CUSTOMER"))
	auth.GET("/me", a.Me)

	// Alias kept at the top level so clients can log out with either path.
	e.POST("/v1/logout", a.Logout)
}

// RegisterPublic registers unauthenticated browse endpoints.  The catalog
// handler returns sanitized lesson and locker data for guests; no JWT or
// role middleware applies here.  Extra middleware (typically the Redis
// response cache) is attached per route so it never touches
// authenticated or webhook traffic.
func RegisterPublic(e *echo.Echo, p *handler.CatalogHandler, mw ...echo.MiddlewareFunc) {
	// Lesson catalog with live remaining-slot counts.
	e.GET("/v1/lessons", p.ListLessons, mw...)
	// Single lesson detail.
	e.GET("/v1/lessons/:id", p.GetLesson, mw...)
	// Per-gender locker availability so users can check before paying.
	e.GET("/v1/lockers", p.ListLockerPools, mw...)
}

// RegisterWebhooks registers the payment gateway callback.  The endpoint is
// deliberately outside every auth group: KISPG cannot carry a JWT, the
// notification is authenticated by its encData signature instead.
func RegisterWebhooks(e *echo.Echo, w *handler.WebhookHandler) {
	e.POST("/v1/payments/kispg/notify", w.Notify)
	// Browser landing page after the payment window; read-only.
	e.GET("/v1/payments/kispg/return", w.Return)
}
