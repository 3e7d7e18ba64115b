// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/raffle-reservation/internal/handler"
	"github.com/iliyamo/raffle-reservation/internal/middleware"
	"github.com/iliyamo/raffle-reservation/internal/realtime"
)

// Deps is everything the routes are built from.
type Deps struct {
	JWTSecret    string
	MetricsPath  string
	Reservations *handler.ReservationHandler
	Raffles      *handler.RaffleHandler
	Gateway      *realtime.Gateway
	Health       echo.HandlerFunc
	// RateLimit guards reservation writes, Cache the summary endpoint.
	// Either may be nil.
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

// RegisterRoutes registers every route of the service on e.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", d.Health)
	if d.MetricsPath != "" {
		e.GET(d.MetricsPath, echo.WrapHandler(promhttp.Handler()))
	}
	RegisterReservations(e, d)
	RegisterPublic(e, d)
	RegisterAdmin(e, d)
}

// RegisterReservations registers /v1/reservations.  Customer routes need
// the CUSTOMER role and a verified email; confirm is reserved for the
// payment service.
func RegisterReservations(e *echo.Echo, d Deps) {
	h := d.Reservations
	g := e.Group("/v1/reservations", middleware.JWTAuth(d.JWTSecret))

	read := []echo.MiddlewareFunc{middleware.RequireRole("CUSTOMER")}
	write := []echo.MiddlewareFunc{middleware.RequireRole("CUSTOMER"), middleware.RequireVerifiedEmail()}
	if d.RateLimit != nil {
		write = append(write, d.RateLimit)
	}

	g.POST("", h.Create, write...)
	g.GET("/active", h.Active, read...)
	g.GET("/:id", h.GetReservation, read...)
	g.POST("/:id/numbers", h.AddNumber, write...)
	g.DELETE("/:id/numbers/:number_value", h.RemoveNumber, write...)
	g.POST("/:id/cancel", h.Cancel, write...)

	g.POST("/:id/confirm", h.Confirm, middleware.RequireRole("PAYMENT", "ADMIN"))
}

// RegisterPublic registers the unauthenticated raffle views and the
// realtime socket.
func RegisterPublic(e *echo.Echo, d Deps) {
	g := e.Group("/v1/raffles")
	g.GET("/:id/numbers", d.Raffles.Numbers)
	if d.Cache != nil {
		g.GET("/:id/summary", d.Raffles.Summary, d.Cache)
	} else {
		g.GET("/:id/summary", d.Raffles.Summary)
	}
	g.GET("/:id/ws", d.Gateway.Handle)
}

// RegisterAdmin registers the raffle lifecycle routes.  All require the
// ADMIN role.
func RegisterAdmin(e *echo.Echo, d Deps) {
	g := e.Group("/v1/admin", middleware.JWTAuth(d.JWTSecret), middleware.RequireRole("ADMIN"))
	g.POST("/raffles", d.Raffles.Publish)
	g.PUT("/raffles/:id/status", d.Raffles.SetStatus)
}
