package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sony/gobreaker"
)

// BreakerStater reports the datastore circuit state.
type BreakerStater interface {
	State() gobreaker.State
}

// Health is a simple health-check endpoint used by load balancers and
// monitoring systems to verify that the service is running.  With a
// breaker attached it reports 503 while the datastore circuit is open.
func Health(b BreakerStater) echo.HandlerFunc {
	return func(c echo.Context) error {
		if b == nil {
			return c.String(http.StatusOK, "ok")
		}
		st := b.State()
		if st == gobreaker.StateOpen {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "datastore": st.String()})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "datastore": st.String()})
	}
}
