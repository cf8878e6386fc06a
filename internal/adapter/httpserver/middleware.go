package httpserver

import (
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/correlation"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

const correlationHeader = "X-Request-ID"

// correlationMiddleware tags the request context with a correlation id, reusing
// the caller's X-Request-ID when present, and echoes it in the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(correlationHeader)
		if id == "" || len(id) > 64 {
			id = correlation.NewID()
		}
		c.Response().Header().Set(correlationHeader, id)
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) errorsCounter() *prometheus.CounterVec {
	if s.httpMetrics == nil {
		return nil
	}
	return s.httpMetrics.ErrorsTotal
}
