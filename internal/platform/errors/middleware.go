package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Middleware converts errors returned by handlers into JSON error responses.
// errorsTotal, labelled by type, may be nil.
func Middleware(errorsTotal *prometheus.CounterVec) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			// Echo's own errors (404 routing, rate limiter, body limit) keep their status.
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				count(errorsTotal, WrapHTTPError(httpErr).Type)
				return err
			}

			structuredErr := AsStructuredError(err)
			count(errorsTotal, structuredErr.Type)
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

// Write logs err and sends it as the JSON response. Use it where a returned error
// never reaches Middleware, such as echo's rate limiter callbacks.
func Write(c echo.Context, err *Error) error {
	logError(c, err)
	return c.JSON(err.HTTPStatus(), err.ToResponse())
}

func count(errorsTotal *prometheus.CounterVec, t ErrorType) {
	if errorsTotal != nil {
		errorsTotal.WithLabelValues(string(t)).Inc()
	}
}

func logError(c echo.Context, err *Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if identity := c.Get("identity"); identity != nil {
		attrs = append(attrs, "identity", identity)
	}

	switch err.Type {
	case TypeValidation, TypeNotFound, TypeUnauthorized, TypeForbidden:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case TypeConflict, TypeRateLimited:
		slog.WarnContext(ctx, "Request refused", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Request failed", attrs...)
	}
}

// WrapHTTPError converts Echo's HTTPError to a structured error.
func WrapHTTPError(httpErr *echo.HTTPError) *Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok && msg != "" {
		message = msg
	}

	errType := TypeInternal
	for t, status := range statusByType {
		if status == httpErr.Code {
			errType = t
			break
		}
	}
	return newError(errType, message, httpErr.Internal)
}
