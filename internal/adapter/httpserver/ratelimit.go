package httpserver

import (
	"time"

	apperrors "github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter limits requests per client IP. The limiter hands its callbacks' errors to
// echo's HTTPErrorHandler rather than returning them, so the responses are written here.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return apperrors.Write(c, apperrors.RateLimitedError("rate limit exceeded").WithContext("client", identifier))
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return apperrors.Write(c, apperrors.ValidationError("cannot identify client"))
		},
	})
}
