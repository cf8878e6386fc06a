package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newErrorsCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_http_errors_total"}, []string{"type"})
}

func serve(t *testing.T, counter *prometheus.CounterVec, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/events", nil), rec)
	return rec, Middleware(counter)(handler)(c)
}

func TestMiddleware_StructuredError(t *testing.T) {
	counter := newErrorsCounter()
	rec, err := serve(t, counter, func(echo.Context) error {
		return RateLimitedError("publish rate exceeded")
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "publish rate exceeded", resp.Error)
	assert.Equal(t, TypeRateLimited, resp.Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("rate_limited")))
}

func TestMiddleware_PlainErrorIsInternal(t *testing.T) {
	counter := newErrorsCounter()
	rec, err := serve(t, counter, func(echo.Context) error { return fmt.Errorf("standard error") })
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "standard error")
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("internal")))
}

func TestMiddleware_PassesThroughEchoErrors(t *testing.T) {
	counter := newErrorsCounter()
	_, err := serve(t, counter, func(echo.Context) error { return echo.ErrNotFound })

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("not_found")))
}

func TestMiddleware_NoErrorNilCounter(t *testing.T) {
	rec, err := serve(t, nil, func(c echo.Context) error { return c.NoContent(http.StatusAccepted) })
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	_, err = serve(t, nil, func(echo.Context) error { return ValidationError("bad") })
	require.NoError(t, err)
}

func TestWrapHTTPError(t *testing.T) {
	assert.Equal(t, TypeRateLimited, WrapHTTPError(echo.NewHTTPError(http.StatusTooManyRequests)).Type)
	assert.Equal(t, TypeExternal, WrapHTTPError(echo.NewHTTPError(http.StatusBadGateway)).Type)
	assert.Equal(t, TypeInternal, WrapHTTPError(echo.NewHTTPError(http.StatusTeapot)).Type)

	wrapped := WrapHTTPError(echo.NewHTTPError(http.StatusBadRequest, "missing topic"))
	assert.Equal(t, TypeValidation, wrapped.Type)
	assert.Equal(t, "missing topic", wrapped.Message)
}

func TestWrite_SendsStructuredResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/events", nil), rec)

	require.NoError(t, Write(c, RateLimitedError("rate limit exceeded").WithContext("client", "1.2.3.4")))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.True(t, c.Response().Committed)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, TypeRateLimited, resp.Type)
	assert.Equal(t, "1.2.3.4", resp.Context["client"])
}
