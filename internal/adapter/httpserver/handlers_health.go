package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/version"
	"github.com/labstack/echo/v4"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency check, such as a Redis ping.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// probeResponse is the body of the startup and readiness probes. Connections and
// Capacity are only reported by readiness.
type probeResponse struct {
	Status      string        `json:"status"`
	FailedCheck string        `json:"failed_check,omitempty"`
	Checks      []checkResult `json:"checks,omitempty"`
	Connections *int64        `json:"connections,omitempty"`
	Capacity    int           `json:"capacity,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// handleStartup only waits for dependencies.
func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	resp := probeResponse{Status: "ready"}
	s.runHealthChecks(ctx, &resp)
	return s.writeProbe(c, resp)
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status":      "ok",
		"uptime":      s.clock.Since(s.startTime).Seconds(),
		"connections": s.registry.Len(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness reports whether this instance should receive new devices: it is
// not draining, has a free connection slot and every dependency answers.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	held := s.limits.Current()
	resp := probeResponse{Status: "ready", Connections: &held, Capacity: s.config.MaxConnections}
	switch {
	case s.draining.Load():
		resp.fail("draining")
	case held >= int64(s.config.MaxConnections):
		resp.fail("capacity")
	}
	s.runHealthChecks(ctx, &resp)
	return s.writeProbe(c, resp)
}

func (s *Server) runHealthChecks(ctx context.Context, resp *probeResponse) {
	for _, hc := range s.healthChecks {
		result := checkResult{Name: hc.Name, Status: "ok"}
		if err := hc.Check(ctx); err != nil {
			result.Status = "down"
			result.Error = err.Error()
			resp.fail(hc.Name)
		}
		resp.Checks = append(resp.Checks, result)
	}
}

// fail records the first failing check.
func (r *probeResponse) fail(check string) {
	if r.FailedCheck == "" {
		r.Status = "unhealthy"
		r.FailedCheck = check
	}
}

func (s *Server) writeProbe(c echo.Context, resp probeResponse) error {
	status := http.StatusOK
	if resp.FailedCheck != "" {
		status = http.StatusServiceUnavailable
	}
	if err := c.JSON(status, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
