package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	apperrors "github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerAPIRoutes() {
	s.echo.POST("/api/events", s.handlePublish, newRateLimiter(s.config.PublishRate, s.config.PublishBurst))
	s.echo.GET("/api/stats", s.handleStats)
	if s.instances != nil {
		s.echo.GET("/api/instances", s.handleInstances)
	}
}

// publishRequest is the body of POST /api/events. Without topic or identity the
// event goes to every connection.
type publishRequest struct {
	Type     domain.MessageType `json:"type"`
	Data     json.RawMessage    `json:"data,omitempty"`
	Topic    string             `json:"topic,omitempty"`
	Identity string             `json:"identity,omitempty"`
}

type publishResponse struct {
	Delivered int  `json:"delivered"`
	Relayed   bool `json:"relayed"`
}

func (r publishRequest) target() (domain.Target, error) {
	switch {
	case r.Topic != "" && r.Identity != "":
		return domain.Target{}, apperrors.ValidationError("topic and identity are mutually exclusive")
	case r.Topic != "":
		return domain.Topic(r.Topic), nil
	case r.Identity != "":
		return domain.ForIdentity(r.Identity), nil
	default:
		return domain.All(), nil
	}
}

func (s *Server) handlePublish(c echo.Context) error {
	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if !req.Type.IsDomain() {
		return apperrors.ValidationError("unsupported event type").WithContext("type", string(req.Type))
	}
	target, err := req.target()
	if err != nil {
		return err
	}

	delivered, err := s.broadcaster.Publish(c.Request().Context(), req.Type, req.Data, target)
	if err != nil {
		return apperrors.ExternalError("failed to publish event", err).
			WithContext("type", string(req.Type)).
			WithContext("target", target.String())
	}

	resp := publishResponse{Delivered: delivered, Relayed: s.broadcaster.Relayed()}
	if err := c.JSON(http.StatusAccepted, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleStats(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.registry.Stats()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleInstances(c echo.Context) error {
	instances, err := s.instances.Active(c.Request().Context())
	if err != nil {
		return apperrors.ExternalError("failed to list instances", err)
	}
	if err := c.JSON(http.StatusOK, map[string]any{"instances": instances}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
