package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	apperrors "github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerWebSocketRoutes() {
	s.echo.GET("/ws", s.handleWebSocket)
}

// handleWebSocket admits a client: connection limits first, then the credential,
// then the upgrade. Rejected clients never reach the registry.
func (s *Server) handleWebSocket(c echo.Context) error {
	ctx := c.Request().Context()
	ip := c.RealIP()

	if ok, reason := s.limits.Acquire(ip); !ok {
		s.countRejection(string(reason))
		if reason == LimitReasonGlobal {
			return apperrors.UnavailableError("server at connection capacity", nil)
		}
		return apperrors.RateLimitedError("too many connections").WithContext("reason", string(reason))
	}
	defer s.limits.Release(ip)

	identity, err := s.authenticate(ctx, credential(c.Request()))
	if err != nil {
		return err
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		slog.InfoContext(ctx, "WebSocket upgrade failed", "remote_addr", c.Request().RemoteAddr, "error", err)
		s.countRejection("upgrade_failed")
		return nil
	}

	if err := s.connections.Serve(ctx, ws, identity); err != nil {
		slog.WarnContext(ctx, "WebSocket session ended with error", "identity", identity.ID, "remote_addr", ip, "error", err)
	}
	return nil
}

func (s *Server) authenticate(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		if s.config.AllowAnonymous {
			return domain.Identity{}, nil
		}
		s.countRejection("unauthorized")
		return domain.Identity{}, apperrors.UnauthorizedError("missing credential")
	}
	if s.validator == nil {
		s.countRejection("unauthorized")
		return domain.Identity{}, apperrors.UnauthorizedError("invalid credential")
	}

	identity, err := s.validator.Validate(ctx, token)
	if errors.Is(err, domain.ErrInvalidCredential) {
		s.countRejection("unauthorized")
		return domain.Identity{}, apperrors.UnauthorizedError("invalid credential")
	}
	if err != nil {
		s.countRejection("unavailable")
		return domain.Identity{}, apperrors.UnavailableError("credential check unavailable", err)
	}
	return identity, nil
}

// credential reads the token query parameter, falling back to a bearer Authorization header.
func credential(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *Server) countRejection(reason string) {
	if s.websocketMetrics != nil {
		s.websocketMetrics.Rejections.WithLabelValues(reason).Inc()
	}
}
