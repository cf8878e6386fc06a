package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/metrics"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/redis"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/broadcast"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/config"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
)

// InstanceLister reports the hub instances sharing the relay.
type InstanceLister interface {
	Active(ctx context.Context) ([]redis.InstanceInfo, error)
}

// Dependencies are the collaborators the server routes requests to.
// Validator, Instances, HTTPMetrics, WebSocketMetrics and MetricsHandler may be nil.
type Dependencies struct {
	Registry         *broadcast.Registry
	Broadcaster      *broadcast.Broadcaster
	Connections      *broadcast.ConnectionHandler
	Validator        domain.IdentityValidator
	Instances        InstanceLister
	HealthChecks     []HealthCheck
	HTTPMetrics      *metrics.HTTPMetrics
	WebSocketMetrics *metrics.WebSocketMetrics
	MetricsHandler   http.Handler
	Clock            clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	registry    *broadcast.Registry
	broadcaster *broadcast.Broadcaster
	connections *broadcast.ConnectionHandler
	validator   domain.IdentityValidator
	instances   InstanceLister
	limits      *ConnectionLimits
	upgrader    websocket.Upgrader

	healthChecks     []HealthCheck
	httpMetrics      *metrics.HTTPMetrics
	websocketMetrics *metrics.WebSocketMetrics
	metricsHandler   http.Handler
	clock            clockwork.Clock
	startTime        time.Time
	draining         atomic.Bool
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:        e,
		config:      cfg,
		registry:    deps.Registry,
		broadcaster: deps.Broadcaster,
		connections: deps.Connections,
		validator:   deps.Validator,
		instances:   deps.Instances,
		limits: NewConnectionLimits(clock, ConnectionLimitsConfig{
			MaxConnections:      int64(cfg.MaxConnections),
			MaxConnectionsPerIP: cfg.MaxConnectionsPerIP,
			ConnectionsPerSec:   cfg.ConnectionRate,
			Burst:               cfg.ConnectionBurst,
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     NewCheckOrigin(cfg.AppURL, !cfg.IsProduction()),
		},
		healthChecks:     deps.HealthChecks,
		httpMetrics:      deps.HTTPMetrics,
		websocketMetrics: deps.WebSocketMetrics,
		metricsHandler:   deps.MetricsHandler,
		clock:            clock,
		startTime:        clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown fails readiness and stops accepting requests. Upgraded connections are
// hijacked and must be closed through the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
