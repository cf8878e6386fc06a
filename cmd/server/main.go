package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/auth"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/httpserver"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/metrics"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/redis"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/broadcast"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/config"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/logging"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/retry"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/version"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout  = 10 * time.Second
	presenceInterval = 15 * time.Second
)

type hub struct {
	registry    *broadcast.Registry
	broadcaster *broadcast.Broadcaster
	connections *broadcast.ConnectionHandler
	heartbeat   *broadcast.HeartbeatMonitor
	relay       *redis.Relay
	instances   *redis.InstanceRegistry
	metrics     *metrics.WebSocketMetrics
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config, clock clockwork.Clock, reg prometheus.Registerer) *goredis.Client {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, running single-instance without relay")
		return nil
	}

	redisMetrics := metrics.NewRedisMetrics(reg)
	client, err := redis.NewClient(ctx, cfg.RedisURL,
		redis.NewMetricsHook(redisMetrics),
		redis.NewCircuitBreakerHook(clock, redisMetrics),
	)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupValidator chains static tokens before the Redis token store.
// It returns nil when no credential source is configured.
func setupValidator(cfg *config.Config, redisClient *goredis.Client) domain.IdentityValidator {
	tokens, err := cfg.StaticTokens()
	if err != nil {
		slog.Error("Invalid AUTH_TOKENS", "error", err)
		os.Exit(1)
	}

	var chain auth.Chain
	if len(tokens) > 0 {
		chain = append(chain, auth.NewStaticValidator(tokens))
	}
	if redisClient != nil {
		chain = append(chain, auth.NewDeduplicated(redis.NewTokenStore(redisClient)))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

func setupHub(cfg *config.Config, clock clockwork.Clock, reg prometheus.Registerer, redisClient *goredis.Client) *hub {
	wsMetrics := metrics.NewWebSocketMetrics(reg)

	registry := broadcast.NewRegistry(
		broadcast.WithMaxConnections(cfg.MaxConnections),
		broadcast.WithRegistryMetrics(wsMetrics),
	)

	opts := []broadcast.BroadcasterOption{broadcast.WithBroadcasterMetrics(wsMetrics)}
	var relay *redis.Relay
	if redisClient != nil {
		relay = redis.NewRelay(redisClient,
			redis.WithRelayChannel(cfg.RelayChannel),
			redis.WithRelayMetrics(metrics.NewRelayMetrics(reg)),
			redis.WithPublishRetry(retry.Policy{
				MaxAttempts:    cfg.RelayPublishAttempts,
				InitialBackoff: cfg.RelayPublishBackoff,
				Clock:          clock,
				OnRetry: func(attempt int, err error, backoff time.Duration) {
					slog.Warn("Relay publish failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
				},
			}),
		)
		opts = append(opts, broadcast.WithRelay(relay))
	}
	broadcaster := broadcast.NewBroadcaster(registry, clock, opts...)

	if relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := relay.Start(ctx, broadcaster); err != nil {
			slog.Error("Failed to start relay", "error", err)
			os.Exit(1)
		}
	}

	connections := broadcast.NewConnectionHandler(registry, broadcaster, clock, broadcast.HandlerConfig{
		WriteTimeout:   cfg.WriteTimeout,
		OutboundBuffer: cfg.OutboundBuffer,
		Inbound:        broadcast.LogInbound,
		Metrics:        wsMetrics,
	})
	heartbeat := broadcast.NewHeartbeatMonitor(registry, broadcaster, clock, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, wsMetrics)

	var instances *redis.InstanceRegistry
	if redisClient != nil {
		instances = redis.NewInstanceRegistry(redisClient, clock, instanceID(), version.Get().Version, presenceInterval, registry.Len)
	}

	return &hub{
		registry:    registry,
		broadcaster: broadcaster,
		connections: connections,
		heartbeat:   heartbeat,
		relay:       relay,
		instances:   instances,
		metrics:     wsMetrics,
	}
}

// instanceID prefers the hostname so presence entries match pod names.
func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return uuid.NewString()
}

func runGracefulShutdown(srv *httpserver.Server, h *hub, stopPresence context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		h.heartbeat.Stop()
		stopPresence()
		if h.relay != nil {
			if err := h.relay.Close(); err != nil {
				slog.Error("Relay close error", "error", err)
			}
		}
		h.registry.Shutdown()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	reg := metrics.NewRegistry()

	redisClient := setupRedis(context.Background(), cfg, clock, reg)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	h := setupHub(cfg, clock, reg, redisClient)
	h.heartbeat.Start(context.Background())

	presenceCtx, stopPresence := context.WithCancel(context.Background())
	defer stopPresence()
	var instances httpserver.InstanceLister
	if h.instances != nil {
		go h.instances.Run(presenceCtx)
		instances = h.instances
	}

	var healthChecks []httpserver.HealthCheck
	if redisClient != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	srv := httpserver.NewServer(cfg, httpserver.Dependencies{
		Registry:         h.registry,
		Broadcaster:      h.broadcaster,
		Connections:      h.connections,
		Validator:        setupValidator(cfg, redisClient),
		Instances:        instances,
		HealthChecks:     healthChecks,
		HTTPMetrics:      metrics.NewHTTPMetrics(reg),
		WebSocketMetrics: h.metrics,
		MetricsHandler:   metrics.Handler(reg),
		Clock:            clock,
	})

	done := runGracefulShutdown(srv, h, stopPresence)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
