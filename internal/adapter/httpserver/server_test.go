package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/metrics"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/broadcast"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/config"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type validatorFunc func(ctx context.Context, credential string) (domain.Identity, error)

func (f validatorFunc) Validate(ctx context.Context, credential string) (domain.Identity, error) {
	return f(ctx, credential)
}

type testServer struct {
	srv         *Server
	http        *httptest.Server
	registry    *broadcast.Registry
	broadcaster *broadcast.Broadcaster
	wsMetrics   *metrics.WebSocketMetrics
}

type testOption func(*config.Config, *Dependencies)

func withConfig(mutate func(*config.Config)) testOption {
	return func(cfg *config.Config, _ *Dependencies) { mutate(cfg) }
}

func withValidator(v domain.IdentityValidator) testOption {
	return func(_ *config.Config, deps *Dependencies) { deps.Validator = v }
}

func withInstances(l InstanceLister) testOption {
	return func(_ *config.Config, deps *Dependencies) { deps.Instances = l }
}

func withHealthChecks(checks ...HealthCheck) testOption {
	return func(_ *config.Config, deps *Dependencies) { deps.HealthChecks = checks }
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:              "development",
		Port:                "0",
		AllowAnonymous:      true,
		MaxConnections:      100,
		MaxConnectionsPerIP: 10,
		ConnectionRate:      100,
		ConnectionBurst:     100,
		OutboundBuffer:      16,
		WriteTimeout:        time.Second,
		PublishRate:         100,
		PublishBurst:        100,
	}
}

func newTestServer(t *testing.T, opts ...testOption) *testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	clock := clockwork.NewRealClock()
	registry := broadcast.NewRegistry(broadcast.WithRegistryMetrics(wsMetrics))
	broadcaster := broadcast.NewBroadcaster(registry, clock, broadcast.WithBroadcasterMetrics(wsMetrics))

	cfg := testConfig()
	deps := Dependencies{
		Registry:    registry,
		Broadcaster: broadcaster,
		Connections: broadcast.NewConnectionHandler(registry, broadcaster, clock, broadcast.HandlerConfig{
			WriteTimeout:   time.Second,
			OutboundBuffer: 16,
			Metrics:        wsMetrics,
		}),
		HTTPMetrics:      metrics.NewHTTPMetrics(reg),
		WebSocketMetrics: wsMetrics,
		MetricsHandler:   metrics.Handler(reg),
		Clock:            clock,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	srv := NewServer(cfg, deps)
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(httpServer.Close)
	t.Cleanup(registry.Shutdown)

	return &testServer{srv: srv, http: httpServer, registry: registry, broadcaster: broadcaster, wsMetrics: wsMetrics}
}

func (ts *testServer) wsURL(query string) string {
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	return url
}

// dial connects to /ws and returns the connection or the handshake response status.
func (ts *testServer) dial(t *testing.T, query string, header http.Header) (*websocket.Conn, int) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(query), header)
	if err != nil {
		require.NotNil(t, resp, "dial failed without a response: %v", err)
		return nil, resp.StatusCode
	}
	t.Cleanup(func() { conn.Close() })
	return conn, resp.StatusCode
}

func readEnvelope(t *testing.T, conn *websocket.Conn) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := domain.DecodeEnvelope(frame)
	require.NoError(t, err)
	return env
}
