package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL"`
	RedisURL  string `env:"REDIS_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// AuthTokens is a comma separated list of token:identity pairs.
	AuthTokens     string `env:"AUTH_TOKENS"`
	AllowAnonymous bool   `env:"ALLOW_ANONYMOUS" default:"false"`

	MaxConnections      int     `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectionRate      float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"20"`

	OutboundBuffer    int           `env:"OUTBOUND_BUFFER" default:"64"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" default:"5m"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" default:"5s"`

	PublishRate  float64 `env:"PUBLISH_RATE" default:"50"`
	PublishBurst int     `env:"PUBLISH_BURST" default:"100"`

	RelayChannel         string        `env:"RELAY_CHANNEL" default:"devicehub:broadcast"`
	RelayPublishAttempts int           `env:"RELAY_PUBLISH_ATTEMPTS" default:"3"`
	RelayPublishBackoff  time.Duration `env:"RELAY_PUBLISH_BACKOFF" default:"50ms"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// StaticTokens parses AuthTokens into a token to identity map.
func (c *Config) StaticTokens() (map[string]string, error) {
	tokens := make(map[string]string)
	if strings.TrimSpace(c.AuthTokens) == "" {
		return tokens, nil
	}

	for pair := range strings.SplitSeq(c.AuthTokens, ",") {
		token, identity, ok := strings.Cut(strings.TrimSpace(pair), ":")
		token, identity = strings.TrimSpace(token), strings.TrimSpace(identity)
		if !ok || token == "" || identity == "" {
			return nil, fmt.Errorf("AUTH_TOKENS entry %q must be token:identity", pair)
		}
		tokens[token] = identity
	}
	return tokens, nil
}

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

func validate(cfg *Config) error {
	if _, err := cfg.StaticTokens(); err != nil {
		return err
	}
	if cfg.AuthTokens == "" && cfg.RedisURL == "" && !cfg.AllowAnonymous {
		return errors.New("no credential source: set AUTH_TOKENS, REDIS_URL or ALLOW_ANONYMOUS=true")
	}

	if cfg.AppURL != "" {
		if u, err := url.Parse(cfg.AppURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("APP_URL must be an absolute URL, got %q", cfg.AppURL)
		}
	}
	if cfg.IsProduction() && cfg.AppURL == "" {
		return errors.New("APP_URL is required in production")
	}

	positive := map[string]int{
		"MAX_CONNECTIONS":        cfg.MaxConnections,
		"MAX_CONNECTIONS_PER_IP": cfg.MaxConnectionsPerIP,
		"CONNECTION_BURST":       cfg.ConnectionBurst,
		"OUTBOUND_BUFFER":        cfg.OutboundBuffer,
		"PUBLISH_BURST":          cfg.PublishBurst,
		"RELAY_PUBLISH_ATTEMPTS": cfg.RelayPublishAttempts,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	if cfg.ConnectionRate <= 0 || cfg.PublishRate <= 0 {
		return errors.New("CONNECTION_RATE and PUBLISH_RATE must be positive")
	}

	if strings.TrimSpace(cfg.RelayChannel) == "" {
		return errors.New("RELAY_CHANNEL must not be empty")
	}
	if cfg.RelayPublishBackoff < 0 {
		return errors.New("RELAY_PUBLISH_BACKOFF must not be negative")
	}

	if cfg.HeartbeatInterval <= 0 || cfg.WriteTimeout <= 0 {
		return errors.New("HEARTBEAT_INTERVAL and WRITE_TIMEOUT must be positive")
	}
	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must exceed HEARTBEAT_INTERVAL (%s)", cfg.HeartbeatTimeout, cfg.HeartbeatInterval)
	}

	return nil
}
