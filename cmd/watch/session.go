package main

import (
	"fmt"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/client"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/platform/logging"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

// newSession builds a session from the persistent flags and initializes logging.
func newSession(cmd *cobra.Command, router *client.Router) (*client.Session, error) {
	flags := cmd.Flags()
	level, _ := flags.GetString("log-level")
	format, _ := flags.GetString("log-format")
	logging.Init(level, format)

	url, _ := flags.GetString("url")
	if url == "" {
		return nil, fmt.Errorf("--url is required")
	}
	token, _ := flags.GetString("token")
	maxAttempts, _ := flags.GetInt("max-attempts")
	baseDelay, _ := flags.GetDuration("base-delay")
	maxDelay, _ := flags.GetDuration("max-delay")
	heartbeat, _ := flags.GetDuration("heartbeat")

	cfg := client.Config{
		URL:               url,
		BaseDelay:         baseDelay,
		MaxDelay:          maxDelay,
		MaxAttempts:       maxAttempts,
		HeartbeatInterval: heartbeat,
	}
	dialer := &client.WebSocketDialer{Token: token}
	return client.NewSession(cfg, dialer, clockwork.NewRealClock(), router), nil
}
