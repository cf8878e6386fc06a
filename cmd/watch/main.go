// Command watch connects to a device hub, subscribes to topics and prints every
// envelope it receives as one JSON line.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream events from a device hub",
		Long: `watch keeps a WebSocket session to the hub open, reconnecting with
exponential backoff, and prints every received envelope to stdout.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("url", "ws://localhost:8080/ws", "hub WebSocket URL")
	flags.String("token", os.Getenv("HUB_TOKEN"), "credential sent as ?token= (defaults to $HUB_TOKEN)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.Int("max-attempts", 5, "reconnect attempts before giving up")
	flags.Duration("base-delay", 0, "initial reconnect delay (default 1s)")
	flags.Duration("max-delay", 0, "reconnect delay ceiling (default unbounded)")
	flags.Duration("heartbeat", 0, "client heartbeat interval (default 30s)")

	rootCmd.AddCommand(streamCmd(), sendCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
