package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/client"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/spf13/cobra"
)

var errSessionFailed = errors.New("session failed: reconnect attempts exhausted")

func streamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Subscribe to topics and print received envelopes",
		Example: `  watch stream --topic device_42 --topic alerts
  watch stream --types device_status,security_alert`,
		RunE: func(cmd *cobra.Command, args []string) error {
			topics, _ := cmd.Flags().GetStringSlice("topic")
			types, _ := cmd.Flags().GetStringSlice("types")
			return runStream(cmd, topics, types, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSlice("topic", nil, "topic to subscribe to (repeatable)")
	cmd.Flags().StringSlice("types", nil, "only print these message types")
	return cmd
}

func runStream(cmd *cobra.Command, topics, types []string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := client.NewRouter()
	printer := &envelopePrinter{enc: json.NewEncoder(out)}
	if len(types) == 0 {
		router.OnAny(printer.print)
	} else {
		for _, t := range types {
			router.On(domain.MessageType(t), printer.print)
		}
	}
	router.On(client.EventDropped, func(env domain.Envelope) error {
		slog.Warn("Outbound message dropped", "detail", string(env.Data))
		return nil
	})

	session, err := newSession(cmd, router)
	if err != nil {
		return err
	}

	failed := make(chan struct{})
	var failOnce sync.Once
	session.OnStateChange(func(from, to client.State) {
		slog.Info("Session state changed", "from", from.String(), "to", to.String())
		if to == client.StateFailed {
			failOnce.Do(func() { close(failed) })
		}
	})

	for _, topic := range topics {
		if err := session.Subscribe(topic); err != nil {
			return fmt.Errorf("subscribe %q: %w", topic, err)
		}
	}

	// Connect only fails synchronously on misuse; dial errors move the session to Reconnecting.
	if err := session.Connect(ctx); err != nil && !errors.Is(err, client.ErrSessionActive) {
		slog.Warn("Initial connect failed, retrying in background", "error", err)
	}

	select {
	case <-ctx.Done():
		return session.Close()
	case <-failed:
		_ = session.Close()
		return errSessionFailed
	}
}

type envelopePrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (p *envelopePrinter) print(env domain.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(env)
}
