package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/client"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/spf13/cobra"
)

const sendTimeout = 10 * time.Second

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "send <type> [json-data]",
		Short:   "Send one event to the hub and exit",
		Example: `  watch send device_action '{"action":"lock"}'`,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgType := domain.MessageType(args[0])
			if !msgType.IsDomain() {
				return fmt.Errorf("unsupported message type %q", args[0])
			}
			var data json.RawMessage
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("data is not valid JSON")
				}
				data = json.RawMessage(args[1])
			}
			return runSend(cmd, msgType, data)
		},
	}
	return cmd
}

func runSend(cmd *cobra.Command, msgType domain.MessageType, data json.RawMessage) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	router := client.NewRouter()
	welcomed := make(chan struct{}, 1)
	router.On(domain.TypeConnectionEstablished, func(domain.Envelope) error {
		select {
		case welcomed <- struct{}{}:
		default:
		}
		return nil
	})
	rejected := make(chan string, 1)
	router.On(domain.TypeError, func(env domain.Envelope) error {
		var payload domain.ErrorPayload
		_ = json.Unmarshal(env.Data, &payload)
		select {
		case rejected <- payload.Message:
		default:
		}
		return nil
	})

	session, err := newSession(cmd, router)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	select {
	case <-welcomed:
	case <-ctx.Done():
		return fmt.Errorf("no welcome from hub: %w", ctx.Err())
	}

	if err := session.Send(msgType, data); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	// The hub only answers rejected messages; give it a moment to do so.
	select {
	case msg := <-rejected:
		return fmt.Errorf("hub rejected message: %s", msg)
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", msgType)
	return nil
}
