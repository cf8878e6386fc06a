package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one physical connection. *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens transports to the hub.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Transport, error)
}

// WebSocketDialer dials with gorilla/websocket and passes the credential as the token query parameter.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Token  string
	Header http.Header
}

func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if d.Token != "" {
		query := target.Query()
		query.Set("token", d.Token)
		target.RawQuery = query.Encode()
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, target.String(), d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		// The query carries the credential and stays out of errors.
		endpoint := target.Scheme + "://" + target.Host + target.Path
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return conn, nil
}
