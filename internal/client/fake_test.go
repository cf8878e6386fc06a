package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/gorilla/websocket"
)

var (
	errRefused   = errors.New("connection refused")
	errConnReset = errors.New("connection reset by peer")
)

type written struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory Transport. Closing it fails the pending read like a dropped socket.
type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	stall     bool

	mu     sync.Mutex
	writes []written
}

func newFakeConn(stall bool) *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{}), stall: stall}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-c.inbound:
		return websocket.TextMessage, frame, nil
	case <-c.closed:
		return 0, nil, errConnReset
	}
}

// WriteMessage on a stalled conn blocks until Close, like a peer that stopped reading.
func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if c.stall {
		<-c.closed
		return errConnReset
	}
	select {
	case <-c.closed:
		return errConnReset
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, written{messageType: messageType, data: data})
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// envelopes returns the text frames written so far.
func (c *fakeConn) envelopes() []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var envs []domain.Envelope
	for _, w := range c.writes {
		if w.messageType != websocket.TextMessage {
			continue
		}
		if env, err := domain.DecodeEnvelope(w.data); err == nil {
			envs = append(envs, env)
		}
	}
	return envs
}

func (c *fakeConn) wroteClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.writes {
		if w.messageType == websocket.CloseMessage {
			return true
		}
	}
	return false
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	stall bool
	calls int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.fail {
		return nil, errRefused
	}
	conn := newFakeConn(d.stall)
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

// stallWrites makes subsequently dialed conns block every write until closed.
func (d *fakeDialer) stallWrites(stall bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stall = stall
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}
