package broadcast

import (
	"errors"
	"sync"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeTransport records frames. With block set, data writes wait until it is closed.
type fakeTransport struct {
	mu         sync.Mutex
	frames     [][]byte
	closeFrame []byte
	closed     bool
	failWrites bool
	block      chan struct{}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	if messageType == websocket.CloseMessage {
		f.mu.Lock()
		f.closeFrame = data
		f.mu.Unlock()
		return nil
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errBrokenPipe
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) envelopes() []domain.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	envs := make([]domain.Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		env, err := domain.DecodeEnvelope(frame)
		if err == nil {
			envs = append(envs, env)
		}
	}
	return envs
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestConnection(transport Transport, clock clockwork.Clock, identityID string) *Connection {
	return NewConnection(transport, ConnectionOptions{
		Identity:   domain.Identity{ID: identityID},
		RemoteAddr: "192.0.2.1:1234",
		Clock:      clock,
		BufferSize: 8,
	})
}
