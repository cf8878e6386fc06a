package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/metrics"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	defaultWriteTimeout   = 5 * time.Second
	defaultOutboundBuffer = 64
	closeWriteTimeout     = time.Second
)

// State is the lifecycle state of a Connection.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the write side of a WebSocket. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionOptions configures a Connection. Zero values fall back to defaults.
type ConnectionOptions struct {
	Identity     domain.Identity
	RemoteAddr   string
	Clock        clockwork.Clock
	WriteTimeout time.Duration
	BufferSize   int
	Metrics      *metrics.WebSocketMetrics
}

// Connection is one registered peer. It exclusively owns its transport; all writes go through
// a single writer goroutine draining sendChannel, which preserves per-connection order.
type Connection struct {
	id           string
	identity     domain.Identity
	remoteAddr   string
	transport    Transport
	clock        clockwork.Clock
	writeTimeout time.Duration
	metrics      *metrics.WebSocketMetrics
	createdAt    time.Time

	sendChannel chan []byte
	doneChannel chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
	wg          sync.WaitGroup
	state       atomic.Int32

	activityMutex sync.Mutex
	lastActivity  time.Time

	// topics is guarded by the owning Registry's lock.
	topics map[string]struct{}
}

// NewConnection wraps transport in an open, unregistered Connection with a fresh id.
func NewConnection(transport Transport, opts ConnectionOptions) *Connection {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultOutboundBuffer
	}

	now := opts.Clock.Now()
	return &Connection{
		id:           uuid.NewString(),
		identity:     opts.Identity,
		remoteAddr:   opts.RemoteAddr,
		transport:    transport,
		clock:        opts.Clock,
		writeTimeout: opts.WriteTimeout,
		metrics:      opts.Metrics,
		createdAt:    now,
		sendChannel:  make(chan []byte, opts.BufferSize),
		doneChannel:  make(chan struct{}),
		lastActivity: now,
		topics:       make(map[string]struct{}),
	}
}

func (c *Connection) ID() string                { return c.id }
func (c *Connection) Identity() domain.Identity { return c.identity }
func (c *Connection) RemoteAddr() string        { return c.remoteAddr }
func (c *Connection) CreatedAt() time.Time      { return c.createdAt }
func (c *Connection) State() State              { return State(c.state.Load()) }

// Touch records inbound activity.
func (c *Connection) Touch() {
	c.activityMutex.Lock()
	defer c.activityMutex.Unlock()
	c.lastActivity = c.clock.Now()
}

// LastActivity returns the time of the most recent inbound frame.
func (c *Connection) LastActivity() time.Time {
	c.activityMutex.Lock()
	defer c.activityMutex.Unlock()
	return c.lastActivity
}

// Enqueue hands an encoded frame to the writer goroutine without blocking.
// It fails with ErrConnectionClosed once the connection left StateOpen and with
// ErrBufferFull when the peer is not draining its queue.
func (c *Connection) Enqueue(frame []byte) error {
	if c.State() != StateOpen {
		return domain.ErrConnectionClosed
	}
	select {
	case c.sendChannel <- frame:
		return nil
	default:
		return domain.ErrBufferFull
	}
}

// start launches the writer goroutine. onFailure runs on the writer goroutine
// after a failed write and must not block.
func (c *Connection) start(onFailure func(*Connection, error)) {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.run(onFailure)
	})
}

func (c *Connection) run(onFailure func(*Connection, error)) {
	defer c.wg.Done()

	for {
		select {
		case frame := <-c.sendChannel:
			start := c.clock.Now()
			// Transport deadlines are wall-clock.
			_ = c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.transport.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
				if onFailure != nil {
					onFailure(c, err)
				}
				return
			}
			if c.metrics != nil {
				c.metrics.MessageSendSeconds.Observe(c.clock.Since(start).Seconds())
			}
		case <-c.doneChannel:
			return
		}
	}
}

// Close stops the writer, sends a close frame with the given code and reason and
// releases the transport. Safe to call more than once and from any goroutine
// other than the writer itself.
func (c *Connection) Close(code int, reason string) {
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.doneChannel)

		// The writer must be gone before the close frame is written: gorilla allows one concurrent writer.
		c.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(code, reason)
		_ = c.transport.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		_ = c.transport.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = c.transport.Close()

		c.state.Store(int32(StateClosed))
	})
}
