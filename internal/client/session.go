package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	writerHeadroom           = 64
)

var ErrSessionActive = errors.New("session already active")

// Config controls a Session. Zero values select defaults.
type Config struct {
	URL               string
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	DisableQueue      bool
	QueueLimit        int
	QueueTTL          time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = DefaultQueueLimit
	}
	if c.QueueTTL <= 0 {
		c.QueueTTL = DefaultQueueTTL
	}
}

// link is one Open period of the session: a transport plus the writer goroutine that owns its write side.
// Frames stay in pending until their write succeeds, so a lost link can hand back everything
// it never confirmed.
type link struct {
	transport Transport
	limit     int
	wake      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	graceful  bool

	mu      sync.Mutex
	pending []queuedFrame
	taken   bool
}

func newLink(transport Transport, limit int) *link {
	return &link{
		transport: transport,
		limit:     limit,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (l *link) stop(graceful bool) {
	l.stopOnce.Do(func() {
		l.graceful = graceful
		close(l.done)
	})
}

// push appends entry for the writer. It fails when the link is full or already taken.
func (l *link) push(entry queuedFrame) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.taken || len(l.pending) >= l.limit {
		return false
	}
	l.pending = append(l.pending, entry)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// head returns the oldest unwritten frame without removing it.
func (l *link) head() (queuedFrame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return queuedFrame{}, false
	}
	return l.pending[0], true
}

func (l *link) written() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) > 0 {
		l.pending = l.pending[1:]
	}
}

// take returns every unconfirmed frame, including one mid-write, and refuses further pushes.
func (l *link) take() []queuedFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending := l.pending
	l.pending = nil
	l.taken = true
	return pending
}

// Session keeps one logical connection to the hub alive across transport failures.
type Session struct {
	cfg    Config
	dialer Dialer
	clock  clockwork.Clock
	router *Router

	mu             sync.Mutex
	state          State
	attempts       int
	generation     uint64
	link           *link
	topics         []string
	queue          *outboundQueue
	reconnectTimer clockwork.Timer
	runCtx         context.Context
	cancelRun      context.CancelFunc
	stopWatch      func() bool
	observers      []func(from, to State)
}

func NewSession(cfg Config, dialer Dialer, clock clockwork.Clock, router *Router) *Session {
	cfg.applyDefaults()
	if router == nil {
		router = NewRouter()
	}
	return &Session{
		cfg:    cfg,
		dialer: dialer,
		clock:  clock,
		router: router,
		state:  StateIdle,
		queue:  newOutboundQueue(cfg.QueueLimit, cfg.QueueTTL),
	}
}

func (s *Session) Router() *Router { return s.router }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Topics returns the remembered subscriptions in the order they were first requested.
func (s *Session) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

// OnStateChange registers an observer. Observers run outside the session lock.
func (s *Session) OnStateChange(fn func(from, to State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Connect starts the session from Idle, Closed or Failed and performs the first dial.
// A failed first dial is returned while retries continue in the background.
// Cancelling ctx closes the session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.canConnect() {
		s.mu.Unlock()
		return ErrSessionActive
	}

	s.generation++
	gen := s.generation
	s.attempts = 0
	s.runCtx, s.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	s.stopWatch = context.AfterFunc(ctx, func() { _ = s.Close() })
	events := []stateChange{s.transitionLocked(StateConnecting)}
	runCtx := s.runCtx
	s.mu.Unlock()

	s.emit(events, nil)
	return s.dial(runCtx, gen)
}

func (s *Session) dial(ctx context.Context, gen uint64) error {
	transport, err := s.dialer.Dial(ctx, s.cfg.URL)

	s.mu.Lock()
	if gen != s.generation || s.state != StateConnecting {
		s.mu.Unlock()
		if transport != nil {
			_ = transport.Close()
		}
		return err
	}

	if err != nil {
		events := s.handleFailureLocked(gen)
		s.mu.Unlock()
		slog.Warn("Dial failed", "url", s.cfg.URL, "error", err)
		s.emit(events, nil)
		return fmt.Errorf("connect: %w", err)
	}

	events, dropped := s.openLocked(transport)
	s.mu.Unlock()

	slog.Info("Session open", "url", s.cfg.URL)
	s.emit(events, dropped)
	return nil
}

// openLocked installs transport, flushes the queue, replays subscriptions and starts the link goroutines.
func (s *Session) openLocked(transport Transport) ([]stateChange, []DroppedEvent) {
	live, expired := s.queue.drain(s.clock.Now())

	l := newLink(transport, s.cfg.QueueLimit+len(s.topics)+writerHeadroom)
	for _, entry := range live {
		l.push(entry)
	}

	var dropped []DroppedEvent
	for _, entry := range expired {
		dropped = append(dropped, DroppedEvent{Type: entry.msgType, Reason: DropExpired})
	}
	for _, topic := range s.topics {
		frame, err := s.encode(domain.TypeSubscription, domain.SubscriptionRequest{Topic: topic})
		if err != nil {
			continue
		}
		l.push(queuedFrame{msgType: domain.TypeSubscription, frame: frame, queuedAt: s.clock.Now()})
	}

	s.link = l
	s.attempts = 0
	ticker := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	go s.writeLoop(l, ticker)
	go s.readLoop(l)

	return []stateChange{s.transitionLocked(StateOpen)}, dropped
}

// handleFailureLocked moves a failed dial or lost transport to Reconnecting, or Failed once
// the retry budget is spent.
func (s *Session) handleFailureLocked(gen uint64) []stateChange {
	if s.attempts >= s.cfg.MaxAttempts {
		s.cancelRunLocked()
		return []stateChange{s.transitionLocked(StateFailed)}
	}

	s.attempts++
	delay := backoffDelay(s.cfg.BaseDelay, s.attempts, s.cfg.MaxDelay)
	s.reconnectTimer = s.clock.AfterFunc(delay, func() { s.redial(gen) })
	slog.Info("Reconnect scheduled", "attempt", s.attempts, "max_attempts", s.cfg.MaxAttempts, "delay", delay)

	return []stateChange{s.transitionLocked(StateReconnecting)}
}

func (s *Session) redial(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	events := []stateChange{s.transitionLocked(StateConnecting)}
	ctx := s.runCtx
	s.mu.Unlock()

	s.emit(events, nil)
	_ = s.dial(ctx, gen)
}

// connectionLost handles the end of l. Losses of a superseded link are ignored.
func (s *Session) connectionLost(l *link, cause error) {
	s.mu.Lock()
	if s.link != l || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.link = nil
	l.stop(false)
	dropped := s.requeueLocked(l.take())
	events := s.handleFailureLocked(s.generation)
	s.mu.Unlock()

	slog.Warn("Connection lost", "url", s.cfg.URL, "error", cause)
	s.emit(events, dropped)
}

// requeueLocked puts frames a lost link never confirmed back at the head of the queue,
// ahead of anything sent since, so they replay first on the next Open. Subscription
// frames are skipped; the topic replay re-sends them.
func (s *Session) requeueLocked(frames []queuedFrame) []DroppedEvent {
	var unsent []queuedFrame
	for _, entry := range frames {
		if entry.msgType.IsDomain() {
			unsent = append(unsent, entry)
		}
	}
	if len(unsent) == 0 {
		return nil
	}

	var dropped []DroppedEvent
	if s.cfg.DisableQueue {
		for _, entry := range unsent {
			dropped = append(dropped, DroppedEvent{Type: entry.msgType, Reason: DropNotOpen})
		}
		return dropped
	}
	for _, entry := range s.queue.prepend(unsent) {
		dropped = append(dropped, DroppedEvent{Type: entry.msgType, Reason: DropQueueFull})
	}
	return dropped
}

// Close ends the session: it cancels any pending reconnect, closes the transport with a
// normal close frame and moves to Closed. Only Connect leaves Closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}

	s.generation++
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.link != nil {
		s.link.stop(true)
		s.link = nil
	}
	s.cancelRunLocked()
	events := []stateChange{s.transitionLocked(StateClosed)}
	s.mu.Unlock()

	s.emit(events, nil)
	return nil
}

func (s *Session) cancelRunLocked() {
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
}

// Send transmits a domain message without blocking. While not Open the message is
// queued, or dropped with a local diagnostic when queuing is disabled.
func (s *Session) Send(msgType domain.MessageType, payload any) error {
	frame, err := s.encode(msgType, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	dropped := s.enqueueLocked(msgType, frame)
	s.mu.Unlock()

	s.emit(nil, dropped)
	return nil
}

// Subscribe remembers topic and requests it from the server when Open.
// Remembered topics are re-requested after every reconnect.
func (s *Session) Subscribe(topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return domain.ErrInvalidTopic
	}

	s.mu.Lock()
	for _, known := range s.topics {
		if known == topic {
			s.mu.Unlock()
			return nil
		}
	}
	s.topics = append(s.topics, topic)
	dropped := s.sendControlLocked(domain.TypeSubscription, topic)
	s.mu.Unlock()

	s.emit(nil, dropped)
	return nil
}

// Unsubscribe forgets topic and tells the server when Open. Unknown topics are ignored.
func (s *Session) Unsubscribe(topic string) error {
	topic = strings.TrimSpace(topic)

	s.mu.Lock()
	idx := -1
	for i, known := range s.topics {
		if known == topic {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	s.topics = append(s.topics[:idx], s.topics[idx+1:]...)
	dropped := s.sendControlLocked(domain.TypeUnsubscription, topic)
	s.mu.Unlock()

	s.emit(nil, dropped)
	return nil
}

// sendControlLocked only transmits while Open; the replay on open covers everything else.
func (s *Session) sendControlLocked(msgType domain.MessageType, topic string) []DroppedEvent {
	if s.state != StateOpen {
		return nil
	}
	frame, err := s.encode(msgType, domain.SubscriptionRequest{Topic: topic})
	if err != nil {
		return nil
	}
	return s.enqueueLocked(msgType, frame)
}

func (s *Session) enqueueLocked(msgType domain.MessageType, frame []byte) []DroppedEvent {
	entry := queuedFrame{msgType: msgType, frame: frame, queuedAt: s.clock.Now()}
	if s.state == StateOpen && s.link != nil {
		if !s.link.push(entry) {
			return []DroppedEvent{{Type: msgType, Reason: DropBufferFull}}
		}
		return nil
	}

	if s.cfg.DisableQueue {
		return []DroppedEvent{{Type: msgType, Reason: DropNotOpen}}
	}

	evicted, overflow := s.queue.push(entry)
	if overflow {
		return []DroppedEvent{{Type: evicted.msgType, Reason: DropQueueFull}}
	}
	return nil
}

func (s *Session) writeLoop(l *link, ticker clockwork.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-l.wake:
			if err := s.flush(l); err != nil {
				s.connectionLost(l, err)
				_ = l.transport.Close()
				return
			}
		case <-ticker.Chan():
			frame, err := s.encode(domain.TypeHeartbeat, nil)
			if err != nil {
				continue
			}
			if err := s.write(l, websocket.TextMessage, frame); err != nil {
				s.connectionLost(l, err)
				_ = l.transport.Close()
				return
			}
		case <-l.done:
			if l.graceful {
				if err := s.flush(l); err != nil {
					// Kept for the next Connect.
					s.mu.Lock()
					dropped := s.requeueLocked(l.take())
					s.mu.Unlock()
					s.emit(nil, dropped)
				} else {
					_ = s.write(l, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
			}
			_ = l.transport.Close()
			return
		}
	}
}

// flush writes pending frames in order until the link is empty.
func (s *Session) flush(l *link) error {
	for {
		entry, ok := l.head()
		if !ok {
			return nil
		}
		if err := s.write(l, websocket.TextMessage, entry.frame); err != nil {
			return err
		}
		l.written()
	}
}

func (s *Session) write(l *link, messageType int, data []byte) error {
	// Transport deadlines are wall-clock.
	_ = l.transport.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return l.transport.WriteMessage(messageType, data)
}

func (s *Session) readLoop(l *link) {
	for {
		_, frame, err := l.transport.ReadMessage()
		if err != nil {
			s.connectionLost(l, err)
			return
		}

		env, err := domain.DecodeEnvelope(frame)
		if err != nil {
			slog.Warn("Ignoring malformed frame", "error", err)
			continue
		}
		s.router.Dispatch(env)
	}
}

func (s *Session) encode(msgType domain.MessageType, payload any) ([]byte, error) {
	env, err := domain.NewEnvelope(msgType, payload, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return env.Encode()
}

type stateChange struct {
	from, to State
}

func (s *Session) transitionLocked(to State) stateChange {
	from := s.state
	s.state = to
	return stateChange{from: from, to: to}
}

// emit notifies observers and the router. Must be called without the lock held.
func (s *Session) emit(changes []stateChange, dropped []DroppedEvent) {
	if len(changes) > 0 {
		s.mu.Lock()
		observers := slices.Clone(s.observers)
		s.mu.Unlock()

		for _, change := range changes {
			slog.Debug("Session state changed", "from", change.from, "to", change.to)
			for _, observer := range observers {
				observer(change.from, change.to)
			}
			s.dispatchLocal(EventStateChanged, StateChangedEvent{From: change.from.String(), To: change.to.String()})
		}
	}

	for _, drop := range dropped {
		slog.Warn("Outbound message dropped", "type", drop.Type, "reason", drop.Reason)
		s.dispatchLocal(EventDropped, drop)
	}
}

func (s *Session) dispatchLocal(msgType domain.MessageType, payload any) {
	env, err := domain.NewEnvelope(msgType, payload, s.clock.Now())
	if err != nil {
		return
	}
	s.router.Dispatch(env)
}
