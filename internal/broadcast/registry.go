package broadcast

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/adapter/metrics"
	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
	"github.com/gorilla/websocket"
)

const shutdownReason = "Server shutting down"

type connectionSet map[string]*Connection

// Stats is a point-in-time view of the registry.
type Stats struct {
	TotalConnections  int64          `json:"total_connections"`
	ActiveConnections int            `json:"active_connections"`
	Subscriptions     int            `json:"subscriptions"`
	Topics            map[string]int `json:"topics"`
	Identities        map[string]int `json:"identities"`
}

// Registry tracks live connections, the identities owning them and their topic subscriptions.
// Every mutation of the three indexes happens under one lock so they never disagree.
type Registry struct {
	mu            sync.RWMutex
	connections   connectionSet
	topics        map[string]connectionSet
	identities    map[string]connectionSet
	subscriptions int

	maxConnections  int
	totalRegistered atomic.Int64
	metrics         *metrics.WebSocketMetrics
}

type RegistryOption func(*Registry)

// WithMaxConnections caps the number of registered connections. Zero means unlimited.
func WithMaxConnections(n int) RegistryOption {
	return func(r *Registry) { r.maxConnections = n }
}

func WithRegistryMetrics(m *metrics.WebSocketMetrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		connections: make(connectionSet),
		topics:      make(map[string]connectionSet),
		identities:  make(map[string]connectionSet),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an open connection and starts its writer. It returns the connection id.
func (r *Registry) Register(c *Connection) (string, error) {
	if c.State() != StateOpen {
		return "", domain.ErrConnectionClosed
	}

	r.mu.Lock()
	if _, exists := r.connections[c.id]; exists {
		r.mu.Unlock()
		return "", domain.ErrDuplicateConnection
	}
	if r.maxConnections > 0 && len(r.connections) >= r.maxConnections {
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.Rejections.WithLabelValues("capacity").Inc()
		}
		return "", domain.ErrCapacityReached
	}

	r.connections[c.id] = c
	if !c.identity.Anonymous() {
		owned := r.identities[c.identity.ID]
		if owned == nil {
			owned = make(connectionSet)
			r.identities[c.identity.ID] = owned
		}
		owned[c.id] = c
	}
	active := len(r.connections)
	r.mu.Unlock()

	r.totalRegistered.Add(1)
	c.start(r.handleWriteFailure)

	if r.metrics != nil {
		r.metrics.Registrations.Inc()
		r.metrics.ActiveConnections.Set(float64(active))
	}
	slog.Debug("Connection registered", "connection_id", c.id, "identity", c.identity.ID, "remote_addr", c.remoteAddr, "active", active)
	return c.id, nil
}

// Unregister removes a connection and closes it normally. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	c, active, subs := r.remove(id)
	if c == nil {
		return
	}

	c.Close(websocket.CloseNormalClosure, "")
	r.observe(active, subs)
	slog.Debug("Connection unregistered", "connection_id", id, "active", active)
}

// Evict removes a connection and closes it asynchronously. It reports whether the id was registered.
// Safe to call from a connection's own writer goroutine.
func (r *Registry) Evict(id, reason string) bool {
	c, active, subs := r.remove(id)
	if c == nil {
		return false
	}

	go c.Close(websocket.CloseGoingAway, reason)

	r.observe(active, subs)
	if r.metrics != nil {
		r.metrics.Evictions.WithLabelValues(reason).Inc()
	}
	slog.Warn("Connection evicted", "connection_id", id, "identity", c.identity.ID, "reason", reason)
	return true
}

func (r *Registry) handleWriteFailure(c *Connection, err error) {
	slog.Warn("Write to connection failed", "connection_id", c.id, "error", err)
	r.Evict(c.id, metrics.EvictWriteFailure)
}

func (r *Registry) remove(id string) (*Connection, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return nil, len(r.connections), r.subscriptions
	}
	delete(r.connections, id)

	for topic := range c.topics {
		if subscribers := r.topics[topic]; subscribers != nil {
			delete(subscribers, id)
			if len(subscribers) == 0 {
				delete(r.topics, topic)
			}
		}
	}
	r.subscriptions -= len(c.topics)
	clear(c.topics)

	if !c.identity.Anonymous() {
		if owned := r.identities[c.identity.ID]; owned != nil {
			delete(owned, id)
			if len(owned) == 0 {
				delete(r.identities, c.identity.ID)
			}
		}
	}
	return c, len(r.connections), r.subscriptions
}

// Subscribe adds topic to the connection's subscriptions. Subscribing twice is a no-op.
func (r *Registry) Subscribe(id, topic string) error {
	if topic == "" {
		return domain.ErrInvalidTopic
	}

	r.mu.Lock()
	c, ok := r.connections[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrUnknownConnection
	}
	if _, already := c.topics[topic]; !already {
		c.topics[topic] = struct{}{}
		subscribers := r.topics[topic]
		if subscribers == nil {
			subscribers = make(connectionSet)
			r.topics[topic] = subscribers
		}
		subscribers[id] = c
		r.subscriptions++
	}
	subs := r.subscriptions
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.Subscriptions.Set(float64(subs))
	}
	return nil
}

// Unsubscribe removes topic from the connection's subscriptions and reports whether anything changed.
func (r *Registry) Unsubscribe(id, topic string) bool {
	r.mu.Lock()
	c, ok := r.connections[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, subscribed := c.topics[topic]; !subscribed {
		r.mu.Unlock()
		return false
	}
	delete(c.topics, topic)
	if subscribers := r.topics[topic]; subscribers != nil {
		delete(subscribers, id)
		if len(subscribers) == 0 {
			delete(r.topics, topic)
		}
	}
	r.subscriptions--
	subs := r.subscriptions
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.Subscriptions.Set(float64(subs))
	}
	return true
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	return c, ok
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.connections)
}

// ConnectionsForTopic returns a snapshot of the topic's subscribers.
func (r *Registry) ConnectionsForTopic(topic string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.topics[topic])
}

// ConnectionsForIdentity returns a snapshot of the identity's connections.
func (r *Registry) ConnectionsForIdentity(identityID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.identities[identityID])
}

// Topics returns the topics a connection is subscribed to, sorted.
func (r *Registry) Topics(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connections[id]
	if !ok {
		return nil
	}
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalConnections:  r.totalRegistered.Load(),
		ActiveConnections: len(r.connections),
		Subscriptions:     r.subscriptions,
		Topics:            make(map[string]int, len(r.topics)),
		Identities:        make(map[string]int, len(r.identities)),
	}
	for topic, subscribers := range r.topics {
		stats.Topics[topic] = len(subscribers)
	}
	for identityID, owned := range r.identities {
		stats.Identities[identityID] = len(owned)
	}
	return stats
}

// Shutdown closes every connection with a going-away frame and empties the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := snapshot(r.connections)
	r.connections = make(connectionSet)
	r.topics = make(map[string]connectionSet)
	r.identities = make(map[string]connectionSet)
	r.subscriptions = 0
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Go(func() { c.Close(websocket.CloseGoingAway, shutdownReason) })
	}
	wg.Wait()

	r.observe(0, 0)
	slog.Info("Registry shut down", "closed", len(conns))
}

func (r *Registry) observe(active, subs int) {
	if r.metrics == nil {
		return
	}
	r.metrics.ActiveConnections.Set(float64(active))
	r.metrics.Subscriptions.Set(float64(subs))
}

func snapshot(set connectionSet) []*Connection {
	conns := make([]*Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}
