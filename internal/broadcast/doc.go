// Package broadcast implements the server side of the real-time event hub.
//
// The Registry is the single synchronization point for connections, their owning identities and their topic
// subscriptions. Readers take point-in-time snapshots so no lock is held across network I/O.
// The Broadcaster resolves a target against a snapshot and enqueues one encoded envelope per connection;
// per-connection writer goroutines preserve order and isolate slow peers. A failed enqueue or write evicts
// the connection, which removes all of its subscriptions in the same critical section.
// The HeartbeatMonitor is the only eviction path for silent peers.
package broadcast
