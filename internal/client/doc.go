// Package client is the consuming side of the event hub: a Session that keeps one logical
// WebSocket alive across transport failures and a Router that dispatches inbound envelopes by type.
//
// The Session restores remembered topic subscriptions and flushes messages queued while
// disconnected every time it reaches StateOpen. Reconnect and heartbeat timers run on the
// session clock, never on the read loop, so a slow handler cannot stall recovery.
package client
