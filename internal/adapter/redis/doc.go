// Package redis connects the hub to Redis: a pub/sub relay that fans
// envelopes out to every server instance, a token store used to validate
// handshake credentials, and client hooks for metrics and circuit breaking.
package redis
