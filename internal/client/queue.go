package client

import (
	"slices"
	"time"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
)

const (
	DefaultQueueLimit = 256
	DefaultQueueTTL   = 2 * time.Minute
)

type queuedFrame struct {
	msgType  domain.MessageType
	frame    []byte
	queuedAt time.Time
}

// outboundQueue holds frames sent while disconnected. It is bounded by count and age;
// overflow drops the oldest entry, expired entries are dropped at drain time.
// Not safe for concurrent use; the Session lock guards it.
type outboundQueue struct {
	limit   int
	ttl     time.Duration
	entries []queuedFrame
}

func newOutboundQueue(limit int, ttl time.Duration) *outboundQueue {
	return &outboundQueue{limit: limit, ttl: ttl}
}

// push appends a frame and returns the entry evicted to make room, if any.
func (q *outboundQueue) push(entry queuedFrame) (queuedFrame, bool) {
	var evicted queuedFrame
	overflow := false
	if q.limit > 0 && len(q.entries) >= q.limit {
		evicted = q.entries[0]
		q.entries = q.entries[1:]
		overflow = true
	}
	q.entries = append(q.entries, entry)
	return evicted, overflow
}

// prepend puts entries ahead of everything queued and returns the oldest entries
// evicted to stay within the limit.
func (q *outboundQueue) prepend(entries []queuedFrame) []queuedFrame {
	q.entries = append(slices.Clone(entries), q.entries...)
	if q.limit <= 0 || len(q.entries) <= q.limit {
		return nil
	}
	over := len(q.entries) - q.limit
	evicted := slices.Clone(q.entries[:over])
	q.entries = q.entries[over:]
	return evicted
}

// drain empties the queue, returning live entries in FIFO order and the expired ones.
func (q *outboundQueue) drain(now time.Time) (live, expired []queuedFrame) {
	for _, entry := range q.entries {
		if q.ttl > 0 && now.Sub(entry.queuedAt) > q.ttl {
			expired = append(expired, entry)
			continue
		}
		live = append(live, entry)
	}
	q.entries = nil
	return live, expired
}

func (q *outboundQueue) len() int { return len(q.entries) }
