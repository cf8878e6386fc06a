package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	rateLimiterCleanupEvery = 5 * time.Minute
	rateLimiterIdleAfter    = 10 * time.Minute
)

// LimitReason describes why a connection attempt was rejected. Values are metric labels.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// globalLimiter caps concurrent connections per instance without locking.
type globalLimiter struct {
	current atomic.Int64
	max     int64
}

func (l *globalLimiter) acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *globalLimiter) release() {
	l.current.Add(-1)
}

// ipLimiter caps concurrent connections per remote IP.
type ipLimiter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

func (l *ipLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *ipLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

func (l *ipLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ips[ip]
}

// rateLimiter is a token bucket per remote IP. Buckets idle for ten minutes are dropped.
type rateLimiter struct {
	clock     clockwork.Clock
	mu        sync.Mutex
	limiters  map[string]*rateLimiterEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *rateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-rateLimiterIdleAfter)
		for key, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.cleanupAt = now.Add(rateLimiterCleanupEvery)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *rateLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

type ConnectionLimitsConfig struct {
	MaxConnections      int64
	MaxConnectionsPerIP int
	ConnectionsPerSec   float64
	Burst               int
}

// ConnectionLimits gates WebSocket upgrades on connection rate, a global cap and a per-IP cap.
type ConnectionLimits struct {
	global *globalLimiter
	perIP  *ipLimiter
	rate   *rateLimiter
}

func NewConnectionLimits(clock clockwork.Clock, cfg ConnectionLimitsConfig) *ConnectionLimits {
	return &ConnectionLimits{
		global: &globalLimiter{max: cfg.MaxConnections},
		perIP:  &ipLimiter{ips: make(map[string]int), maxPer: cfg.MaxConnectionsPerIP},
		rate: &rateLimiter{
			clock:     clock,
			limiters:  make(map[string]*rateLimiterEntry),
			rate:      rate.Limit(cfg.ConnectionsPerSec),
			burst:     cfg.Burst,
			cleanupAt: clock.Now().Add(rateLimiterCleanupEvery),
		},
	}
}

// Acquire takes a slot for ip. On success the caller must Release it.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.rate.allow(ip) {
		return false, LimitReasonRate
	}
	if !l.global.acquire() {
		return false, LimitReasonGlobal
	}
	if !l.perIP.acquire(ip) {
		l.global.release()
		return false, LimitReasonPerIP
	}
	return true, ""
}

func (l *ConnectionLimits) Release(ip string) {
	l.perIP.release(ip)
	l.global.release()
}

// Current returns the number of held slots.
func (l *ConnectionLimits) Current() int64 {
	return l.global.current.Load()
}
