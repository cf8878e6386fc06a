package client

import (
	"math"
	"time"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
)

// backoffDelay returns the wait before the given retry attempt, counted from 1:
// base * 2^(attempt-1). A positive ceiling clamps the result.
func backoffDelay(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for range attempt - 1 {
		delay *= 2
		if ceiling > 0 && delay >= ceiling {
			return ceiling
		}
		if delay <= 0 {
			return time.Duration(math.MaxInt64)
		}
	}
	if ceiling > 0 && delay > ceiling {
		return ceiling
	}
	return delay
}
