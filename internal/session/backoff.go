package session

import (
	"math/rand/v2"
	"time"
)

const (
	baseReconnectDelay = 2 * time.Second
	maxReconnectDelay  = 5 * time.Minute
	reconnectJitter    = time.Second

	// MaxReconnectAttempts is the default cap before a session is marked
	// failed instead of being rescheduled.
	MaxReconnectAttempts = 10
)

// reconnectDelay returns the wait before reconnect attempt n (zero-based):
// exponential from the base delay with up to one second of jitter, capped at
// five minutes.
func reconnectDelay(attempt int) time.Duration {
	d := maxReconnectDelay
	if attempt < 8 {
		d = baseReconnectDelay << attempt
	}
	d += time.Duration(rand.Int64N(int64(reconnectJitter)))
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}
