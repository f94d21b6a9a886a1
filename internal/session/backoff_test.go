package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectDelay_Bounds(t *testing.T) {
	for attempt := 0; attempt < MaxReconnectAttempts; attempt++ {
		lo := baseReconnectDelay << attempt
		hi := lo + reconnectJitter
		if lo > maxReconnectDelay {
			lo = maxReconnectDelay
		}
		if hi > maxReconnectDelay {
			hi = maxReconnectDelay
		}
		for i := 0; i < 20; i++ {
			d := reconnectDelay(attempt)
			assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
			assert.LessOrEqual(t, d, hi, "attempt %d", attempt)
		}
	}
}

func TestReconnectDelay_Capped(t *testing.T) {
	for _, attempt := range []int{8, 9, 20, 63, 100} {
		d := reconnectDelay(attempt)
		assert.LessOrEqual(t, d, maxReconnectDelay, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
