package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayExponentialGrowth(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: time.Minute, Multiplier: 2, JitterFrac: 0}

	assert.Equal(t, 1*time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 8*time.Second, b.Delay(4))
}

func TestDelayCapped(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2, JitterFrac: 0.5}

	for attempt := 1; attempt <= 20; attempt++ {
		assert.LessOrEqual(t, b.Delay(attempt), 10*time.Second, "attempt %d", attempt)
	}
	assert.Equal(t, 10*time.Second, b.Delay(20))
}

func TestDelayJitterIsPositive(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: time.Hour, Multiplier: 2, JitterFrac: 0.5}

	for attempt := 1; attempt <= 8; attempt++ {
		base := time.Second * time.Duration(1<<uint(attempt-1))
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		assert.LessOrEqual(t, d, base+base/2, "attempt %d", attempt)
	}
}

func TestDelayStrictlyIncreasing(t *testing.T) {
	// With JitterFrac below Multiplier-1, successive uncapped delays grow
	// even in the worst jitter draw.
	b := &Backoff{Initial: time.Second, Max: time.Hour, Multiplier: 2, JitterFrac: 0.5}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := b.Delay(attempt)
		assert.Greater(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestDelayDefaults(t *testing.T) {
	b := &Backoff{}

	d := b.Delay(1)
	assert.GreaterOrEqual(t, d, DefaultInitial)
	assert.LessOrEqual(t, d, DefaultInitial+DefaultInitial/2)

	// Far past the cap: defaults bound the delay at two minutes.
	assert.Equal(t, DefaultMax, b.Delay(50))
}
