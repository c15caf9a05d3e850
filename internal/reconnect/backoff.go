package reconnect

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential growth with a cap, plus
// additive positive jitter so a fleet of relays failing against the same
// endpoint does not retry in lockstep. With JitterFrac below
// Multiplier-1, successive uncapped delays are strictly increasing.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	JitterFrac float64

	rng *rand.Rand
}

// Defaults applied by Delay when fields are unset.
const (
	DefaultInitial    = 1 * time.Second
	DefaultMax        = 2 * time.Minute
	DefaultMultiplier = 2.0
	DefaultJitterFrac = 0.5
)

// Delay returns the wait before the given attempt (1-based).
func (b *Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultInitial
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = DefaultMax
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = DefaultMultiplier
	}

	d := float64(initial)
	for i := 1; i < attempt; i++ {
		d *= mult
		if d >= float64(maxDelay) {
			d = float64(maxDelay)
			break
		}
	}

	if b.JitterFrac > 0 && d < float64(maxDelay) {
		if b.rng == nil {
			b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		d += b.rng.Float64() * b.JitterFrac * d
	}
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	return time.Duration(d)
}
