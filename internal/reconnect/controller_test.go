package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		Stabilization: time.Second,
		Backoff:       Backoff{Initial: 10 * time.Millisecond, Max: time.Second, Multiplier: 2, JitterFrac: 0},
	}
}

func TestControllerHappyPath(t *testing.T) {
	c := New(testPolicy())
	assert.Equal(t, Idle, c.State())

	require.NoError(t, c.Begin())
	assert.Equal(t, Connecting, c.State())

	c.Confirm()
	assert.Equal(t, Running, c.State())

	c.Stable()
	assert.Equal(t, 0, c.Retry().Attempts)
}

func TestControllerRetryThenRecover(t *testing.T) {
	c := New(testPolicy())

	require.NoError(t, c.Begin())
	state, delay := c.Fail("connection refused", true)
	assert.Equal(t, BackingOff, state)
	assert.Equal(t, 10*time.Millisecond, delay)
	assert.Equal(t, 1, c.Retry().Attempts)

	require.NoError(t, c.Begin())
	state, delay = c.Fail("connection refused", true)
	assert.Equal(t, BackingOff, state)
	assert.Equal(t, 20*time.Millisecond, delay)
	assert.Equal(t, 2, c.Retry().Attempts)

	require.NoError(t, c.Begin())
	c.Confirm()
	assert.Equal(t, Running, c.State())
	// Confirm alone keeps the streak; only a stabilized run forgets it.
	assert.Equal(t, 2, c.Retry().Attempts)
	c.Stable()
	assert.Equal(t, 0, c.Retry().Attempts)
}

func TestControllerGivesUpAfterMaxAttempts(t *testing.T) {
	c := New(testPolicy())

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Begin())
		state, _ := c.Fail("down", true)
		assert.Equal(t, BackingOff, state)
	}

	require.NoError(t, c.Begin())
	state, delay := c.Fail("down", true)
	assert.Equal(t, GivingUp, state)
	assert.Zero(t, delay)
	assert.Contains(t, c.FinalReason(), "retry budget exhausted")

	assert.Error(t, c.Begin())
}

func TestControllerNonRetryableGivesUpImmediately(t *testing.T) {
	c := New(testPolicy())

	require.NoError(t, c.Begin())
	state, delay := c.Fail("sink rejected credentials", false)
	assert.Equal(t, GivingUp, state)
	assert.Zero(t, delay)
	assert.Equal(t, "sink rejected credentials", c.FinalReason())
}

func TestControllerBudgetWindow(t *testing.T) {
	p := testPolicy()
	p.MaxAttempts = 100
	p.BudgetWindow = time.Minute
	c := New(p)

	base := time.Now()
	c.now = func() time.Time { return base }

	require.NoError(t, c.Begin())
	state, _ := c.Fail("down", true)
	assert.Equal(t, BackingOff, state)

	// The next failure lands past the window measured from the first one.
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.NoError(t, c.Begin())
	state, _ = c.Fail("down", true)
	assert.Equal(t, GivingUp, state)
	assert.Contains(t, c.FinalReason(), "budget window")
}

func TestControllerStableOnlyWhileRunning(t *testing.T) {
	c := New(testPolicy())

	require.NoError(t, c.Begin())
	c.Fail("down", true)
	assert.Equal(t, 1, c.Retry().Attempts)

	// Not running, so the streak survives.
	c.Stable()
	assert.Equal(t, 1, c.Retry().Attempts)
}

func TestControllerDefaults(t *testing.T) {
	c := New(Policy{})
	assert.Equal(t, DefaultStabilization, c.Stabilization())

	for i := 0; i < DefaultMaxAttempts; i++ {
		require.NoError(t, c.Begin())
		state, _ := c.Fail("down", true)
		require.Equal(t, BackingOff, state, "attempt %d", i+1)
	}
	require.NoError(t, c.Begin())
	state, _ := c.Fail("down", true)
	assert.Equal(t, GivingUp, state)
}
