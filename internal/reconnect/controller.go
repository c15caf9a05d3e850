// Package reconnect owns restart policy: the backoff schedule, the retry
// budget, and the state machine that sequences teardown and rebuild. It is
// an explicit state machine rather than scattered flags so resets and
// increments happen in exactly one place.
package reconnect

import (
	"fmt"
	"time"
)

// State of the controller.
type State int

const (
	Idle State = iota
	Connecting
	Running
	BackingOff
	GivingUp
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case BackingOff:
		return "backoff"
	case GivingUp:
		return "giving-up"
	default:
		return "unknown"
	}
}

// Policy bounds automatic recovery.
type Policy struct {
	// MaxAttempts is the maximum number of consecutive failed attempts
	// before giving up. Zero means the default.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
	// BudgetWindow is the ceiling on elapsed time since the first failure
	// of the current streak. Zero disables the time ceiling.
	BudgetWindow time.Duration `json:"budget_window" mapstructure:"budget_window"`
	// Stabilization is how long a pipeline must stay healthy before the
	// attempt counter resets.
	Stabilization time.Duration `json:"stabilization" mapstructure:"stabilization"`

	Backoff Backoff `json:"backoff" mapstructure:"backoff"`
}

// Defaults applied by the controller.
const (
	DefaultMaxAttempts   = 10
	DefaultStabilization = 30 * time.Second
)

// RetryState is the controller's mutable core: attempt counter, last delay,
// and the deadline of the current budget window. Owned solely by the
// controller; the counter only grows while consecutive attempts fail, and
// one sustained healthy period resets it.
type RetryState struct {
	Attempts     int
	LastDelay    time.Duration
	FirstFailure time.Time
}

// Controller sequences reconnection. It is event-driven: the supervisor
// calls transitions and performs the actual waits and teardowns itself, so
// the controller never blocks and holds no locks.
type Controller struct {
	policy Policy
	state  State
	retry  RetryState
	reason string
	now    func() time.Time
}

// New creates an Idle controller.
func New(policy Policy) *Controller {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Stabilization <= 0 {
		policy.Stabilization = DefaultStabilization
	}
	return &Controller{policy: policy, now: time.Now}
}

func (c *Controller) State() State      { return c.state }
func (c *Controller) Retry() RetryState { return c.retry }

// FinalReason reports why the controller gave up. Empty until GivingUp.
func (c *Controller) FinalReason() string { return c.reason }

// Stabilization returns the healthy period required before a reset.
func (c *Controller) Stabilization() time.Duration { return c.policy.Stabilization }

// Begin moves Idle/Backoff into Connecting for a new attempt.
func (c *Controller) Begin() error {
	switch c.state {
	case Idle, BackingOff:
		c.state = Connecting
		return nil
	case GivingUp:
		return fmt.Errorf("controller has given up: %s", c.reason)
	default:
		return fmt.Errorf("cannot begin attempt from state %s", c.state)
	}
}

// Confirm records the first healthy verdict of the current attempt:
// Connecting becomes Running.
func (c *Controller) Confirm() {
	if c.state == Connecting {
		c.state = Running
	}
}

// Stable is called once the pipeline has been healthy for at least the
// stabilization period. The retry streak is forgotten.
func (c *Controller) Stable() {
	if c.state == Running {
		c.retry = RetryState{}
	}
}

// Fail records a failed attempt or a failure of the running pipeline.
// Non-retryable failures and exhausted budgets end in GivingUp; otherwise
// the controller moves to Backoff and returns the delay to wait before the
// next attempt.
func (c *Controller) Fail(reason string, retryable bool) (State, time.Duration) {
	now := c.now()
	if c.retry.Attempts == 0 {
		c.retry.FirstFailure = now
	}
	c.retry.Attempts++

	switch {
	case !retryable:
		c.giveUp(reason)
	case c.retry.Attempts > c.policy.MaxAttempts:
		c.giveUp(fmt.Sprintf("retry budget exhausted after %d attempts: %s", c.retry.Attempts-1, reason))
	case c.policy.BudgetWindow > 0 && now.Sub(c.retry.FirstFailure) > c.policy.BudgetWindow:
		c.giveUp(fmt.Sprintf("retry budget window (%s) exceeded: %s", c.policy.BudgetWindow, reason))
	default:
		c.state = BackingOff
		c.retry.LastDelay = c.policy.Backoff.Delay(c.retry.Attempts)
		return c.state, c.retry.LastDelay
	}
	return c.state, 0
}

func (c *Controller) giveUp(reason string) {
	// Terminal: the supervisor alone decides what happens next.
	c.state = GivingUp
	c.reason = reason
}
