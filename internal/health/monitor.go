// Package health classifies pipeline events into verdicts the reconnection
// controller acts on. The transient/fatal boundary is policy layered over
// whatever error codes the media runtime surfaces, not a fixed enumeration.
package health

import (
	"time"

	"github.com/topecongiro/rtsp-to-kvs/internal/runtime"
)

// Level is the severity of a verdict.
type Level int

const (
	Healthy Level = iota
	Transient
	Fatal
)

func (l Level) String() string {
	switch l {
	case Healthy:
		return "healthy"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Verdict is derived from one event plus the recent history window. It is
// recomputed per event and never stored long-term.
type Verdict struct {
	Level     Level
	Reason    string
	Retryable bool
}

// Defaults for the transient escalation window.
const (
	DefaultWindow    = 2 * time.Minute
	DefaultThreshold = 3
)

// Monitor holds the rolling window of recent transient classifications.
// It does not own the event stream; the supervisor feeds it.
type Monitor struct {
	window    time.Duration
	threshold int
	sinkStage string
	recent    []time.Time
	now       func() time.Time
}

// New creates a monitor. sinkStage is the stage name whose auth errors are
// terminal (new credentials are needed, retrying cannot help).
func New(window time.Duration, threshold int, sinkStage string) *Monitor {
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Monitor{
		window:    window,
		threshold: threshold,
		sinkStage: sinkStage,
		now:       time.Now,
	}
}

// Classify maps one pipeline event onto a health verdict.
func (m *Monitor) Classify(ev runtime.Event) Verdict {
	switch ev.Kind {
	case runtime.EventStateChanged:
		if ev.State == runtime.StateRunning {
			return Verdict{Level: Healthy}
		}
		return Verdict{Level: Healthy, Reason: "pipeline " + ev.State.String()}

	case runtime.EventWarning:
		return Verdict{Level: Healthy, Reason: ev.Message}

	case runtime.EventEndOfStream:
		// A live source should never end; the camera may be rebooting,
		// so this is worth a reconnect rather than giving up.
		return m.transient("source ended unexpectedly")

	case runtime.EventError:
		if ev.Stage == m.sinkStage && ev.Code == runtime.CodeAuth {
			return Verdict{
				Level:     Fatal,
				Reason:    "sink rejected credentials: " + ev.Message,
				Retryable: false,
			}
		}
		return m.transient(ev.Stage + ": " + ev.Message)
	}
	return Verdict{Level: Healthy}
}

// ClassifyStartError maps a stage construction failure onto a verdict.
// Start failures consume the controller's retry budget but do not count
// toward the in-run transient window; otherwise a source that is down for
// a few attempts could never be reconnected.
func (m *Monitor) ClassifyStartError(err *runtime.StartError) Verdict {
	if err.Code == runtime.CodeAuth {
		return Verdict{
			Level:     Fatal,
			Reason:    "credentials rejected at startup: " + err.Error(),
			Retryable: false,
		}
	}
	return Verdict{Level: Transient, Reason: err.Error(), Retryable: true}
}

// Reset clears the rolling window. Called after a sustained healthy period
// so old failures do not count against a recovered pipeline.
func (m *Monitor) Reset() { m.recent = nil }

func (m *Monitor) transient(reason string) Verdict {
	now := m.now()
	cutoff := now.Add(-m.window)
	kept := m.recent[:0]
	for _, t := range m.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.recent = append(kept, now)

	if len(m.recent) >= m.threshold {
		return Verdict{
			Level:     Fatal,
			Reason:    "exceeded transient-error threshold",
			Retryable: false,
		}
	}
	return Verdict{Level: Transient, Reason: reason, Retryable: true}
}
