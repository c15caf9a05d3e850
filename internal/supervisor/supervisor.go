// Package supervisor composes the relay's run loop: build a descriptor,
// start the pipeline, stream events through the health monitor, feed
// verdicts to the reconnection controller, and tear down/rebuild or give
// up as it decides. All pipeline-level failures are contained here; only
// a terminal give-up propagates to the caller.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/topecongiro/rtsp-to-kvs/internal/health"
	"github.com/topecongiro/rtsp-to-kvs/internal/history"
	"github.com/topecongiro/rtsp-to-kvs/internal/metrics"
	"github.com/topecongiro/rtsp-to-kvs/internal/pipeline"
	"github.com/topecongiro/rtsp-to-kvs/internal/reconnect"
	"github.com/topecongiro/rtsp-to-kvs/internal/runtime"
)

// Config is the immutable per-run configuration of one relay.
type Config struct {
	Target pipeline.StreamTarget
	Sink   pipeline.SinkConfig
	Hint   pipeline.CodecHint

	Policy reconnect.Policy
	// GracefulStopTimeout bounds the flush wait during shutdown teardown.
	GracefulStopTimeout time.Duration
	// TransientWindow/TransientThreshold configure the health monitor's
	// escalation of repeated transient degradations.
	TransientWindow    time.Duration
	TransientThreshold int
}

// GiveUpError is returned by Run when automatic recovery is no longer
// possible. The process boundary maps it to a distinct exit code.
type GiveUpError struct{ Reason string }

func (e *GiveUpError) Error() string { return "giving up: " + e.Reason }

// Status is a point-in-time snapshot for the status API.
type Status struct {
	Stream      string        `json:"stream"`
	Target      string        `json:"target"`
	State       string        `json:"state"`
	Attempts    int           `json:"attempts"`
	LastDelay   time.Duration `json:"last_delay"`
	LastError   string        `json:"last_error,omitempty"`
	ConnectedAt time.Time     `json:"connected_at,omitzero"`
}

// Supervisor owns the current pipeline handle. At most one handle is live
// at any time; it is never shared with the monitor or the controller.
type Supervisor struct {
	cfg     Config
	rt      runtime.Runtime
	ctrl    *reconnect.Controller
	monitor *health.Monitor
	logger  *slog.Logger
	sinks   []history.Sink
	stream  string

	mu     sync.RWMutex
	status Status
}

// New creates a supervisor for one relay.
func New(rt runtime.Runtime, cfg Config, log *slog.Logger, sinks ...history.Sink) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.GracefulStopTimeout <= 0 {
		cfg.GracefulStopTimeout = 10 * time.Second
	}
	stream := cfg.Sink.StreamName
	if stream == "" {
		stream = string(pipeline.SinkPlayback)
	}
	s := &Supervisor{
		cfg:     cfg,
		rt:      rt,
		ctrl:    reconnect.New(cfg.Policy),
		monitor: health.New(cfg.TransientWindow, cfg.TransientThreshold, "sink"),
		logger:  log.With("stream", stream),
		sinks:   sinks,
		stream:  stream,
	}
	s.status = Status{
		Stream: stream,
		Target: cfg.Target.Redacted(),
		State:  s.ctrl.State().String(),
	}
	return s
}

// Status returns a snapshot for the HTTP surface.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Run executes the relay loop until ctx is cancelled (clean shutdown,
// returns nil) or recovery becomes impossible (returns *GiveUpError).
// Descriptor construction errors surface directly; configuration is
// expected to be validated before Run.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.ctrl.Begin(); err != nil {
			return err
		}
		s.observeState()

		// A fresh descriptor per attempt, so no stale state leaks
		// across restarts.
		desc, err := pipeline.Build(s.cfg.Target, s.cfg.Sink, s.cfg.Hint)
		if err != nil {
			return err
		}

		handle, err := s.rt.Start(desc)
		if err != nil {
			verdict := s.classifyStartFailure(err)
			s.logger.Warn("pipeline start failed", "error", err)
			if done, gerr := s.handleFailure(ctx, verdict); done {
				return gerr
			}
			continue
		}
		metrics.IncStart(s.stream)
		s.logger.Info("pipeline started", "pipeline", desc.String(), "attempt", s.ctrl.Retry().Attempts+1)

		events, err := s.rt.Events(handle)
		if err != nil {
			// Start and Events are never interleaved with another
			// attempt, so a stale handle here means the worker died
			// between the two calls.
			_ = s.rt.Stop(handle, runtime.StopForced)
			if done, gerr := s.handleFailure(ctx, health.Verdict{
				Level: health.Transient, Reason: err.Error(), Retryable: true,
			}); done {
				return gerr
			}
			continue
		}

		verdict, shutdown := s.watch(ctx, events)
		if shutdown {
			s.stopPipeline(handle, runtime.StopGraceful)
			s.logger.Info("shutdown requested; pipeline flushed and stopped")
			return nil
		}

		s.stopPipeline(handle, runtime.StopForced)
		s.recordEvent(history.EventDisconnected, verdict.Reason)
		if done, gerr := s.handleFailure(ctx, verdict); done {
			return gerr
		}
	}
}

// watch consumes the event stream until a non-healthy verdict or shutdown.
// The returned bool is true when ctx was cancelled.
func (s *Supervisor) watch(ctx context.Context, events <-chan runtime.Event) (health.Verdict, bool) {
	var stabilize <-chan time.Time
	confirmed := false

	for {
		select {
		case <-ctx.Done():
			return health.Verdict{}, true

		case <-stabilize:
			// Healthy long enough: forget the failure streak.
			s.ctrl.Stable()
			s.monitor.Reset()
			s.observeState()
			stabilize = nil

		case ev, ok := <-events:
			if !ok {
				return health.Verdict{
					Level:     health.Transient,
					Reason:    "event stream ended",
					Retryable: true,
				}, false
			}
			metrics.IncEvent(s.stream, ev.Kind.String())
			verdict := s.monitor.Classify(ev)

			switch verdict.Level {
			case health.Healthy:
				if !confirmed && ev.Kind == runtime.EventStateChanged && ev.State == runtime.StateRunning {
					confirmed = true
					s.ctrl.Confirm()
					s.markConnected()
					s.recordEvent(history.EventConnected, "")
					stabilize = time.After(s.ctrl.Stabilization())
					s.logger.Info("pipeline healthy")
				} else if ev.Kind == runtime.EventWarning {
					s.logger.Warn("pipeline warning", "stage", ev.Stage, "message", ev.Message)
				}
			default:
				s.logger.Warn("pipeline degraded",
					"level", verdict.Level.String(), "stage", ev.Stage, "reason", verdict.Reason)
				return verdict, false
			}
		}
	}
}

// handleFailure applies a failure verdict to the controller and waits out
// the backoff. It returns done=true when the loop must exit, either with a
// give-up error or nil after a shutdown during backoff.
func (s *Supervisor) handleFailure(ctx context.Context, v health.Verdict) (bool, error) {
	state, delay := s.ctrl.Fail(v.Reason, v.Retryable)
	s.observeStateWithError(v.Reason)

	if state == reconnect.GivingUp {
		reason := s.ctrl.FinalReason()
		metrics.IncGiveUp(s.stream)
		s.recordEvent(history.EventGaveUp, reason)
		s.logger.Error("giving up", "reason", reason)
		return true, &GiveUpError{Reason: reason}
	}

	metrics.IncReconnect(s.stream)
	metrics.ObserveBackoff(s.stream, delay.Seconds())
	s.logger.Info("backing off before reconnect",
		"delay", delay, "attempt", s.ctrl.Retry().Attempts)

	// A shutdown signal cancels the backoff wait immediately.
	select {
	case <-ctx.Done():
		return true, nil
	case <-time.After(delay):
		return false, nil
	}
}

func (s *Supervisor) classifyStartFailure(err error) health.Verdict {
	var se *runtime.StartError
	if errors.As(err, &se) {
		return s.monitor.ClassifyStartError(se)
	}
	return health.Verdict{Level: health.Transient, Reason: err.Error(), Retryable: true}
}

func (s *Supervisor) stopPipeline(h *runtime.Handle, mode runtime.StopMode) {
	if mode == runtime.StopGraceful {
		done := make(chan error, 1)
		go func() { done <- s.rt.Stop(h, runtime.StopGraceful) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, runtime.ErrStaleHandle) {
				s.logger.Warn("graceful stop", "error", err)
			}
		case <-time.After(s.cfg.GracefulStopTimeout):
			s.logger.Warn("graceful stop timed out; forcing teardown")
			_ = s.rt.Stop(h, runtime.StopForced)
		}
	} else {
		if err := s.rt.Stop(h, mode); err != nil && !errors.Is(err, runtime.ErrStaleHandle) {
			s.logger.Warn("pipeline stop", "error", err)
		}
	}
	metrics.IncStop(s.stream, mode.String())
}

func (s *Supervisor) recordEvent(t history.EventType, reason string) {
	if len(s.sinks) == 0 {
		return
	}
	evt := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			Stream:  s.stream,
			Target:  s.cfg.Target.Redacted(),
			Attempt: s.ctrl.Retry().Attempts,
			Reason:  reason,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, evt); err != nil {
			s.logger.Warn("history sink send failed", "error", err)
		}
	}
}

func (s *Supervisor) observeState() {
	s.observeStateWithError("")
}

func (s *Supervisor) observeStateWithError(lastErr string) {
	st := s.ctrl.State().String()
	retry := s.ctrl.Retry()

	s.mu.Lock()
	prev := s.status.State
	s.status.State = st
	s.status.Attempts = retry.Attempts
	s.status.LastDelay = retry.LastDelay
	if lastErr != "" {
		s.status.LastError = lastErr
	}
	if st != "running" {
		s.status.ConnectedAt = time.Time{}
	}
	s.mu.Unlock()

	if prev != st {
		metrics.RecordStateTransition(s.stream, prev, st)
	}
}

func (s *Supervisor) markConnected() {
	st := s.ctrl.State().String()
	s.mu.Lock()
	prev := s.status.State
	s.status.State = st
	s.status.ConnectedAt = time.Now()
	s.status.LastError = ""
	s.mu.Unlock()
	if prev != st {
		metrics.RecordStateTransition(s.stream, prev, st)
	}
}
