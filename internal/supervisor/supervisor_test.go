package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topecongiro/rtsp-to-kvs/internal/health"
	"github.com/topecongiro/rtsp-to-kvs/internal/history"
	"github.com/topecongiro/rtsp-to-kvs/internal/pipeline"
	"github.com/topecongiro/rtsp-to-kvs/internal/reconnect"
	"github.com/topecongiro/rtsp-to-kvs/internal/runtime"
)

// script drives one Start attempt of the fake runtime: either a start
// failure, or a stream of events optionally followed by channel close.
type script struct {
	startErr error
	events   []runtime.Event
	hold     bool // keep the stream open until Stop
}

type fakeRuntime struct {
	mu      sync.Mutex
	scripts []script
	starts  int
	stops   []runtime.StopMode
	current chan runtime.Event
	open    bool
}

var errNoScript = errors.New("no start scripted")

func (f *fakeRuntime) Start(_ pipeline.Descriptor) (*runtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scripts) == 0 {
		return nil, &runtime.StartError{Err: errNoScript}
	}
	sc := f.scripts[0]
	f.scripts = f.scripts[1:]
	f.starts++
	if sc.startErr != nil {
		return nil, sc.startErr
	}
	ch := make(chan runtime.Event, len(sc.events)+1)
	for _, ev := range sc.events {
		ch <- ev
	}
	if !sc.hold {
		close(ch)
	}
	f.current = ch
	f.open = sc.hold
	return &runtime.Handle{StartedAt: time.Now()}, nil
}

func (f *fakeRuntime) Events(_ *runtime.Handle) (<-chan runtime.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, runtime.ErrStaleHandle
	}
	return f.current, nil
}

func (f *fakeRuntime) Stop(_ *runtime.Handle, mode runtime.StopMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, mode)
	if f.open {
		close(f.current)
		f.open = false
	}
	f.current = nil
	return nil
}

func (f *fakeRuntime) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func newFake(_ *testing.T, scripts ...script) *fakeRuntime {
	return &fakeRuntime{scripts: scripts}
}

// memorySink records history events in memory.
type memorySink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memorySink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func playing() runtime.Event {
	return runtime.Event{Kind: runtime.EventStateChanged, State: runtime.StateRunning, At: time.Now()}
}

func eos() runtime.Event {
	return runtime.Event{Kind: runtime.EventEndOfStream, At: time.Now()}
}

func sinkAuthError() runtime.Event {
	return runtime.Event{
		Kind:    runtime.EventError,
		Stage:   "sink",
		Code:    runtime.CodeAuth,
		Message: "security token invalid",
		At:      time.Now(),
	}
}

func testConfig() Config {
	return Config{
		Target: pipeline.StreamTarget{URL: "rtsp://camera.local/stream1"},
		Sink:   pipeline.SinkConfig{Kind: pipeline.SinkKVS, StreamName: "front-door", Region: "us-west-2"},
		Policy: reconnect.Policy{
			MaxAttempts:   5,
			Stabilization: 20 * time.Millisecond,
			Backoff: reconnect.Backoff{
				Initial: time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2, JitterFrac: 0,
			},
		},
		GracefulStopTimeout: time.Second,
	}
}

func waitForState(t *testing.T, s *Supervisor, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("supervisor never reached state %q (now %q)", want, s.Status().State)
}

func TestRunStableUntilShutdown(t *testing.T) {
	rt := newFake(t, script{events: []runtime.Event{playing()}, hold: true})
	sink := &memorySink{}
	s := New(rt, testConfig(), nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForState(t, s, "running")
	// Outlive the stabilization period so the streak resets.
	time.Sleep(50 * time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, 1, rt.startCount())
	assert.Equal(t, 0, s.Status().Attempts)
	assert.Equal(t, []history.EventType{history.EventConnected}, sink.types())
	// Shutdown flushes: the single stop is graceful.
	assert.Equal(t, []runtime.StopMode{runtime.StopGraceful}, rt.stops)
}

func TestRunRecoversAfterStartFailures(t *testing.T) {
	startErr := &runtime.StartError{Stage: "source", Code: runtime.CodeNetwork, Err: errors.New("connection refused")}
	rt := newFake(t,
		script{startErr: startErr},
		script{startErr: startErr},
		script{startErr: startErr},
		script{events: []runtime.Event{playing()}, hold: true},
	)
	cfg := testConfig()
	cfg.Policy.Stabilization = 100 * time.Millisecond
	s := New(rt, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForState(t, s, "running")
	assert.Equal(t, 4, rt.startCount())
	assert.Equal(t, 3, s.Status().Attempts)

	// After the stabilization period the streak is forgotten.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && s.Status().Attempts != 0 {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 0, s.Status().Attempts)

	cancel()
	require.NoError(t, <-done)
}

func TestRunGivesUpOnSinkAuthError(t *testing.T) {
	rt := newFake(t, script{events: []runtime.Event{playing(), sinkAuthError()}, hold: true})
	sink := &memorySink{}
	s := New(rt, testConfig(), nil, sink)

	err := s.Run(context.Background())
	var give *GiveUpError
	require.ErrorAs(t, err, &give)
	assert.Contains(t, give.Reason, "credentials")

	// No reconnect was attempted and no backoff waited.
	assert.Equal(t, 1, rt.startCount())
	assert.Equal(t, "giving-up", s.Status().State)
	assert.Equal(t, []history.EventType{
		history.EventConnected, history.EventDisconnected, history.EventGaveUp,
	}, sink.types())
}

func TestRunGivesUpAfterRepeatedTransients(t *testing.T) {
	run := func() script { return script{events: []runtime.Event{playing(), eos()}, hold: true} }
	rt := newFake(t, run(), run(), run())

	cfg := testConfig()
	// Stabilization far beyond the test so the transient window survives
	// across restarts.
	cfg.Policy.Stabilization = time.Hour
	cfg.TransientWindow = time.Hour
	cfg.TransientThreshold = 3
	s := New(rt, cfg, nil)

	err := s.Run(context.Background())
	var give *GiveUpError
	require.ErrorAs(t, err, &give)
	assert.Contains(t, give.Reason, "transient-error threshold")
	assert.Equal(t, 3, rt.startCount())
}

func TestRunShutdownDuringBackoffCancelsImmediately(t *testing.T) {
	startErr := &runtime.StartError{Stage: "source", Code: runtime.CodeNetwork, Err: errors.New("connection refused")}
	cfg := testConfig()
	cfg.Policy.Backoff = reconnect.Backoff{Initial: time.Hour, Max: time.Hour, Multiplier: 2}

	rt := newFake(t, script{startErr: startErr})
	s := New(rt, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForState(t, s, "backoff")
	start := time.Now()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Less(t, time.Since(start), time.Second, "backoff wait was not cancelled")
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown during backoff did not return")
	}
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	startErr := &runtime.StartError{Stage: "source", Code: runtime.CodeNetwork, Err: errors.New("connection refused")}
	cfg := testConfig()
	cfg.Policy.MaxAttempts = 2

	rt := newFake(t,
		script{startErr: startErr},
		script{startErr: startErr},
		script{startErr: startErr},
	)
	s := New(rt, cfg, nil)

	err := s.Run(context.Background())
	var give *GiveUpError
	require.ErrorAs(t, err, &give)
	assert.Contains(t, give.Reason, "retry budget exhausted")
	assert.Equal(t, 3, rt.startCount())
}

func TestStatusSnapshot(t *testing.T) {
	rt := newFake(t)
	s := New(rt, testConfig(), nil)

	st := s.Status()
	assert.Equal(t, "front-door", st.Stream)
	assert.Equal(t, "idle", st.State)
	assert.NotContains(t, st.Target, "pw")
	assert.True(t, st.ConnectedAt.IsZero())
}

func TestClassifyStartFailureWrapsUnknownErrors(t *testing.T) {
	rt := newFake(t)
	s := New(rt, testConfig(), nil)

	v := s.classifyStartFailure(errors.New("plain failure"))
	assert.Equal(t, health.Transient, v.Level)
	assert.True(t, v.Retryable)
}
