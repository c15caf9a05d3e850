package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/topecongiro/rtsp-to-kvs/internal/logger"
	"github.com/topecongiro/rtsp-to-kvs/internal/pipeline"
)

// Defaults for WorkerConfig.
const (
	DefaultWorkerCommand   = "gst-launch-1.0"
	DefaultStartupWindow   = 700 * time.Millisecond
	DefaultGracefulTimeout = 10 * time.Second
)

// WorkerConfig configures the process-backed runtime.
type WorkerConfig struct {
	// Command is the media worker binary. The descriptor is rendered to
	// its launch arguments.
	Command string `json:"command" mapstructure:"command"`
	// StartupWindow is how long the worker must stay up for stage
	// construction to be considered successful. An exit inside the window
	// is reported as a StartError instead of an event.
	StartupWindow time.Duration `json:"startup_window" mapstructure:"startup_window"`
	// GracefulTimeout bounds the flush window of a graceful stop before
	// escalating to a kill.
	GracefulTimeout time.Duration `json:"graceful_timeout" mapstructure:"graceful_timeout"`
	// Log captures the worker's stderr.
	Log logger.Config `json:"log" mapstructure:"log"`
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Command == "" {
		c.Command = DefaultWorkerCommand
	}
	if c.StartupWindow <= 0 {
		c.StartupWindow = DefaultStartupWindow
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = DefaultGracefulTimeout
	}
	return c
}

// WorkerRuntime runs each pipeline as a child process of the native media
// runtime and translates its bus output (stdout lines) into a single
// ordered event stream per handle. The callback/thread model of the native
// runtime stays entirely behind this boundary.
type WorkerRuntime struct {
	cfg    WorkerConfig
	creds  CredentialResolver
	logger *slog.Logger

	mu      sync.Mutex
	workers map[uuid.UUID]*worker
}

type worker struct {
	cmd      *exec.Cmd
	events   chan Event
	waitDone chan struct{}
	stderr   io.WriteCloser
	stopReq  atomic.Bool

	exitMu  sync.Mutex
	exitErr error
}

// NewWorkerRuntime creates a runtime that launches cfg.Command per start.
// creds may be nil for credential-free sinks.
func NewWorkerRuntime(cfg WorkerConfig, creds CredentialResolver, log *slog.Logger) *WorkerRuntime {
	if creds == nil {
		creds = NoCredentials{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &WorkerRuntime{
		cfg:     cfg.withDefaults(),
		creds:   creds,
		logger:  log,
		workers: make(map[uuid.UUID]*worker),
	}
}

// Start launches the worker for the descriptor. It blocks for at most the
// startup window; afterwards media flows on the worker's own execution
// context.
func (r *WorkerRuntime) Start(desc pipeline.Descriptor) (*Handle, error) {
	env := os.Environ()
	if desc.HasStage(pipeline.StageKVSSink) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		creds, err := r.creds.Resolve(ctx)
		cancel()
		if err != nil {
			return nil, &StartError{Stage: "sink", Code: CodeAuth, Err: err}
		}
		env = append(env,
			"AWS_ACCESS_KEY_ID="+creds.AccessKeyID,
			"AWS_SECRET_ACCESS_KEY="+creds.SecretAccessKey,
		)
		if creds.SessionToken != "" {
			env = append(env, "AWS_SESSION_TOKEN="+creds.SessionToken)
		}
	}

	// -e converts shutdown into an end-of-stream so the sink can flush;
	// -m prints bus messages, which is the event source we scan.
	args := append([]string{"-e", "-m"}, desc.Args()...)
	// #nosec G204 -- command is operator configuration, arguments come
	// from the validated descriptor.
	cmd := exec.Command(r.cfg.Command, args...)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &StartError{Err: err}
	}
	w := &worker{
		events:   make(chan Event, 256),
		waitDone: make(chan struct{}),
		stderr:   r.cfg.Log.WorkerWriter(),
	}
	if w.stderr != nil {
		cmd.Stderr = w.stderr
	}
	w.cmd = cmd

	if err := cmd.Start(); err != nil {
		if w.stderr != nil {
			_ = w.stderr.Close()
		}
		return nil, &StartError{Err: err}
	}

	go r.scanAndReap(w, stdout)

	// Construction check: an exit inside the startup window means a stage
	// could not be built (unreachable source, rejected sink credentials,
	// missing plugin).
	select {
	case <-w.waitDone:
		return nil, startErrorFrom(w)
	case <-time.After(r.cfg.StartupWindow):
	}

	h := &Handle{Token: uuid.New(), Desc: desc, StartedAt: time.Now()}
	r.mu.Lock()
	r.workers[h.Token] = w
	r.mu.Unlock()

	r.logger.Info("pipeline worker started",
		"pid", cmd.Process.Pid, "pipeline", desc.String(), "token", h.Token.String())
	return h, nil
}

// Events returns the handle's event stream.
func (r *WorkerRuntime) Events(h *Handle) (<-chan Event, error) {
	r.mu.Lock()
	w, ok := r.workers[h.Token]
	r.mu.Unlock()
	if !ok {
		return nil, ErrStaleHandle
	}
	return w.events, nil
}

// Stop tears down the worker and invalidates the handle. Graceful mode
// signals the worker to flush (SIGINT with -e triggers an EOS drain) and
// escalates to SIGKILL when the flush window elapses; forced mode kills
// immediately.
func (r *WorkerRuntime) Stop(h *Handle, mode StopMode) error {
	r.mu.Lock()
	w, ok := r.workers[h.Token]
	delete(r.workers, h.Token)
	r.mu.Unlock()
	if !ok {
		return ErrStaleHandle
	}

	w.stopReq.Store(true)
	pid := w.cmd.Process.Pid

	var err error
	switch mode {
	case StopForced:
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		w.awaitExit(200 * time.Millisecond)
	default:
		_ = syscall.Kill(-pid, syscall.SIGINT)
		if !w.awaitExit(r.cfg.GracefulTimeout) {
			err = fmt.Errorf("graceful stop timed out after %s; killing worker", r.cfg.GracefulTimeout)
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			w.awaitExit(200 * time.Millisecond)
		}
	}

	r.logger.Info("pipeline worker stopped", "pid", pid, "mode", mode.String(), "token", h.Token.String())
	return err
}

// scanAndReap is the single goroutine that owns the worker's stdout and
// exit status. Reading to EOF before Wait preserves event ordering: the
// synthesized terminal event always comes after everything the worker
// printed.
func (r *WorkerRuntime) scanAndReap(w *worker, stdout io.ReadCloser) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if ev, ok := ParseBusLine(sc.Text(), time.Now()); ok {
			// Once a stop is requested the stream is abandoned; drop
			// instead of blocking on a consumer that is gone.
			if w.stopReq.Load() {
				continue
			}
			w.events <- ev
		}
	}

	err := w.cmd.Wait()
	w.exitMu.Lock()
	w.exitErr = err
	w.exitMu.Unlock()

	if !w.stopReq.Load() {
		if err != nil {
			w.events <- Event{
				Kind:    EventError,
				Code:    CodeInternal,
				Message: fmt.Sprintf("worker exited: %v", err),
				At:      time.Now(),
			}
		} else {
			w.events <- Event{Kind: EventEndOfStream, Message: "worker exited cleanly", At: time.Now()}
		}
	}
	close(w.events)
	if w.stderr != nil {
		_ = w.stderr.Close()
	}
	close(w.waitDone)
}

func (w *worker) awaitExit(d time.Duration) bool {
	select {
	case <-w.waitDone:
		return true
	case <-time.After(d):
		return false
	}
}

// startErrorFrom inspects a worker that died inside the startup window and
// attributes the failure to a stage when the bus output allows it.
func startErrorFrom(w *worker) *StartError {
	w.exitMu.Lock()
	exitErr := w.exitErr
	w.exitMu.Unlock()

	se := &StartError{Err: exitErr}
	if se.Err == nil {
		se.Err = fmt.Errorf("worker exited during startup")
	}
	for ev := range w.events {
		if ev.Kind == EventError {
			se.Stage = ev.Stage
			se.Code = ev.Code
			se.Err = fmt.Errorf("%s", ev.Message)
			break
		}
	}
	return se
}
