package rtspkvs

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/topecongiro/rtsp-to-kvs/internal/config"
	"github.com/topecongiro/rtsp-to-kvs/internal/history"
	"github.com/topecongiro/rtsp-to-kvs/internal/metrics"
	"github.com/topecongiro/rtsp-to-kvs/internal/pipeline"
	"github.com/topecongiro/rtsp-to-kvs/internal/reconnect"
	"github.com/topecongiro/rtsp-to-kvs/internal/runtime"
	iapi "github.com/topecongiro/rtsp-to-kvs/internal/server"
	"github.com/topecongiro/rtsp-to-kvs/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type StreamTarget = pipeline.StreamTarget

type SinkConfig = pipeline.SinkConfig

type SinkKind = pipeline.SinkKind

const (
	SinkKVS      = pipeline.SinkKVS
	SinkPlayback = pipeline.SinkPlayback
)

type CodecHint = pipeline.CodecHint

type Descriptor = pipeline.Descriptor

type Policy = reconnect.Policy

type Status = supervisor.Status

type GiveUpError = supervisor.GiveUpError

type HistorySink = history.Sink

type CredentialResolver = runtime.CredentialResolver

// Relay is a thin facade over internal/supervisor.Supervisor. It provides
// a stable public API for embedding a supervised RTSP relay in another
// process.
type Relay struct{ inner *supervisor.Supervisor }

// Config configures an embedded relay.
type Config struct {
	Target pipeline.StreamTarget
	Sink   pipeline.SinkConfig
	Hint   pipeline.CodecHint
	Policy reconnect.Policy

	// Worker configures the media worker process. Zero values use the
	// defaults (gst-launch-1.0, 700ms startup window, 10s flush timeout).
	Worker runtime.WorkerConfig

	// Credentials resolves sink credentials per start attempt. Nil means
	// the sink needs none.
	Credentials runtime.CredentialResolver

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// History receives connected/disconnected/gave-up events.
	History []history.Sink
}

// New builds a relay backed by the process worker runtime.
func New(c Config) *Relay {
	rt := runtime.NewWorkerRuntime(c.Worker, c.Credentials, c.Logger)
	sup := supervisor.New(rt, supervisor.Config{
		Target: c.Target,
		Sink:   c.Sink,
		Hint:   c.Hint,
		Policy: c.Policy,
	}, c.Logger, c.History...)
	return &Relay{inner: sup}
}

// NewWithRuntime builds a relay on a caller-supplied runtime, for tests or
// alternative media backends.
func NewWithRuntime(rt runtime.Runtime, c Config) *Relay {
	sup := supervisor.New(rt, supervisor.Config{
		Target: c.Target,
		Sink:   c.Sink,
		Hint:   c.Hint,
		Policy: c.Policy,
	}, c.Logger, c.History...)
	return &Relay{inner: sup}
}

// Run blocks until ctx is cancelled (returns nil) or recovery becomes
// impossible (returns *GiveUpError).
func (r *Relay) Run(ctx context.Context) error { return r.inner.Run(ctx) }

// Status returns a point-in-time snapshot of the relay.
func (r *Relay) Status() Status { return r.inner.Status() }

// BuildDescriptor renders the launch description for a target/sink pair
// without running anything.
func BuildDescriptor(target StreamTarget, sink SinkConfig, hint CodecHint) (Descriptor, error) {
	return pipeline.Build(target, sink, hint)
}

// LoadConfig reads the TOML/environment configuration used by the CLI.
func LoadConfig(path string) (*cfg.Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing status, health and metrics
// for the given relay.
func NewHTTPServer(addr, basePath string, r *Relay) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, r.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(reg prometheus.Registerer) error { return metrics.Register(reg) }
func RegisterMetricsDefault() error                   { return metrics.Register(prometheus.DefaultRegisterer) }
