package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	pipelineStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtspkvs",
			Subsystem: "pipeline",
			Name:      "starts_total",
			Help:      "Number of successful pipeline starts.",
		}, []string{"stream"},
	)
	pipelineStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtspkvs",
			Subsystem: "pipeline",
			Name:      "stops_total",
			Help:      "Number of pipeline stops (graceful or forced).",
		}, []string{"stream", "mode"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtspkvs",
			Subsystem: "pipeline",
			Name:      "reconnects_total",
			Help:      "Number of reconnect attempts after a failure.",
		}, []string{"stream"},
	)
	giveUps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtspkvs",
			Subsystem: "pipeline",
			Name:      "giveups_total",
			Help:      "Number of terminal give-ups (retry budget exhausted or non-retryable failure).",
		}, []string{"stream"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtspkvs",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Pipeline events observed, by kind.",
		}, []string{"stream", "kind"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtspkvs",
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Reconnection controller state transitions.",
		}, []string{"stream", "from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rtspkvs",
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current controller state (1 = active state, 0 = inactive).",
		}, []string{"stream", "state"},
	)
	backoffDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rtspkvs",
			Subsystem: "supervisor",
			Name:      "backoff_seconds",
			Help:      "Backoff delays waited between reconnect attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"stream"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{pipelineStarts, pipelineStops, reconnects, giveUps, events, stateTransitions, currentState, backoffDelay}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op if Register hasn't been called.

func IncStart(stream string) {
	if regOK.Load() {
		pipelineStarts.WithLabelValues(stream).Inc()
	}
}

func IncStop(stream, mode string) {
	if regOK.Load() {
		pipelineStops.WithLabelValues(stream, mode).Inc()
	}
}

func IncReconnect(stream string) {
	if regOK.Load() {
		reconnects.WithLabelValues(stream).Inc()
	}
}

func IncGiveUp(stream string) {
	if regOK.Load() {
		giveUps.WithLabelValues(stream).Inc()
	}
}

func IncEvent(stream, kind string) {
	if regOK.Load() {
		events.WithLabelValues(stream, kind).Inc()
	}
}

func RecordStateTransition(stream, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(stream, from, to).Inc()
		currentState.WithLabelValues(stream, from).Set(0)
		currentState.WithLabelValues(stream, to).Set(1)
	}
}

func ObserveBackoff(stream string, seconds float64) {
	if regOK.Load() {
		backoffDelay.WithLabelValues(stream).Observe(seconds)
	}
}
