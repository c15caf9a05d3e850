package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
	require.NoError(t, Register(prometheus.NewRegistry()))
}

func TestCountersRecord(t *testing.T) {
	require.NoError(t, Register(prometheus.NewRegistry()))

	before := testutil.ToFloat64(pipelineStarts.WithLabelValues("counter-test"))
	IncStart("counter-test")
	IncStart("counter-test")
	assert.Equal(t, before+2, testutil.ToFloat64(pipelineStarts.WithLabelValues("counter-test")))

	IncStop("counter-test", "graceful")
	assert.Equal(t, float64(1), testutil.ToFloat64(pipelineStops.WithLabelValues("counter-test", "graceful")))

	IncReconnect("counter-test")
	IncGiveUp("counter-test")
	IncEvent("counter-test", "error")
	assert.Equal(t, float64(1), testutil.ToFloat64(reconnects.WithLabelValues("counter-test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(giveUps.WithLabelValues("counter-test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(events.WithLabelValues("counter-test", "error")))
}

func TestRecordStateTransition(t *testing.T) {
	require.NoError(t, Register(prometheus.NewRegistry()))

	RecordStateTransition("transition-test", "idle", "connecting")
	assert.Equal(t, float64(1),
		testutil.ToFloat64(stateTransitions.WithLabelValues("transition-test", "idle", "connecting")))
	assert.Equal(t, float64(0), testutil.ToFloat64(currentState.WithLabelValues("transition-test", "idle")))
	assert.Equal(t, float64(1), testutil.ToFloat64(currentState.WithLabelValues("transition-test", "connecting")))

	RecordStateTransition("transition-test", "connecting", "running")
	assert.Equal(t, float64(0), testutil.ToFloat64(currentState.WithLabelValues("transition-test", "connecting")))
	assert.Equal(t, float64(1), testutil.ToFloat64(currentState.WithLabelValues("transition-test", "running")))
}

func TestHandlerServes(t *testing.T) {
	require.NoError(t, Register(prometheus.DefaultRegisterer))
	IncStart("handler-test")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}
