package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topecongiro/rtsp-to-kvs/internal/pipeline"
	"github.com/topecongiro/rtsp-to-kvs/internal/reconnect"
	"github.com/topecongiro/rtsp-to-kvs/internal/runtime"
	"github.com/topecongiro/rtsp-to-kvs/internal/supervisor"
)

func init() { gin.SetMode(gin.TestMode) }

// deadRuntime fails every start with a non-retryable error, driving the
// supervisor straight into giving-up.
type deadRuntime struct{}

func (deadRuntime) Start(pipeline.Descriptor) (*runtime.Handle, error) {
	return nil, &runtime.StartError{Stage: "sink", Code: runtime.CodeAuth, Err: errors.New("denied")}
}
func (deadRuntime) Events(*runtime.Handle) (<-chan runtime.Event, error) {
	return nil, runtime.ErrStaleHandle
}
func (deadRuntime) Stop(*runtime.Handle, runtime.StopMode) error { return nil }

func testSupervisor() *supervisor.Supervisor {
	return supervisor.New(deadRuntime{}, supervisor.Config{
		Target: pipeline.StreamTarget{URL: "rtsp://camera.local/stream1"},
		Sink:   pipeline.SinkConfig{Kind: pipeline.SinkKVS, StreamName: "front-door", Region: "us-west-2"},
		Policy: reconnect.Policy{MaxAttempts: 1},
	}, nil)
}

func TestStatusEndpoint(t *testing.T) {
	sup := testSupervisor()
	h := NewRouter(sup, "").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st supervisor.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "front-door", st.Stream)
	assert.Equal(t, "idle", st.State)
}

func TestHealthzReflectsGiveUp(t *testing.T) {
	sup := testSupervisor()
	h := NewRouter(sup, "").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Drive the supervisor to its terminal state, then the endpoint flips.
	var give *supervisor.GiveUpError
	require.ErrorAs(t, sup.Run(context.Background()), &give)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(testSupervisor(), "").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestBasePathMounting(t *testing.T) {
	sup := testSupervisor()

	for _, base := range []string{"relay", "/relay", "/relay/"} {
		h := NewRouter(sup, base).Handler()

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay/status", nil))
		assert.Equal(t, http.StatusOK, rec.Code, "base=%q", base)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, "base=%q", base)
	}
}
