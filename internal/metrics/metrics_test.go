package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-gateway/internal/metrics"
)

func TestMetrics_Exposition(t *testing.T) {
	t.Parallel()

	m := metrics.New(func() int { return 3 })

	m.ObserveRequest("/cognitiveservices/v1", http.StatusOK, 20*time.Millisecond)
	m.ObserveSynthesis("mp3", metrics.OutcomeSuccess, time.Second)
	m.ObserveSynthesis("wav", metrics.OutcomeFailure, time.Second)
	m.ObserveAudio(1024, 2*time.Second)
	m.ObserveAudio(10, 0)
	m.TokenIssued()
	m.AuthRejected("invalid")
	m.WorkerEvent(metrics.OutcomeSuccess)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	body, err := io.ReadAll(recorder.Body)
	require.NoError(t, err)

	for _, fragment := range []string{
		`speech_gateway_http_requests_total{route="/cognitiveservices/v1",status="200"} 1`,
		`speech_gateway_synthesis_total{format="wav",outcome="failure"} 1`,
		`speech_gateway_audio_bytes_total 1034`,
		`speech_gateway_audio_seconds_total 2`,
		`speech_gateway_tokens_issued_total 1`,
		`speech_gateway_auth_rejections_total{reason="invalid"} 1`,
		`speech_gateway_worker_events_total{outcome="success"} 1`,
		`speech_gateway_active_tokens 3`,
		`go_goroutines`,
	} {
		assert.Contains(t, string(body), fragment)
	}
}

func TestMetrics_Registry(t *testing.T) {
	t.Parallel()

	m := metrics.New(nil)
	m.TokenIssued()
	m.TokenIssued()

	count, err := testutil.GatherAndCount(m.Registry(), "speech_gateway_tokens_issued_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = testutil.GatherAndCount(m.Registry(), "speech_gateway_active_tokens")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ObserveRequest("/", http.StatusOK, time.Millisecond)
		m.ObserveSynthesis("mp3", metrics.OutcomeSuccess, time.Millisecond)
		m.ObserveAudio(1, time.Second)
		m.TokenIssued()
		m.AuthRejected("missing")
		m.WorkerEvent(metrics.OutcomeFailure)
	})
	assert.Nil(t, m.Registry())

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
