package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveSpeech("elevenlabs", ResultSuccess, 150*time.Millisecond)
	m.ObserveSpeech("elevenlabs", "upstream_error", time.Second)
	m.AddUsage("elevenlabs", 11, 2048)
	m.IncRateLimited("default")

	assert.InDelta(t, 1, testutil.ToFloat64(m.requestsTotal.WithLabelValues("elevenlabs", ResultSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.requestsTotal.WithLabelValues("elevenlabs", "upstream_error")), 0)
	assert.InDelta(t, 11, testutil.ToFloat64(m.inputCharacters.WithLabelValues("elevenlabs")), 0)
	assert.InDelta(t, 2048, testutil.ToFloat64(m.audioBytes.WithLabelValues("elevenlabs")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.rateLimited.WithLabelValues("default")), 0)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL) //nolint:noctx
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `speechway_speech_requests_total{provider="elevenlabs",result="success"} 1`)
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveSpeech("elevenlabs", ResultSuccess, time.Second)
		m.AddUsage("elevenlabs", 1, 1)
		m.IncRateLimited("default")
	})
	assert.Nil(t, m.Registry())

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
