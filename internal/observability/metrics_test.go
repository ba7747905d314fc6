package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RequestSubmitted("text")
		m.AttemptMade("text")
		m.RetryScheduled()
		m.EnvelopeDelivered("error", time.Second)
		m.Reconnected(false)
		m.SpeechEvent("spoken")
		m.SpeechRestarted()
		m.SetSpeechPending(3)
		m.BotMessage("ignored")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("test")

	m.AttemptMade("image")
	m.AttemptMade("image")
	m.RetryScheduled()
	m.EnvelopeDelivered("description", 10*time.Millisecond)
	m.SetSpeechPending(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Attempts.WithLabelValues("image")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Envelopes.WithLabelValues("description")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SpeechPending))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics("test")
	b := NewMetrics("test")

	a.RetryScheduled()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Retries))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.RequestSubmitted("text")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_inference_requests_total{kind="text"} 1`)
}
