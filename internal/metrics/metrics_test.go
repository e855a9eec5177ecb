package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRunLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsActive))

	m.RunFinished("rce", "ok", 3*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("rce", "ok")))
}

func TestLinesAndRejections(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Lines(10, 4, 1, 6)
	m.RunRejected("validation")

	assert.Equal(t, 10.0, testutil.ToFloat64(m.TranscriptLines.WithLabelValues("input")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.TranscriptLines.WithLabelValues("collapsed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsRejected.WithLabelValues("validation")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("read", "failed", time.Second)
		m.RunRejected("busy")
		m.Lines(1, 1, 0, 0)
		m.Request("GET", "/api/health", "200", time.Millisecond)
	})
}
