package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	// --- Arrange ---
	reg := prometheus.NewRegistry()
	r := New(reg)

	// --- Act ---
	r.ObserveTask("create-collection", "continue", time.Millisecond)
	r.ObserveTask("create-collection", "continue", time.Millisecond)
	r.ObserveTask("copy-content", "stop", time.Millisecond)
	r.IncEscalations()
	r.ObserveLogin("elevated", nil)
	r.ObserveLogin("impersonated", errors.New("denied"))
	r.AddBytes(42)
	r.AddBytes(-1)
	r.SetStranded(3)

	// --- Assert ---
	assert.Equal(t, 2.0, promtest.ToFloat64(r.Tasks.WithLabelValues("create-collection", "continue")))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.Tasks.WithLabelValues("copy-content", "stop")))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.Escalations))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.Logins.WithLabelValues("impersonated", "failed")))
	assert.Equal(t, 42.0, promtest.ToFloat64(r.BytesCopied))
	assert.Equal(t, 3.0, promtest.ToFloat64(r.StrandedKeys))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveTask("x", "continue", time.Second)
		r.IncEscalations()
		r.ObserveLogin("elevated", nil)
		r.AddBytes(1)
		r.RunnerStarted()
		r.RunnerStopped()
		r.SetStranded(1)
	})
}
