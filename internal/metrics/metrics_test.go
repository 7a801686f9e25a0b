package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ObserveUpload(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveUpload("csv", 10*time.Millisecond, 2, nil)
	c.ObserveUpload("csv", time.Millisecond, 0, errors.New("file is empty"))
	c.ObserveUpload("", 0, 0, errors.New("unsupported file format"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploads.WithLabelValues("csv", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploads.WithLabelValues("csv", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploads.WithLabelValues("unknown", "error")))
}

func TestCollector_LoaderPhase(t *testing.T) {
	c := New(prometheus.NewRegistry())
	phases := []string{"idle", "loading", "loaded", "failed"}

	c.LoaderPhase("loading", phases)
	c.LoaderPhase("loaded", phases)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.loaderState.WithLabelValues("loading")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loaderState.WithLabelValues("loaded")))
}

func TestCollector_IndependentRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveUpload("csv", time.Second, 1, nil)
		c.ParseStarted()
		c.ParseFinished()
		c.LoadAttempt("timeout")
		c.LoadSettled(time.Second)
		c.LoaderPhase("idle", []string{"idle"})
		c.EngineCall("query", true, time.Millisecond, nil)
	})
}
