package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersCoreMetrics(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.Core())

	// Counters must be usable immediately
	r.Core().EventsPublished.WithLabelValues("alert").Inc()
	r.Core().BufferSize.Set(42)

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["streaming_events_published_total"])
	assert.True(t, names["streaming_buffer_size"])
}

func TestNilRegistryCoreIsNil(t *testing.T) {
	var r *Registry
	assert.Nil(t, r.Core())
}

func TestRegisterRejectsDuplicateKey(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_a"})
	require.NoError(t, r.Register("broker", "custom", c))

	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_b"})
	err := r.Register("broker", "custom", c2)
	assert.Error(t, err)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_c"})
	require.NoError(t, r.Register("poller", "cycles", c))

	assert.True(t, r.Unregister("poller", "cycles"))
	assert.False(t, r.Unregister("poller", "cycles"))
}

func TestHandlerServesExposition(t *testing.T) {
	r := NewRegistry()
	r.Core().EventsPublished.WithLabelValues("metric").Inc()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
