// Package metric wraps a private Prometheus registry with the core
// streaming metrics. The registry is optional throughout the subsystem: a
// nil *Registry disables collection entirely, and streaming correctness
// never depends on the telemetry sink being available.
package metric

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/errors"
)

// Registry manages the registration and lifecycle of metrics
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewRegistry creates a new metrics registry with the core streaming metrics
// and Go runtime collectors pre-registered.
func NewRegistry() *Registry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &Registry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	registry.registerCore()

	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Core returns the core streaming metrics, or nil when the registry itself
// is nil so call sites can use the nil-registry = nil-metrics pattern.
func (r *Registry) Core() *Metrics {
	if r == nil {
		return nil
	}
	return r.Metrics
}

// Handler returns an http.Handler serving the registry in Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}

// Register registers an additional collector under a component-scoped key.
// Duplicate keys and Prometheus registration conflicts are reported as
// invalid errors, anything else as fatal.
func (r *Registry) Register(componentName, metricName string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", componentName, metricName)

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for component %s", metricName, componentName),
			"Registry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "Registry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapFatal(err, "Registry", "Register",
			"register collector with prometheus")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// Unregister removes a previously registered collector
func (r *Registry) Unregister(componentName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", componentName, metricName)

	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	success := r.prometheusRegistry.Unregister(collector)
	if success {
		delete(r.registeredMetrics, key)
	}

	return success
}

// registerCore registers the core streaming metrics
func (r *Registry) registerCore() {
	r.prometheusRegistry.MustRegister(
		r.Metrics.EventsPublished,
		r.Metrics.EventsDropped,
		r.Metrics.DeliveryErrors,
		r.Metrics.BufferSize,
		r.Metrics.BufferEvictions,
		r.Metrics.SubscriptionsActive,
		r.Metrics.PollRows,
		r.Metrics.PollErrors,
		r.Metrics.ConnectionsActive,
		r.Metrics.ConnectionsTotal,
		r.Metrics.DisconnectionsTotal,
		r.Metrics.MessagesReceived,
		r.Metrics.MessagesSent,
		r.Metrics.HeartbeatTerminations,
		r.Metrics.DispatchDuration,
		r.Metrics.DispatchErrors,
	)
}
