package core

import "github.com/prometheus/client_golang/prometheus"

// MetricsRegistry builds a registry from entry collectors plus any shared ones.
func MetricsRegistry(entries []Entry, shared ...prometheus.Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()

	for _, collector := range shared {
		registry.MustRegister(collector)
	}
	for _, entry := range entries {
		for _, collector := range entry.Collectors() {
			registry.MustRegister(collector)
		}
	}

	return registry
}
