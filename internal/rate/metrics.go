package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apsystems_rate_limit_blocked_total",
			Help: "Requests blocked by the device request budget",
		},
		[]string{"provider", "reason"},
	)
	retryAfterGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apsystems_rate_limit_retry_after_seconds",
			Help: "Retry-after seconds requested by the device",
		},
		[]string{"provider"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apsystems_rate_limit_last_status_code",
			Help: "Last HTTP status code observed by the rate-limit wrapper",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		requestsBlocked,
		retryAfterGauge,
		lastStatusGauge,
	}
}
