// Package metrics exposes the Prometheus registry used by detectmap.
// Metrics are defined in their respective packages (client, pagination,
// compose, detectmap) and registered on Registry via promauto.With on import.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is where every detectmap metric is registered.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Upstream Metrics (pkg/client):
//   - detectmap_upstream_requests_total{status} (Counter): Requests by HTTP status ("network_error" on transport failure)
//   - detectmap_upstream_request_duration_seconds (Histogram): Request duration
//   - detectmap_upstream_errors_total{class} (Counter): Errors by class (client, server, unexpected, network, decode)
//
// Pagination Metrics (pkg/pagination):
//   - detectmap_pages_fetched_total (Counter): Collection pages fetched
//
// Compose Metrics (pkg/compose):
//   - detectmap_devices_fetched_total (Counter): Device resources fetched
//
// Build Metrics (pkg/detectmap):
//   - detectmap_builds_total{outcome} (Counter): Fetch-compose cycles by outcome (success, error)
//   - detectmap_build_duration_seconds (Histogram): Cycle duration
//
// Example Prometheus Queries:
//
//   # Build failure ratio
//   rate(detectmap_builds_total{outcome="error"}[15m]) / rate(detectmap_builds_total[15m])
//
//   # Upstream requests per build
//   rate(detectmap_upstream_requests_total[15m]) / rate(detectmap_builds_total[15m])
//
//   # P95 build latency
//   histogram_quantile(0.95, rate(detectmap_build_duration_seconds_bucket[15m]))
