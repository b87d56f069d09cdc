// Package exporters exposes the metrics registry over HTTP.
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler returns the Prometheus metrics HTTP handler serving every
// promauto-registered metric.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
