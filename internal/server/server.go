// Package server composes the HTTP surface of the voice-agent process:
// the websocket voice endpoint, health and metrics endpoints, and the
// Prometheus scrape target, all behind the tracing middleware.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mvolkert/ekho/internal/health"
	"github.com/mvolkert/ekho/internal/metrics"
	"github.com/mvolkert/ekho/internal/observe"
	"github.com/mvolkert/ekho/internal/pipeline"
)

// Context bundles the long-lived components the handlers serve from. It
// is composed once at startup and passed by reference; there are no
// package-level singletons.
type Context struct {
	Coordinator *pipeline.Coordinator
	Health      *health.Monitor
	Collector   *metrics.Collector
	Obs         *observe.Metrics
	Logger      *slog.Logger

	// Voice is the websocket voice endpoint handler.
	Voice http.Handler
}

// NewMux builds the HTTP routing table.
func NewMux(sc *Context) http.Handler {
	mux := http.NewServeMux()

	sc.Health.RegisterRoutes(mux)
	mux.HandleFunc("GET /metrics", sc.handleMetrics)
	mux.Handle("GET /metrics/prometheus", promhttp.Handler())
	mux.Handle("GET /ws", sc.Voice)

	return observe.Middleware(sc.Obs)(mux)
}

// handleMetrics serves the aggregate cross-session metrics view.
func (sc *Context) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	agg := sc.Collector.Aggregate()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(agg); err != nil {
		sc.Logger.Error("failed to encode metrics", "error", err)
	}
}
