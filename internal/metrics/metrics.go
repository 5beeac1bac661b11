// Package metrics provides Prometheus instrumentation for the signal engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SignalsAdmitted counts candidate signals admitted, partitioned by kind.
	SignalsAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeassist_signals_admitted_total",
		Help: "Total number of candidate signals admitted",
	}, []string{"kind"})

	// Transitions counts committed lifecycle transitions by target status.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeassist_transitions_total",
		Help: "Committed signal lifecycle transitions",
	}, []string{"status"})

	// GuardRejections counts actions refused by a guard.
	GuardRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeassist_guard_rejections_total",
		Help: "Actions rejected by a lifecycle guard",
	}, []string{"reason"})

	// OpenPositions tracks the number of EXECUTED positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeassist_open_positions",
		Help: "Number of currently open positions",
	})

	// UnrealizedPnL tracks the sum of unrealized PnL across open positions.
	UnrealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeassist_unrealized_pnl",
		Help: "Sum of unrealized PnL over open positions (account currency)",
	})

	// MonitorTickDuration tracks how long one market monitor tick takes.
	MonitorTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradeassist_monitor_tick_seconds",
		Help:    "Market monitor tick duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// PriceMisses counts price lookups that returned nothing.
	PriceMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeassist_price_misses_total",
		Help: "Price lookups skipped because no price was available",
	}, []string{"pair"})

	// EntryTriggers counts conditional entries triggered by the monitor.
	EntryTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeassist_entry_triggers_total",
		Help: "Conditional entries triggered by a price tick",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeassist_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeassist_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeassist_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps signal ids out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over connections behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
