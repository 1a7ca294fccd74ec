// Package metrics exposes Prometheus metrics for the ladder bots:
//   - ladder_decisions_total{pair,command}  decisions by resulting command
//   - ladder_orders_total{pair,side}        executed market orders
//   - ladder_errors_total{pair,kind}        failed evaluations by error class
//   - ladder_cycle{pair}                    current cycle number
//   - ladder_margin_position{pair}          rungs consumed in the current cycle
//   - ladder_feed_reconnects_total{stream}  WebSocket reconnect attempts
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ladder_decisions_total", Help: "Decisions taken"},
		[]string{"pair", "command"},
	)
	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ladder_orders_total", Help: "Market orders executed"},
		[]string{"pair", "side"},
	)
	failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ladder_errors_total", Help: "Failed evaluations by error class"},
		[]string{"pair", "kind"},
	)
	cycle = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "ladder_cycle", Help: "Current cycle number"},
		[]string{"pair"},
	)
	marginPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "ladder_margin_position", Help: "Margin rungs consumed in the current cycle"},
		[]string{"pair"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ladder_feed_reconnects_total", Help: "WebSocket reconnect attempts"},
		[]string{"stream"},
	)
)

func init() {
	registry.MustRegister(decisions, orders, failures, cycle, marginPosition, reconnects)
}

func ObserveDecision(pair, command string) {
	decisions.WithLabelValues(pair, command).Inc()
}

func ObserveOrder(pair, side string) {
	orders.WithLabelValues(pair, side).Inc()
}

func ObserveError(pair, kind string) {
	failures.WithLabelValues(pair, kind).Inc()
}

func SetPosition(pair string, c int64, position int) {
	cycle.WithLabelValues(pair).Set(float64(c))
	marginPosition.WithLabelValues(pair).Set(float64(position))
}

func ObserveReconnect(stream string) {
	reconnects.WithLabelValues(stream).Inc()
}

// Registry returns the registry holding the bot metrics.
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
