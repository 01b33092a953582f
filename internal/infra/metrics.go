package infra

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can be built without one in tests.
type Metrics struct {
	registry *prometheus.Registry

	betsSettled      *prometheus.CounterVec
	settleFailures   *prometheus.CounterVec
	settleDuration   prometheus.Histogram
	checkoutSessions *prometheus.CounterVec
	ledgerEntries    *prometheus.CounterVec
	outboxPublished  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		betsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sportsbook_bets_settled_total",
			Help: "Bets moved out of Pending by settlement, by resulting status.",
		}, []string{"status"}),
		settleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sportsbook_settlement_failures_total",
			Help: "Per-bet settlement failures, by kind (conflict or error).",
		}, []string{"kind"}),
		settleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sportsbook_settle_event_duration_seconds",
			Help:    "Wall time of one SettleEvent call.",
			Buckets: prometheus.DefBuckets,
		}),
		checkoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sportsbook_checkout_sessions_total",
			Help: "Checkout session creation attempts, by result.",
		}, []string{"result"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sportsbook_ledger_entries_total",
			Help: "Completed payment transactions posted, by type.",
		}, []string{"type"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sportsbook_outbox_published_total",
			Help: "Outbox events relayed to Kafka, by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sportsbook_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		}, []string{"method", "code"}),
	}
	reg.MustRegister(m.betsSettled, m.settleFailures, m.settleDuration,
		m.checkoutSessions, m.ledgerEntries, m.outboxPublished, m.httpRequests)
	return m
}

// Registry exposes the underlying registry (used by tests to gather).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BetSettled(status string) {
	if m == nil {
		return
	}
	m.betsSettled.WithLabelValues(status).Inc()
}

func (m *Metrics) SettlementFailure(kind string) {
	if m == nil {
		return
	}
	m.settleFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveSettle(d time.Duration) {
	if m == nil {
		return
	}
	m.settleDuration.Observe(d.Seconds())
}

func (m *Metrics) CheckoutSession(result string) {
	if m == nil {
		return
	}
	m.checkoutSessions.WithLabelValues(result).Inc()
}

func (m *Metrics) LedgerEntry(txType string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(txType).Inc()
}

func (m *Metrics) OutboxPublished(result string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) HTTPRequest(method string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
}

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// StartMetricsServer runs a small HTTP server for /metrics and /healthz in a
// goroutine. Used by processes without their own router.
func StartMetricsServer(port int, m *Metrics, healthFn HealthFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if err := healthFn(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "unhealthy: %v", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
