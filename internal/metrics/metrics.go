// Package metrics はセッションゲートとゲートウェイのPrometheusメトリクスを提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/ecohome/pkg/session"
)

// Metrics はゲートウェイのメトリクス一式。session.Metricsを実装する。
type Metrics struct {
	registry *prometheus.Registry

	// Transitions はセッション状態の遷移回数。
	Transitions *prometheus.CounterVec
	// Decisions はナビゲーション判定の回数。
	Decisions *prometheus.CounterVec
	// ResolveWait はナビゲーションが状態確定を待った時間。
	ResolveWait prometheus.Histogram
	// ActiveSessions は保持しているブラウザセッション数。
	ActiveSessions prometheus.Gauge
	// ExpiredSessions はアイドル期限切れで破棄したブラウザセッション数。
	ExpiredSessions prometheus.Counter
	// AuthOperations は認証操作の回数。
	AuthOperations *prometheus.CounterVec
}

// New は新しいレジストリにメトリクスを登録して返す。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecohome_session_transitions_total",
				Help: "Total number of session state transitions",
			},
			[]string{"from", "to"},
		),
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecohome_navigation_decisions_total",
				Help: "Total number of navigation decisions",
			},
			[]string{"outcome", "protected"},
		),
		ResolveWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ecohome_session_resolve_wait_seconds",
				Help:    "Time a navigation waited for the session state to resolve",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ecohome_active_sessions",
				Help: "Number of live browser sessions",
			},
		),
		ExpiredSessions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ecohome_expired_sessions_total",
				Help: "Total number of browser sessions closed after idling",
			},
		),
		AuthOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecohome_auth_operations_total",
				Help: "Total number of sign-in, sign-up and sign-out operations",
			},
			[]string{"operation", "result"},
		),
	}
}

// ObserveTransition は状態遷移を記録する。
func (m *Metrics) ObserveTransition(from, to session.Status) {
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// ObserveDecision はナビゲーション判定を記録する。
func (m *Metrics) ObserveDecision(intent session.Intent, d session.Decision) {
	protected := "false"
	if intent.RequiresAuth {
		protected = "true"
	}
	m.Decisions.WithLabelValues(d.Outcome.String(), protected).Inc()
}

// ObserveResolveWait はナビゲーションが状態確定を待った時間を記録する。
func (m *Metrics) ObserveResolveWait(d time.Duration) {
	m.ResolveWait.Observe(d.Seconds())
}

// ObserveAuth は認証操作の結果を記録する。
func (m *Metrics) ObserveAuth(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.AuthOperations.WithLabelValues(operation, result).Inc()
}

// Handler は/metricsエンドポイントのハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
