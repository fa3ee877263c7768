// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "emias_bot"

// BotMetrics exposes counters, histograms and gauges for the bot.
type BotMetrics struct {
	updatesTotal     *prometheus.CounterVec
	apiCallsTotal    *prometheus.CounterVec
	apiCallLatency   *prometheus.HistogramVec
	transitionsTotal *prometheus.CounterVec
	pollRunsTotal    *prometheus.CounterVec
	pollUsersTotal   *prometheus.CounterVec
	pollDuration     prometheus.Histogram
	records          *prometheus.GaugeVec
}

// NewBotMetrics registers the collectors on reg, or on the default registerer
// when reg is nil.
func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telegram",
			Name:      "updates_total",
			Help:      "Telegram updates handled, by kind and outcome",
		}, []string{"kind", "outcome"}),
		apiCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emias",
			Name:      "calls_total",
			Help:      "Appointment API calls, by method and outcome",
		}, []string{"method", "outcome"}),
		apiCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "emias",
			Name:      "call_duration_seconds",
			Help:      "Latency of appointment API calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Navigation transitions, by target state (attempted action when rejected) and result",
		}, []string{"target", "result"}),
		pollRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduler ticks, by outcome",
		}, []string{"outcome"}),
		pollUsersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "users_total",
			Help:      "Per-user digest deliveries, by outcome",
		}, []string{"outcome"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduler ticks",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "records",
			Help:      "Stored records, total and eligible for polling",
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.updatesTotal,
		m.apiCallsTotal,
		m.apiCallLatency,
		m.transitionsTotal,
		m.pollRunsTotal,
		m.pollUsersTotal,
		m.pollDuration,
		m.records,
	)
	return m
}

func (m *BotMetrics) ObserveUpdate(kind, outcome string) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveAPICall satisfies emias.Observer.
func (m *BotMetrics) ObserveAPICall(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.apiCallsTotal.WithLabelValues(method, outcome).Inc()
	m.apiCallLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *BotMetrics) ObserveTransition(target string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.transitionsTotal.WithLabelValues(target, result).Inc()
}

func (m *BotMetrics) ObservePollRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pollRunsTotal.WithLabelValues(outcome).Inc()
	m.pollDuration.Observe(elapsed.Seconds())
}

func (m *BotMetrics) ObservePollUser(outcome string) {
	if m == nil {
		return
	}
	m.pollUsersTotal.WithLabelValues(outcome).Inc()
}

func (m *BotMetrics) SetRecordCounts(total, eligible int64) {
	if m == nil {
		return
	}
	m.records.WithLabelValues("total").Set(float64(total))
	m.records.WithLabelValues("eligible").Set(float64(eligible))
}
