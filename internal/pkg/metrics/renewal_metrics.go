package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RenewalMetrics tracks reconciliation ticks. All methods accept a nil
// receiver so callers can run without metrics.
type RenewalMetrics struct {
	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	members       *prometheus.CounterVec
	gatewayCalls  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	lastTick      prometheus.Gauge
}

var (
	renewalMetricsOnce sync.Once
	renewalMetrics     *RenewalMetrics
)

// Renewal returns the process-wide instance registered on the default registry.
func Renewal() *RenewalMetrics {
	renewalMetricsOnce.Do(func() {
		renewalMetrics = NewRenewalMetrics(prometheus.DefaultRegisterer)
	})
	return renewalMetrics
}

func NewRenewalMetrics(registerer prometheus.Registerer) *RenewalMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	ticks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duesfox_renewal_ticks_total",
			Help: "Reconciliation ticks by result.",
		},
		[]string{"result"}, // completed | aborted | skipped
	)

	tickDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duesfox_renewal_tick_duration_seconds",
			Help:    "Wall time of one reconciliation tick.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	members := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duesfox_renewal_members_total",
			Help: "Members processed per tick by outcome.",
		},
		[]string{"outcome"},
	)

	gatewayCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duesfox_renewal_gateway_calls_total",
			Help: "Charge attempts by result (succeeded, declined or error kind).",
		},
		[]string{"result"},
	)

	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duesfox_renewal_notifications_total",
			Help: "Notifications dispatched by template and result.",
		},
		[]string{"template", "result"}, // sent | failed
	)

	lastTick := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duesfox_renewal_last_tick_timestamp_seconds",
			Help: "Unix time the last completed tick finished.",
		},
	)

	registerer.MustRegister(ticks, tickDuration, members, gatewayCalls, notifications, lastTick)

	return &RenewalMetrics{
		ticks:         ticks,
		tickDuration:  tickDuration,
		members:       members,
		gatewayCalls:  gatewayCalls,
		notifications: notifications,
		lastTick:      lastTick,
	}
}

func (m *RenewalMetrics) ObserveTick(result string, took time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
	if result == "completed" {
		m.tickDuration.Observe(took.Seconds())
		m.lastTick.Set(float64(finished.Unix()))
	}
}

func (m *RenewalMetrics) IncMember(outcome string) {
	if m == nil {
		return
	}
	m.members.WithLabelValues(outcome).Inc()
}

func (m *RenewalMetrics) IncGatewayCall(result string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(result).Inc()
}

func (m *RenewalMetrics) IncNotification(template string, sent bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !sent {
		result = "failed"
	}
	m.notifications.WithLabelValues(template, result).Inc()
}
