package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "lms_zabbix_sync"

// Message outcomes.
const (
	OutcomeApplied    = "applied"
	OutcomeNoop       = "noop"
	OutcomeIncomplete = "incomplete"
	OutcomeMalformed  = "malformed"
	OutcomeDropped    = "dropped"
	OutcomeRequeued   = "requeued"
)

// BufferStats reports the number of pending records and the age of the oldest.
type BufferStats func() (pending int, oldest time.Duration)

// Collector is a prometheus.Collector for the sync service.
type Collector struct {
	messages      *prometheus.CounterVec
	actions       *prometheus.CounterVec
	applyDuration *prometheus.HistogramVec
	evictions     prometheus.Counter
	retries       prometheus.Counter
	pending       prometheus.GaugeFunc
	oldest        prometheus.GaugeFunc
}

// NewCollector returns a new Collector. stats may be nil.
func NewCollector(stats BufferStats) *Collector {
	if stats == nil {
		stats = func() (int, time.Duration) { return 0, 0 }
	}
	return &Collector{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_total",
				Help:      "Queue messages handled, by outcome.",
			}, []string{"outcome"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "host_actions_total",
				Help:      "Host changes applied to Zabbix, by action.",
			}, []string{"action"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "apply_duration_seconds",
				Help:      "Time taken to reconcile and apply one decision.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			}, []string{"action"},
		),
		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "buffer_evictions_total",
				Help:      "Pending records dropped because they never completed.",
			},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_total",
				Help:      "Transient Zabbix failures retried in place.",
			},
		),
		pending: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "buffer_pending",
				Help:      "Pending records waiting for required fields.",
			}, func() float64 {
				n, _ := stats()
				return float64(n)
			},
		),
		oldest: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "buffer_oldest_seconds",
				Help:      "Age of the oldest pending record.",
			}, func() float64 {
				_, age := stats()
				return age.Seconds()
			},
		),
	}
}

// Message counts one handled message.
func (c *Collector) Message(outcome string) {
	c.messages.WithLabelValues(outcome).Inc()
}

// Action counts one applied host change and its duration.
func (c *Collector) Action(action string, took time.Duration) {
	c.actions.WithLabelValues(action).Inc()
	c.applyDuration.WithLabelValues(action).Observe(took.Seconds())
}

// Evicted counts evicted pending records.
func (c *Collector) Evicted(n int) {
	c.evictions.Add(float64(n))
}

// Retry counts one retried attempt.
func (c *Collector) Retry() {
	c.retries.Inc()
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.messages.Describe(ch)
	c.actions.Describe(ch)
	c.applyDuration.Describe(ch)
	c.evictions.Describe(ch)
	c.retries.Describe(ch)
	c.pending.Describe(ch)
	c.oldest.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.messages.Collect(ch)
	c.actions.Collect(ch)
	c.applyDuration.Collect(ch)
	c.evictions.Collect(ch)
	c.retries.Collect(ch)
	c.pending.Collect(ch)
	c.oldest.Collect(ch)
}
