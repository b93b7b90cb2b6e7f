package threadqueue

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	EnqueueTotal    *prometheus.CounterVec
	DequeueTotal    *prometheus.CounterVec
	DiscardTotal    prometheus.Counter
	HandlerFailures prometheus.Counter
	SweepRemoved    *prometheus.CounterVec
	CleanupPending  prometheus.Gauge
	InFlight        prometheus.Gauge
	HandlerSeconds  prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		EnqueueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genaibots_queue_enqueue_total",
				Help: "Total number of items durably enqueued",
			},
			[]string{"container"},
		),
		DequeueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genaibots_queue_dequeue_total",
				Help: "Total number of processed items removed from the store, by outcome",
			},
			[]string{"outcome"},
		),
		DiscardTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "genaibots_queue_discard_total",
			Help: "Events discarded because the thread was busy and queuing is disabled",
		}),
		HandlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "genaibots_queue_handler_failures_total",
			Help: "Handler invocations that returned an error or panicked",
		}),
		SweepRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genaibots_queue_sweep_removed_total",
				Help: "Items removed by the TTL sweep",
			},
			[]string{"container"},
		),
		CleanupPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "genaibots_queue_cleanup_pending",
			Help: "Processed items whose durable delete failed and awaits the next sweep",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "genaibots_queue_in_flight",
			Help: "Number of threads with a handler currently running",
		}),
		HandlerSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "genaibots_queue_handler_seconds",
			Help:    "Handler latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.EnqueueTotal, m.DequeueTotal, m.DiscardTotal, m.HandlerFailures,
		m.SweepRemoved, m.CleanupPending, m.InFlight, m.HandlerSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
