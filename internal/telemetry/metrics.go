package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the engine's instrumentation. One instance is shared by
// the scheduler, the runtime and the payment gate.
type Metrics struct {
	Registry *prometheus.Registry

	FiresTotal     prometheus.Counter
	CoalescedTotal prometheus.Counter
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	BlocksTotal    *prometheus.CounterVec
	ItemsTotal     prometheus.Counter
	PaymentsTotal  *prometheus.CounterVec
	SpentTotal     prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: reg,
		FiresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsie_scheduler_fires_total",
			Help: "Jobs whose fire time was reached.",
		}),
		CoalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsie_scheduler_coalesced_total",
			Help: "Fires skipped because a run for the thread was in flight.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsie_runs_total",
			Help: "Finished runs by terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsie_run_duration_seconds",
			Help:    "Wall time of thread runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		BlocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsie_blocks_total",
			Help: "Executed blocks by outcome.",
		}, []string{"outcome"}),
		ItemsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsie_items_total",
			Help: "Items persisted by the result sink.",
		}),
		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsie_payments_total",
			Help: "Payment gate settlements by terminal state.",
		}, []string{"state"}),
		SpentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsie_spent_usd_total",
			Help: "Confirmed payment volume in USD.",
		}),
	}
	reg.MustRegister(
		m.FiresTotal, m.CoalescedTotal, m.RunsTotal, m.RunDuration,
		m.BlocksTotal, m.ItemsTotal, m.PaymentsTotal, m.SpentTotal,
	)
	return m
}
