package root

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts the root's control-plane traffic. Pass the process registry
// in production; tests pass nil and get a private registry.
type Metrics struct {
	JoinTotal         prometheus.Counter
	ReportUpdates     *prometheus.CounterVec
	ReplicasAllocated prometheus.Counter
	TxnIDAllocated    prometheus.Counter
	WatchSubscribers  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		JoinTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sekas_root_join_total",
			Help: "Nodes admitted into the cluster.",
		}),
		ReportUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sekas_root_report_updates_total",
			Help: "Report field updates by field and outcome.",
		}, []string{"field", "outcome"}),
		ReplicasAllocated: factory.NewCounter(prometheus.CounterOpts{
			Name: "sekas_root_replicas_allocated_total",
			Help: "Replicas placed by the allocator.",
		}),
		TxnIDAllocated: factory.NewCounter(prometheus.CounterOpts{
			Name: "sekas_root_txn_ids_allocated_total",
			Help: "Transaction ids issued.",
		}),
		WatchSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sekas_root_watch_subscribers",
			Help: "Live watch subscribers.",
		}),
	}
}
