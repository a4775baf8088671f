package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the counters an operator updates while it runs. Operators of the same kind may share one Metrics.
type Metrics struct {
	PartitionPasses prometheus.Counter
	SpilledRows     prometheus.Counter
	SpilledPages    prometheus.Counter
	FilteredRows    prometheus.Counter
	RowsProduced    prometheus.Counter
	MaxLevel        prometheus.Gauge
	PeakTableBlocks prometheus.Gauge
}

// NewMetrics creates the metrics of operator ("join" or "aggregate") and registers them with reg. A nil reg
// creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer, operator string) *Metrics {
	f := promauto.With(reg)
	labels := prometheus.Labels{"operator": operator}
	return &Metrics{
		PartitionPasses: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "hashexec",
			Name:        "partition_passes_total",
			Help:        "Number of times a hash table overflowed (or was forced) and its inputs were partitioned.",
			ConstLabels: labels,
		}),
		SpilledRows: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "hashexec",
			Name:        "spilled_rows_total",
			Help:        "Rows written to spill partitions.",
			ConstLabels: labels,
		}),
		SpilledPages: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "hashexec",
			Name:        "spilled_pages_total",
			Help:        "Pages written to spill partitions.",
			ConstLabels: labels,
		}),
		FilteredRows: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "hashexec",
			Name:        "join_filter_dropped_rows_total",
			Help:        "Rows the join filters kept from being spilled.",
			ConstLabels: labels,
		}),
		RowsProduced: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "hashexec",
			Name:        "rows_produced_total",
			Help:        "Rows handed to the output buffer.",
			ConstLabels: labels,
		}),
		MaxLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "hashexec",
			Name:        "max_partition_level",
			Help:        "Deepest recursion level reached by the last execution.",
			ConstLabels: labels,
		}),
		PeakTableBlocks: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "hashexec",
			Name:        "peak_table_blocks",
			Help:        "Most hash table blocks held at once by the last execution.",
			ConstLabels: labels,
		}),
	}
}
