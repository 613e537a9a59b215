package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "poolwatch"

var (
	// ingest
	IngestedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_events_total",
		Help:      "Events accepted into the event store, resubmissions included",
	}, []string{"chain", "variant", "kind"})

	IngestBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_batches_total",
		Help:      "Webhook payloads by outcome",
	}, []string{"outcome"})

	UnknownPoolSwaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_unknown_pool_swaps_total",
		Help:      "Swaps dropped because their pool has no creation record",
	}, []string{"chain", "variant"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_duration_seconds",
		Help:      "Time to persist one webhook payload",
		Buckets:   prometheus.DefBuckets,
	})

	// scheduler
	SchedulerCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_cycles_total",
		Help:      "Per-chain scan cycles by outcome (ok, failed, skipped)",
	}, []string{"chain", "outcome"})

	Candidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_candidates_total",
		Help:      "Pools above threshold and not yet alerted",
	}, []string{"chain", "variant"})

	// composer
	ComposeFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compose_fallbacks_total",
		Help:      "Alerts composed with the fallback template",
	}, []string{"chain", "variant"})

	// delivery
	AlertsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_enqueued_total",
		Help:      "Alerts added to the delivery queue",
	}, []string{"chain"})

	AlertDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_deliveries_total",
		Help:      "Delivery attempts by outcome (delivered, failed, dropped)",
	}, []string{"channel", "outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "delivery_queue_depth",
		Help:      "Alerts waiting in the delivery queue",
	})

	// analytics sink
	ClickHouseRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clickhouse_rows_total",
		Help:      "Rows handed to the clickhouse writer by outcome (flushed, dropped)",
	}, []string{"outcome"})
)

func Handler() http.Handler {
	h := promhttp.Handler()
	return h
}
