package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for GridLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Distribution ---
	DistributionCycles   prometheus.Counter
	DistributionUnits    prometheus.Counter
	DistributionSources  prometheus.Histogram
	PoolLots             prometheus.Gauge
	PoolUnits            prometheus.Gauge
	BatteryChargeState   prometheus.Gauge
	BatteryChargedUnits  prometheus.Counter
	BatteryInjectedUnits prometheus.Counter

	// --- Settlement ---
	SettlementCycles     prometheus.Counter
	SettlementRequests   prometheus.Histogram
	SurplusSoldUnits     prometheus.Counter
	ShortfallDrawnUnits  prometheus.Counter
	DrawShortfallClamped prometheus.Counter
	ExportDeliveredUnits prometheus.Counter
	DebtSettledCents     prometheus.Counter

	// --- Latency ---
	IngestToApply   *prometheus.HistogramVec
	NATSPullLatency *prometheus.HistogramVec
	PersistBatchDur prometheus.Histogram
	ProjectionDur   *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query / HTTP API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	AuthFailures  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_core_events_rejected_total",
			Help: "Events rejected (dedup, gap, precondition)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grid_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_core_sequence",
			Help: "Current global sequence number",
		}),

		// Distribution
		DistributionCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_distribution_cycles_total",
			Help: "Distribution cycles applied",
		}),

		DistributionUnits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_distribution_units_total",
			Help: "Energy units distributed",
		}),

		DistributionSources: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "grid_distribution_sources",
			Help:    "Sources per distribution cycle",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50},
		}),

		PoolLots: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_pool_lots",
			Help: "Lots currently in the consumption pool",
		}),

		PoolUnits: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_pool_units",
			Help: "Units currently in the consumption pool",
		}),

		BatteryChargeState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_battery_charge_state_units",
			Help: "Battery charge state",
		}),

		BatteryChargedUnits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_battery_charged_units_total",
			Help: "Units drawn from the pool into the battery",
		}),

		BatteryInjectedUnits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_battery_injected_units_total",
			Help: "Units discharged from the battery into the pool",
		}),

		// Settlement
		SettlementCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_settlement_cycles_total",
			Help: "Consumption settlement cycles applied",
		}),

		SettlementRequests: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "grid_settlement_requests",
			Help:    "Consumption requests per cycle",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		SurplusSoldUnits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_surplus_sold_units_total",
			Help: "Unused allocation units sold to the grid",
		}),

		ShortfallDrawnUnits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_shortfall_drawn_units_total",
			Help: "Units drawn from the pool for over-consumers",
		}),

		DrawShortfallClamped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_draw_shortfall_clamped_total",
			Help: "Pool draws clamped because the pool ran dry",
		}),

		ExportDeliveredUnits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_export_delivered_units_total",
			Help: "Units delivered through the export meter",
		}),

		DebtSettledCents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_debt_settled_cents_total",
			Help: "External debt settlements applied (cents)",
		}),

		// Latency
		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grid_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grid_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "grid_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grid_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		EventSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "grid_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_replay_events_total",
			Help: "Events replayed on startup",
		}),

		// Query / HTTP API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_query_requests_total",
			Help: "HTTP requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grid_query_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_auth_failures_total",
			Help: "Admin API requests rejected by token check",
		}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
