package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for MetLev.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	OracleOutOfOrder      *prometheus.CounterVec

	// --- Lending ---
	PoolTotalSupplied *prometheus.GaugeVec
	PoolTotalBorrowed *prometheus.GaugeVec
	PoolUtilization   *prometheus.GaugeVec
	ActivePositions   prometheus.Gauge
	PositionsOpened   *prometheus.CounterVec
	PositionsEnded    *prometheus.CounterVec
	BadDebtRejected   *prometheus.CounterVec
	CollateralSeized  *prometheus.CounterVec
	AMMActiveBin      prometheus.Gauge

	// --- Keeper ---
	KeeperScans        prometheus.Counter
	KeeperScanDuration prometheus.Histogram
	KeeperCandidates   prometheus.Counter
	KeeperSubmitted    *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Ingestion ---
	NATSMessages        *prometheus.CounterVec
	NATSPullLatency     *prometheus.HistogramVec
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
	GRPCErrors    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ioBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_core_events_rejected_total",
			Help: "Events rejected (duplicate, ordering, domain error code)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metlev_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "metlev_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "metlev_core_sequence",
			Help: "Next global sequence number to assign",
		}),

		// Channels
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "metlev_channel_size",
			Help: "Current buffered items per channel",
		}, []string{"channel"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_projection_drops_total",
			Help: "Outputs dropped because a non-blocking channel was full",
		}, []string{"channel"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metlev_publish_drops_total",
			Help: "Outbound NATS messages dropped",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metlev_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_idempotency_duplicates_total",
			Help: "Duplicate events detected",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "metlev_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metlev_dedup_lru_evictions_total",
			Help: "Idempotency LRU evictions",
		}),

		OracleOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_oracle_out_of_order_total",
			Help: "Oracle updates rejected for going back in time",
		}, []string{"feed"}),

		// Lending
		PoolTotalSupplied: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "metlev_pool_total_supplied",
			Help: "Pool total supplied, base units",
		}, []string{"asset"}),

		PoolTotalBorrowed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "metlev_pool_total_borrowed",
			Help: "Pool total borrowed, base units",
		}, []string{"asset"}),

		PoolUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "metlev_pool_utilization_bps",
			Help: "Pool utilization in basis points",
		}, []string{"asset"}),

		ActivePositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "metlev_active_positions",
			Help: "Active positions carrying debt",
		}),

		PositionsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_positions_opened_total",
			Help: "Leveraged positions opened",
		}, []string{"mint"}),

		PositionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_positions_ended_total",
			Help: "Positions closed or liquidated",
		}, []string{"mint", "status"}),

		BadDebtRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_bad_debt_rejected_total",
			Help: "Close or liquidation attempts aborted for insufficient proceeds",
		}, []string{"mint"}),

		CollateralSeized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_collateral_seized_total",
			Help: "Collateral taken from vaults to cover liquidation shortfalls, in raw token units",
		}, []string{"mint"}),

		AMMActiveBin: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "metlev_amm_active_bin",
			Help: "Committed active bin of the AMM venue",
		}),

		// Keeper
		KeeperScans: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metlev_keeper_scans_total",
			Help: "Liquidation keeper scans",
		}),

		KeeperScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "metlev_keeper_scan_duration_seconds",
			Help:    "Time per keeper scan",
			Buckets: ioBuckets,
		}),

		KeeperCandidates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metlev_keeper_candidates_total",
			Help: "Positions found at or above the liquidation threshold",
		}),

		KeeperSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_keeper_liquidations_submitted_total",
			Help: "Liquidation requests submitted by the keeper",
		}, []string{"result"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metlev_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metlev_persist_journals_written_total",
			Help: "Journal rows written",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "metlev_persist_batch_size",
			Help:    "Outputs per persistence flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "metlev_persist_batch_duration_seconds",
			Help:    "Time per persistence flush",
			Buckets: ioBuckets,
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"stage"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metlev_persist_retry_total",
			Help: "Persistence flush retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "metlev_persist_last_sequence",
			Help: "Last sequence durably written",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metlev_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "metlev_snapshot_duration_seconds",
			Help:    "Time to write a snapshot",
			Buckets: ioBuckets,
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "metlev_snapshot_size_bytes",
			Help: "Size of the latest snapshot",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "metlev_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "metlev_replay_events_total",
			Help: "Events replayed during recovery",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "metlev_replay_duration_seconds",
			Help: "Duration of the last recovery replay",
		}),

		// Ingestion
		NATSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_nats_messages_total",
			Help: "Inbound NATS messages by outcome",
		}, []string{"subject", "result"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metlev_nats_pull_latency_seconds",
			Help:    "Time from fetch to core acceptance",
			Buckets: ioBuckets,
		}, []string{"subject"}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metlev_projection_update_duration_seconds",
			Help:    "Time to update a read model",
			Buckets: ioBuckets,
		}, []string{"projection"}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_query_requests_total",
			Help: "Query API requests",
		}, []string{"method"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metlev_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: ioBuckets,
		}, []string{"method"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_query_errors_total",
			Help: "Query API errors",
		}, []string{"method", "code"}),

		GRPCErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "metlev_grpc_errors_total",
			Help: "gRPC calls that returned an error, by status code",
		}, []string{"method", "code"}),
	}
}
