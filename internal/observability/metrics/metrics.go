// Package metrics defines and registers all custom Prometheus metrics for the
// loyalty points ledger. It is the single source of truth for metric names,
// labels, and help strings.
//
// All metrics are registered with the default Prometheus registry through
// promauto at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "loyalty"

// ── Ledger metrics ────────────────────────────────────────────────────────────

// TransfersAppliedTotal counts committed transfers.
// Label:
//   - direction: "credit", "debit" or "zero"
var TransfersAppliedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_applied_total",
		Help:      "Total number of point transfers committed, by direction.",
	},
	[]string{"direction"},
)

// TransfersRejectedTotal counts transfers that ended without a commit.
// Label:
//   - reason: "insufficient_points", "user_not_found", "concurrency_exhausted" or "store_error"
var TransfersRejectedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_rejected_total",
		Help:      "Total number of point transfers that were not committed, by reason.",
	},
	[]string{"reason"},
)

// VersionConflictsTotal counts conditional writes that lost the race against
// a concurrent writer on the same user.
var VersionConflictsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "version_conflicts_total",
		Help:      "Total number of optimistic-concurrency conflicts detected on commit.",
	},
)

// TransferAttempts observes how many attempts a transfer needed, whatever the outcome.
var TransferAttempts = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transfer_attempts",
		Help:      "Number of read-modify-write attempts per transfer.",
		Buckets:   []float64{1, 2, 3, 5, 8},
	},
)

// UsersCreatedTotal counts newly enrolled users.
var UsersCreatedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "users_created_total",
		Help:      "Total number of users created.",
	},
)

// IdempotentReplaysTotal counts transfer requests answered from the idempotency store.
var IdempotentReplaysTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idempotent_replays_total",
		Help:      "Total number of transfer requests served from the idempotency store.",
	},
)

// ── Batch metrics ─────────────────────────────────────────────────────────────

// BatchQueueDepth tracks the current number of transfers waiting in each worker channel.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var BatchQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "batch_queue_depth",
		Help:      "Current number of transfers pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// BatchFailuresTotal counts queued transfers that could not be applied.
var BatchFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_failures_total",
		Help:      "Total number of queued transfers that failed to apply.",
	},
)
