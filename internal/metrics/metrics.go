// metrics.go - Prometheus collectors for the shielded pool client
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "shieldedpool"
)

var (
	transactionsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "transactions_built_total",
			Help:      "Transactions assembled by the builder",
		},
		[]string{"tier", "status"}, // status: "success", "rejected", "prover_error"
	)

	proofDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prover",
			Name:      "proof_duration_seconds",
			Help:      "Time taken to generate a transaction proof",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"tier"},
	)

	circuitCompileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prover",
			Name:      "circuit_compile_duration_seconds",
			Help:      "Time taken to compile a circuit and load or generate its keys",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"tier"},
	)

	ledgerSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "submissions_total",
			Help:      "Transactions submitted to the ledger",
		},
		[]string{"status"}, // status: "accepted", "rejected", "stale"
	)

	treeLeaves = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tree",
			Name:      "leaves",
			Help:      "Commitments in the locally mirrored tree",
		},
	)

	notesDecrypted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "notes_decrypted_total",
			Help:      "Notes recovered while scanning published outputs",
		},
	)

	batchesScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "batches_total",
			Help:      "Published batches scanned, by outcome",
		},
		[]string{"result"}, // result: "found", "empty", "ambiguous", "cached"
	)
)

func RecordBuild(tier, status string) {
	transactionsBuilt.WithLabelValues(tier, status).Inc()
}

func RecordProof(tier string, d time.Duration) {
	proofDuration.WithLabelValues(tier).Observe(d.Seconds())
}

func RecordCircuitCompile(tier string, d time.Duration) {
	circuitCompileDuration.WithLabelValues(tier).Observe(d.Seconds())
}

func RecordSubmission(status string) {
	ledgerSubmissions.WithLabelValues(status).Inc()
}

func SetTreeLeaves(n uint64) {
	treeLeaves.Set(float64(n))
}

func RecordScan(result string) {
	batchesScanned.WithLabelValues(result).Inc()
	if result == "found" {
		notesDecrypted.Inc()
	}
}
