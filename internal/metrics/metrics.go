package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Invocation metrics
	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifyko_ingest_invocations_total",
			Help: "Total number of batch invocations processed",
		},
		[]string{"status"},
	)

	// Normalization metrics
	RecordsNormalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verifyko_ingest_records_normalized_total",
			Help: "Total number of events normalized successfully",
		},
	)

	NormalizationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifyko_ingest_normalization_errors_total",
			Help: "Total number of normalization failures by error class",
		},
		[]string{"class"},
	)

	// Blob storage metrics
	BlobUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verifyko_ingest_blob_upload_duration_seconds",
			Help:    "Duration of raw event body uploads in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BlobUploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verifyko_ingest_blob_upload_bytes_total",
			Help: "Total bytes of raw event bodies archived",
		},
	)

	// Table storage metrics
	PartitionSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifyko_ingest_partition_submissions_total",
			Help: "Total number of per-partition transactional submissions",
		},
		[]string{"status"},
	)

	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verifyko_ingest_persist_duration_seconds",
			Help:    "Duration of the persist phase across all partitions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
