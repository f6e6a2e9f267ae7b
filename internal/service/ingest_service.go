// Package service orchestrates the ingestion of one delivered batch of
// Verify-KO events: normalization, partitioning, and dual-store
// persistence, with retry-aware failure signaling.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/batch"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/blobstore"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/logging"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/metrics"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/normalizer"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/stats"
)

// MaxRetryCount is the delivery layer's retry budget. The attempt whose
// retry index equals this value is the last one before the batch is
// abandoned upstream.
const MaxRetryCount = 7

// Invocation is one delivered batch plus its delivery metadata.
type Invocation struct {
	// ID correlates all log lines of this invocation.
	ID string

	// RetryIndex is 0 on first delivery and counts redeliveries.
	RetryIndex int

	// Events are the raw event bodies, one JSON object each.
	Events []string

	// Properties are the side-channel property maps, positionally
	// matching Events.
	Properties []map[string]any
}

// Coordinator persists a fully built partitioned batch and reports
// whether every partition succeeded.
type Coordinator interface {
	Persist(ctx context.Context, b *batch.PartitionedBatch) bool
}

// IngestService drives steps normalization through persistence for one
// invocation at a time. Instances are safe for concurrent invocations:
// all per-batch state is local to Ingest.
type IngestService struct {
	normalizer  *normalizer.Normalizer
	coordinator Coordinator
	stats       *stats.Client
	logger      *logging.Logger
}

// NewIngestService wires the driver. stats may be nil when usage
// statistics collection is disabled.
func NewIngestService(n *normalizer.Normalizer, c Coordinator, st *stats.Client, logger *logging.Logger) *IngestService {
	return &IngestService{
		normalizer:  n,
		coordinator: c,
		stats:       st,
		logger:      logger,
	}
}

// Ingest processes one delivered batch to completion or failure. A nil
// return means every record was normalized, archived, and every
// partition committed; any error means the caller must redeliver the
// identical batch.
func (s *IngestService) Ingest(ctx context.Context, inv Invocation) error {
	s.logger.DebugContext(ctx, "persisting events", "count", len(inv.Events))

	if inv.RetryIndex == MaxRetryCount {
		s.logger.WarnContext(ctx,
			"[ALERT][LAST RETRY][VerifyKOToTS] performing last retry for event ingestion",
			"events", len(inv.Events),
		)
	}

	err := s.ingest(ctx, inv)
	if err != nil {
		metrics.InvocationsTotal.WithLabelValues("failed").Inc()
		s.recordUsage(ctx, inv, false)
		return err
	}

	metrics.InvocationsTotal.WithLabelValues("success").Inc()
	s.recordUsage(ctx, inv, true)
	return nil
}

func (s *IngestService) ingest(ctx context.Context, inv Invocation) error {
	if len(inv.Events) != len(inv.Properties) {
		return s.fail(ctx, "length_mismatch", fmt.Errorf(
			"error processing events, lengths do not match: [events: %d - properties: %d]",
			len(inv.Events), len(inv.Properties)))
	}

	// Each record flows fully through normalization and blob archiving
	// before the next; the first fatal error aborts the whole
	// invocation with no partial commit.
	pending := batch.New()
	for i := range inv.Events {
		record, err := s.normalizer.Normalize(ctx, inv.Events[i], inv.Properties[i])
		if err != nil {
			return s.classify(ctx, err)
		}
		metrics.RecordsNormalized.Inc()
		pending.Add(record)
	}

	s.logger.InfoContext(ctx, "performing event ingestion",
		"retry_attempt", inv.RetryIndex,
		"events", pending.Trace(),
	)

	if ok := s.coordinator.Persist(ctx, pending); !ok {
		return s.fail(ctx, "persistence", errors.New("could not persist all event partitions on table storage"))
	}

	return nil
}

// classify selects the log tag for a normalization failure once, by
// error class, and surfaces the single application error that drives
// redelivery. The externally observable signal is identical for every
// class.
func (s *IngestService) classify(ctx context.Context, err error) error {
	var (
		parseErr   *normalizer.ParseError
		missingErr *normalizer.MissingFieldError
		uploadErr  *blobstore.UploadError
	)

	switch {
	case errors.As(err, &uploadErr):
		metrics.NormalizationErrors.WithLabelValues("blob_upload").Inc()
		return s.fail(ctx, "blob_upload", fmt.Errorf(
			"could not save event body of %s on blob storage: %w", uploadErr.Key, err))
	case errors.As(err, &parseErr):
		metrics.NormalizationErrors.WithLabelValues("malformed_event").Inc()
		return s.fail(ctx, "malformed_event", fmt.Errorf(
			"illegal argument on verify-ko event ingestion: %w", err))
	case errors.As(err, &missingErr):
		metrics.NormalizationErrors.WithLabelValues("missing_field").Inc()
		return s.fail(ctx, "missing_field", fmt.Errorf(
			"missing argument on verify-ko event ingestion: %w", err))
	default:
		metrics.NormalizationErrors.WithLabelValues("generic").Inc()
		return s.fail(ctx, "generic", fmt.Errorf(
			"generic failure on verify-ko event ingestion: %w", err))
	}
}

// fail funnels every fatal path into one high-severity, alert-tagged log
// line and the raised application error.
func (s *IngestService) fail(ctx context.Context, class string, err error) error {
	s.logger.ErrorContext(ctx, "[ALERT][VerifyKOToTS] event ingestion failed",
		"class", class,
		"error", err,
	)
	return err
}

func (s *IngestService) recordUsage(ctx context.Context, inv Invocation, success bool) {
	if s.stats == nil {
		return
	}

	var bytes int64
	for _, event := range inv.Events {
		bytes += int64(len(event))
	}
	if err := s.stats.RecordIngestion(ctx, int64(len(inv.Events)), bytes, success); err != nil {
		s.logger.WarnContext(ctx, "failed to record ingestion stats", "error", err)
	}
}
