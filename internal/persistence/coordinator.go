// Package persistence submits partitioned batches to the table store and
// aggregates the per-partition outcomes into one batch-level result.
package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/batch"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/logging"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/metrics"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/models"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/tablestore"
)

// Outcome is the result of one partition's transactional submission.
type Outcome struct {
	Partition string
	Rows      int
	RowKeys   string
	Err       error
}

// Coordinator persists partitioned batches. Partitions are independent:
// one partition's failure never blocks the submission of its siblings.
type Coordinator struct {
	store  tablestore.Store
	logger *logging.Logger
}

// New creates a Coordinator writing through store.
func New(store tablestore.Store, logger *logging.Logger) *Coordinator {
	return &Coordinator{store: store, logger: logger}
}

// Persist submits every partition of b and reports whether all
// submissions succeeded. Per-partition failures are logged with the
// partition key, the affected row count, and the row-key range; they
// never propagate past this component.
func (c *Coordinator) Persist(ctx context.Context, b *batch.PartitionedBatch) bool {
	start := time.Now()

	outcomes := make([]Outcome, 0, len(b.Partitions()))
	for _, partition := range b.Partitions() {
		records := b.Records(partition)
		outcomes = append(outcomes, Outcome{
			Partition: partition,
			Rows:      len(records),
			RowKeys:   rowKeyRange(records),
			Err:       c.store.SubmitBatch(ctx, partition, records),
		})
	}

	ok := true
	for _, outcome := range outcomes {
		if outcome.Err == nil {
			metrics.PartitionSubmissions.WithLabelValues("success").Inc()
			continue
		}
		ok = false
		metrics.PartitionSubmissions.WithLabelValues("failed").Inc()
		c.logger.ErrorContext(ctx,
			"[ALERT][VerifyKOToTS] Persistence Exception - could not save events on table storage",
			"partition", outcome.Partition,
			"rows", outcome.Rows,
			"row_keys", outcome.RowKeys,
			"error", outcome.Err,
		)
	}

	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	c.logger.DebugContext(ctx, "done processing events")
	return ok
}

func rowKeyRange(records []models.Record) string {
	keys := make([]string, len(records))
	for i, record := range records {
		keys[i] = record.RowKey
	}
	return strings.Join(keys, ",")
}
