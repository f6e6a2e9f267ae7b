// Package batch groups normalized records into per-partition sequences
// of pending upsert operations.
package batch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/models"
)

// PartitionedBatch maps a partition key to the ordered sequence of
// records pending upsert for that partition. It is built up sequentially
// within a single invocation and needs no internal locking.
type PartitionedBatch struct {
	partitions map[string][]models.Record
}

// New returns an empty batch.
func New() *PartitionedBatch {
	return &PartitionedBatch{partitions: make(map[string][]models.Record)}
}

// Add appends an upsert operation for the record to its partition's
// sequence. Records without a derivable row key were unrecoverable
// upstream and are dropped silently. Ordering within a partition is
// arrival order; no client-side dedup is performed, the last upsert for
// a (partition, row) pair wins when the store applies the batch.
func (b *PartitionedBatch) Add(record models.Record) {
	if record.RowKey == "" || record.PartitionKey == "" {
		return
	}
	b.partitions[record.PartitionKey] = append(b.partitions[record.PartitionKey], record)
}

// Partitions returns the partition keys in sorted order so iteration and
// logging are deterministic.
func (b *PartitionedBatch) Partitions() []string {
	keys := make([]string, 0, len(b.partitions))
	for key := range b.partitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Records returns the pending records for a partition in arrival order.
func (b *PartitionedBatch) Records(partition string) []models.Record {
	return b.partitions[partition]
}

// Len returns the total number of pending records across partitions.
func (b *PartitionedBatch) Len() int {
	n := 0
	for _, records := range b.partitions {
		n += len(records)
	}
	return n
}

// Trace renders a compact {PartitionKey, RowKey, EventTimestamp} listing
// of every pending operation for debug logging before the persist phase.
func (b *PartitionedBatch) Trace() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, partition := range b.Partitions() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('[')
		for j, record := range b.partitions[partition] {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "{PartitionKey: %s, RowKey: %s, EventTimestamp: %d}",
				record.PartitionKey, record.RowKey, record.Timestamp)
		}
		sb.WriteByte(']')
	}
	sb.WriteByte(']')
	return sb.String()
}
