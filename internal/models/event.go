// Package models defines the records exchanged between the ingestion
// pipeline stages and the shapes persisted to the two stores.
package models

import "fmt"

// NotAvailable is the sentinel stored for identification columns that
// could not be extracted from the event body.
const NotAvailable = "NA"

// Record is the flattened, denormalized representation of one Verify-KO
// event, ready to be written to the table store.
//
// PartitionKey and RowKey are always non-empty for records that reach a
// partitioned batch; records without a derivable row key are dropped
// silently by the partitioner.
type Record struct {
	// PartitionKey is the unpadded UTC calendar date of the fault
	// timestamp, e.g. "2023-12-12".
	PartitionKey string

	// RowKey is "{epochSeconds}-{eventID}". Collisions within a
	// partition overwrite silently because persistence is upsert-based.
	RowKey string

	// Timestamp is the fault timestamp as epoch seconds (UTC).
	Timestamp int64

	// DateTime is the repaired fault timestamp with microsecond
	// precision, e.g. "2023-12-12T18:34:39.860654".
	DateTime string

	// Identification columns, each NotAvailable when absent from the
	// event body.
	NoticeNumber string
	IDPA         string
	IDPsp        string
	IDStation    string
	IDChannel    string

	// BlobBodyRef is the serialized BlobBodyReference pointing at the
	// archived raw event body.
	BlobBodyRef string

	// Properties holds the side-channel properties delivered alongside
	// the event, with keys rewritten to camelCase.
	Properties map[string]any
}

// BlobBodyReference locates an archived raw event body in the blob store.
// It serializes to a fixed-shape JSON string stored as a table column.
type BlobBodyReference struct {
	StorageAccount string
	ContainerName  string
	FileName       string
	FileLength     int64
}

// String renders the reference in the exact wire shape expected by
// downstream consumers of the blobBodyRef column. The field order is
// part of the contract, so this is not a json.Marshal.
func (r BlobBodyReference) String() string {
	return fmt.Sprintf(`{"storageAccount":"%s","containerName":"%s","fileName":"%s","fileLength":%d}`,
		r.StorageAccount, r.ContainerName, r.FileName, r.FileLength)
}
