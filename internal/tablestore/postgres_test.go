package tablestore

import (
	"strings"
	"testing"

	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/models"
)

func TestUpsertArgs(t *testing.T) {
	record := models.Record{
		PartitionKey: "2023-12-12",
		RowKey:       "1702406079-uuid-001",
		Timestamp:    1702406079,
		DateTime:     "2023-12-12T18:34:39.860654",
		NoticeNumber: "302040000090000000",
		IDPA:         "77777777777",
		IDPsp:        "88888888888",
		IDStation:    "77777777777_01",
		IDChannel:    "88888888888_01",
		BlobBodyRef:  `{"storageAccount":"a","containerName":"c","fileName":"f","fileLength":1}`,
		Properties:   map[string]any{"prop1WithDash": "1"},
	}

	args := upsertArgs("2023-12-12", record)

	if len(args) != 11 {
		t.Fatalf("upsertArgs() has %d args, want 11", len(args))
	}
	if args[0] != "2023-12-12" {
		t.Errorf("args[0] = %v, want partition key", args[0])
	}
	if args[1] != "1702406079-uuid-001" {
		t.Errorf("args[1] = %v, want row key", args[1])
	}
	if args[2] != int64(1702406079) {
		t.Errorf("args[2] = %v, want event timestamp", args[2])
	}
	if args[3] != "2023-12-12T18:34:39.860654" {
		t.Errorf("args[3] = %v, want date time", args[3])
	}
	if args[9] != record.BlobBodyRef {
		t.Errorf("args[9] = %v, want blob body ref", args[9])
	}
}

func TestUpsertSQL_ConflictTarget(t *testing.T) {
	// The upsert resolves on the composite key so a redelivered batch
	// overwrites instead of duplicating.
	if !strings.Contains(upsertSQL, "ON CONFLICT (partition_key, row_key) DO UPDATE") {
		t.Error("upsertSQL must upsert on (partition_key, row_key)")
	}
	if got := strings.Count(upsertSQL, "$"); got != 11 {
		t.Errorf("upsertSQL has %d placeholders, want 11", got)
	}
}
