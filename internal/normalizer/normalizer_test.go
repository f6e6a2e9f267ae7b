package normalizer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/blobstore"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/models"
)

// fakeArchiver records archive calls and returns a canned reference.
type fakeArchiver struct {
	calls []archiveCall
	err   error
}

type archiveCall struct {
	key  string
	body []byte
}

func (f *fakeArchiver) Archive(ctx context.Context, key string, body []byte) (models.BlobBodyReference, error) {
	if f.err != nil {
		return models.BlobBodyReference{}, f.err
	}
	f.calls = append(f.calls, archiveCall{key: key, body: body})
	return models.BlobBodyReference{
		StorageAccount: "mockstorageaccount",
		ContainerName:  "verifyko-events",
		FileName:       key,
		FileLength:     int64(len(body)),
	}, nil
}

func eventBody(id, timestamp string) string {
	return fmt.Sprintf(`{
		"id": "%s",
		"faultBean": {"timestamp": "%s", "faultCode": "PPT_DOMINIO_SCONOSCIUTO"},
		"debtorPosition": {"noticeNumber": "302040000090000000"},
		"creditor": {"idPA": "77777777777", "idStation": "77777777777_01"},
		"psp": {"idPsp": "88888888888", "idChannel": "88888888888_01"}
	}`, id, timestamp)
}

func TestRepairTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "no fractional separator", input: "2023-12-12T18:34:39", want: "2023-12-12T18:34:39.000000"},
		{name: "one fractional digit", input: "2023-12-12T18:34:39.8", want: "2023-12-12T18:34:39.800000"},
		{name: "three fractional digits", input: "2023-12-12T18:34:39.860", want: "2023-12-12T18:34:39.860000"},
		{name: "five fractional digits", input: "2023-12-12T18:34:39.86065", want: "2023-12-12T18:34:39.860650"},
		{name: "exactly six digits unchanged", input: "2023-12-12T18:34:39.860654", want: "2023-12-12T18:34:39.860654"},
		{name: "more than six digits never truncated", input: "2023-12-12T18:34:39.8606541", want: "2023-12-12T18:34:39.8606541"},
		{name: "sentinel without separator", input: "ERROR", want: "ERROR.000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RepairTimestamp(tt.input))
		})
	}
}

func TestRewriteDashKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "prop1-with-dash", want: "prop1WithDash"},
		{input: "prop1_without_dash", want: "prop1_without_dash"},
		{input: "plain", want: "plain"},
		{input: "service-identifier", want: "serviceIdentifier"},
		{input: "trailing-", want: "trailing-"},
		{input: "-leading", want: "Leading"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteDashKey(tt.input))
		})
	}
}

func TestNormalize_FullRecord(t *testing.T) {
	archiver := &fakeArchiver{}
	n := New(archiver)

	raw := eventBody("uuid-001", "2023-12-12T18:34:39.860654")
	props := map[string]any{
		"prop1_without_dash": true,
		"prop1-with-dash":    "1",
	}

	record, err := n.Normalize(context.Background(), raw, props)
	require.NoError(t, err)

	assert.Equal(t, "2023-12-12", record.PartitionKey)
	assert.Equal(t, "1702406079-uuid-001", record.RowKey)
	assert.Equal(t, int64(1702406079), record.Timestamp)
	assert.Equal(t, "2023-12-12T18:34:39.860654", record.DateTime)
	assert.Equal(t, "302040000090000000", record.NoticeNumber)
	assert.Equal(t, "77777777777", record.IDPA)
	assert.Equal(t, "88888888888", record.IDPsp)
	assert.Equal(t, "77777777777_01", record.IDStation)
	assert.Equal(t, "88888888888_01", record.IDChannel)

	assert.Equal(t, map[string]any{
		"prop1_without_dash": true,
		"prop1WithDash":      "1",
	}, record.Properties)

	expectedRef := fmt.Sprintf(`{"storageAccount":"mockstorageaccount","containerName":"verifyko-events","fileName":"1702406079-uuid-001","fileLength":%d}`, len(raw))
	assert.Equal(t, expectedRef, record.BlobBodyRef)

	require.Len(t, archiver.calls, 1)
	assert.Equal(t, "1702406079-uuid-001", archiver.calls[0].key)
	assert.Equal(t, []byte(raw), archiver.calls[0].body)
}

func TestNormalize_ShortFractionIsRepaired(t *testing.T) {
	n := New(&fakeArchiver{})

	record, err := n.Normalize(context.Background(), eventBody("uuid-003", "2023-12-12T18:34:39.8"), nil)
	require.NoError(t, err)

	assert.Equal(t, "2023-12-12T18:34:39.800000", record.DateTime)
	assert.Equal(t, int64(1702406079), record.Timestamp)
}

func TestNormalize_MissingIDDefaultsRowKey(t *testing.T) {
	n := New(&fakeArchiver{})

	raw := `{"faultBean": {"timestamp": "2023-12-12T18:34:39.860654"}}`
	record, err := n.Normalize(context.Background(), raw, nil)
	require.NoError(t, err)

	assert.Equal(t, "1702406079-NA", record.RowKey)
	assert.Equal(t, models.NotAvailable, record.NoticeNumber)
	assert.Equal(t, models.NotAvailable, record.IDPA)
	assert.Equal(t, models.NotAvailable, record.IDPsp)
	assert.Equal(t, models.NotAvailable, record.IDStation)
	assert.Equal(t, models.NotAvailable, record.IDChannel)
}

func TestNormalize_UnpaddedPartitionKey(t *testing.T) {
	n := New(&fakeArchiver{})

	raw := `{"faultBean": {"timestamp": "2024-01-05T00:00:01"}}`
	record, err := n.Normalize(context.Background(), raw, nil)
	require.NoError(t, err)

	assert.Equal(t, "2024-1-5", record.PartitionKey)
}

func TestNormalize_MalformedBody(t *testing.T) {
	archiver := &fakeArchiver{}
	n := New(archiver)

	_, err := n.Normalize(context.Background(), "{not-json", nil)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Empty(t, archiver.calls, "no blob upload for an unparseable event")
}

func TestNormalize_MissingTimestamp(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing fault bean", raw: `{"id": "uuid-001"}`},
		{name: "missing timestamp field", raw: `{"id": "uuid-001", "faultBean": {"faultCode": "X"}}`},
		{name: "producer-supplied sentinel", raw: `{"id": "uuid-001", "faultBean": {"timestamp": "ERROR"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archiver := &fakeArchiver{}
			n := New(archiver)

			_, err := n.Normalize(context.Background(), tt.raw, nil)

			var missingErr *MissingFieldError
			require.ErrorAs(t, err, &missingErr)
			assert.Equal(t, "faultBean.timestamp", missingErr.Field)
			assert.Empty(t, archiver.calls, "no blob upload when the timestamp is unrecoverable")
		})
	}
}

func TestNormalize_BlobUploadFailure(t *testing.T) {
	uploadErr := &blobstore.UploadError{Key: "k", Err: errors.New("connection refused")}
	n := New(&fakeArchiver{err: uploadErr})

	_, err := n.Normalize(context.Background(), eventBody("uuid-001", "2023-12-12T18:34:39.860654"), nil)

	var gotErr *blobstore.UploadError
	require.ErrorAs(t, err, &gotErr)
}

func TestNormalize_IdempotentKeyDerivation(t *testing.T) {
	gofakeit.Seed(11)
	id := gofakeit.UUID()
	notice := gofakeit.DigitN(18)
	raw := fmt.Sprintf(`{
		"id": "%s",
		"faultBean": {"timestamp": "2023-12-13T16:10:42.906415"},
		"debtorPosition": {"noticeNumber": "%s"}
	}`, id, notice)
	props := map[string]any{"service-identifier": gofakeit.AppName()}

	n := New(&fakeArchiver{})

	first, err := n.Normalize(context.Background(), raw, props)
	require.NoError(t, err)
	second, err := n.Normalize(context.Background(), raw, props)
	require.NoError(t, err)

	assert.Equal(t, first.PartitionKey, second.PartitionKey)
	assert.Equal(t, first.RowKey, second.RowKey)
	assert.Equal(t, first, second)
	assert.Equal(t, "2023-12-13", first.PartitionKey)
	assert.Equal(t, fmt.Sprintf("1702483842-%s", id), first.RowKey)
}
