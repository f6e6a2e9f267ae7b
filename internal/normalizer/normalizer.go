// Package normalizer turns one raw Verify-KO event plus its side-channel
// properties into the flattened record persisted to the table store.
package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/blobstore"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/fieldpath"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/models"
)

// Event body field paths.
const (
	idFieldPath           = "id"
	faultTimestampPath    = "faultBean.timestamp"
	noticeNumberFieldPath = "debtorPosition.noticeNumber"
	idPAFieldPath         = "creditor.idPA"
	idPspFieldPath        = "psp.idPsp"
	idStationFieldPath    = "creditor.idStation"
	idChannelFieldPath    = "psp.idChannel"
)

// timestampSentinel marks an unextractable fault timestamp. Checked
// after repair so a producer-supplied "ERROR" string fails the same way.
const timestampSentinel = "ERROR"

// faultTimestampLayout is the repaired timestamp shape: microsecond
// precision, UTC, no offset in the source.
const faultTimestampLayout = "2006-01-02T15:04:05.000000"

var dashPattern = regexp.MustCompile(`-([a-zA-Z])`)

// ParseError reports a raw event body that is not a JSON object.
// Fatal for the whole invocation.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed event body: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// MissingFieldError reports an event lacking a required field. This is a
// data-quality failure, distinguished from infrastructure failures in
// the log tag.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field [%s]", e.Field)
}

// Normalizer produces table-store records from raw events. It owns the
// archiving of each raw body through the injected Archiver.
type Normalizer struct {
	archiver blobstore.Archiver
}

// New creates a Normalizer that archives raw bodies via archiver.
func New(archiver blobstore.Archiver) *Normalizer {
	return &Normalizer{archiver: archiver}
}

// Normalize builds one record from a raw event string and its
// positionally matching side-channel properties.
//
// Any returned error is fatal for the invocation that delivered the
// event: *ParseError for malformed bodies, *MissingFieldError for an
// absent fault timestamp, *blobstore.UploadError for archive failures,
// and plain errors for everything else.
func (n *Normalizer) Normalize(ctx context.Context, rawEvent string, props map[string]any) (models.Record, error) {
	event, err := parseEvent(rawEvent)
	if err != nil {
		return models.Record{}, err
	}

	faultTimestamp, err := fieldpath.Get(event, faultTimestampPath, timestampSentinel, fieldpath.UseDefault)
	if err != nil {
		return models.Record{}, err
	}

	// Upstream producers sometimes emit fewer than 6 fractional digits.
	faultTimestamp = RepairTimestamp(faultTimestamp)

	if strings.Contains(faultTimestamp, timestampSentinel) {
		return models.Record{}, &MissingFieldError{Field: faultTimestampPath}
	}

	dateTime, err := time.Parse(faultTimestampLayout, faultTimestamp)
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to parse fault timestamp %q: %w", faultTimestamp, err)
	}
	epoch := dateTime.Unix()

	eventID, err := fieldpath.Get(event, idFieldPath, models.NotAvailable, fieldpath.UseDefault)
	if err != nil {
		return models.Record{}, err
	}

	record := models.Record{
		PartitionKey: fmt.Sprintf("%d-%d-%d", dateTime.Year(), int(dateTime.Month()), dateTime.Day()),
		RowKey:       fmt.Sprintf("%d-%s", epoch, eventID),
		Timestamp:    epoch,
		DateTime:     faultTimestamp,
		Properties:   rewriteProperties(props),
	}

	// Identification columns use the silent-fallback lookup: a missing
	// intermediate path segment yields the default, not an error.
	lookups := []struct {
		path string
		dst  *string
	}{
		{noticeNumberFieldPath, &record.NoticeNumber},
		{idPAFieldPath, &record.IDPA},
		{idPspFieldPath, &record.IDPsp},
		{idStationFieldPath, &record.IDStation},
		{idChannelFieldPath, &record.IDChannel},
	}
	for _, l := range lookups {
		value, err := fieldpath.Get(event, l.path, models.NotAvailable, fieldpath.UseDefault)
		if err != nil {
			return models.Record{}, err
		}
		*l.dst = value
	}

	ref, err := n.archiver.Archive(ctx, record.RowKey, []byte(rawEvent))
	if err != nil {
		return models.Record{}, err
	}
	record.BlobBodyRef = ref.String()

	return record, nil
}

func parseEvent(rawEvent string) (map[string]any, error) {
	var event map[string]any
	if err := json.Unmarshal([]byte(rawEvent), &event); err != nil {
		return nil, &ParseError{Err: err}
	}
	return event, nil
}

// RepairTimestamp normalizes a fault timestamp to exactly 6 fractional
// digits: no separator gets ".000000" appended, a short fractional part
// is right-padded with zeros, and 6 or more digits pass unchanged.
func RepairTimestamp(ts string) string {
	dot := strings.IndexByte(ts, '.')
	if dot == -1 {
		return ts + ".000000"
	}
	if fraction := len(ts) - dot - 1; fraction < 6 {
		return ts + strings.Repeat("0", 6-fraction)
	}
	return ts
}

// rewriteProperties returns a copy of props with every dash-letter key
// segment rewritten to camelCase ("prop1-with-dash" -> "prop1WithDash").
// Keys without a dash pass through unchanged.
func rewriteProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for key, value := range props {
		out[RewriteDashKey(key)] = value
	}
	return out
}

// RewriteDashKey deletes every dash followed by a letter and upper-cases
// that letter.
func RewriteDashKey(key string) string {
	if !strings.Contains(key, "-") {
		return key
	}
	return dashPattern.ReplaceAllStringFunc(key, func(match string) string {
		return strings.ToUpper(match[1:])
	})
}
