// Package tablestore persists denormalized Verify-KO records to a
// partitioned PostgreSQL table with per-partition transactional upserts.
package tablestore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/models"
)

// Store submits a partition's pending upserts as one atomic transaction.
// All-or-nothing holds within a partition only; callers own aggregation
// across partitions.
type Store interface {
	SubmitBatch(ctx context.Context, partitionKey string, records []models.Record) error
}

const upsertSQL = `
	INSERT INTO verifyko_events (
		partition_key, row_key, event_timestamp, date_time,
		notice_number, id_pa, id_psp, id_station, id_channel,
		blob_body_ref, properties
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (partition_key, row_key) DO UPDATE SET
		event_timestamp = EXCLUDED.event_timestamp,
		date_time       = EXCLUDED.date_time,
		notice_number   = EXCLUDED.notice_number,
		id_pa           = EXCLUDED.id_pa,
		id_psp          = EXCLUDED.id_psp,
		id_station      = EXCLUDED.id_station,
		id_channel      = EXCLUDED.id_channel,
		blob_body_ref   = EXCLUDED.blob_body_ref,
		properties      = EXCLUDED.properties,
		inserted_at     = now()
`

// PostgresStore implements Store using a pgx connection pool. The pool
// is created once at startup and shared across concurrent invocations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a pooled PostgreSQL store and verifies
// connectivity.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// SubmitBatch upserts all records of one partition inside a single
// transaction. Oversized partitions are not pre-split.
func (s *PostgresStore) SubmitBatch(ctx context.Context, partitionKey string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for partition %s: %w", partitionKey, err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, record := range records {
		b.Queue(upsertSQL, upsertArgs(partitionKey, record)...)
	}

	results := tx.SendBatch(ctx, b)
	for range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to upsert into partition %s: %w", partitionKey, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch results for partition %s: %w", partitionKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit partition %s: %w", partitionKey, err)
	}
	return nil
}

// upsertArgs maps a record to the positional arguments of upsertSQL.
// The properties map is encoded as JSONB by pgx.
func upsertArgs(partitionKey string, record models.Record) []any {
	return []any{
		partitionKey,
		record.RowKey,
		record.Timestamp,
		record.DateTime,
		record.NoticeNumber,
		record.IDPA,
		record.IDPsp,
		record.IDStation,
		record.IDChannel,
		record.BlobBodyRef,
		record.Properties,
	}
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
