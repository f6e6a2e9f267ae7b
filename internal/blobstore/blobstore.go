// Package blobstore archives raw event bodies to an S3-compatible
// object store and hands back the reference embedded into table rows.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/metrics"
	"github.com/pagopa/pagopa-nodo-verifyko-to-tablestorage/internal/models"
)

// UploadError wraps any failure to archive an event body. Uploads are
// never retried locally; the delivery layer's redelivery is the retry.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("could not upload event body %q to blob storage: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Archiver durably stores raw event bodies under a derived key.
type Archiver interface {
	// Archive uploads body under key, overwriting any existing object
	// with the same key. Overwrite is required: redelivered batches
	// derive the same keys.
	Archive(ctx context.Context, key string, body []byte) (models.BlobBodyReference, error)
}

// Config holds the object store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinioArchiver implements Archiver against a MinIO / S3-compatible
// endpoint. The client is constructed once at startup and is safe for
// concurrent use across invocations.
type MinioArchiver struct {
	client *minio.Client
	bucket string

	// account is the storage endpoint host, reported in references as
	// the storage account identifier.
	account string
}

// NewMinioArchiver connects to the object store and ensures the target
// bucket exists (idempotent create).
func NewMinioArchiver(ctx context.Context, cfg Config) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blob storage client: %w", err)
	}

	a := &MinioArchiver{
		client:  client,
		bucket:  cfg.Bucket,
		account: client.EndpointURL().Host,
	}

	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *MinioArchiver) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", a.bucket, err)
	}
	if exists {
		return nil
	}

	err = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
	if err != nil {
		// Another instance may have created it between the check and
		// the create.
		resp := minio.ToErrorResponse(err)
		if resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("failed to create bucket %q: %w", a.bucket, err)
	}
	return nil
}

// Archive uploads body under key into the configured bucket.
func (a *MinioArchiver) Archive(ctx context.Context, key string, body []byte) (models.BlobBodyReference, error) {
	start := time.Now()

	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return models.BlobBodyReference{}, &UploadError{Key: key, Err: err}
	}

	metrics.BlobUploadDuration.Observe(time.Since(start).Seconds())
	metrics.BlobUploadBytes.Add(float64(len(body)))

	return models.BlobBodyReference{
		StorageAccount: a.account,
		ContainerName:  a.bucket,
		FileName:       key,
		FileLength:     int64(len(body)),
	}, nil
}
