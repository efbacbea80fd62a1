// Package archive keeps a provenance copy of every import batch in object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"exposure_backend/platform/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const contentTypeJSON = "application/json"

// Archiver stores a raw import batch.
type Archiver interface {
	Archive(ctx context.Context, organizationID uuid.UUID, jobID string, batch any) (string, error)
}

// MinIOArchiver writes batches as JSON objects to a MinIO bucket.
type MinIOArchiver struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinIOArchiver creates an archiver for the configured import archive bucket.
func NewMinIOArchiver(cfg config.MinIOConfig) (*MinIOArchiver, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}
	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &MinIOArchiver{client: client, bucket: cfg.GetMinioBucketImportArchive(), now: time.Now}, nil
}

// EnsureBucketExists creates the archive bucket if it doesn't exist.
func (a *MinIOArchiver) EnsureBucketExists(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

// Archive uploads batch and returns its object key.
func (a *MinIOArchiver) Archive(ctx context.Context, organizationID uuid.UUID, jobID string, batch any) (string, error) {
	raw, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("encode import batch: %w", err)
	}
	key := ObjectKey(organizationID, jobID, a.now())
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{
		ContentType: contentTypeJSON,
		UserMetadata: map[string]string{
			"organization-id": organizationID.String(),
			"job-id":          jobID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload import batch: %w", err)
	}
	return key, nil
}

// ObjectKey is "<org>/<job>/<utc timestamp>-<random>.json"; batches of one job
// sort chronologically.
func ObjectKey(organizationID uuid.UUID, jobID string, at time.Time) string {
	name := fmt.Sprintf("%s-%s.json", at.UTC().Format("20060102T150405.000000000Z"), uuid.NewString()[:8])
	return path.Join(organizationID.String(), jobID, name)
}

var _ Archiver = (*MinIOArchiver)(nil)
