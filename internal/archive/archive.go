// Package archive mirrors extracted PDF text into a MinIO/S3 bucket so the
// raw extraction output stays inspectable after the upload itself has been
// swept. The archive is strictly best-effort.
package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"taxlens/internal/config"
)

// Archiver wraps the MinIO interactions for extracted text.
type Archiver struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Archiver, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Archiver{client: client, bucket: cfg.ArchiveBucket, region: cfg.S3Region}, nil
}

// EnsureBucket makes sure the archive bucket exists before use.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

// Put uploads one extracted-text artifact keyed by the stored file name.
func (a *Archiver) Put(ctx context.Context, storedName string, text []byte) error {
	key := storedName + ".txt"
	reader := bytes.NewReader(text)
	opts := minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"}
	if _, err := a.client.PutObject(ctx, a.bucket, key, reader, int64(len(text)), opts); err != nil {
		return fmt.Errorf("upload archive object: %w", err)
	}
	return nil
}
