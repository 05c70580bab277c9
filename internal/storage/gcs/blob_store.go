// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	blob "github.com/JakeFAU/sitemap-bot/internal/storage"
)

var _ crawler.BlobStore = (*BlobStore)(nil)

// PublicBaseURL is the host objects are served from.
const PublicBaseURL = "https://storage.googleapis.com"

// Config captures the parameters required to upload to GCS.
type Config struct {
	Bucket      string
	ContentType string
}

// BlobStore uploads sitemap artifacts to a configured GCS bucket.
type BlobStore struct {
	client      *storage.Client
	bucket      string
	contentType string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = blob.DefaultContentType
	}
	return &BlobStore{
		client:      client,
		bucket:      cfg.Bucket,
		contentType: cfg.ContentType,
	}, nil
}

// Upload copies localPath to key and returns the object's HTTPS URL.
func (s *BlobStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := blob.OpenArtifact(localPath, s.bucket, key)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck // read-only handle

	if err := s.write(ctx, f, key); err != nil {
		return "", &crawler.UploadError{Bucket: s.bucket, Key: key, Err: err}
	}
	return ObjectURL(s.bucket, key), nil
}

// write streams r to key. A failed copy cancels the writer's context before
// closing it so no partial object is finalized.
func (s *BlobStore) write(ctx context.Context, r io.Reader, key string) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(wctx)
	writer.ContentType = s.contentType
	if _, err := io.Copy(writer, r); err != nil {
		cancel()
		_ = writer.Close()
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// ObjectURL is the public URL of key in bucket.
func ObjectURL(bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", PublicBaseURL, bucket, strings.TrimPrefix(key, "/"))
}
