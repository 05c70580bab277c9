// Package storage holds helpers shared by the BlobStore implementations in
// its subpackages (gcs, s3, local, memory) and the results ledger (postgres).
package storage

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
)

// DefaultContentType is used for sitemap uploads when none is configured.
const DefaultContentType = "application/xml"

// Key joins prefix and fileName into an object key ("sitemap/example.com.sitemap.xml").
// An empty prefix yields the bare file name.
func Key(prefix, fileName string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fileName
	}
	return path.Join(prefix, fileName)
}

// OpenArtifact opens localPath for upload. Failures are reported as an
// UploadError for bucket and key so callers can return them directly.
func OpenArtifact(localPath, bucket, key string) (*os.File, error) {
	if strings.TrimSpace(key) == "" {
		return nil, &crawler.UploadError{Bucket: bucket, Key: key, Err: fmt.Errorf("object key is required")}
	}
	f, err := os.Open(localPath) // #nosec G304 -- path is produced by the worker under its work dir.
	if err != nil {
		return nil, &crawler.UploadError{Bucket: bucket, Key: key, Err: fmt.Errorf("open artifact: %w", err)}
	}
	return f, nil
}
