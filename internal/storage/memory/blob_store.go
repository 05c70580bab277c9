// Package memory stores uploaded artifacts in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	blob "github.com/JakeFAU/sitemap-bot/internal/storage"
)

var _ crawler.BlobStore = (*BlobStore)(nil)

// BlobStore keeps artifact bytes keyed by object key and returns memory:// URLs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Upload reads localPath fully and keeps a copy under key.
func (s *BlobStore) Upload(_ context.Context, localPath, key string) (string, error) {
	f, err := blob.OpenArtifact(localPath, "memory", key)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck // read-only handle

	data, err := io.ReadAll(f)
	if err != nil {
		return "", &crawler.UploadError{Bucket: "memory", Key: key, Err: fmt.Errorf("read artifact: %w", err)}
	}

	s.mu.Lock()
	s.data[key] = data
	s.mu.Unlock()
	return "memory://" + key, nil
}

// Object returns the stored bytes for key.
func (s *BlobStore) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	return append([]byte(nil), data...), ok
}
