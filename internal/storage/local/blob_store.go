// Package local implements a filesystem blob store for development.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	blob "github.com/JakeFAU/sitemap-bot/internal/storage"
)

var _ crawler.BlobStore = (*BlobStore)(nil)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory uploaded artifacts are copied under.
	BaseDir string
}

// BlobStore copies artifacts into a directory tree.
type BlobStore struct {
	baseDir string
}

// New creates the store, creating BaseDir when missing and checking it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	return &BlobStore{baseDir: abs}, nil
}

// Upload copies localPath to BaseDir/key and returns a file:// URL.
func (s *BlobStore) Upload(_ context.Context, localPath, key string) (string, error) {
	src, err := blob.OpenArtifact(localPath, s.baseDir, key)
	if err != nil {
		return "", err
	}
	defer src.Close() //nolint:errcheck // read-only handle

	fullPath := filepath.Join(s.baseDir, key)
	if !strings.HasPrefix(filepath.Clean(fullPath), s.baseDir+string(filepath.Separator)) {
		return "", s.fail(key, fmt.Errorf("path traversal detected"))
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", s.fail(key, fmt.Errorf("create parent directories: %w", err))
	}
	dst, err := os.OpenFile(fullPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) // #nosec G304 -- checked above.
	if err != nil {
		return "", s.fail(key, fmt.Errorf("create file: %w", err))
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", s.fail(key, fmt.Errorf("copy file: %w", err))
	}
	if err := dst.Close(); err != nil {
		return "", s.fail(key, fmt.Errorf("close file: %w", err))
	}
	return "file://" + filepath.ToSlash(fullPath), nil
}

func (s *BlobStore) fail(key string, err error) error {
	return &crawler.UploadError{Bucket: s.baseDir, Key: key, Err: err}
}
