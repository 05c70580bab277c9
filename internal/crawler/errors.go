package crawler

import (
	"errors"
	"fmt"
)

// Pipeline error conditions. Callers match them with errors.Is.
var (
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrVerificationMismatch = errors.New("verification token mismatch")
	ErrInvalidURL           = errors.New("invalid url")
	ErrJobDispatch          = errors.New("job dispatch failed")
	ErrCrawlFailed          = errors.New("crawl failed")
	ErrUploadFailed         = errors.New("upload failed")
)

// UploadError is returned by BlobStore implementations when an artifact
// could not be persisted.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrUploadFailed) match any UploadError.
func (e *UploadError) Is(target error) bool {
	return target == ErrUploadFailed
}
