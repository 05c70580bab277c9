// Package s3 provides a BlobStore backed by Amazon S3.
package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	blob "github.com/JakeFAU/sitemap-bot/internal/storage"
)

var _ crawler.BlobStore = (*BlobStore)(nil)

// Config identifies the bucket and its region.
type Config struct {
	Bucket      string
	Region      string
	ContentType string
}

// PutObjectAPI is the subset of the S3 client the store needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// BlobStore uploads sitemap artifacts to S3.
type BlobStore struct {
	api         PutObjectAPI
	bucket      string
	region      string
	contentType string
}

// New builds a BlobStore using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*BlobStore, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithAPI(s3.NewFromConfig(awsCfg), cfg)
}

// NewWithAPI builds a BlobStore on an existing client (primarily for testing).
func NewWithAPI(api PutObjectAPI, cfg Config) (*BlobStore, error) {
	if api == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = blob.DefaultContentType
	}
	return &BlobStore{
		api:         api,
		bucket:      cfg.Bucket,
		region:      cfg.Region,
		contentType: cfg.ContentType,
	}, nil
}

// Upload puts localPath at key and returns the regional object URL.
func (s *BlobStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := blob.OpenArtifact(localPath, s.bucket, key)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck // read-only handle

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(s.contentType),
	})
	if err != nil {
		return "", &crawler.UploadError{Bucket: s.bucket, Key: key, Err: fmt.Errorf("put object: %w", err)}
	}
	return ObjectURL(s.region, s.bucket, key), nil
}

// ObjectURL is the path-style URL of key: https://s3.<region>.amazonaws.com/<bucket>/<key>.
func ObjectURL(region, bucket, key string) string {
	return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", region, bucket, strings.TrimPrefix(key, "/"))
}
