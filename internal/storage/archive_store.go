package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/imyashkale/spun/internal/logger"
)

// ArchiveStore keeps a copy of every accepted source archive
type ArchiveStore interface {
	Put(ctx context.Context, app, deployID string, data []byte, meta map[string]string) error
}

// S3API is the subset of the S3 client used by this package
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ArchiveStore uploads archives to a bucket under apps/{app}/{deployId}.tar.gz
type S3ArchiveStore struct {
	client S3API
	bucket string
}

// NewS3ArchiveStore loads the default AWS config and creates a store for bucket
func NewS3ArchiveStore(ctx context.Context, region, bucket string) (*S3ArchiveStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return NewS3ArchiveStoreWithClient(s3.NewFromConfig(awsCfg), bucket), nil
}

// NewS3ArchiveStoreWithClient creates a store on an existing client
func NewS3ArchiveStoreWithClient(client S3API, bucket string) *S3ArchiveStore {
	return &S3ArchiveStore{client: client, bucket: bucket}
}

// ObjectKey returns where an archive is stored
func ObjectKey(app, deployID string) string {
	return path.Join("apps", app, deployID+".tar.gz")
}

// Put uploads one archive
func (s *S3ArchiveStore) Put(ctx context.Context, app, deployID string, data []byte, meta map[string]string) error {
	key := ObjectKey(app, deployID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/gzip"),
		Metadata:      meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	logger.WithFields(map[string]interface{}{
		"bucket": s.bucket,
		"key":    key,
		"bytes":  len(data),
	}).Debug("Archive uploaded")
	return nil
}

// NopArchiveStore discards archives; used when no bucket is configured
type NopArchiveStore struct{}

// Put does nothing
func (NopArchiveStore) Put(ctx context.Context, app, deployID string, data []byte, meta map[string]string) error {
	return nil
}
