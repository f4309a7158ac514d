package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/thirdpath/thirdpath/internal/pkg/config"
)

// S3Store serves artifacts from a bucket, optionally under a key prefix.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store builds the client and checks that the bucket is reachable.
func NewS3Store(ctx context.Context, cfg config.Artifacts) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Non-AWS providers (B2, MinIO) want path-style URLs.
			o.UsePathStyle = true
		}
	})

	s := &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
	if err := s.ping(ctx); err != nil {
		return nil, err
	}

	log.Infof("[Storage] Serving artifacts from bucket %s", cfg.Bucket)
	return s, nil
}

func (s *S3Store) ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Store) key(name string) string {
	return s.prefix + name
}

// Exists reports whether an artifact is present without downloading it.
func (s *S3Store) Exists(ctx context.Context, name string) (bool, error) {
	clean, err := cleanName(name)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(clean)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check artifact %s: %w", name, err)
	}
	return true, nil
}

func (s *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, 0, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(clean)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, 0, fmt.Errorf("failed to get artifact %s: %w", name, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// New picks the store named by the configuration.
func New(ctx context.Context, cfg config.Artifacts) (ArtifactStore, error) {
	if cfg.Store == "s3" {
		return NewS3Store(ctx, cfg)
	}
	return NewLocalStore(cfg.Dir), nil
}
