// Package storage reads knowledge base documents from S3-compatible buckets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/cloo-solutions/kbqa/internal/domain"
)

// DefaultMaxObjectBytes caps the size of a document read for ingestion.
const DefaultMaxObjectBytes int64 = 8 << 20

type S3ClientConfig struct {
	// Endpoint overrides the AWS endpoint for MinIO, RustFS and similar stores.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
	MaxObjectBytes  int64
}

// S3API is the subset of the S3 client used for reading documents.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Client lists and reads documents in one bucket.
type S3Client struct {
	api      S3API
	bucket   string
	maxBytes int64
}

// NewS3Client builds a client from cfg. Without static keys the default AWS
// credential chain applies.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3ClientWithAPI(api, cfg.Bucket, cfg.MaxObjectBytes), nil
}

// NewS3ClientWithAPI wraps an existing S3 API client.
func NewS3ClientWithAPI(api S3API, bucket string, maxBytes int64) *S3Client {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxObjectBytes
	}
	return &S3Client{api: api, bucket: bucket, maxBytes: maxBytes}
}

func (c *S3Client) Bucket() string { return c.bucket }

// URI is the source URI recorded on chunks read from key.
func (c *S3Client) URI(key string) string {
	return "s3://" + c.bucket + "/" + key
}

// ListKeys returns every object key under prefix in listing order.
func (c *S3Client) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	pages := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, c.classify(prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// ReadObject returns the body of key. Objects over the size cap fail with
// domain.ErrDocumentTooLarge, whether the store reports the length up front
// or not.
func (c *S3Client) ReadObject(ctx context.Context, key string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, c.classify(key, err)
	}
	defer out.Body.Close()

	if n := aws.ToInt64(out.ContentLength); n > c.maxBytes {
		return nil, c.tooLarge(key)
	}
	body, err := io.ReadAll(io.LimitReader(out.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", c.bucket, key, err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, c.tooLarge(key)
	}
	return body, nil
}

func (c *S3Client) tooLarge(key string) error {
	return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrDocumentTooLarge.Message,
		fmt.Errorf("s3://%s/%s is over %d bytes", c.bucket, key, c.maxBytes))
}

// classify turns missing keys and buckets into domain.ErrObjectNotFound.
func (c *S3Client) classify(key string, err error) error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	var apiErr smithy.APIError
	switch {
	case errors.As(err, &noKey), errors.As(err, &noBucket),
		errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound":
		return domain.NewDomainErrorWithCause(domain.ErrCodeNotFound, domain.ErrObjectNotFound.Message,
			fmt.Errorf("s3://%s/%s: %w", c.bucket, key, err))
	}
	return fmt.Errorf("s3 request for s3://%s/%s failed: %w", c.bucket, key, err)
}
