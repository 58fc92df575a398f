package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	appConfig "github.com/dopaminelite/filestorage/internal/config"
	"github.com/dopaminelite/filestorage/internal/domain"
)

// S3Storage implements domain.StorageProvider using AWS SDK v2.
// Locations are object keys of the form "<bucket>/<storedName>" inside one S3 bucket.
type S3Storage struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	log     zerolog.Logger
}

// NewS3Storage creates a new S3 storage provider
func NewS3Storage(ctx context.Context, cfg appConfig.S3Config, log zerolog.Logger) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: s3 bucket name is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	// Static credentials when provided, otherwise the default chain
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
		log.Info().Msg("using static credentials for s3")
	} else {
		log.Info().Msg("using default credentials chain for s3")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// S3-compatible stores (SeaweedFS, MinIO) need path-style addressing
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	st := &S3Storage{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		log:     log,
	}

	if cfg.CreateBucket {
		if err := st.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}

	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("s3 storage provider initialized")
	return st, nil
}

func (s *S3Storage) Name() string { return "s3" }

// Store performs a single PutObject under bucket/storedName
func (s *S3Storage) Store(ctx context.Context, content []byte, storedName, bucket, contentType string) (string, error) {
	key := path.Join(bucket, storedName)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("storage: s3 put %s/%s: %w", s.bucket, key, err)
	}

	s.log.Debug().Str("bucket", s.bucket).Str("key", key).Int("size", len(content)).Msg("stored object")
	return key, nil
}

// Sign presigns a GET for the object with the intent encoded as the response disposition
func (s *S3Storage) Sign(ctx context.Context, location string, intent domain.SignedURLIntent, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("storage: ttl must be positive, got %s", ttl)
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.bucket),
		Key:                        aws.String(location),
		ResponseContentDisposition: aws.String(ContentDisposition(intent, path.Base(location))),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("storage: s3 presign %s: %w", location, err)
	}
	return req.URL, nil
}

// ensureBucket creates the bucket only when HeadBucket reports it missing
func (s *S3Storage) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	if !isBucketMissing(err) {
		return fmt.Errorf("storage: head bucket %s: %w", s.bucket, err)
	}

	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return fmt.Errorf("storage: create bucket %s: %w", s.bucket, err)
	}
	s.log.Info().Str("bucket", s.bucket).Msg("created s3 bucket")
	return nil
}

func isBucketMissing(err error) bool {
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

// compile-time check
var _ domain.StorageProvider = (*S3Storage)(nil)
