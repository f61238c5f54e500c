// Package storage archives raw webhook deliveries to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	syncapp "github.com/fitmarket/backend/internal/application/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ syncapp.DeliveryArchive = (*S3DeliveryArchive)(nil)

// S3DeliveryArchive stores every delivery as one object.
// Works with AWS S3 and S3-compatible stores (MinIO, RustFS, ...).
type S3DeliveryArchive struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// S3DeliveryArchiveOption configures an S3DeliveryArchive
type S3DeliveryArchiveOption func(*S3DeliveryArchive)

// WithLogger sets the archive logger
func WithLogger(logger *zap.Logger) S3DeliveryArchiveOption {
	return func(a *S3DeliveryArchive) {
		a.logger = logger
	}
}

// NewS3DeliveryArchive creates an archive from storage configuration.
// Without static keys the default AWS credential chain is used.
func NewS3DeliveryArchive(ctx context.Context, cfg *config.StorageConfig, opts ...S3DeliveryArchiveOption) (*S3DeliveryArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, errors.New("storage access key id and secret must be set together")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		// S3-compatible stores reject the default CRC32 trailers
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
		awsconfig.WithResponseChecksumValidation(aws.ResponseChecksumValidationWhenRequired),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	a := &S3DeliveryArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// EnsureBucket creates the bucket if it does not exist
func (a *S3DeliveryArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Archive writes the raw body; routing fields travel as object metadata
func (a *S3DeliveryArchive) Archive(ctx context.Context, d syncapp.Delivery) error {
	key := a.ObjectKey(d)
	meta := map[string]string{
		"kind":        string(d.Kind),
		"received-at": d.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	if d.Topic != "" {
		meta["topic"] = d.Topic
	}
	if d.DedupeKey != "" {
		meta["dedupe-key"] = d.DedupeKey
	}
	if d.RemoteIP != "" {
		meta["remote-ip"] = d.RemoteIP
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(d.Body),
		ContentLength: aws.Int64(int64(len(d.Body))),
		ContentType:   aws.String("application/json"),
		Metadata:      meta,
	})
	if err != nil {
		return fmt.Errorf("failed to archive delivery: %w", err)
	}
	a.logger.Debug("Delivery archived", zap.String("key", key), zap.String("kind", string(d.Kind)))
	return nil
}

// ObjectKey returns <prefix>/yyyy/mm/dd/<kind>/<unix-nanos>-<name>.json
func (a *S3DeliveryArchive) ObjectKey(d syncapp.Delivery) string {
	at := d.ReceivedAt.UTC()
	name := sanitizeKeyPart(d.DedupeKey)
	if name == "" {
		name = "unkeyed"
	}
	parts := []string{
		at.Format("2006/01/02"),
		string(d.Kind),
		strconv.FormatInt(at.UnixNano(), 10) + "-" + name + ".json",
	}
	if a.prefix != "" {
		parts = append([]string{a.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// Bucket returns the bucket name
func (a *S3DeliveryArchive) Bucket() string {
	return a.bucket
}

func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
