package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"

	appconfig "ofiflow/config"
	"ofiflow/logger"
)

// objectPutter is the part of the S3 client the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader puts exported files into a bucket, at most RequestsPerSecond
// requests per second.
type S3Uploader struct {
	client  objectPutter
	bucket  string
	prefix  string
	version string
	limiter *rate.Limiter
	log     *logger.Log
}

// NewS3Uploader builds an S3 client from the storage config. Static keys are
// used when both are set, otherwise the default AWS credential chain.
func NewS3Uploader(ctx context.Context, cfg appconfig.S3Config, version string) (*S3Uploader, error) {
	log := logger.GetLogger()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_uploader").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"bucket":              cfg.Bucket,
		"region":              cfg.Region,
		"endpoint":            cfg.Endpoint,
		"path_style":          cfg.PathStyle,
		"requests_per_second": cfg.RequestsPerSecond,
	}).Info("s3 uploader initialized")

	return newS3Uploader(client, cfg, version), nil
}

func newS3Uploader(client objectPutter, cfg appconfig.S3Config, version string) *S3Uploader {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &S3Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		version: version,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		log:     logger.GetLogger(),
	}
}

// Key returns the object key for a relative export path.
func (u *S3Uploader) Key(rel string) string {
	if u.prefix == "" {
		return rel
	}
	return path.Join(u.prefix, rel)
}

// Upload waits for the rate limiter and puts data under key.
func (u *S3Uploader) Upload(ctx context.Context, key, format string, data []byte) error {
	log := u.log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"operation": "upload",
		"s3_key":    key,
		"data_size": len(data),
	})

	if err := u.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting to upload %s: %w", key, err)
	}

	contentType := "application/octet-stream"
	switch format {
	case "csv":
		contentType = "text/csv"
	case "json":
		contentType = "application/json"
	}
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"format":          format,
			"ofiflow-version": u.version,
		},
	})
	if err != nil {
		log.WithError(err).WithEnv("S3_BUCKET").WithFields(logger.Fields{"bucket": u.bucket}).Error("failed to upload to S3")
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", u.bucket, err)
	}

	log.Debug("uploaded to S3")
	return nil
}
