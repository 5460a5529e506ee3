package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
	// Static credentials; the default chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

// s3Uploader uploads through the multipart upload manager.
type s3Uploader struct {
	uploader *manager.Uploader
	bucket   string
	sse      types.ServerSideEncryption
	kmsKeyID string
}

func newS3Uploader(ctx context.Context, cfg S3Config) (*s3Uploader, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	u := &s3Uploader{
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = 10 << 20
			u.Concurrency = 5
		}),
		bucket: cfg.Bucket,
	}
	if cfg.SSEEnabled {
		u.sse = types.ServerSideEncryptionAes256
		if cfg.SSEKMSKeyID != "" {
			u.sse = types.ServerSideEncryptionAwsKms
			u.kmsKeyID = cfg.SSEKMSKeyID
		}
	}
	return u, nil
}

func (u *s3Uploader) Upload(ctx context.Context, key string, body io.ReadSeeker, _ int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if u.sse != "" {
		input.ServerSideEncryption = u.sse
	}
	if u.kmsKeyID != "" {
		input.SSEKMSKeyId = aws.String(u.kmsKeyID)
	}
	_, err := u.uploader.Upload(ctx, input)
	return err
}

func (u *s3Uploader) Backend() string { return "s3" }

func (u *s3Uploader) Close() error { return nil }
