package pipeline

import (
	"os"
	"time"

	"github.com/jittakal/eventpipe/internal/config/dto"
	"github.com/jittakal/eventpipe/internal/kafka"
	"github.com/jittakal/eventpipe/internal/retry"
	"github.com/jittakal/eventpipe/internal/storage"
	"github.com/jittakal/eventpipe/internal/validator"
	"github.com/jittakal/eventpipe/pkg/event"
)

func connConfig(c dto.KafkaConfig) kafka.ConnConfig {
	return kafka.ConnConfig{
		BootstrapServers: c.BootstrapServers,
		SecurityProtocol: c.SecurityProtocol,
		SASLMechanism:    c.SASLMechanism,
		SASLUsername:     c.SASLUsername,
		SASLPassword:     c.SASLPassword,
		AWSRegion:        c.AWSRegion,
	}
}

func sourceConfig(cfg *dto.ApplicationConfig) kafka.SourceConfig {
	c := cfg.Kafka.Consumer
	return kafka.SourceConfig{
		Conn:                connConfig(cfg.Kafka),
		GroupID:             c.GroupID,
		Topics:              c.Topics,
		AutoOffsetReset:     c.AutoOffsetReset,
		MaxPollIntervalMS:   c.MaxPollIntervalMS,
		SessionTimeoutMS:    c.SessionTimeoutMS,
		HeartbeatIntervalMS: c.HeartbeatIntervalMS,
		CommitIntervalMS:    c.CommitIntervalMS,
		Stage:               SinkStage,
		WriteTimeout:        cfg.Buffer.WriteTimeout,
	}
}

// storageConfig picks the compression of the configured format and the
// base path of the configured backend.
func storageConfig(cfg *dto.ApplicationConfig) (storage.Config, string) {
	s := cfg.Storage
	out := storage.Config{
		Backend:     s.Backend,
		Format:      event.FileFormat(s.Format),
		Compression: s.Compression,
		S3: storage.S3Config{
			Bucket:          s.S3.Bucket,
			Region:          s.S3.Region,
			Endpoint:        s.S3.Endpoint,
			UsePathStyle:    s.S3.UsePathStyle,
			SSEEnabled:      s.S3.SSEEnabled,
			SSEKMSKeyID:     s.S3.SSEKMSKeyID,
			AccessKeyID:     s.S3.AccessKeyID,
			SecretAccessKey: s.S3.SecretAccessKey,
		},
		Azure: storage.AzureConfig{
			AccountName:   s.Azure.AccountName,
			AccountKey:    s.Azure.AccountKey,
			ContainerName: s.Azure.Container,
			Endpoint:      s.Azure.Endpoint,
		},
		GCS: storage.GCSConfig{
			Bucket:               s.GCS.Bucket,
			ProjectID:            s.GCS.ProjectID,
			CredentialsFile:      s.GCS.CredentialsFile,
			CredentialsJSON:      s.GCS.CredentialsJSON,
			Endpoint:             s.GCS.Endpoint,
			UseDefaultCredential: s.GCS.UseDefaultCredential,
		},
		File: storage.FileConfig{BasePath: s.File.BasePath},
	}
	if out.Azure.AccountKey == "" {
		out.Azure.AccountKey = os.Getenv("AZURE_STORAGE_ACCOUNT_KEY")
	}
	if out.GCS.CredentialsJSON == "" {
		out.GCS.CredentialsJSON = os.Getenv("GCP_CREDENTIALS_JSON")
	}
	if out.Compression == "" {
		switch out.Format {
		case event.FormatParquet:
			out.Compression = cfg.Parquet.Compression
		case event.FormatAvro:
			out.Compression = cfg.Avro.Codec
		}
	}

	var basePath string
	switch s.Backend {
	case "s3":
		basePath = s.S3.BasePath
	case "azure":
		basePath = s.Azure.BasePath
	case "gcs":
		basePath = s.GCS.BasePath
	}
	return out, basePath
}

func policyConfig(c dto.FileRotationConfig) storage.PolicyConfig {
	return storage.PolicyConfig{
		MaxFileSizeMB:      c.MaxFileSizeMB,
		MaxRecordsPerFile:  c.MaxRecordsPerFile,
		MaxDurationSeconds: c.MaxDurationSeconds,
		Strategy:           storage.RotationStrategy(c.Strategy),
	}
}

func retryPolicy(c dto.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: time.Duration(c.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(c.MaxBackoffMS) * time.Millisecond,
		Jitter:         time.Duration(c.JitterMS) * time.Millisecond,
	}
}

func validatorOptions(c dto.ProcessingConfig) ([]validator.Option, error) {
	var opts []validator.Option
	if len(c.AllowedEventTypes) > 0 {
		opts = append(opts, validator.WithAllowedTypes(c.AllowedEventTypes...))
	}
	limit, err := c.MaxEventDataBytesValue()
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		opts = append(opts, validator.WithMaxDataBytes(int(limit)))
	}
	return opts, nil
}
