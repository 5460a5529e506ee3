package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/internal/encoder"
	"github.com/jittakal/eventpipe/pkg/event"
)

// Config selects a backend and the file format written to it.
type Config struct {
	Backend     string
	Format      event.FileFormat
	Compression string
	S3          S3Config
	Azure       AzureConfig
	GCS         GCSConfig
	File        FileConfig
}

// Open creates a BlobWriter for cfg.Backend.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, metrics MetricsCollector) (*BlobWriter, error) {
	enc, err := encoder.New(cfg.Format, cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	var up uploader
	switch cfg.Backend {
	case "s3":
		up, err = newS3Uploader(ctx, cfg.S3)
	case "azure":
		up, err = newAzureUploader(cfg.Azure)
	case "gcs":
		up, err = newGCSUploader(ctx, cfg.GCS)
	case "file":
		up, err = newFileUploader(cfg.File)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("storage writer created",
		zap.String("backend", cfg.Backend),
		zap.String("format", string(cfg.Format)),
		zap.String("compression", cfg.Compression))
	return newBlobWriter(up, enc, logger, metrics), nil
}
