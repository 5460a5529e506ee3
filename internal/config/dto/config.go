package dto

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Buffer        BufferConfig        `mapstructure:"buffer"`
	Storage       StorageConfig       `mapstructure:"storage"`
	FileRotation  FileRotationConfig  `mapstructure:"file_rotation"`
	Parquet       ParquetConfig       `mapstructure:"parquet"`
	Avro          AvroConfig          `mapstructure:"avro"`
	Processing    ProcessingConfig    `mapstructure:"processing"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers []string       `mapstructure:"bootstrap_servers"`
	SecurityProtocol string         `mapstructure:"security_protocol"`
	SASLMechanism    string         `mapstructure:"sasl_mechanism"`
	SASLUsername     string         `mapstructure:"sasl_username"`
	SASLPassword     string         `mapstructure:"sasl_password"`
	AWSRegion        string         `mapstructure:"aws_region"`
	Consumer         ConsumerConfig `mapstructure:"consumer"`
	DLQ              DLQConfig      `mapstructure:"dlq"`
}

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
	CommitIntervalMS    int      `mapstructure:"commit_interval_ms"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
}

// BufferConfig selects and sizes the buffer between the Kafka source and
// the sink workers.
type BufferConfig struct {
	// Type is memory, disk or keyed.
	Type         string            `mapstructure:"type"`
	Capacity     int               `mapstructure:"capacity"`
	BatchSize    int               `mapstructure:"batch_size"`
	DrainTimeout time.Duration     `mapstructure:"drain_timeout"`
	WriteTimeout time.Duration     `mapstructure:"write_timeout"`
	ReadTimeout  time.Duration     `mapstructure:"read_timeout"`
	Disk         DiskBufferConfig  `mapstructure:"disk"`
	Keyed        KeyedBufferConfig `mapstructure:"keyed"`
}

// DiskBufferConfig contains settings for the segment-file buffer
type DiskBufferConfig struct {
	Dir            string `mapstructure:"dir"`
	SegmentRecords int    `mapstructure:"segment_records"`
	Compression    string `mapstructure:"compression"`
}

// KeyedBufferConfig contains settings for the keyed byte buffer
type KeyedBufferConfig struct {
	Partitions int `mapstructure:"partitions"`
	// MaxBytes is a human readable size such as "64MiB".
	MaxBytes string `mapstructure:"max_bytes"`
}

// MaxBytesValue parses MaxBytes.
func (c KeyedBufferConfig) MaxBytesValue() (int64, error) {
	n, err := units.RAMInBytes(c.MaxBytes)
	if err != nil {
		return 0, fmt.Errorf("invalid buffer.keyed.max_bytes %q: %w", c.MaxBytes, err)
	}
	return n, nil
}

// StorageConfig contains storage backend configuration
type StorageConfig struct {
	Backend     string      `mapstructure:"backend"`
	Format      string      `mapstructure:"format"`
	Compression string      `mapstructure:"compression"`
	S3          S3Config    `mapstructure:"s3"`
	Azure       AzureConfig `mapstructure:"azure"`
	GCS         GCSConfig   `mapstructure:"gcs"`
	File        FileConfig  `mapstructure:"file"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	BasePath     string `mapstructure:"base_path"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
	// Static credentials; the AWS default chain is used when empty.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	BasePath    string `mapstructure:"base_path"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	BasePath             string `mapstructure:"base_path"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
	Endpoint             string `mapstructure:"endpoint"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// FileRotationConfig contains file rotation settings
type FileRotationConfig struct {
	MaxFileSizeMB      int64  `mapstructure:"max_file_size_mb"`
	MaxRecordsPerFile  int    `mapstructure:"max_records_per_file"`
	MaxDurationSeconds int    `mapstructure:"max_duration_seconds"`
	Strategy           string `mapstructure:"strategy"`
}

// ParquetConfig contains Parquet format settings
type ParquetConfig struct {
	Compression string `mapstructure:"compression"`
}

// AvroConfig contains Avro format settings
type AvroConfig struct {
	Codec string `mapstructure:"codec"`
}

// ProcessingConfig contains event validation and sink worker settings
type ProcessingConfig struct {
	WorkerPoolSize int `mapstructure:"worker_pool_size"`
	// AllowedEventTypes restricts accepted CloudEvent types. Empty allows all.
	AllowedEventTypes []string `mapstructure:"allowed_event_types"`
	// MaxEventDataBytes is a human readable size such as "1MiB". Empty
	// disables the limit.
	MaxEventDataBytes string `mapstructure:"max_event_data_bytes"`
	// PressureHighWater is the fraction of buffer capacity at which sink
	// workers flush early. Zero disables it.
	PressureHighWater float64 `mapstructure:"pressure_high_water"`
}

// MaxEventDataBytesValue parses MaxEventDataBytes. Zero means no limit.
func (c ProcessingConfig) MaxEventDataBytesValue() (int64, error) {
	if c.MaxEventDataBytes == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.MaxEventDataBytes)
	if err != nil {
		return 0, fmt.Errorf("invalid processing.max_event_data_bytes %q: %w", c.MaxEventDataBytes, err)
	}
	return n, nil
}

// RetryConfig controls how producers retry a buffer write that timed out
type RetryConfig struct {
	// MaxAttempts of zero retries until the write succeeds.
	MaxAttempts      uint `mapstructure:"max_attempts"`
	InitialBackoffMS int  `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int  `mapstructure:"max_backoff_ms"`
	JitterMS         int  `mapstructure:"jitter_ms"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
	// MaxAckAge fails liveness once an acknowledgement has been pending
	// this long. Zero disables the check.
	MaxAckAge time.Duration `mapstructure:"max_ack_age"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds  int `mapstructure:"grace_period_seconds"`
	ForceTimeoutSeconds int `mapstructure:"force_timeout_seconds"`
}

// GracePeriod returns the grace period as a duration.
func (c ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Validate validates the buffer configuration.
func (c *BufferConfig) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("buffer.capacity must be positive, got %d", c.Capacity)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("buffer.batch_size must be positive, got %d", c.BatchSize)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("buffer.write_timeout must be positive")
	}

	switch c.Type {
	case "memory":
	case "disk":
		if c.Disk.SegmentRecords <= 0 {
			return fmt.Errorf("buffer.disk.segment_records must be positive, got %d", c.Disk.SegmentRecords)
		}
	case "keyed":
		if c.Keyed.Partitions <= 0 {
			return fmt.Errorf("buffer.keyed.partitions must be positive, got %d", c.Keyed.Partitions)
		}
		if _, err := c.Keyed.MaxBytesValue(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported buffer type: %s", c.Type)
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}
