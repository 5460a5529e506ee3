package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	apperrors "github.com/jittakal/eventpipe/internal/errors"
	"github.com/jittakal/eventpipe/pkg/consumer"
	"github.com/jittakal/eventpipe/pkg/event"
)

var _ consumer.DLQPublisher = (*DLQPublisher)(nil)

// DLQEvent is the message published to the dead letter topic.
type DLQEvent struct {
	// OriginalEvent holds the message value when it is valid JSON.
	OriginalEvent json.RawMessage `json:"original_event,omitempty"`
	// OriginalValue holds it otherwise.
	OriginalValue     []byte    `json:"original_value,omitempty"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	FailureReason     string    `json:"failure_reason"`
	FailureTimestamp  time.Time `json:"failure_timestamp"`
	ProcessorID       string    `json:"processor_id"`
}

// DLQConfig contains DLQ configuration.
type DLQConfig struct {
	Enabled     bool
	TopicSuffix string
}

// DLQPublisher publishes failed messages to "<topic><suffix>".
type DLQPublisher struct {
	producer    sarama.SyncProducer
	config      DLQConfig
	logger      *zap.Logger
	processorID string

	mu     sync.RWMutex
	closed bool
}

// NewDLQPublisher connects an idempotent producer. A disabled publisher
// accepts and drops every message.
func NewDLQPublisher(conn ConnConfig, cfg DLQConfig, logger *zap.Logger, processorID string) (*DLQPublisher, error) {
	if !cfg.Enabled {
		logger.Info("DLQ is disabled")
		return newDLQPublisher(nil, cfg, logger, processorID), nil
	}

	saramaConfig, err := newSaramaConfig(conn)
	if err != nil {
		return nil, err
	}
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(conn.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		zap.Strings("bootstrap_servers", conn.BootstrapServers),
		zap.String("topic_suffix", cfg.TopicSuffix))

	return newDLQPublisher(producer, cfg, logger, processorID), nil
}

func newDLQPublisher(producer sarama.SyncProducer, cfg DLQConfig, logger *zap.Logger, processorID string) *DLQPublisher {
	return &DLQPublisher{
		producer:    producer,
		config:      cfg,
		logger:      logger,
		processorID: processorID,
	}
}

// Publish sends payload to the dead letter topic of metadata.Topic.
func (p *DLQPublisher) Publish(ctx context.Context, payload []byte, metadata event.KafkaMetadata, reason string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return apperrors.ErrSourceClosed
	}
	if !p.config.Enabled {
		p.logger.Debug("DLQ disabled, skipping publish")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dlqTopic := metadata.Topic + p.config.TopicSuffix
	msg, err := p.message(dlqTopic, payload, metadata, reason)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish to DLQ",
			zap.Error(err),
			zap.String("dlq_topic", dlqTopic),
			zap.Int64("original_offset", metadata.Offset))
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	p.logger.Info("published message to DLQ",
		zap.String("dlq_topic", dlqTopic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("reason", reason))
	return nil
}

func (p *DLQPublisher) message(topic string, payload []byte, metadata event.KafkaMetadata, reason string) (*sarama.ProducerMessage, error) {
	now := time.Now()
	dlqEvent := DLQEvent{
		OriginalTopic:     metadata.Topic,
		OriginalPartition: metadata.Partition,
		OriginalOffset:    metadata.Offset,
		FailureReason:     reason,
		FailureTimestamp:  now.UTC(),
		ProcessorID:       p.processorID,
	}
	if json.Valid(payload) {
		dlqEvent.OriginalEvent = payload
	} else {
		dlqEvent.OriginalValue = payload
	}

	data, err := json.Marshal(dlqEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DLQ event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failure_reason"), Value: []byte(reason)},
			{Key: []byte("original_topic"), Value: []byte(metadata.Topic)},
			{Key: []byte("processor_id"), Value: []byte(p.processorID)},
		},
		Timestamp: now,
	}
	if len(metadata.Key) > 0 {
		msg.Key = sarama.ByteEncoder(metadata.Key)
	}
	return msg, nil
}

// Close closes the producer. It is safe to call more than once.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing DLQ producer", zap.Error(err))
			return err
		}
	}
	p.logger.Info("DLQ publisher closed")
	return nil
}
