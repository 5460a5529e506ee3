// Package kafka consumes CloudEvents from Kafka into a checkpointed buffer
// and publishes failed events to a dead letter queue.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/internal/acknowledgement"
	apperrors "github.com/jittakal/eventpipe/internal/errors"
	"github.com/jittakal/eventpipe/internal/retry"
	"github.com/jittakal/eventpipe/pkg/buffer"
	"github.com/jittakal/eventpipe/pkg/consumer"
	"github.com/jittakal/eventpipe/pkg/event"
)

var _ consumer.Source = (*Source)(nil)

// SourceConfig contains Kafka consumer configuration.
type SourceConfig struct {
	Conn                ConnConfig
	GroupID             string
	Topics              []string
	AutoOffsetReset     string
	MaxPollIntervalMS   int
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
	CommitIntervalMS    int

	// Stage names the buffer in logs and metrics.
	Stage string
	// WriteTimeout bounds each attempt to write into the buffer.
	WriteTimeout time.Duration
}

// MetricsCollector defines the metrics the source reports.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncRebalances(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
	SetPartitionsAssigned(topic string, count float64)
	IncDLQPublished(reason string)
}

// Downstream is where consumed messages go.
type Downstream struct {
	Buffer    buffer.Buffer[*event.Record]
	Retrier   *retry.Retrier
	Tracker   *acknowledgement.Tracker
	Validator event.Validator
	DLQ       consumer.DLQPublisher
}

// Source is a consumer-group member that writes every message into a
// buffer. A message's offset is marked only after all records made from
// it have been checkpointed by the buffer's consumer.
//
// In byte-buffer mode the raw value is written under the message key and
// parsed on the read side; otherwise it is parsed and validated here.
type Source struct {
	group   sarama.ConsumerGroup
	cfg     SourceConfig
	down    Downstream
	metrics MetricsCollector
	logger  *zap.Logger

	closeOnce sync.Once
}

// NewSource creates the consumer group.
func NewSource(cfg SourceConfig, down Downstream, metrics MetricsCollector, logger *zap.Logger) (*Source, error) {
	if len(cfg.Conn.BootstrapServers) == 0 {
		return nil, errors.New("kafka bootstrap servers are required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer group ID is required")
	}

	saramaConfig, err := newSaramaConfig(cfg.Conn)
	if err != nil {
		return nil, err
	}
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(cfg.AutoOffsetReset)
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	if cfg.CommitIntervalMS > 0 {
		saramaConfig.Consumer.Offsets.AutoCommit.Interval = time.Duration(cfg.CommitIntervalMS) * time.Millisecond
	}
	if cfg.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(cfg.SessionTimeoutMS) * time.Millisecond
	}
	if cfg.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond
	}
	saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	if cfg.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(cfg.MaxPollIntervalMS) * time.Millisecond
	}
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Conn.BootstrapServers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka consumer created",
		zap.String("group_id", cfg.GroupID),
		zap.Strings("bootstrap_servers", cfg.Conn.BootstrapServers),
		zap.Strings("topics", cfg.Topics),
		zap.Bool("byte_mode", down.Buffer.IsByteBuffer()))

	return newSource(group, cfg, down, metrics, logger), nil
}

func newSource(group sarama.ConsumerGroup, cfg SourceConfig, down Downstream, metrics MetricsCollector, logger *zap.Logger) *Source {
	return &Source{
		group:   group,
		cfg:     cfg,
		down:    down,
		metrics: metrics,
		logger:  logger.With(zap.String("stage", cfg.Stage)),
	}
}

// Run joins the group and consumes until ctx is cancelled or the source
// is closed.
func (s *Source) Run(ctx context.Context) error {
	go func() {
		for err := range s.group.Errors() {
			s.logger.Error("consumer group error", zap.Error(err))
		}
	}()

	h := &groupHandler{source: s}
	for {
		if err := s.group.Consume(ctx, s.cfg.Topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("%w: %w", apperrors.ErrConnectionLost, err)
		}
		if ctx.Err() != nil {
			s.logger.Info("consumer context cancelled")
			return nil
		}
	}
}

// Close leaves the group. Offsets marked so far are committed.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("closing kafka consumer")
		err = s.group.Close()
	})
	return err
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	source *Source
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	s := h.source
	s.logger.Info("consumer group session setup",
		zap.String("member_id", session.MemberID()),
		zap.Int32("generation_id", session.GenerationID()))

	s.metrics.IncRebalances(s.cfg.GroupID)
	for topic, partitions := range session.Claims() {
		s.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
	}
	return nil
}

func (h *groupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	session.Commit()
	h.source.logger.Info("consumer group session cleanup", zap.String("member_id", session.MemberID()))
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c := &claimConsumer{
		source:    h.source,
		session:   session,
		topic:     claim.Topic(),
		partition: claim.Partition(),
		offsets:   newWatermark(),
	}
	h.source.logger.Info("started consuming partition",
		zap.String("topic", c.topic),
		zap.Int32("partition", c.partition),
		zap.Int64("initial_offset", claim.InitialOffset()))

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.handle(session.Context(), msg); err != nil {
				if session.Context().Err() != nil {
					return nil
				}
				return err
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// claimConsumer moves the messages of one partition claim into the buffer.
type claimConsumer struct {
	source    *Source
	session   sarama.ConsumerGroupSession
	topic     string
	partition int32
	offsets   *watermark
}

func (c *claimConsumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	s := c.source
	s.metrics.IncMessagesConsumed(msg.Topic, msg.Partition)
	c.offsets.track(msg.Offset)

	meta := event.KafkaMetadata{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Headers:   extractHeaders(msg.Headers),
		Timestamp: msg.Timestamp,
	}
	receivedAt := time.Now()

	if s.down.Buffer.IsByteBuffer() {
		return c.writeBytes(ctx, msg, meta, receivedAt)
	}

	events, err := event.DecodeCloudEvents(msg.Value)
	if err != nil {
		c.deadLetter(ctx, msg.Value, meta, "parse_error", err)
		return nil
	}

	records := make([]buffer.Record[*event.Record], 0, len(events))
	for _, ce := range events {
		if s.down.Validator != nil {
			if err := s.down.Validator.Validate(ce); err != nil {
				c.deadLetter(ctx, msg.Value, meta, "validation_failed", err)
				return nil
			}
		}
		records = append(records, buffer.NewRecord(&event.Record{
			Event:      ce,
			Kafka:      meta,
			ReceivedAt: receivedAt,
		}))
	}

	// One handle per record; the offset is released when all of them are.
	if len(records) == 0 {
		c.commit(msg.Offset)
		return nil
	}

	var (
		remaining atomic.Int32
		failed    atomic.Bool
	)
	remaining.Store(int32(len(records)))
	for _, r := range records {
		r.Data.Handle = s.down.Tracker.Register(receivedAt, func(success bool) {
			if !success {
				failed.Store(true)
			}
			if remaining.Add(-1) == 0 && !failed.Load() {
				c.commit(msg.Offset)
			}
		})
	}

	err = retry.WriteAll(ctx, s.down.Retrier, s.down.Buffer, records, s.cfg.WriteTimeout)
	if err != nil {
		for _, r := range records {
			s.down.Tracker.Release(r.Data.Handle, false)
		}
		// Redelivery would overflow again.
		if buffer.KindOf(err) == buffer.KindSizeOverflow {
			c.deadLetter(ctx, msg.Value, meta, "size_overflow", err)
			return nil
		}
		return &apperrors.ProcessingError{
			PartitionID: event.PartitionID{Topic: meta.Topic, Partition: meta.Partition},
			Offset:      meta.Offset,
			EventID:     records[0].Data.Event.ID,
			Err:         err,
		}
	}
	return nil
}

func (c *claimConsumer) writeBytes(ctx context.Context, msg *sarama.ConsumerMessage, meta event.KafkaMetadata, receivedAt time.Time) error {
	s := c.source
	h := s.down.Tracker.Register(receivedAt, func(success bool) {
		if success {
			c.commit(msg.Offset)
		}
	})

	payload, err := event.Envelope{Kafka: meta, Value: msg.Value, ReceivedAt: receivedAt, Handle: h}.Marshal()
	if err != nil {
		s.down.Tracker.Release(h, false)
		c.deadLetter(ctx, msg.Value, meta, "encode_error", err)
		return nil
	}

	key := string(msg.Key)
	if key == "" {
		key = event.PartitionID{Topic: msg.Topic, Partition: msg.Partition}.String()
	}
	if err := retry.WriteBytes(ctx, s.down.Retrier, s.down.Buffer, payload, key, s.cfg.WriteTimeout); err != nil {
		s.down.Tracker.Release(h, false)
		if buffer.KindOf(err) == buffer.KindSizeOverflow {
			c.deadLetter(ctx, msg.Value, meta, "size_overflow", err)
			return nil
		}
		return &apperrors.ProcessingError{
			PartitionID: event.PartitionID{Topic: meta.Topic, Partition: meta.Partition},
			Offset:      meta.Offset,
			Err:         err,
		}
	}
	return nil
}

// deadLetter publishes a message that cannot enter the buffer and releases
// its offset.
func (c *claimConsumer) deadLetter(ctx context.Context, value []byte, meta event.KafkaMetadata, reason string, cause error) {
	s := c.source
	s.logger.Warn("sending message to DLQ",
		zap.String("reason", reason),
		zap.String("topic", meta.Topic),
		zap.Int32("partition", meta.Partition),
		zap.Int64("offset", meta.Offset),
		zap.Error(cause))

	if s.down.DLQ != nil {
		if err := s.down.DLQ.Publish(ctx, value, meta, fmt.Sprintf("%s: %v", reason, cause)); err != nil {
			s.logger.Error("failed to publish to DLQ", zap.Error(err))
		} else {
			s.metrics.IncDLQPublished(reason)
		}
	}
	c.commit(meta.Offset)
}

func (c *claimConsumer) commit(offset int64) {
	next, ok := c.offsets.release(offset)
	if !ok {
		return
	}
	// A session that ended in a rebalance no longer owns the partition.
	if c.session.Context().Err() != nil {
		c.source.metrics.IncOffsetCommits(c.topic, c.partition, "stale")
		return
	}
	c.session.MarkOffset(c.topic, c.partition, next, "")
	c.source.metrics.IncOffsetCommits(c.topic, c.partition, "success")
}

func extractHeaders(headers []*sarama.RecordHeader) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	result := make(map[string]string, len(headers))
	for _, header := range headers {
		result[string(header.Key)] = string(header.Value)
	}
	return result
}
