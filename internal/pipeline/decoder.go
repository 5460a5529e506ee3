package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	ibuffer "github.com/jittakal/eventpipe/internal/buffer"
	"github.com/jittakal/eventpipe/pkg/consumer"
	"github.com/jittakal/eventpipe/pkg/event"
)

const dlqTimeout = 10 * time.Second

// envelopeDecoder turns keyed buffer payloads back into records. In byte
// mode the source does not parse or validate values, so that happens here.
// Whatever cannot be stored goes to the DLQ; a message that yields no
// records has its acknowledgement released so its offset still commits.
type envelopeDecoder struct {
	validator event.Validator
	dlq       consumer.DLQPublisher
	releaser  ibuffer.Releaser
	metrics   interface{ IncDLQPublished(reason string) }
	logger    *zap.Logger
}

func (d *envelopeDecoder) Decode(payload []byte, key string) ([]*event.Record, error) {
	env, err := event.DecodeEnvelope(payload)
	if err != nil {
		// Nothing is known about the message; it cannot be dead-lettered.
		return nil, err
	}

	records, err := env.Records(key)
	if err != nil {
		d.deadLetter(env.Value, env.Kafka, "deserialization_error")
		d.releaser.Release(env.Handle, true)
		return nil, err
	}

	valid := records[:0]
	for _, r := range records {
		if err := d.validator.Validate(r.Event); err != nil {
			d.logger.Warn("invalid event in buffered message",
				zap.String("topic", r.Kafka.Topic),
				zap.Int64("offset", r.Kafka.Offset),
				zap.Error(err))
			value, encErr := event.EncodeCloudEvent(r.Event)
			if encErr != nil {
				value = env.Value
			}
			d.deadLetter(value, r.Kafka, "validation_error")
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		d.releaser.Release(env.Handle, true)
	}
	return valid, nil
}

func (d *envelopeDecoder) deadLetter(value []byte, meta event.KafkaMetadata, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), dlqTimeout)
	defer cancel()
	if err := d.dlq.Publish(ctx, value, meta, reason); err != nil {
		d.logger.Error("failed to publish to DLQ",
			zap.String("topic", meta.Topic),
			zap.Int64("offset", meta.Offset),
			zap.Error(err))
		return
	}
	d.metrics.IncDLQPublished(reason)
}
