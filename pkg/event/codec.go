package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/fxamacker/cbor/v2"
)

// DecodeCloudEvents parses a structured-mode JSON payload. The payload may
// hold a single event or a JSON array of events (batched mode).
func DecodeCloudEvents(payload []byte) ([]*CloudEvent, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty cloudevents payload")
	}

	if trimmed[0] != '[' {
		ce, err := decodeCloudEvent(trimmed)
		if err != nil {
			return nil, err
		}
		return []*CloudEvent{ce}, nil
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cloudevents batch: %w", err)
	}
	events := make([]*CloudEvent, 0, len(batch))
	for i, raw := range batch {
		ce, err := decodeCloudEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		events = append(events, ce)
	}
	return events, nil
}

func decodeCloudEvent(data []byte) (*CloudEvent, error) {
	evt := cloudevents.NewEvent()
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cloudevent: %w", err)
	}
	return FromSDK(evt), nil
}

// FromSDK converts a cloudevents SDK event.
func FromSDK(evt cloudevents.Event) *CloudEvent {
	ce := &CloudEvent{
		ID:          evt.ID(),
		Source:      evt.Source(),
		SpecVersion: evt.SpecVersion(),
		Type:        evt.Type(),
		Data:        evt.Data(),
	}
	if v := evt.DataContentType(); v != "" {
		ce.DataContentType = &v
	}
	if v := evt.DataSchema(); v != "" {
		ce.DataSchema = &v
	}
	if v := evt.Subject(); v != "" {
		ce.Subject = &v
	}
	if t := evt.Time(); !t.IsZero() {
		ce.Time = &t
	}
	if ext := evt.Extensions(); len(ext) > 0 {
		ce.Extensions = make(map[string]interface{}, len(ext))
		for k, v := range ext {
			ce.Extensions[k] = v
		}
	}
	return ce
}

// ToSDK converts the event to its cloudevents SDK form.
func (e *CloudEvent) ToSDK() (cloudevents.Event, error) {
	evt := cloudevents.NewEvent(e.SpecVersion)
	evt.SetID(e.ID)
	evt.SetSource(e.Source)
	evt.SetType(e.Type)
	if e.DataContentType != nil {
		evt.SetDataContentType(*e.DataContentType)
	}
	if e.DataSchema != nil {
		evt.SetDataSchema(*e.DataSchema)
	}
	if e.Subject != nil {
		evt.SetSubject(*e.Subject)
	}
	if e.Time != nil {
		evt.SetTime(*e.Time)
	}
	for k, v := range e.Extensions {
		evt.SetExtension(k, v)
		if err := evt.FieldErrors["extension:"+k]; err != nil {
			return evt, fmt.Errorf("extension %q: %w", k, err)
		}
	}
	evt.DataEncoded = e.Data
	return evt, nil
}

// EncodeCloudEvent renders the event in structured-mode JSON.
func EncodeCloudEvent(e *CloudEvent) ([]byte, error) {
	evt, err := e.ToSDK()
	if err != nil {
		return nil, err
	}
	return json.Marshal(evt)
}

// Envelope is the serialized form of a consumed message whose value has
// not been parsed yet. The Kafka metadata and acknowledgement handle travel
// with the raw value.
type Envelope struct {
	Kafka      KafkaMetadata `cbor:"1,keyasint"`
	Value      []byte        `cbor:"2,keyasint"`
	ReceivedAt time.Time     `cbor:"3,keyasint"`
	Handle     Handle        `cbor:"4,keyasint"`
}

var (
	envelopeEnc cbor.EncMode
	envelopeDec cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	if envelopeEnc, err = opts.EncMode(); err != nil {
		panic(err)
	}
	if envelopeDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// Marshal encodes the envelope as CBOR.
func (e Envelope) Marshal() ([]byte, error) {
	return envelopeEnc.Marshal(e)
}

// EncodeRecord wraps an already parsed record back into an envelope.
func EncodeRecord(r *Record) ([]byte, error) {
	if r.Event == nil {
		return nil, fmt.Errorf("record has no event")
	}
	value, err := EncodeCloudEvent(r.Event)
	if err != nil {
		return nil, err
	}
	return Envelope{Kafka: r.Kafka, Value: value, ReceivedAt: r.ReceivedAt, Handle: r.Handle}.Marshal()
}

// DecodeEnvelope parses the CBOR form produced by Envelope.Marshal.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := envelopeDec.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return env, nil
}

// Records parses the CloudEvents value. A batched value yields one record
// per event, all sharing the envelope's metadata and handle. key is stored
// as the Kafka key when the envelope carries none.
func (e Envelope) Records(key string) ([]*Record, error) {
	if len(e.Kafka.Key) == 0 && key != "" {
		e.Kafka.Key = []byte(key)
	}

	events, err := DecodeCloudEvents(e.Value)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, len(events))
	for i, ce := range events {
		records[i] = &Record{
			Event:      ce,
			Kafka:      e.Kafka,
			ReceivedAt: e.ReceivedAt,
			Handle:     e.Handle,
		}
	}
	return records, nil
}

// DecodeRecords parses an envelope and its CloudEvents value.
func DecodeRecords(payload []byte, key string) ([]*Record, error) {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	return env.Records(key)
}
