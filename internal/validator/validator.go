// Package validator checks CloudEvents before they enter the pipeline.
package validator

import (
	"fmt"
	"slices"

	"github.com/jittakal/eventpipe/internal/errors"
	"github.com/jittakal/eventpipe/pkg/event"
)

var _ event.Validator = (*CloudEventsValidator)(nil)

// CloudEventsValidator validates the required CloudEvents 1.0 attributes
// and, when configured, restricts event types.
type CloudEventsValidator struct {
	allowedTypes []string
	maxDataBytes int
}

// Option configures a CloudEventsValidator.
type Option func(*CloudEventsValidator)

// WithAllowedTypes rejects events whose type is not listed.
func WithAllowedTypes(types ...string) Option {
	return func(v *CloudEventsValidator) { v.allowedTypes = types }
}

// WithMaxDataBytes rejects events whose data is larger than n bytes.
func WithMaxDataBytes(n int) Option {
	return func(v *CloudEventsValidator) { v.maxDataBytes = n }
}

// NewCloudEventsValidator creates a validator.
func NewCloudEventsValidator(opts ...Option) *CloudEventsValidator {
	v := &CloudEventsValidator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns a *errors.ValidationError naming the first offending
// attribute.
func (v *CloudEventsValidator) Validate(e *event.CloudEvent) error {
	if e == nil {
		return &errors.ValidationError{Field: "event", Reason: "event is nil"}
	}

	required := []struct{ field, value string }{
		{"id", e.ID},
		{"source", e.Source},
		{"specversion", e.SpecVersion},
		{"type", e.Type},
	}
	for _, r := range required {
		if r.value == "" {
			return &errors.ValidationError{EventID: e.ID, Field: r.field, Reason: "required field is missing"}
		}
	}

	if e.SpecVersion != "1.0" {
		return &errors.ValidationError{
			EventID: e.ID,
			Field:   "specversion",
			Reason:  fmt.Sprintf("unsupported version: %s (supported: 1.0)", e.SpecVersion),
		}
	}

	if len(v.allowedTypes) > 0 && !slices.Contains(v.allowedTypes, e.Type) {
		return &errors.ValidationError{
			EventID: e.ID,
			Field:   "type",
			Reason:  fmt.Sprintf("type %q is not accepted", e.Type),
		}
	}

	if v.maxDataBytes > 0 && len(e.Data) > v.maxDataBytes {
		return &errors.ValidationError{
			EventID: e.ID,
			Field:   "data",
			Reason:  fmt.Sprintf("data is %d bytes, limit %d", len(e.Data), v.maxDataBytes),
		}
	}

	// The SDK checks the remaining attribute formats (source URI, time, extensions).
	sdk, err := e.ToSDK()
	if err != nil {
		return &errors.ValidationError{EventID: e.ID, Field: "extensions", Reason: err.Error()}
	}
	if err := sdk.Validate(); err != nil {
		return &errors.ValidationError{EventID: e.ID, Field: "event", Reason: err.Error()}
	}
	return nil
}
