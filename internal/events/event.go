// Package events publishes identity lifecycle events for auditing and
// downstream consumers.
package events

import (
	"context"
	"errors"
	"time"
)

// Type enumerates lifecycle event categories.
type Type string

const (
	ClientRegistered   Type = "client.registered"
	MerchantRegistered Type = "merchant.registered"
	MerchantApproved   Type = "merchant.approved"
	MerchantRejected   Type = "merchant.rejected"
	MerchantSyncFailed Type = "merchant.sync_failed"
	SyncResolved       Type = "sync.resolved"
)

// Event captures one lifecycle change.
type Event struct {
	Type       Type           `json:"type"`
	UserID     string         `json:"userId,omitempty"`
	Email      string         `json:"email,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	FromStatus string         `json:"fromStatus,omitempty"`
	ToStatus   string         `json:"toStatus,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Key returns the partition key: events for one user stay ordered.
func (e Event) Key() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.Email
}

// Sink consumes lifecycle events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopSink struct{}

func (noopSink) Record(context.Context, Event) error {
	return nil
}

// Noop discards events.
var Noop Sink = noopSink{}

// Normalize returns s, or Noop when s is nil.
func Normalize(s Sink) Sink {
	if s == nil {
		return Noop
	}
	return s
}

type multiSink []Sink

// Multi fans an event out to every sink. All sinks are attempted; their
// errors are joined.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Noop
	case 1:
		return out[0]
	}
	return out
}

func (m multiSink) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
