// Package approval implements the merchant approval lifecycle:
// PENDING -> APPROVED and PENDING -> REJECTED, driven by an explicit decision.
package approval

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/marketcore/gatekeeper/internal/events"
	"github.com/marketcore/gatekeeper/internal/telemetry"
)

// Status is a merchant approval state.
type Status = models.MerchantStatus

const (
	Pending  = models.MerchantPending
	Approved = models.MerchantApproved
	Rejected = models.MerchantRejected
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = errors.New("invalid merchant status transition")

// ErrTerminalState is returned when attempting to leave APPROVED or REJECTED.
var ErrTerminalState = errors.New("merchant status is terminal")

// StatusStore persists a status change only if the profile is still in from.
type StatusStore interface {
	UpdateStatus(ctx context.Context, userID string, from, to Status) error
}

// StatusStoreFunc adapts a function to StatusStore.
type StatusStoreFunc func(ctx context.Context, userID string, from, to Status) error

// UpdateStatus implements StatusStore.
func (f StatusStoreFunc) UpdateStatus(ctx context.Context, userID string, from, to Status) error {
	return f(ctx, userID, from, to)
}

// TransitionContext is passed into hooks.
type TransitionContext struct {
	Actor   string
	Profile *models.MerchantProfile
	From    Status
	To      Status
	Reason  string
	// Metadata is shared by every hook of one transition and ends up on the
	// recorded event; after-hooks may add to it.
	Metadata map[string]any
}

// Hook is executed before or after a transition is persisted.
type Hook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	actor       string
	reason      string
	metadata    map[string]any
	beforeHooks []Hook
	afterHooks  []Hook
}

// WithActor records who made the decision.
func WithActor(actor string) TransitionOption {
	return func(o *transitionOptions) { o.actor = actor }
}

// WithReason sets the human-readable reason for the transition.
func WithReason(reason string) TransitionOption {
	return func(o *transitionOptions) { o.reason = reason }
}

// WithMetadata merges metadata into the transition context.
func WithMetadata(metadata map[string]any) TransitionOption {
	return func(o *transitionOptions) {
		for k, v := range metadata {
			o.metadata[k] = v
		}
	}
}

// WithBeforeHook adds a hook executed before the status update. A failing
// before-hook aborts the transition.
func WithBeforeHook(h Hook) TransitionOption {
	return func(o *transitionOptions) {
		if h != nil {
			o.beforeHooks = append(o.beforeHooks, h)
		}
	}
}

// WithAfterHook adds a hook executed after the status update is durable.
// After-hook failures are logged; the transition still succeeds.
func WithAfterHook(h Hook) TransitionOption {
	return func(o *transitionOptions) {
		if h != nil {
			o.afterHooks = append(o.afterHooks, h)
		}
	}
}

// Option customizes machine construction.
type Option func(*Machine)

// WithAllowTerminalOverride permits APPROVED <-> REJECTED (and re-entering
// the same terminal state). Every use is logged at Warn. PENDING is never
// re-entered.
func WithAllowTerminalOverride(allow bool) Option {
	return func(m *Machine) { m.allowOverride = allow }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Machine) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSink sets the sink that receives approved/rejected events.
func WithSink(sink events.Sink) Option {
	return func(m *Machine) { m.sink = events.Normalize(sink) }
}

// Machine validates and applies merchant status transitions.
type Machine struct {
	store         StatusStore
	transitions   map[Status]map[Status]struct{}
	allowOverride bool
	now           func() time.Time
	sink          events.Sink
	log           logrus.FieldLogger
}

// New returns a machine persisting through store.
func New(store StatusStore, opts ...Option) *Machine {
	m := &Machine{
		store: store,
		transitions: map[Status]map[Status]struct{}{
			Pending: {
				Approved: {},
				Rejected: {},
			},
		},
		now:  time.Now,
		sink: events.Noop,
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.log = m.log.WithField("component", "approval")
	return m
}

// IsTerminal reports whether s is APPROVED or REJECTED.
func IsTerminal(s Status) bool {
	return s == Approved || s == Rejected
}

// CanTransition reports whether from -> to is allowed under the machine's
// configuration.
func (m *Machine) CanTransition(from, to Status) bool {
	if allowed, ok := m.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return m.allowOverride && IsTerminal(from) && IsTerminal(to)
}

// Transition moves profile to target. The status write is conditional on
// the profile still being in its current status, so a concurrent decision
// surfaces as a conflict instead of being overwritten. On success profile
// reflects the new status.
func (m *Machine) Transition(ctx context.Context, profile *models.MerchantProfile, target Status, opts ...TransitionOption) (*models.MerchantProfile, error) {
	const op = "approval.Transition"

	if profile == nil {
		return nil, apperr.Wrapf(apperr.KindInvalidInput, op, ErrInvalidTransition, "profile is nil")
	}
	if !target.Valid() {
		return nil, apperr.Wrapf(apperr.KindInvalidInput, op, ErrInvalidTransition, "unknown status %q", target)
	}

	from := profile.Status
	if from == "" {
		from = Pending
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerApproval, "approval.Transition",
		attribute.String(telemetry.AttrUserID, profile.UserID),
		attribute.String(telemetry.AttrMerchantStatus, string(target)),
	)
	defer span.End()

	if !m.CanTransition(from, target) {
		var err error
		if IsTerminal(from) {
			err = apperr.Wrapf(apperr.KindConflict, op, ErrTerminalState, "merchant is already %s", from)
		} else {
			err = apperr.Wrapf(apperr.KindConflict, op, ErrInvalidTransition, "%s -> %s", from, target)
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	options := &transitionOptions{metadata: map[string]any{}}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	log := m.log.WithFields(logrus.Fields{
		"user_id": profile.UserID,
		"from":    string(from),
		"to":      string(target),
		"actor":   options.actor,
	})
	if IsTerminal(from) {
		log.Warn("overriding terminal merchant status")
		options.metadata["override"] = true
	}

	tc := TransitionContext{
		Actor:    options.actor,
		Profile:  profile,
		From:     from,
		To:       target,
		Reason:   options.reason,
		Metadata: options.metadata,
	}

	for _, hook := range options.beforeHooks {
		if err := hook(ctx, tc); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	if err := m.store.UpdateStatus(ctx, profile.UserID, from, target); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	profile.Status = target
	profile.UpdatedAt = m.now()
	log.Info("merchant status changed")

	for _, hook := range options.afterHooks {
		if err := hook(ctx, tc); err != nil {
			log.WithError(err).Warn("after-transition hook failed")
			telemetry.AddEvent(span, "approval.hook_failed", attribute.String("error", err.Error()))
		}
	}

	m.record(ctx, tc)
	return profile, nil
}

func (m *Machine) record(ctx context.Context, tc TransitionContext) {
	eventType := events.MerchantApproved
	if tc.To == Rejected {
		eventType = events.MerchantRejected
	}

	metadata := make(map[string]any, len(tc.Metadata)+1)
	for k, v := range tc.Metadata {
		metadata[k] = v
	}
	if tc.Reason != "" {
		metadata["reason"] = tc.Reason
	}

	actor := tc.Actor
	if actor == "" {
		actor = "system"
	}

	event := events.Event{
		Type:       eventType,
		UserID:     tc.Profile.UserID,
		Actor:      actor,
		FromStatus: string(tc.From),
		ToStatus:   string(tc.To),
		Metadata:   metadata,
		OccurredAt: m.now(),
	}
	if tc.Profile.User != nil {
		event.Email = tc.Profile.User.Email
	}

	if err := m.sink.Record(ctx, event); err != nil {
		m.log.WithError(err).WithField("event", string(eventType)).Warn("failed to record lifecycle event")
	}
}
