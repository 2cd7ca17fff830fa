package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names
const (
	TracerIdentity = "gatekeeper/services/identity"
	TracerKeycloak = "gatekeeper/keycloak"
	TracerApproval = "gatekeeper/approval"
)

// StartSpan creates a new span for a service operation.
//
// Usage in services:
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIdentity, "identity.Approve",
//	    attribute.String(telemetry.AttrUserID, userID),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
// Use for saga steps and other business events:
//
//	telemetry.AddEvent(span, "provider.sync_failed",
//	    attribute.String(telemetry.AttrSyncGroup, "merchant"),
//	)
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys
const (
	AttrUserID         = "gatekeeper.user.id"
	AttrUserEmail      = "gatekeeper.user.email"
	AttrMerchantStatus = "gatekeeper.merchant.status"
	AttrSyncGroup      = "gatekeeper.sync.group"
	AttrKeycloakOp     = "gatekeeper.keycloak.operation"
)
