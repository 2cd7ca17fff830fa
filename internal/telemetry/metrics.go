package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
// Initialize once at server startup and reuse throughout the application lifecycle.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates a new ServerMetrics instance with pre-configured instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("gatekeeper/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s
	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route, status string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.String(AttrHTTPStatusCode, status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)

	if len(status) > 0 && status[0] == '5' {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// ProviderMetrics holds metric instruments for identity provider admin calls.
type ProviderMetrics struct {
	CallCounter  metric.Int64Counter
	CallDuration metric.Float64Histogram
	Relogins     metric.Int64Counter // Admin re-authentications after a 401
}

// NewProviderMetrics creates metric instruments for provider admin telemetry.
func NewProviderMetrics() (*ProviderMetrics, error) {
	meter := otel.Meter("gatekeeper/keycloak")

	callCounter, err := meter.Int64Counter(
		"keycloak.admin.call.count",
		metric.WithDescription("Total number of Keycloak admin API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	callDuration, err := meter.Float64Histogram(
		"keycloak.admin.call.duration",
		metric.WithDescription("Keycloak admin API call duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	relogins, err := meter.Int64Counter(
		"keycloak.admin.relogin.count",
		metric.WithDescription("Admin session re-authentications"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, err
	}

	return &ProviderMetrics{
		CallCounter:  callCounter,
		CallDuration: callDuration,
		Relogins:     relogins,
	}, nil
}

// RecordCall records a provider call with its operation, outcome kind and duration.
func (p *ProviderMetrics) RecordCall(ctx context.Context, operation, outcome string, durationMs float64) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrKeycloakOp, operation),
		attribute.String(AttrOutcome, outcome),
	)
	p.CallCounter.Add(ctx, 1, attrs)
	p.CallDuration.Record(ctx, durationMs, attrs)
}

// RecordRelogin counts an admin session re-authentication.
func (p *ProviderMetrics) RecordRelogin(ctx context.Context) {
	if p == nil {
		return
	}
	p.Relogins.Add(ctx, 1)
}

// AuthMetrics holds metric instruments for authentication and authorization.
type AuthMetrics struct {
	AuthAttempts metric.Int64Counter // Total token verifications
	AuthFailures metric.Int64Counter // Failed token verifications
	Decisions    metric.Int64Counter // Capability decisions by outcome
}

// NewAuthMetrics creates metric instruments for authentication telemetry.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("gatekeeper/auth")

	authAttempts, err := meter.Int64Counter(
		"gatekeeper.token.verification.count",
		metric.WithDescription("Bearer tokens presented for verification"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	authFailures, err := meter.Int64Counter(
		"gatekeeper.token.rejection.count",
		metric.WithDescription("Bearer tokens rejected by the verifier"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter(
		"gatekeeper.authz.decision.count",
		metric.WithDescription("Total number of capability decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		AuthAttempts: authAttempts,
		AuthFailures: authFailures,
		Decisions:    decisions,
	}, nil
}

// RecordAuth records an authentication attempt with its result.
func (a *AuthMetrics) RecordAuth(ctx context.Context, method string, success bool) {
	if a == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrAuthMethod, method),
		attribute.Bool(AttrAuthSuccess, success),
	)

	a.AuthAttempts.Add(ctx, 1, attrs)
	if !success {
		a.AuthFailures.Add(ctx, 1, attrs)
	}
}

// RecordDecision records a capability decision outcome (allow or a deny kind).
func (a *AuthMetrics) RecordDecision(ctx context.Context, requirement, outcome string) {
	if a == nil {
		return
	}
	a.Decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuthzRequirement, requirement),
		attribute.String(AttrOutcome, outcome),
	))
}

// Common metric attribute keys
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	AttrAuthMethod       = "auth.method"
	AttrAuthSuccess      = "auth.success"
	AttrAuthzRequirement = "authz.requirement"

	AttrOutcome = "outcome"
)
