package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/marketcore/gatekeeper/internal/config"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	logger, hook := test.NewNullLogger()

	shutdown, err := Init(context.Background(), config.ObservabilityConfig{ServiceName: "gatekeeper"}, logger)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Contains(t, hook.LastEntry().Message, "telemetry disabled")
}

func TestInit_RejectsUnsupportedProtocol(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := Init(context.Background(), config.ObservabilityConfig{
		OTLPEndpoint: "localhost:4318",
		OTLPProtocol: "grpc",
		ServiceName:  "gatekeeper",
	}, logger)
	assert.Error(t, err)
}

func TestStartSpan_RecordsErrorAndEvents(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer(TracerIdentity).Start(context.Background(), "identity.Approve")
	AddEvent(span, "provider.sync_failed")
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "identity.Approve", ended[0].Name())
	assert.Equal(t, "boom", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 2, "custom event plus the recorded exception")
}

func TestMetrics_NilSafe(t *testing.T) {
	var server *ServerMetrics
	var provider *ProviderMetrics
	var auth *AuthMetrics

	assert.NotPanics(t, func() {
		server.RecordRequest(context.Background(), "GET", "/health", "200", 1)
		provider.RecordCall(context.Background(), "CreateUser", "ok", 1)
		provider.RecordRelogin(context.Background())
		auth.RecordAuth(context.Background(), "bearer", true)
		auth.RecordDecision(context.Background(), "group(owner)", "allow")
	})

	m, err := NewServerMetrics()
	require.NoError(t, err)
	m.RecordRequest(context.Background(), "GET", "/health", "503", 2)
}
