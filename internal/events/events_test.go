package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketcore/gatekeeper/internal/config"
)

func sampleEvent() Event {
	return Event{
		Type:       MerchantApproved,
		UserID:     "user-1",
		Email:      "a@x.com",
		Actor:      "admin-sub",
		FromStatus: "PENDING",
		ToStatus:   "APPROVED",
		Metadata:   map[string]any{"provider_synced": true},
		OccurredAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaSink_PublishesJSONKeyedByUser(t *testing.T) {
	cfg := NewSaramaConfig(config.KafkaConfig{ClientID: "gatekeeper"})
	producer := mocks.NewSyncProducer(t, cfg)
	defer producer.Close()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "user-1", string(key))
		assert.Equal(t, "lifecycle", msg.Topic)
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, "merchant.approved", string(msg.Headers[0].Value))

		raw, err := msg.Value.Encode()
		require.NoError(t, err)
		var decoded Event
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, MerchantApproved, decoded.Type)
		assert.Equal(t, "APPROVED", decoded.ToStatus)
		return nil
	})

	logger, _ := test.NewNullLogger()
	sink := NewKafkaSinkWithProducer(producer, "lifecycle", logger)
	require.NoError(t, sink.Record(context.Background(), sampleEvent()))
}

func TestKafkaSink_PropagatesBrokerErrors(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewSaramaConfig(config.KafkaConfig{}))
	defer producer.Close()
	producer.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)

	sink := NewKafkaSinkWithProducer(producer, "lifecycle", nil)
	err := sink.Record(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrNotEnoughReplicas)
}

func TestKafkaSink_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewSaramaConfig(config.KafkaConfig{}))
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewKafkaSinkWithProducer(producer, "lifecycle", nil).Record(ctx, sampleEvent())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSaramaConfig(t *testing.T) {
	cfg := NewSaramaConfig(config.KafkaConfig{ClientID: "gk"})
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 3, cfg.Producer.Retry.Max)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.Equal(t, "gk", cfg.ClientID)
	assert.NoError(t, cfg.Validate())
}

func TestLogSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	require.NoError(t, NewLogSink(logger).Record(context.Background(), sampleEvent()))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "lifecycle event", entry.Message)
	assert.Equal(t, "merchant.approved", entry.Data["event"])
	assert.Equal(t, "APPROVED", entry.Data["to"])
	assert.Equal(t, true, entry.Data["meta_provider_synced"])
}

func TestMulti(t *testing.T) {
	var got []Type
	ok := SinkFunc(func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	})
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("down") })

	err := Multi(failing, nil, ok).Record(context.Background(), sampleEvent())
	assert.EqualError(t, err, "down")
	assert.Equal(t, []Type{MerchantApproved}, got, "later sinks still receive the event")

	assert.Equal(t, Noop, Multi())
	assert.Equal(t, Noop, Normalize(nil))
	assert.NoError(t, SinkFunc(nil).Record(context.Background(), sampleEvent()))
}

func TestEventKey(t *testing.T) {
	assert.Equal(t, "user-1", sampleEvent().Key())
	assert.Equal(t, "a@x.com", Event{Email: "a@x.com"}.Key())
}

func TestValidatePayload(t *testing.T) {
	valid, err := json.Marshal(sampleEvent())
	require.NoError(t, err)
	require.NoError(t, ValidatePayload(valid))

	tests := []struct {
		name    string
		mutate  func(e *Event)
		message string
	}{
		{"unknown type", func(e *Event) { e.Type = "merchant.deleted" }, "$.type"},
		{"unknown status", func(e *Event) { e.ToStatus = "SUSPENDED" }, "$.toStatus"},
		{"no subject", func(e *Event) { e.UserID, e.Email = "", "" }, "$"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := sampleEvent()
			tt.mutate(&e)
			payload, err := json.Marshal(e)
			require.NoError(t, err)

			err = ValidatePayload(payload)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchemaViolation)
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	assert.ErrorIs(t, ValidatePayload([]byte("{")), ErrSchemaViolation)
	assert.JSONEq(t, string(lifecycleSchemaJSON), string(SchemaJSON()))
}

func TestKafkaSink_RejectsSchemaViolations(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewSaramaConfig(config.KafkaConfig{}))
	defer producer.Close()

	e := sampleEvent()
	e.Type = "merchant.deleted"
	err := NewKafkaSinkWithProducer(producer, "lifecycle", nil).Record(context.Background(), e)
	assert.ErrorIs(t, err, ErrSchemaViolation)
}
