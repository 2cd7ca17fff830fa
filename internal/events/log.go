package events

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	log logrus.FieldLogger
}

// NewLogSink returns a sink that logs each event at Info.
func NewLogSink(log logrus.FieldLogger) *LogSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogSink{log: log.WithField("component", "events")}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, e Event) error {
	fields := logrus.Fields{"event": string(e.Type)}
	if e.UserID != "" {
		fields["user_id"] = e.UserID
	}
	if e.Email != "" {
		fields["email"] = e.Email
	}
	if e.Actor != "" {
		fields["actor"] = e.Actor
	}
	if e.FromStatus != "" || e.ToStatus != "" {
		fields["from"] = e.FromStatus
		fields["to"] = e.ToStatus
	}
	for k, v := range e.Metadata {
		fields["meta_"+k] = v
	}
	s.log.WithFields(fields).Info("lifecycle event")
	return nil
}
