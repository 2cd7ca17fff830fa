package cmdutil

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/marketcore/gatekeeper/internal/config"
	"github.com/marketcore/gatekeeper/internal/db/bunx"
	"github.com/marketcore/gatekeeper/internal/events"
	"github.com/marketcore/gatekeeper/internal/keycloak"
	"github.com/marketcore/gatekeeper/internal/repository"
	"github.com/marketcore/gatekeeper/internal/services/identity"
	"github.com/marketcore/gatekeeper/internal/telemetry"
)

// NewLogger builds the process logger from configuration.
func NewLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// ServiceBundleOptions controls how the bundle is assembled.
type ServiceBundleOptions struct {
	// ProviderMetrics instruments the Keycloak admin client when set
	ProviderMetrics *telemetry.ProviderMetrics
}

// ServiceBundle holds the database connection, provider client and identity
// manager shared by the server and CLI commands.
type ServiceBundle struct {
	Config   *config.Config
	Log      logrus.FieldLogger
	DB       *bun.DB
	Store    repository.Store
	Provider *keycloak.Client
	Identity *identity.Manager

	closers []func() error
}

// Close releases the event publisher and the database connection.
func (b *ServiceBundle) Close() {
	if b == nil {
		return
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.Log.WithError(err).Warn("close failed")
		}
	}
	b.closers = nil
}

// NewServiceBundle centralizes service construction for commands. It connects
// to the database, builds the Keycloak client and event sinks, and returns a
// ready-to-use identity manager.
func NewServiceBundle(cfg *config.Config, log logrus.FieldLogger, opts ServiceBundleOptions) (*ServiceBundle, error) {
	db, err := bunx.NewDB(cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.MaxDBConnections})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &ServiceBundle{
		Config:  cfg,
		Log:     log,
		DB:      db,
		Store:   repository.NewBunStore(db),
		closers: []func() error{func() error { return bunx.Close(db) }},
	}

	sink, err := newEventSink(cfg, log)
	if err != nil {
		b.Close()
		return nil, err
	}
	if closer, ok := sink.(interface{ Close() error }); ok {
		b.closers = append(b.closers, closer.Close)
	}

	b.Provider = keycloak.New(cfg.Keycloak, log, opts.ProviderMetrics)
	b.Identity = identity.NewManager(b.Store, b.Provider, identity.Options{
		DefaultCommissionRate:  cfg.Merchants.DefaultCommissionRate,
		AllowTerminalOverride:  cfg.Merchants.AllowTerminalOverride,
		CompensateRegistration: cfg.Identity.CompensateRegistration,
		Sink:                   sink,
		Logger:                 log,
	})
	return b, nil
}

// newEventSink always logs lifecycle events and also publishes them to Kafka
// when brokers are configured.
func newEventSink(cfg *config.Config, log logrus.FieldLogger) (events.Sink, error) {
	logSink := events.NewLogSink(log)
	if !cfg.Kafka.Enabled() {
		return logSink, nil
	}

	kafka, err := events.NewKafkaSink(cfg.Kafka, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	log.WithFields(logrus.Fields{"brokers": cfg.Kafka.Brokers, "topic": cfg.Kafka.Topic}).Info("publishing lifecycle events to kafka")
	return &closingSink{Sink: events.Multi(logSink, kafka), close: kafka.Close}, nil
}

type closingSink struct {
	events.Sink
	close func() error
}

func (s *closingSink) Close() error { return s.close() }
