package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/marketcore/gatekeeper/cmd/cmdutil"
	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/authz"
	"github.com/marketcore/gatekeeper/internal/server"
	"github.com/marketcore/gatekeeper/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Gatekeeper HTTP server",
	Long:  `Starts the HTTP server exposing registration, merchant onboarding and admin sync endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(flushCtx); err != nil {
				logger.WithError(err).Warn("telemetry shutdown failed")
			}
		}()

		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("failed to create server metrics: %w", err)
		}
		providerMetrics, err := telemetry.NewProviderMetrics()
		if err != nil {
			return fmt.Errorf("failed to create provider metrics: %w", err)
		}
		authMetrics, err := telemetry.NewAuthMetrics()
		if err != nil {
			return fmt.Errorf("failed to create auth metrics: %w", err)
		}

		bundle, err := cmdutil.NewServiceBundle(cfg, logger, cmdutil.ServiceBundleOptions{
			ProviderMetrics: providerMetrics,
		})
		if err != nil {
			return err
		}
		defer bundle.Close()
		logger.WithField("database", bundle.DB.Dialect().Name().String()).Info("connected to database")

		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			JWKSURL:          cfg.Keycloak.JWKSURL(),
			Issuers:          cfg.Keycloak.Issuers(),
			RefreshInterval:  cfg.Keycloak.JWKSCacheTTL,
			RefreshRateLimit: cfg.Keycloak.JWKSRefreshRateLimit(),
			RequestTimeout:   cfg.Keycloak.RequestTimeout,
			Logger:           logger,
		})
		if err != nil {
			return fmt.Errorf("failed to configure token verifier: %w", err)
		}
		defer verifier.Close()

		r := server.NewRouter(server.RouterOptions{
			Identity:        bundle.Identity,
			Verifier:        verifier,
			Evaluator:       authz.NewEvaluator(cfg.Authz.ResolverTimeout, logger),
			PrivilegedGroup: cfg.Authz.PrivilegedGroup,
			Keycloak:        &cfg.Keycloak,
			GroupCache:      bundle.Provider,
			Logger:          logger,
			AuthMetrics:     authMetrics,
			ServerMetrics:   serverMetrics,
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.WithFields(logrus.Fields{
				"addr":  cfg.ServerAddr,
				"realm": cfg.Keycloak.Realm,
			}).Info("starting server")
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		// SIGHUP drops cached group ids after groups are recreated in Keycloak
		cacheRefresh := make(chan os.Signal, 1)
		signal.Notify(cacheRefresh, syscall.SIGHUP)
		defer signal.Stop(cacheRefresh)

		for {
			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-cacheRefresh:
				purged := bundle.Provider.PurgeGroupCache()
				logger.WithFields(logrus.Fields{"signal": sig.String(), "purged": purged}).Info("group cache refreshed")

			case sig := <-shutdown:
				logger.WithField("signal", sig.String()).Info("shutting down gracefully")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					_ = srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				logger.Info("server stopped")
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
