package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/authz"
	"github.com/marketcore/gatekeeper/internal/config"
	"github.com/marketcore/gatekeeper/internal/middleware"
	"github.com/marketcore/gatekeeper/internal/services/identity"
	"github.com/marketcore/gatekeeper/internal/telemetry"
)

// RouterOptions controls the construction of the HTTP router.
// The zero value is valid; sensible defaults are applied where fields are not set.
type RouterOptions struct {
	Identity identity.Service
	Verifier middleware.RequestVerifier
	// Evaluator decides capability requirements (default authz.Evaluator)
	Evaluator middleware.Evaluator
	// PrivilegedGroup bypasses ownership checks (default "owner")
	PrivilegedGroup string
	// Keycloak enables GET /auth/config when set
	Keycloak *config.KeycloakConfig
	// GroupCache enables POST /admin/cache/refresh when set
	GroupCache GroupCache

	Logger        logrus.FieldLogger
	AuthMetrics   *telemetry.AuthMetrics
	ServerMetrics *telemetry.ServerMetrics

	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
	ExtraRoutes   func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, and
// the identity handlers mounted. The router can be tailored via RouterOptions
// for CLI usage, tests, or other entrypoints.
func NewRouter(opts RouterOptions) chi.Router {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.PrivilegedGroup == "" {
		opts.PrivilegedGroup = auth.GroupOwner
	}

	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	if opts.ServerMetrics != nil {
		r.Use(requestMetrics(opts.ServerMetrics))
	}

	// Apply custom middleware passed from the caller.
	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	if opts.Keycloak != nil {
		r.Get("/auth/config", HandleAuthConfig(*opts.Keycloak))
	}

	if opts.Identity != nil {
		r.Post("/auth/register/client", HandleRegisterClient(opts.Identity, log))
		r.Post("/auth/register/merchant", HandleRegisterMerchant(opts.Identity, log))
	}

	if opts.Verifier == nil {
		log.Warn("no token verifier configured; skipping authenticated routes")
	} else {
		mountAuthenticated(r, opts, log)
	}

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r
}

func mountAuthenticated(r chi.Router, opts RouterOptions, log logrus.FieldLogger) {
	authnOpts := middleware.AuthnOptions{Metrics: opts.AuthMetrics, Logger: log}
	authorizer := middleware.NewAuthorizer(opts.Evaluator, middleware.AuthzOptions{Metrics: opts.AuthMetrics, Logger: log})

	r.With(middleware.NewOptionalAuthnMiddleware(opts.Verifier, authnOpts)).
		Get("/api/auth/whoami", HandleWhoAmI())

	if opts.Identity == nil {
		log.Warn("no identity service configured; skipping merchant routes")
		return
	}
	svc := opts.Identity
	requireOwner := authz.Group(opts.PrivilegedGroup)
	merchantOwner := authz.OwnerOr(opts.PrivilegedGroup, func(ctx context.Context) (string, error) {
		return svc.MerchantOwner(ctx, chi.URLParamFromCtx(ctx, "userID"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthnMiddleware(opts.Verifier, authnOpts))

		r.Post("/merchants", HandleUpgradeToMerchant(svc, opts.PrivilegedGroup, log))
		r.With(authorizer.Require(requireOwner)).Get("/merchants/admin/pending", HandleListPending(svc, log))
		r.With(authorizer.Require(merchantOwner)).Get("/merchants/{userID}", HandleGetMerchant(svc, log))
		r.With(authorizer.Require(requireOwner)).Put("/merchants/{userID}/status", HandleUpdateMerchantStatus(svc, log))
		r.With(authorizer.Require(requireOwner)).Post("/admin/sync/reconcile", HandleReconcile(svc, log))
		if opts.GroupCache != nil {
			r.With(authorizer.Require(requireOwner)).Post("/admin/cache/refresh", HandleCacheRefresh(opts.GroupCache, log))
		}
	})
}

func requestMetrics(m *telemetry.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.RecordRequest(r.Context(), r.Method, route, strconv.Itoa(status), float64(time.Since(start).Microseconds())/1000)
		})
	}
}
