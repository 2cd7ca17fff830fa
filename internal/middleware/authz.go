package middleware

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/authz"
	"github.com/marketcore/gatekeeper/internal/telemetry"
)

// Evaluator decides capability requirements. *authz.Evaluator implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, claims *auth.Claims, req authz.Requirement) authz.Decision
}

// AuthzOptions bundles optional collaborators of the capability middleware.
type AuthzOptions struct {
	Metrics *telemetry.AuthMetrics
	Logger  logrus.FieldLogger
}

// Authorizer builds per-route capability middleware around one evaluator.
type Authorizer struct {
	eval    Evaluator
	metrics *telemetry.AuthMetrics
	log     logrus.FieldLogger
}

// NewAuthorizer returns an Authorizer. A nil evaluator uses authz defaults.
func NewAuthorizer(eval Evaluator, opts AuthzOptions) *Authorizer {
	if eval == nil {
		eval = &authz.Evaluator{}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Authorizer{eval: eval, metrics: opts.Metrics, log: log.WithField("component", "middleware.authz")}
}

// Require enforces req against the claims placed in the context by the
// authentication middleware. Invalid requirements panic at route setup.
func (a *Authorizer) Require(req authz.Requirement) func(http.Handler) http.Handler {
	if err := req.Validate(); err != nil {
		panic("middleware: " + err.Error())
	}
	name := req.String()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims, _ := auth.ClaimsFromContext(ctx)

			decision := a.eval.Evaluate(ctx, claims, req)
			if decision.Allowed {
				a.metrics.RecordDecision(ctx, name, "allow")
				next.ServeHTTP(w, r)
				return
			}

			a.metrics.RecordDecision(ctx, name, string(decision.Deny.Kind))
			entry := a.log.WithFields(logrus.Fields{
				"requirement": name,
				"deny":        string(decision.Deny.Kind),
				"reason":      decision.Deny.Reason,
				"path":        r.URL.Path,
			})
			if claims != nil {
				entry = entry.WithField("subject", claims.Subject)
			}
			entry.Debug("request denied")

			WriteDeny(w, decision.Deny)
		})
	}
}
