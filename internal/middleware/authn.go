package middleware

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/telemetry"
)

const authMethodBearer = "bearer"

// RequestVerifier verifies the credentials carried by a request.
// *auth.Verifier implements it.
type RequestVerifier interface {
	VerifyRequest(r *http.Request) (*auth.Claims, error)
}

// AuthnOptions bundles optional collaborators of the authentication middleware.
type AuthnOptions struct {
	Metrics *telemetry.AuthMetrics
	Logger  logrus.FieldLogger
}

func (o AuthnOptions) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

// NewAuthnMiddleware requires a valid bearer token and stores its claims in
// the request context. Missing, malformed, expired or untrusted tokens all
// get the same 401 body.
func NewAuthnMiddleware(v RequestVerifier, opts AuthnOptions) func(http.Handler) http.Handler {
	log := opts.logger().WithField("component", "middleware.authn")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			claims, err := v.VerifyRequest(r)
			if err != nil {
				opts.Metrics.RecordAuth(ctx, authMethodBearer, false)
				if !apperr.IsKind(err, apperr.KindAuthenticationRequired) {
					log.WithFields(logrus.Fields{
						"method": r.Method,
						"path":   r.URL.Path,
					}).Debug("bearer token rejected")
				}
				WriteError(w, http.StatusUnauthorized, MsgAuthenticationRequired)
				return
			}

			opts.Metrics.RecordAuth(ctx, authMethodBearer, true)
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(ctx, claims)))
		})
	}
}

// NewOptionalAuthnMiddleware attaches claims when the request carries a
// valid token and otherwise lets the request through anonymously.
func NewOptionalAuthnMiddleware(v RequestVerifier, opts AuthnOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.VerifyRequest(r)
			if err != nil {
				if !apperr.IsKind(err, apperr.KindAuthenticationRequired) {
					opts.Metrics.RecordAuth(r.Context(), authMethodBearer, false)
				}
				next.ServeHTTP(w, r)
				return
			}

			opts.Metrics.RecordAuth(r.Context(), authMethodBearer, true)
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}
