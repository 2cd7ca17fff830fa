// Package keycloak wraps the Keycloak admin REST API used by the identity
// lifecycle manager: an expiring admin session with one-shot re-login, and a
// small client for users and groups.
package keycloak

import (
	"context"
	"sync"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/telemetry"
)

// refreshSkew re-logs in this long before the admin token expires.
const refreshSkew = 30 * time.Second

// SessionConfig configures the admin session.
type SessionConfig struct {
	AdminRealm     string
	Username       string
	Password       string
	RequestTimeout time.Duration
	Logger         logrus.FieldLogger
	Metrics        *telemetry.ProviderMetrics
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Session holds an admin access token and its expiry. It is safe for
// concurrent use; concurrent logins collapse into one request.
type Session struct {
	gc  *gocloak.GoCloak
	cfg SessionConfig
	log logrus.FieldLogger

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	logins singleflight.Group
}

// NewSession creates a session that authenticates against cfg.AdminRealm
// with the password grant. No login happens until the first call.
func NewSession(gc *gocloak.GoCloak, cfg SessionConfig) *Session {
	if cfg.AdminRealm == "" {
		cfg.AdminRealm = "master"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{gc: gc, cfg: cfg, log: log.WithField("component", "keycloak.session")}
}

// Token returns a valid admin token, logging in when none is held or the
// held one expires within 30 seconds.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && s.cfg.Now().Add(refreshSkew).Before(s.expiresAt) {
		token := s.token
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	ch := s.logins.DoChan("login", func() (any, error) {
		// Detached from the first caller so one cancelled request does not
		// fail the login for every waiter.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RequestTimeout)
		defer cancel()
		return s.login(lctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", classify(ctx, "keycloak.Login", ctx.Err())
	}
}

func (s *Session) login(ctx context.Context) (string, error) {
	jwt, err := s.gc.LoginAdmin(ctx, s.cfg.Username, s.cfg.Password, s.cfg.AdminRealm)
	if err != nil {
		if code, ok := statusOf(err); ok && (code == 400 || code == 401) {
			s.log.WithError(err).Error("admin credentials rejected")
			return "", apperr.Wrapf(apperr.KindFatal, "keycloak.Login", err, "admin credentials rejected")
		}
		return "", classify(ctx, "keycloak.Login", err)
	}

	expiresAt := s.cfg.Now().Add(time.Duration(jwt.ExpiresIn) * time.Second)
	s.mu.Lock()
	s.token = jwt.AccessToken
	s.expiresAt = expiresAt
	s.mu.Unlock()

	s.log.WithField("expires_at", expiresAt.Format(time.RFC3339)).Debug("admin session established")
	return jwt.AccessToken, nil
}

// Invalidate drops the held token so the next call logs in again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

// invalidateIf drops the held token only if it is still the one that was
// rejected, so a token refreshed by a concurrent caller survives.
func (s *Session) invalidateIf(token string) {
	s.mu.Lock()
	if s.token == token {
		s.token = ""
		s.expiresAt = time.Time{}
	}
	s.mu.Unlock()
}

// Do runs op with a valid admin token under the request timeout. If the
// provider rejects the token, Do logs in again and retries op exactly once;
// a second rejection is fatal. Other op errors are returned unchanged.
func (s *Session) Do(ctx context.Context, op func(ctx context.Context, token string) error) error {
	token, err := s.Token(ctx)
	if err != nil {
		return err
	}

	err = s.call(ctx, token, op)
	if !isUnauthorized(err) {
		return err
	}

	s.log.Info("admin token rejected, re-authenticating")
	s.cfg.Metrics.RecordRelogin(ctx)
	s.invalidateIf(token)

	token, err = s.Token(ctx)
	if err != nil {
		return err
	}
	err = s.call(ctx, token, op)
	if isUnauthorized(err) {
		s.invalidateIf(token)
		return apperr.Wrapf(apperr.KindFatal, "keycloak.Session", err, "admin session rejected after re-authentication")
	}
	return err
}

func (s *Session) call(ctx context.Context, token string, op func(context.Context, string) error) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	err := op(cctx, token)
	if err != nil && cctx.Err() != nil {
		return classify(cctx, "keycloak.Session", err)
	}
	return err
}
