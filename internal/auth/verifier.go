package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"

	"github.com/marketcore/gatekeeper/internal/apperr"
)

const defaultGroupsClaim = "groups"

// VerifierConfig configures token verification against a realm key set.
type VerifierConfig struct {
	// JWKSURL is the realm's openid-connect/certs endpoint
	JWKSURL string

	// Issuers lists every accepted iss value. More than one is expected:
	// the same realm is reachable under an internal and an external hostname
	// and tokens carry whichever the client used.
	Issuers []string

	// Audience is checked when non-empty
	Audience string

	// GroupsClaim names the claim carrying group memberships (default "groups")
	GroupsClaim string

	// RefreshInterval is the key cache lifetime (default 24h)
	RefreshInterval time.Duration

	// RefreshRateLimit is the minimum spacing between key-set fetches
	// triggered by unknown key ids (default 6s, i.e. 10 per minute)
	RefreshRateLimit time.Duration

	// RequestTimeout bounds each key-set fetch (default 10s)
	RequestTimeout time.Duration

	// Leeway tolerates clock skew on exp/nbf/iat
	Leeway time.Duration

	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Verifier validates RS256 bearer tokens issued by the identity provider.
// It is safe for concurrent use. Keys are fetched on first use.
type Verifier struct {
	cfg     VerifierConfig
	issuers map[string]struct{}
	parser  *jwt.Parser
	log     logrus.FieldLogger

	// bgCtx scopes the key refresh goroutine; cancelled by Close
	bgCtx    context.Context
	bgCancel context.CancelFunc

	mu   sync.Mutex
	jwks atomic.Pointer[keyfunc.JWKS]
}

// NewVerifier validates cfg and returns a Verifier. No network I/O happens
// until the first token is verified.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}
	if len(cfg.Issuers) == 0 {
		return nil, fmt.Errorf("at least one accepted issuer is required")
	}
	if cfg.GroupsClaim == "" {
		cfg.GroupsClaim = defaultGroupsClaim
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 24 * time.Hour
	}
	if cfg.RefreshRateLimit <= 0 {
		cfg.RefreshRateLimit = time.Minute / 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	issuers := make(map[string]struct{}, len(cfg.Issuers))
	for _, iss := range cfg.Issuers {
		iss = strings.TrimRight(strings.TrimSpace(iss), "/")
		if iss != "" {
			issuers[iss] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("at least one accepted issuer is required")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	v := &Verifier{
		cfg:      cfg,
		issuers:  issuers,
		parser:   jwt.NewParser(parserOpts...),
		log:      cfg.Logger.WithField("component", "token-verifier"),
		bgCtx:    bgCtx,
		bgCancel: cancel,
	}

	if len(issuers) > 1 {
		v.log.WithField("issuers", cfg.Issuers).Info("accepting tokens from multiple issuers for one realm")
	}
	return v, nil
}

// Verify validates raw and returns its claims. Every failure is reported as
// apperr.ErrInvalidToken; the cause is only logged. An empty token yields
// apperr.ErrAuthenticationRequired.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	const op = "auth.Verify"

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperr.ErrAuthenticationRequired
	}

	claims, err := v.verify(ctx, raw)
	if err != nil {
		v.log.WithError(err).Debug("token rejected")
		return nil, &apperr.Error{Kind: apperr.KindInvalidToken, Op: op, Message: "invalid token"}
	}
	return claims, nil
}

// OptionalVerify performs the same checks as Verify but returns nil instead
// of an error, for endpoints that serve anonymous callers too.
func (v *Verifier) OptionalVerify(ctx context.Context, raw string) *Claims {
	claims, err := v.Verify(ctx, raw)
	if err != nil {
		return nil
	}
	return claims
}

// VerifyRequest extracts the bearer token from the Authorization header and
// verifies it. A missing header yields apperr.ErrAuthenticationRequired.
func (v *Verifier) VerifyRequest(r *http.Request) (*Claims, error) {
	token, err := BearerToken(r)
	if err != nil {
		return nil, err
	}
	return v.Verify(r.Context(), token)
}

// BearerToken returns the bearer credential of r. A missing header yields
// apperr.ErrAuthenticationRequired, a malformed one apperr.ErrInvalidToken.
func BearerToken(r *http.Request) (string, error) {
	if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
		return "", apperr.ErrAuthenticationRequired
	}
	tokenStrings := [][]options.TokenStringOption{
		{}, // Default: Authorization header with Bearer prefix
	}
	token, err := oidctoken.GetTokenString(r.Header.Get, tokenStrings)
	if err != nil || token == "" {
		return "", apperr.ErrInvalidToken
	}
	return token, nil
}

func (v *Verifier) verify(ctx context.Context, raw string) (*Claims, error) {
	if strings.Count(raw, ".") != 2 {
		return nil, errors.New("token is not a compact JWS")
	}

	jwks, err := v.keySet(ctx)
	if err != nil {
		return nil, err
	}

	mapClaims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, mapClaims, jwks.Keyfunc); err != nil {
		return nil, err
	}

	iss, err := mapClaims.GetIssuer()
	if err != nil {
		return nil, fmt.Errorf("read issuer: %w", err)
	}
	if _, ok := v.issuers[iss]; !ok {
		return nil, fmt.Errorf("issuer %q not accepted", iss)
	}

	return ClaimsFromMap(mapClaims, v.cfg.GroupsClaim)
}

// keySet returns the cached key set, fetching it on first use. Concurrent
// first callers wait on the same fetch; afterwards reads are lock-free and
// keyfunc refreshes keys in the background and on unknown kids.
func (v *Verifier) keySet(ctx context.Context) (*keyfunc.JWKS, error) {
	if jwks := v.jwks.Load(); jwks != nil {
		return jwks, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if jwks := v.jwks.Load(); jwks != nil {
		return jwks, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jwks, err := keyfunc.Get(v.cfg.JWKSURL, keyfunc.Options{
		Ctx:               v.bgCtx,
		Client:            v.cfg.HTTPClient,
		RefreshInterval:   v.cfg.RefreshInterval,
		RefreshRateLimit:  v.cfg.RefreshRateLimit,
		RefreshTimeout:    v.cfg.RequestTimeout,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			v.log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "auth.keySet", err)
	}

	v.log.WithField("kids", len(jwks.KIDs())).Debug("jwks loaded")
	v.jwks.Store(jwks)
	return jwks, nil
}

// Close stops background key refresh.
func (v *Verifier) Close() {
	v.bgCancel()
	if jwks := v.jwks.Load(); jwks != nil {
		jwks.EndBackground()
	}
}
