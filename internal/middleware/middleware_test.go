package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/authz"
	"github.com/marketcore/gatekeeper/internal/keycloak/keycloaktest"
)

type verifierFunc func(r *http.Request) (*auth.Claims, error)

func (f verifierFunc) VerifyRequest(r *http.Request) (*auth.Claims, error) { return f(r) }

func staticVerifier(claims *auth.Claims) RequestVerifier {
	return verifierFunc(func(r *http.Request) (*auth.Claims, error) {
		if r.Header.Get("Authorization") == "" {
			return nil, apperr.ErrAuthenticationRequired
		}
		if claims == nil {
			return nil, apperr.ErrInvalidToken
		}
		return claims, nil
	})
}

func echoSubject(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		_, _ = w.Write([]byte("anonymous"))
		return
	}
	_, _ = w.Write([]byte(claims.Subject))
}

func serve(t *testing.T, h http.Handler, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAuthn_Required(t *testing.T) {
	logger, _ := test.NewNullLogger()
	claims := &auth.Claims{Subject: "sub-1"}

	h := NewAuthnMiddleware(staticVerifier(claims), AuthnOptions{Logger: logger})(http.HandlerFunc(echoSubject))
	rec := serve(t, h, "Bearer good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sub-1", rec.Body.String())

	rec = serve(t, h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, MsgAuthenticationRequired, decodeError(t, rec)["error"])

	bad := NewAuthnMiddleware(staticVerifier(nil), AuthnOptions{Logger: logger})(http.HandlerFunc(echoSubject))
	rec = serve(t, bad, "Bearer forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, MsgAuthenticationRequired, decodeError(t, rec)["error"], "invalid and missing tokens look the same")
}

func TestAuthn_Optional(t *testing.T) {
	h := NewOptionalAuthnMiddleware(staticVerifier(nil), AuthnOptions{})(http.HandlerFunc(echoSubject))

	assert.Equal(t, "anonymous", serve(t, h, "").Body.String())
	rec := serve(t, h, "Bearer expired")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	ok := NewOptionalAuthnMiddleware(staticVerifier(&auth.Claims{Subject: "sub-2"}), AuthnOptions{})(http.HandlerFunc(echoSubject))
	assert.Equal(t, "sub-2", serve(t, ok, "Bearer good").Body.String())
}

func TestRequire_DenyBodies(t *testing.T) {
	logger, _ := test.NewNullLogger()
	authorizer := NewAuthorizer(authz.NewEvaluator(50*time.Millisecond, logger), AuthzOptions{Logger: logger})

	resolverFor := func(owner string, err error) authz.OwnerResolver {
		return func(context.Context) (string, error) { return owner, err }
	}

	tests := []struct {
		name       string
		claims     *auth.Claims
		req        authz.Requirement
		wantStatus int
		wantError  string
	}{
		{"anonymous", nil, authz.RequireMerchant, http.StatusUnauthorized, MsgAuthenticationRequired},
		{"wrong group", &auth.Claims{Subject: "s", Groups: []string{"client"}}, authz.RequireMerchantOrOwner, http.StatusForbidden, MsgForbidden},
		{"slash-prefixed group", &auth.Claims{Subject: "s", Groups: []string{"/merchant"}}, authz.RequireMerchant, http.StatusOK, ""},
		{"missing resource", &auth.Claims{Subject: "s"}, authz.OwnerOr(auth.GroupOwner, resolverFor("", authz.ErrNoResource)), http.StatusNotFound, MsgNotFound},
		{"resolver failure", &auth.Claims{Subject: "s"}, authz.OwnerOr(auth.GroupOwner, resolverFor("", errors.New("db down"))), http.StatusInternalServerError, MsgInternal},
		{"owner", &auth.Claims{Subject: "s"}, authz.OwnerOr(auth.GroupOwner, resolverFor("s", nil)), http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := authorizer.Require(tt.req)(http.HandlerFunc(echoSubject))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.claims != nil {
				req = req.WithContext(auth.WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				body := decodeError(t, rec)
				assert.Equal(t, tt.wantError, body["error"])
				assert.NotContains(t, rec.Body.String(), "db down", "internal causes never leak")
			}
		})
	}
}

func TestRequire_ForbiddenEchoesCallerGroups(t *testing.T) {
	h := NewAuthorizer(nil, AuthzOptions{}).Require(authz.RequireOwner)(http.HandlerFunc(echoSubject))

	for _, groups := range [][]string{{"/client", "merchant"}, nil} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Subject: "s", Groups: groups}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusForbidden, rec.Code)
		var body struct {
			Error      string    `json:"error"`
			Message    string    `json:"message"`
			UserGroups *[]string `json:"userGroups"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, MsgForbidden, body.Error)
		assert.NotEmpty(t, body.Message)
		require.NotNil(t, body.UserGroups, "userGroups is always present")
		assert.NotContains(t, body.Message, "owner", "the satisfying group is not revealed")
	}
}

func TestRequire_InvalidRequirementPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewAuthorizer(nil, AuthzOptions{}).Require(authz.AnyGroup())
	})
}

// Owner resolvers read route parameters from the request context.
func TestRequire_OwnerResolverSeesRouteParams(t *testing.T) {
	kc := keycloaktest.NewServer(t, "marketplace")
	logger, _ := test.NewNullLogger()
	verifier, err := auth.NewVerifier(auth.VerifierConfig{JWKSURL: kc.JWKSURL(), Issuers: []string{kc.Issuer()}, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(verifier.Close)

	owners := map[string]string{"shop-1": "sub-alice"}
	resolver := func(ctx context.Context) (string, error) {
		owner, ok := owners[chi.URLParamFromCtx(ctx, "id")]
		if !ok {
			return "", authz.ErrNoResource
		}
		return owner, nil
	}

	r := chi.NewRouter()
	r.Use(NewAuthnMiddleware(verifier, AuthnOptions{Logger: logger}))
	r.With(NewAuthorizer(nil, AuthzOptions{Logger: logger}).Require(authz.OwnerOr(auth.GroupOwner, resolver))).
		Get("/shops/{id}", echoSubject)

	get := func(path, token string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	alice := kc.Token(t, keycloaktest.TokenOptions{Subject: "sub-alice"})
	bob := kc.Token(t, keycloaktest.TokenOptions{Subject: "sub-bob"})
	admin := kc.Token(t, keycloaktest.TokenOptions{Subject: "sub-admin", Groups: []string{"/owner"}})

	assert.Equal(t, http.StatusOK, get("/shops/shop-1", alice))
	assert.Equal(t, http.StatusForbidden, get("/shops/shop-1", bob))
	assert.Equal(t, http.StatusOK, get("/shops/shop-1", admin))
	assert.Equal(t, http.StatusNotFound, get("/shops/shop-9", bob))
	assert.Equal(t, http.StatusUnauthorized, get("/shops/shop-1", "not-a-jwt"))
}
