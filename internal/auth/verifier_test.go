package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/keycloak/keycloaktest"
)

const realm = "marketplace"

func newVerifier(t *testing.T, kc *keycloaktest.Server, extraIssuers ...string) *auth.Verifier {
	t.Helper()
	logger, _ := test.NewNullLogger()
	v, err := auth.NewVerifier(auth.VerifierConfig{
		JWKSURL:          kc.JWKSURL(),
		Issuers:          append([]string{kc.Issuer()}, extraIssuers...),
		RefreshRateLimit: 10 * time.Millisecond,
		RequestTimeout:   2 * time.Second,
		Logger:           logger,
	})
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

func TestVerifier_ValidToken(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	v := newVerifier(t, kc)

	raw := kc.Token(t, keycloaktest.TokenOptions{
		Subject: "sub-1",
		Email:   "a@x.com",
		Name:    "Alice Rakoto",
		Groups:  []string{"/client", "merchant"},
		Roles:   []string{"offline_access"},
	})

	claims, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", claims.Subject)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, "Alice Rakoto", claims.Name)
	assert.Equal(t, []string{"/client", "merchant"}, claims.Groups)
	assert.Equal(t, []string{"offline_access"}, claims.Roles)
	assert.Equal(t, kc.Issuer(), claims.Issuer)
	assert.True(t, claims.HasGroup("client"))
	assert.True(t, claims.HasGroup("/merchant"))
}

func TestVerifier_MissingGroupsAndRolesDefaultEmpty(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	v := newVerifier(t, kc)

	claims, err := v.Verify(context.Background(), kc.Token(t, keycloaktest.TokenOptions{Subject: "sub-2"}))
	require.NoError(t, err)
	assert.NotNil(t, claims.Groups)
	assert.Empty(t, claims.Groups)
	assert.NotNil(t, claims.Roles)
	assert.Empty(t, claims.Roles)
}

func TestVerifier_AcceptsEveryConfiguredIssuer(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	external := "http://192.168.226.128:8081/realms/" + realm
	v := newVerifier(t, kc, external)

	for _, iss := range []string{kc.Issuer(), external} {
		_, err := v.Verify(context.Background(), kc.Token(t, keycloaktest.TokenOptions{Issuer: iss}))
		assert.NoError(t, err, iss)
	}
}

// Tokens with a valid signature and expiry but a foreign issuer are rejected
// with the same generic error as any other failure. Issuers must match a
// configured value exactly.
func TestVerifier_RejectsUnacceptedIssuer(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	v := newVerifier(t, kc)

	for _, iss := range []string{
		"https://evil.example.com/realms/" + realm,
		kc.URL + "/realms/other",
		kc.Issuer() + "/",
		"",
	} {
		_, err := v.Verify(context.Background(), kc.Token(t, keycloaktest.TokenOptions{Issuer: iss, Extra: map[string]any{"iss": iss}}))
		require.Error(t, err, iss)
		assert.ErrorIs(t, err, apperr.ErrInvalidToken)
		assert.Equal(t, "auth.Verify: invalid token", err.Error())
	}
}

func TestVerifier_GenericFailures(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	v := newVerifier(t, kc)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	valid := kc.Token(t, keycloaktest.TokenOptions{})
	parts := strings.Split(valid, ".")

	tests := []struct {
		name  string
		token string
	}{
		{name: "expired", token: kc.Token(t, keycloaktest.TokenOptions{ExpiresIn: -time.Minute})},
		{name: "foreign key same kid", token: kc.Token(t, keycloaktest.TokenOptions{Key: otherKey})},
		{name: "unknown kid", token: kc.Token(t, keycloaktest.TokenOptions{Key: otherKey, KeyID: "nope"})},
		{name: "malformed", token: "not-a-jwt"},
		{name: "two segments", token: parts[0] + "." + parts[1]},
		{name: "tampered payload", token: parts[0] + "." + parts[1] + "x." + parts[2]},
		{name: "alg none", token: "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." + parts[1] + "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(context.Background(), tt.token)
			assert.Nil(t, claims)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrInvalidToken)
			assert.Equal(t, "auth.Verify: invalid token", err.Error(), "failure cause must not leak")
		})
	}
}

func TestVerifier_EmptyTokenRequiresAuthentication(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	v := newVerifier(t, kc)

	_, err := v.Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, apperr.ErrAuthenticationRequired)
	assert.Zero(t, kc.CertsHits(), "no key fetch for an absent token")
}

func TestVerifier_OptionalVerify(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	v := newVerifier(t, kc)

	assert.Nil(t, v.OptionalVerify(context.Background(), ""))
	assert.Nil(t, v.OptionalVerify(context.Background(), "garbage"))

	claims := v.OptionalVerify(context.Background(), kc.Token(t, keycloaktest.TokenOptions{Subject: "anon-ok"}))
	require.NotNil(t, claims)
	assert.Equal(t, "anon-ok", claims.Subject)
}

func TestVerifier_ProviderDownFailsClosed(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	token := kc.Token(t, keycloaktest.TokenOptions{})
	kc.AddFault(keycloaktest.Fault{PathContains: "/certs", Status: http.StatusServiceUnavailable})
	v := newVerifier(t, kc)

	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)

	// Keys load once the provider recovers
	kc.ClearFaults()
	_, err = v.Verify(context.Background(), token)
	assert.NoError(t, err)
}

func TestVerifier_RefreshesOnKeyRotation(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	v := newVerifier(t, kc)

	_, err := v.Verify(context.Background(), kc.Token(t, keycloaktest.TokenOptions{}))
	require.NoError(t, err)
	hits := kc.CertsHits()

	kc.RotateKey(t)
	time.Sleep(20 * time.Millisecond) // past the refresh rate limit

	_, err = v.Verify(context.Background(), kc.Token(t, keycloaktest.TokenOptions{}))
	require.NoError(t, err)
	assert.Greater(t, kc.CertsHits(), hits)
}

func TestVerifier_ConcurrentFirstUseFetchesOnce(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	v := newVerifier(t, kc)
	token := kc.Token(t, keycloaktest.TokenOptions{})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(context.Background(), token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, kc.CertsHits())
}

func TestVerifier_VerifyRequest(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	v := newVerifier(t, kc)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := v.VerifyRequest(req)
	assert.ErrorIs(t, err, apperr.ErrAuthenticationRequired)

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = v.VerifyRequest(req)
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)

	req.Header.Set("Authorization", "Bearer "+kc.Token(t, keycloaktest.TokenOptions{Subject: "req-sub"}))
	claims, err := v.VerifyRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "req-sub", claims.Subject)
}

func TestNewVerifier_Validation(t *testing.T) {
	_, err := auth.NewVerifier(auth.VerifierConfig{Issuers: []string{"x"}})
	assert.Error(t, err)

	_, err = auth.NewVerifier(auth.VerifierConfig{JWKSURL: "http://x", Issuers: []string{" "}})
	assert.Error(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	v, err := auth.NewVerifier(auth.VerifierConfig{JWKSURL: "http://x", Issuers: []string{"a", "b"}, Logger: logger})
	require.NoError(t, err)
	defer v.Close()
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "multiple issuers")
}
