package keycloak

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/keycloak/keycloaktest"
)

func TestSession_ReauthenticatesOnceAfterExpiry(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	c := newTestClient(t, kc, 2*time.Second)
	ctx := context.Background()

	_, err := c.FindGroupID(ctx, "client")
	require.NoError(t, err)
	require.Equal(t, 1, kc.AdminLogins())

	kc.ExpireAdminSessions()

	_, err = c.FindUserByEmail(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "the retried call runs to completion")
	assert.Equal(t, 2, kc.AdminLogins())
}

func TestSession_SecondRejectionIsFatal(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	c := newTestClient(t, kc, 2*time.Second)
	kc.AddFault(keycloaktest.Fault{PathContains: "/admin/realms/", Status: http.StatusUnauthorized, Count: 2})

	_, err := c.FindUserByEmail(context.Background(), "a@x.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrFatal)
	assert.Equal(t, 2, kc.AdminLogins(), "exactly one re-login, no further retries")
	assert.Equal(t, 2, countRequests(kc, "GET /admin/realms/"+realm+"/users"))
}

func TestSession_RejectedAdminCredentialsAreFatal(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	logger, _ := test.NewNullLogger()
	s := NewSession(gocloak.NewClient(kc.URL), SessionConfig{
		Username: "admin",
		Password: "wrong",
		Logger:   logger,
	})

	_, err := s.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrFatal)
}

func TestSession_RefreshesNearExpiry(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	logger, _ := test.NewNullLogger()

	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	s := NewSession(gocloak.NewClient(kc.URL), SessionConfig{
		Username: keycloaktest.AdminUsername,
		Password: keycloaktest.AdminPassword,
		Logger:   logger,
		Now:      clock,
	})
	ctx := context.Background()

	first, err := s.Token(ctx)
	require.NoError(t, err)
	again, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, kc.AdminLogins())

	// Token TTL is one minute; within 30s of expiry a new one is fetched
	mu.Lock()
	now = now.Add(45 * time.Second)
	mu.Unlock()

	refreshed, err := s.Token(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, refreshed)
	assert.Equal(t, 2, kc.AdminLogins())
}

func TestSession_InvalidateForcesLogin(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	logger, _ := test.NewNullLogger()
	s := NewSession(gocloak.NewClient(kc.URL), SessionConfig{
		Username: keycloaktest.AdminUsername,
		Password: keycloaktest.AdminPassword,
		Logger:   logger,
	})

	_, err := s.Token(context.Background())
	require.NoError(t, err)
	s.Invalidate()
	_, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, kc.AdminLogins())
}

func TestSession_DoPassesThroughOtherErrors(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	logger, _ := test.NewNullLogger()
	s := NewSession(gocloak.NewClient(kc.URL), SessionConfig{
		Username: keycloaktest.AdminUsername,
		Password: keycloaktest.AdminPassword,
		Logger:   logger,
	})

	calls := 0
	sentinel := apperr.New(apperr.KindConflict, "test", "nope")
	err := s.Do(context.Background(), func(ctx context.Context, token string) error {
		calls++
		assert.NotEmpty(t, token)
		return sentinel
	})
	assert.Same(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestSession_LoginUnavailable(t *testing.T) {
	kc := keycloaktest.NewServer(t, realm)
	kc.AddFault(keycloaktest.Fault{PathContains: "/openid-connect/token", Status: http.StatusServiceUnavailable})
	logger, _ := test.NewNullLogger()
	s := NewSession(gocloak.NewClient(kc.URL), SessionConfig{
		Username: keycloaktest.AdminUsername,
		Password: keycloaktest.AdminPassword,
		Logger:   logger,
	})

	err := s.Do(context.Background(), func(context.Context, string) error {
		t.Fatal("op must not run without a session")
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}
