package authz

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/auth"
)

func claimsWith(subject string, groups ...string) *auth.Claims {
	return &auth.Claims{Subject: subject, Email: subject + "@example.com", Groups: groups, Roles: []string{}}
}

func staticOwner(owner string) OwnerResolver {
	return func(context.Context) (string, error) { return owner, nil }
}

func TestEvaluate_NilClaims(t *testing.T) {
	d := Evaluate(context.Background(), nil, RequireClient)
	require.False(t, d.Allowed)
	assert.Equal(t, DenyAuthenticationRequired, d.Deny.Kind)
	assert.ErrorIs(t, d.Err(), apperr.ErrAuthenticationRequired)

	d = Evaluate(context.Background(), nil, RequireClient.AllowAnonymous())
	assert.True(t, d.Allowed)
	assert.NoError(t, d.Err())
	assert.False(t, RequireClient.Anonymous(), "AllowAnonymous must not mutate the preset")
}

// Normalization is applied to both the requirement and the claim side.
func TestEvaluate_GroupNormalizationIsBidirectional(t *testing.T) {
	tests := []struct {
		name     string
		claim    string
		required string
	}{
		{"bare claim, slashed requirement", "owner", "/owner"},
		{"slashed claim, bare requirement", "/owner", "owner"},
		{"both slashed", "/owner", "/owner"},
		{"both bare", "owner", "owner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := claimsWith("u", tt.claim)
			assert.True(t, Evaluate(context.Background(), c, Group(tt.required)).Allowed)
			assert.True(t, Evaluate(context.Background(), c, AnyGroup("client", tt.required)).Allowed)
			assert.True(t, Evaluate(context.Background(), c, OwnerOr(tt.required, staticOwner("someone-else"))).Allowed)
		})
	}
}

func TestEvaluate_Group(t *testing.T) {
	d := Evaluate(context.Background(), claimsWith("u", "/client"), RequireMerchant)
	require.False(t, d.Allowed)
	assert.Equal(t, DenyPermissionDenied, d.Deny.Kind)
	assert.Equal(t, []string{"/client"}, d.Deny.Groups, "deny echoes the caller's own groups")
	assert.NotContains(t, d.Deny.Message, "merchant", "deny must not reveal the required group")
	assert.ErrorIs(t, d.Err(), apperr.ErrPermissionDenied)

	assert.True(t, Evaluate(context.Background(), claimsWith("u", "/merchant"), RequireMerchant).Allowed)
	assert.False(t, Evaluate(context.Background(), claimsWith("u"), RequireClient).Allowed)
}

func TestEvaluate_AnyGroup(t *testing.T) {
	assert.True(t, Evaluate(context.Background(), claimsWith("u", "/merchant"), RequireMerchantOrOwner).Allowed)
	assert.True(t, Evaluate(context.Background(), claimsWith("u", "owner"), RequireMerchantOrOwner).Allowed)
	assert.False(t, Evaluate(context.Background(), claimsWith("u", "/client"), RequireMerchantOrOwner).Allowed)
}

func TestEvaluate_OwnerOrPrivileged(t *testing.T) {
	var calls atomic.Int32
	resolver := func(context.Context) (string, error) {
		calls.Add(1)
		return "owner-sub", nil
	}
	req := OwnerOr(auth.GroupOwner, resolver)

	t.Run("stranger is denied", func(t *testing.T) {
		d := Evaluate(context.Background(), claimsWith("stranger", "/client", "/merchant"), req)
		require.False(t, d.Allowed)
		assert.Equal(t, DenyPermissionDenied, d.Deny.Kind)
	})

	t.Run("owner is allowed", func(t *testing.T) {
		assert.True(t, Evaluate(context.Background(), claimsWith("owner-sub", "/client"), req).Allowed)
	})

	t.Run("privileged caller skips the resolver", func(t *testing.T) {
		before := calls.Load()
		assert.True(t, Evaluate(context.Background(), claimsWith("admin", "/owner"), req).Allowed)
		assert.Equal(t, before, calls.Load())
	})
}

func TestEvaluate_OwnerResolution(t *testing.T) {
	c := claimsWith("u", "/client")

	t.Run("missing resource is not found", func(t *testing.T) {
		d := Evaluate(context.Background(), c, OwnerOr("owner", func(context.Context) (string, error) {
			return "", ErrNoResource
		}))
		require.False(t, d.Allowed)
		assert.Equal(t, DenyNotFound, d.Deny.Kind)
		assert.ErrorIs(t, d.Err(), apperr.ErrNotFound)
	})

	t.Run("classified not found", func(t *testing.T) {
		d := Evaluate(context.Background(), c, OwnerOr("owner", func(context.Context) (string, error) {
			return "", apperr.New(apperr.KindNotFound, "products.Get", "no product")
		}))
		assert.Equal(t, DenyNotFound, d.Deny.Kind)
	})

	t.Run("resolver failure is not permission denied", func(t *testing.T) {
		d := Evaluate(context.Background(), c, OwnerOr("owner", func(context.Context) (string, error) {
			return "", errors.New("connection refused")
		}))
		require.False(t, d.Allowed)
		assert.Equal(t, DenyResolverError, d.Deny.Kind)
		assert.NotContains(t, d.Deny.Message, "connection refused")
		assert.ErrorIs(t, d.Err(), apperr.ErrFatal)
	})

	t.Run("empty owner never matches", func(t *testing.T) {
		d := Evaluate(context.Background(), &auth.Claims{Subject: ""}, OwnerOr("owner", staticOwner("")))
		assert.False(t, d.Allowed)
	})

	t.Run("resolver is bounded by timeout", func(t *testing.T) {
		e := NewEvaluator(20*time.Millisecond, nil)
		start := time.Now()
		d := e.Evaluate(context.Background(), c, OwnerOr("owner", func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}))
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, DenyResolverError, d.Deny.Kind)
	})
}

func TestEvaluate_Expression(t *testing.T) {
	req := Expression(`"merchant" in groups and email == "shop@example.com"`)
	require.NoError(t, req.Validate())

	assert.True(t, Evaluate(context.Background(), claimsWith("shop", "/merchant"), req).Allowed)
	assert.False(t, Evaluate(context.Background(), claimsWith("other", "/merchant"), req).Allowed)

	bad := Expression("groups contains ((")
	assert.Error(t, bad.Validate())
	assert.False(t, Evaluate(context.Background(), claimsWith("shop", "/merchant"), bad).Allowed)
}

func TestRequirement_Validate(t *testing.T) {
	assert.NoError(t, RequireOwner.Validate())
	assert.NoError(t, RequireMerchantOrOwner.Validate())
	assert.Error(t, Group("/").Validate())
	assert.Error(t, AnyGroup().Validate())
	assert.Error(t, OwnerOr("owner", nil).Validate())
	assert.Error(t, Requirement{}.Validate())

	assert.False(t, Evaluate(context.Background(), claimsWith("u", "owner"), Requirement{}).Allowed)
}
