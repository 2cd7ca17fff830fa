package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelOfSameKind(t *testing.T) {
	err := Wrap(KindIdentityConflict, "keycloak.CreateUser", errors.New("409 Conflict"))

	assert.ErrorIs(t, err, ErrIdentityConflict)
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestKindOfUnwrapsChain(t *testing.T) {
	inner := New(KindUpstreamUnavailable, "keycloak.Login", "timeout")
	outer := fmt.Errorf("register client: %w", inner)

	assert.Equal(t, KindUpstreamUnavailable, KindOf(outer))
	assert.True(t, IsKind(outer, KindUpstreamUnavailable))
}

func TestKindOfUnclassifiedIsFatal(t *testing.T) {
	assert.Equal(t, KindFatal, KindOf(errors.New("boom")))
	assert.False(t, IsKind(nil, KindFatal))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindFatal, "op", nil))
	assert.NoError(t, Wrapf(KindFatal, "op", nil, "ignored %d", 1))
}

func TestErrorString(t *testing.T) {
	err := Wrapf(KindNotFound, "merchants.Get", errors.New("sql: no rows"), "merchant %s", "u1")
	assert.Equal(t, "merchants.Get: merchant u1: sql: no rows", err.Error())

	assert.Equal(t, "invalid_token", (&Error{Kind: KindInvalidToken}).Error())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
