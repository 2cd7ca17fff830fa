package users

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marketcore/gatekeeper/internal/db/models"
)

func TestUsersTable(t *testing.T) {
	created := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	subject := "kc-123"

	table := usersTable([]models.User{
		{ID: "u1", Email: "linked@x.com", Name: "Linked", Role: models.RoleMerchant, Subject: &subject, CreatedAt: created},
		{ID: "u2", Email: "jit@x.com", Name: "Jit", Role: models.RoleBuyer, CreatedAt: created},
	})

	assert.Len(t, table, 3)
	assert.Equal(t, []string{"ID", "EMAIL", "NAME", "ROLE", "KEYCLOAK_ID", "CREATED"}, table[0])
	assert.Equal(t, []string{"u1", "linked@x.com", "Linked", "MERCHANT", "kc-123", "2026-10-01T12:00:00Z"}, table[1])
	assert.Equal(t, "-", table[2][4], "unlinked users show a placeholder")
}
