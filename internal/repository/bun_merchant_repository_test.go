package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/db/dbtest"
	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, store *BunStore, email string) *models.User {
	t.Helper()
	user := &models.User{Email: email, Name: "Seed"}
	require.NoError(t, store.Users().Create(context.Background(), user))
	return user
}

func TestBunMerchantRepository_Create(t *testing.T) {
	store := NewBunStore(dbtest.NewSQLite(t))
	repo := store.Merchants()
	ctx := context.Background()
	user := seedUser(t, store, "shop@example.com")

	t.Run("create forces pending status", func(t *testing.T) {
		profile := &models.MerchantProfile{
			UserID:         user.ID,
			ShopName:       "Vanilla House",
			CommissionRate: 0.05,
			Status:         models.MerchantApproved,
		}
		require.NoError(t, repo.Create(ctx, profile))

		stored, err := repo.GetByUserID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MerchantPending, stored.Status)
		assert.InDelta(t, 0.05, stored.CommissionRate, 1e-9)
		assert.Zero(t, stored.Balance)
		require.NotNil(t, stored.User)
		assert.Equal(t, "shop@example.com", stored.User.Email)
	})

	t.Run("second profile for same user conflicts", func(t *testing.T) {
		err := repo.Create(ctx, &models.MerchantProfile{UserID: user.ID, ShopName: "Other"})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("unknown user violates foreign key", func(t *testing.T) {
		err := repo.Create(ctx, &models.MerchantProfile{UserID: "00000000-0000-7000-8000-000000000000", ShopName: "Ghost"})
		require.Error(t, err)
	})
}

func TestBunMerchantRepository_Upsert(t *testing.T) {
	store := NewBunStore(dbtest.NewSQLite(t))
	repo := store.Merchants()
	ctx := context.Background()

	t.Run("resubmission while pending keeps pending and updates shop fields", func(t *testing.T) {
		user := seedUser(t, store, "pending@example.com")

		first, err := repo.Upsert(ctx, &models.MerchantProfile{UserID: user.ID, ShopName: "First", CommissionRate: 0.05})
		require.NoError(t, err)
		assert.Equal(t, models.MerchantPending, first.Status)

		second, err := repo.Upsert(ctx, &models.MerchantProfile{UserID: user.ID, ShopName: "Second", Address: "Lot II", CommissionRate: 0.2})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, models.MerchantPending, second.Status)
		assert.Equal(t, "Second", second.ShopName)
		assert.Equal(t, "Lot II", second.Address)
		assert.InDelta(t, 0.05, second.CommissionRate, 1e-9, "commission rate is create-only")
	})

	t.Run("never regresses an approved profile", func(t *testing.T) {
		user := seedUser(t, store, "approved@example.com")
		_, err := repo.Upsert(ctx, &models.MerchantProfile{UserID: user.ID, ShopName: "Shop"})
		require.NoError(t, err)
		require.NoError(t, repo.UpdateStatus(ctx, user.ID, models.MerchantPending, models.MerchantApproved))

		again, err := repo.Upsert(ctx, &models.MerchantProfile{UserID: user.ID, ShopName: "Renamed"})
		require.NoError(t, err)
		assert.Equal(t, models.MerchantApproved, again.Status)
		assert.Equal(t, "Renamed", again.ShopName)
	})

	t.Run("concurrent upserts and approval never tear status", func(t *testing.T) {
		user := seedUser(t, store, "race@example.com")
		_, err := repo.Upsert(ctx, &models.MerchantProfile{UserID: user.ID, ShopName: "Race"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = repo.Upsert(ctx, &models.MerchantProfile{UserID: user.ID, ShopName: "Race"})
			}()
		}
		require.NoError(t, repo.UpdateStatus(ctx, user.ID, models.MerchantPending, models.MerchantApproved))
		wg.Wait()

		final, err := repo.GetByUserID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MerchantApproved, final.Status)
	})
}

func TestBunMerchantRepository_UpdateStatus(t *testing.T) {
	store := NewBunStore(dbtest.NewSQLite(t))
	repo := store.Merchants()
	ctx := context.Background()
	user := seedUser(t, store, "status@example.com")
	require.NoError(t, repo.Create(ctx, &models.MerchantProfile{UserID: user.ID, ShopName: "S"}))

	t.Run("stale expected status conflicts", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, user.ID, models.MerchantApproved, models.MerchantRejected)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrConflict)
		assert.Contains(t, err.Error(), "PENDING")
	})

	t.Run("missing profile is not found", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, "00000000-0000-7000-8000-000000000001", models.MerchantPending, models.MerchantApproved)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("pending to rejected", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, user.ID, models.MerchantPending, models.MerchantRejected))
		got, err := repo.GetByUserID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MerchantRejected, got.Status)
	})
}

func TestBunMerchantRepository_ListByStatus(t *testing.T) {
	store := NewBunStore(dbtest.NewSQLite(t))
	repo := store.Merchants()
	ctx := context.Background()

	a := seedUser(t, store, "a@example.com")
	b := seedUser(t, store, "b@example.com")
	require.NoError(t, repo.Create(ctx, &models.MerchantProfile{UserID: a.ID, ShopName: "A"}))
	require.NoError(t, repo.Create(ctx, &models.MerchantProfile{UserID: b.ID, ShopName: "B"}))
	require.NoError(t, repo.UpdateStatus(ctx, b.ID, models.MerchantPending, models.MerchantApproved))

	pending, err := repo.ListByStatus(ctx, models.MerchantPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "A", pending[0].ShopName)
	require.NotNil(t, pending[0].User)
	assert.Equal(t, "a@example.com", pending[0].User.Email)

	rejected, err := repo.ListByStatus(ctx, models.MerchantRejected)
	require.NoError(t, err)
	assert.NotNil(t, rejected)
	assert.Empty(t, rejected)
}
