package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/db/bunx"
	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/uptrace/bun"
)

// BunMerchantRepository implements MerchantRepository using Bun ORM
type BunMerchantRepository struct {
	db bun.IDB
}

// NewBunMerchantRepository creates a new Bun-based merchant profile repository
func NewBunMerchantRepository(db bun.IDB) *BunMerchantRepository {
	return &BunMerchantRepository{db: db}
}

func prepareInsert(profile *models.MerchantProfile) {
	if profile.ID == "" {
		profile.ID = bunx.NewUUIDv7()
	}
	// New profiles always start pending, whatever the caller set
	profile.Status = models.MerchantPending
	now := time.Now().UTC()
	profile.CreatedAt, profile.UpdatedAt = now, now
}

// Create inserts a new pending merchant profile
func (r *BunMerchantRepository) Create(ctx context.Context, profile *models.MerchantProfile) error {
	prepareInsert(profile)

	_, err := r.db.NewInsert().
		Model(profile).
		Exec(ctx)
	if err != nil {
		if isDuplicateKeyError(err) {
			return apperr.Wrapf(apperr.KindConflict, "merchants.Create", err, "merchant profile for user %s already exists", profile.UserID)
		}
		return fmt.Errorf("create merchant profile: %w", err)
	}
	return nil
}

// Upsert implements MerchantRepository. The conflict branch lists the shop
// columns explicitly so a concurrent approval is never overwritten.
func (r *BunMerchantRepository) Upsert(ctx context.Context, profile *models.MerchantProfile) (*models.MerchantProfile, error) {
	prepareInsert(profile)

	_, err := r.db.NewInsert().
		Model(profile).
		On("CONFLICT (user_id) DO UPDATE").
		Set("shop_name = EXCLUDED.shop_name").
		Set("logo = EXCLUDED.logo").
		Set("address = EXCLUDED.address").
		Set("mvola_number = EXCLUDED.mvola_number").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("upsert merchant profile: %w", err)
	}

	return r.GetByUserID(ctx, profile.UserID)
}

// GetByUserID retrieves the profile owned by a user, with the user loaded
func (r *BunMerchantRepository) GetByUserID(ctx context.Context, userID string) (*models.MerchantProfile, error) {
	profile := new(models.MerchantProfile)
	err := r.db.NewSelect().
		Model(profile).
		Relation("User").
		Where("mp.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("merchants.GetByUserID", err, "merchant profile for user %s", userID)
	}
	return profile, nil
}

// ListByStatus returns profiles in a status, oldest first, with users loaded
func (r *BunMerchantRepository) ListByStatus(ctx context.Context, status models.MerchantStatus) ([]models.MerchantProfile, error) {
	profiles := []models.MerchantProfile{}
	err := r.db.NewSelect().
		Model(&profiles).
		Relation("User").
		Where("mp.status = ?", status).
		Order("mp.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list merchant profiles: %w", err)
	}
	return profiles, nil
}

// UpdateStatus implements MerchantRepository
func (r *BunMerchantRepository) UpdateStatus(ctx context.Context, userID string, from, to models.MerchantStatus) error {
	result, err := r.db.NewUpdate().
		Model((*models.MerchantProfile)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("user_id = ?", userID).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update merchant status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	current, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	return apperr.New(apperr.KindConflict, "merchants.UpdateStatus",
		fmt.Sprintf("merchant status is %s, expected %s", current.Status, from))
}
