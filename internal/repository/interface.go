package repository

import (
	"context"

	"github.com/marketcore/gatekeeper/internal/db/models"
)

// UserRepository exposes persistence operations for local user shadows.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetBySubject(ctx context.Context, subject string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	SetSubject(ctx context.Context, id, subject string) error
	SetRole(ctx context.Context, id string, role models.Role) error
	List(ctx context.Context) ([]models.User, error)
}

// MerchantRepository exposes persistence operations for merchant profiles.
type MerchantRepository interface {
	// Create inserts a new profile. Fails with a conflict if the user already has one.
	Create(ctx context.Context, profile *models.MerchantProfile) error

	// Upsert inserts profile as PENDING, or updates only the shop fields of
	// the existing profile for the same user. Status, commission rate and
	// balance of an existing profile are never modified.
	Upsert(ctx context.Context, profile *models.MerchantProfile) (*models.MerchantProfile, error)

	GetByUserID(ctx context.Context, userID string) (*models.MerchantProfile, error)
	ListByStatus(ctx context.Context, status models.MerchantStatus) ([]models.MerchantProfile, error)

	// UpdateStatus moves the profile from `from` to `to` only if it is still
	// in `from`. Zero matching rows yields NotFound or Conflict.
	UpdateStatus(ctx context.Context, userID string, from, to models.MerchantStatus) error
}

// SyncFailureRepository persists provider sync failures awaiting reconciliation.
type SyncFailureRepository interface {
	// Record stores a failure, folding it into an open record for the same
	// email and group if one exists.
	Record(ctx context.Context, failure *models.ProviderSyncFailure) error
	GetByID(ctx context.Context, id string) (*models.ProviderSyncFailure, error)
	ListOpen(ctx context.Context, limit int) ([]models.ProviderSyncFailure, error)
	RecordAttempt(ctx context.Context, id string, lastErr string) error
	MarkResolved(ctx context.Context, id string) error
}

// Store groups the repositories and runs multi-row changes atomically.
type Store interface {
	Users() UserRepository
	Merchants() MerchantRepository
	SyncFailures() SyncFailureRepository

	// RunInTx runs fn with a Store bound to a single transaction. Nested
	// calls reuse the outer transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
