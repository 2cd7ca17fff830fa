package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/db/bunx"
	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/uptrace/bun"
)

// BunUserRepository implements UserRepository using Bun ORM
type BunUserRepository struct {
	db bun.IDB
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db bun.IDB) *BunUserRepository {
	return &BunUserRepository{db: db}
}

// Create inserts a new user into the database. Emails are stored lowercased.
func (r *BunUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = bunx.NewUUIDv7()
	}
	if user.Role == "" {
		user.Role = models.RoleBuyer
	}
	user.Email = normalizeEmail(user.Email)
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now

	_, err := r.db.NewInsert().
		Model(user).
		Exec(ctx)
	if err != nil {
		if isDuplicateKeyError(err) {
			return apperr.Wrapf(apperr.KindIdentityConflict, "users.Create", err, "user with email %s already exists", user.Email)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by their ID
func (r *BunUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("users.GetByID", err, "user %s", id)
	}
	return user, nil
}

// GetBySubject retrieves a user by their identity provider subject
func (r *BunUserRepository) GetBySubject(ctx context.Context, subject string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("subject = ?", subject).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("users.GetBySubject", err, "user with subject %s", subject)
	}
	return user, nil
}

// GetByEmail retrieves a user by their email (case-insensitive)
func (r *BunUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("email = ?", normalizeEmail(email)).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("users.GetByEmail", err, "user with email %s", email)
	}
	return user, nil
}

// ExistsByEmail reports whether a user with the email exists
func (r *BunUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.User)(nil)).
		Where("email = ?", normalizeEmail(email)).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check user email: %w", err)
	}
	return exists, nil
}

// SetSubject links the user to its identity provider subject
func (r *BunUserRepository) SetSubject(ctx context.Context, id, subject string) error {
	return r.updateColumn(ctx, "users.SetSubject", id, "subject", subject)
}

// SetRole updates the coarse role tag of the user
func (r *BunUserRepository) SetRole(ctx context.Context, id string, role models.Role) error {
	return r.updateColumn(ctx, "users.SetRole", id, "role", role)
}

func (r *BunUserRepository) updateColumn(ctx context.Context, op, id, column string, value any) error {
	result, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("? = ?", bun.Ident(column), value).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		if isDuplicateKeyError(err) {
			return apperr.Wrapf(apperr.KindIdentityConflict, op, err, "%s already linked to another user", column)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, op, "user "+id+" not found")
	}
	return nil
}

// List retrieves all users
func (r *BunUserRepository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.NewSelect().
		Model(&users).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
