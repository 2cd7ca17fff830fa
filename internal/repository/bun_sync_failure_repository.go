package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/db/bunx"
	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/uptrace/bun"
)

// BunSyncFailureRepository implements SyncFailureRepository using Bun ORM
type BunSyncFailureRepository struct {
	db bun.IDB
}

// NewBunSyncFailureRepository creates a new Bun-based sync failure repository
func NewBunSyncFailureRepository(db bun.IDB) *BunSyncFailureRepository {
	return &BunSyncFailureRepository{db: db}
}

// Record implements SyncFailureRepository
func (r *BunSyncFailureRepository) Record(ctx context.Context, failure *models.ProviderSyncFailure) error {
	failure.Email = normalizeEmail(failure.Email)

	open := new(models.ProviderSyncFailure)
	err := r.db.NewSelect().
		Model(open).
		Where("email = ?", failure.Email).
		Where("target_group = ?", failure.TargetGroup).
		Where("resolved_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err == nil {
		if err := r.RecordAttempt(ctx, open.ID, failure.LastError); err != nil {
			return err
		}
		failure.ID = open.ID
		failure.Attempts = open.Attempts + 1
		failure.CreatedAt = open.CreatedAt
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("find open sync failure: %w", err)
	}

	if failure.ID == "" {
		failure.ID = bunx.NewUUIDv7()
	}
	if failure.Operation == "" {
		failure.Operation = models.SyncAddToGroup
	}
	failure.Attempts = 1
	now := time.Now().UTC()
	failure.CreatedAt, failure.UpdatedAt = now, now

	if _, err := r.db.NewInsert().Model(failure).Exec(ctx); err != nil {
		return fmt.Errorf("record sync failure: %w", err)
	}
	return nil
}

// GetByID retrieves a sync failure record
func (r *BunSyncFailureRepository) GetByID(ctx context.Context, id string) (*models.ProviderSyncFailure, error) {
	failure := new(models.ProviderSyncFailure)
	err := r.db.NewSelect().
		Model(failure).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr("syncFailures.GetByID", err, "sync failure %s", id)
	}
	return failure, nil
}

// ListOpen returns unresolved failures, oldest first. limit <= 0 means no limit.
func (r *BunSyncFailureRepository) ListOpen(ctx context.Context, limit int) ([]models.ProviderSyncFailure, error) {
	failures := []models.ProviderSyncFailure{}
	q := r.db.NewSelect().
		Model(&failures).
		Where("resolved_at IS NULL").
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list open sync failures: %w", err)
	}
	return failures, nil
}

// RecordAttempt bumps the attempt counter after another failed replay
func (r *BunSyncFailureRepository) RecordAttempt(ctx context.Context, id string, lastErr string) error {
	result, err := r.db.NewUpdate().
		Model((*models.ProviderSyncFailure)(nil)).
		Set("attempts = attempts + 1").
		Set("last_error = ?", lastErr).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record sync attempt: %w", err)
	}
	return expectOneRow(result, "syncFailures.RecordAttempt", id)
}

// MarkResolved closes a failure after a successful replay
func (r *BunSyncFailureRepository) MarkResolved(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := r.db.NewUpdate().
		Model((*models.ProviderSyncFailure)(nil)).
		Set("resolved_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("resolved_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark sync failure resolved: %w", err)
	}
	return expectOneRow(result, "syncFailures.MarkResolved", id)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func expectOneRow(result rowsAffecter, op, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, op, "sync failure "+id+" not found or already resolved")
	}
	return nil
}
