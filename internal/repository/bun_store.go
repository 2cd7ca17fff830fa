package repository

import (
	"context"

	"github.com/uptrace/bun"
)

// BunStore implements Store on a bun connection or transaction
type BunStore struct {
	db   *bun.DB
	idb  bun.IDB
	inTx bool
}

// NewBunStore creates a Store backed by db
func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db, idb: db}
}

func (s *BunStore) Users() UserRepository {
	return &BunUserRepository{db: s.idb}
}

func (s *BunStore) Merchants() MerchantRepository {
	return &BunMerchantRepository{db: s.idb}
}

func (s *BunStore) SyncFailures() SyncFailureRepository {
	return &BunSyncFailureRepository{db: s.idb}
}

// RunInTx implements Store
func (s *BunStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &BunStore{db: s.db, idb: tx, inTx: true})
	})
}
