package models

import (
	"time"

	"github.com/uptrace/bun"
)

// SyncOperation names the provider-side step that failed
type SyncOperation string

const (
	SyncAddToGroup SyncOperation = "add_to_group"
)

// ProviderSyncFailure records a provider mirroring step that failed after the
// local write it depends on was committed. Email and TargetGroup are enough
// to replay it.
type ProviderSyncFailure struct {
	bun.BaseModel `bun:"table:provider_sync_failures,alias:psf"`

	ID          string        `bun:"id,pk,type:uuid" json:"id"`
	Email       string        `bun:"email,notnull" json:"email"`
	TargetGroup string        `bun:"target_group,notnull" json:"targetGroup"`
	Operation   SyncOperation `bun:"operation,notnull" json:"operation"`
	LastError   string        `bun:"last_error" json:"lastError"`
	Attempts    int           `bun:"attempts,notnull,default:1" json:"attempts"`
	ResolvedAt  *time.Time    `bun:"resolved_at" json:"resolvedAt,omitempty"`
	CreatedAt   time.Time     `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt   time.Time     `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// Resolved reports whether the failure has been replayed successfully
func (f *ProviderSyncFailure) Resolved() bool {
	return f != nil && f.ResolvedAt != nil
}
