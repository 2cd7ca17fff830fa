package bunx

import "github.com/google/uuid"

// NewUUIDv7 returns a time-ordered id for primary keys. Both dialects store
// it as text, so ordering by id follows creation order.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IsUUID reports whether s is a canonical id produced by NewUUIDv7 or any
// other UUID version.
func IsUUID(s string) bool {
	return uuid.Validate(s) == nil && len(s) == 36
}
