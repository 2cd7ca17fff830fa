package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Role is the coarse local standing of a user. It caches what the identity
// provider's group membership should converge to and is never used for
// authorization decisions, which read token groups instead.
type Role string

const (
	RoleBuyer    Role = "BUYER"
	RoleMerchant Role = "MERCHANT"
)

// User is the local shadow of an identity provider principal.
// Subject stores the provider-assigned user ID once it is known; records
// created just-in-time from an email alone may not have one yet.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        string    `bun:"id,pk,type:uuid" json:"id"`
	Subject   *string   `bun:"subject,unique" json:"subject,omitempty"`
	Email     string    `bun:"email,notnull,unique" json:"email"`
	Name      string    `bun:"name" json:"name"`
	Role      Role      `bun:"role,notnull,default:'BUYER'" json:"role"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// PrincipalSubject returns the identifier that ownership checks compare
// against the token subject. Falls back to the local ID when the provider
// subject is unknown, which never matches a real token subject.
func (u *User) PrincipalSubject() string {
	if u == nil {
		return ""
	}
	if u.Subject != nil && *u.Subject != "" {
		return *u.Subject
	}
	return u.ID
}
