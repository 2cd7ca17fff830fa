package models

import (
	"time"

	"github.com/uptrace/bun"
)

// MerchantStatus is the approval lifecycle state of a merchant profile
type MerchantStatus string

const (
	MerchantPending  MerchantStatus = "PENDING"
	MerchantApproved MerchantStatus = "APPROVED"
	MerchantRejected MerchantStatus = "REJECTED"
)

// Valid reports whether s is one of the known statuses
func (s MerchantStatus) Valid() bool {
	switch s {
	case MerchantPending, MerchantApproved, MerchantRejected:
		return true
	}
	return false
}

// MerchantProfile ties a local user to shop metadata. At most one profile
// exists per user. Profiles are never hard-deleted.
type MerchantProfile struct {
	bun.BaseModel `bun:"table:merchant_profiles,alias:mp"`

	ID             string         `bun:"id,pk,type:uuid" json:"id"`
	UserID         string         `bun:"user_id,notnull,unique,type:uuid" json:"userId"`
	ShopName       string         `bun:"shop_name,notnull" json:"shopName"`
	Logo           string         `bun:"logo" json:"logo,omitempty"`
	Address        string         `bun:"address" json:"address,omitempty"`
	MvolaNumber    string         `bun:"mvola_number" json:"mvolaNumber,omitempty"`
	CommissionRate float64        `bun:"commission_rate,notnull,default:0.05" json:"commissionRate"`
	Balance        float64        `bun:"balance,notnull,default:0" json:"balance"`
	Status         MerchantStatus `bun:"status,notnull,default:'PENDING'" json:"status"`
	CreatedAt      time.Time      `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt      time.Time      `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`

	User *User `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
}

// ShopInfo carries the mutable shop fields of a merchant profile
type ShopInfo struct {
	ShopName    string `json:"shopName"`
	Logo        string `json:"logo,omitempty"`
	Address     string `json:"address,omitempty"`
	MvolaNumber string `json:"mvolaNumber,omitempty"`
}

// Apply copies the shop fields onto the profile
func (s ShopInfo) Apply(p *MerchantProfile) {
	p.ShopName = s.ShopName
	p.Logo = s.Logo
	p.Address = s.Address
	p.MvolaNumber = s.MvolaNumber
}
