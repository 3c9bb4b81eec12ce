// Package domain contains persistence models for the tenancy boundary.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus tracks the tenant's billing standing, driven by
// payment-provider webhooks.
const (
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Organization represents a tenant. Every campaign, contact, lead and
// call row is scoped to exactly one organization. OwnerID is the identity
// provider's user ID. The Vapi key pair never leaves the service unmasked.
type Organization struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name               string            `gorm:"type:text;not null" json:"name"`
	Slug               string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	OwnerID            string            `gorm:"type:text;not null;index:ix_organizations_owner" json:"owner_id"`
	VapiAPIKey         string            `gorm:"type:text;not null;default:'';column:vapi_api_key" json:"-"`
	VapiPrivateKey     string            `gorm:"type:text;not null;default:'';column:vapi_private_key" json:"-"`
	SubscriptionStatus string            `gorm:"type:text;not null;default:'trialing'" json:"subscription_status"`
	Settings           datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"settings"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// ValidSubscriptionStatus reports whether status is one of the known
// lifecycle states.
func ValidSubscriptionStatus(status string) bool {
	switch status {
	case SubscriptionTrialing, SubscriptionActive, SubscriptionPastDue, SubscriptionCanceled:
		return true
	}
	return false
}
