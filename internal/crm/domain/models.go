// Package domain contains CRM persistence models: contacts and the leads
// that campaigns dial.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Lead lifecycle. The campaign executor claims new leads, the
// call-completion webhook settles them.
const (
	LeadStatusNew     = "new"
	LeadStatusCalling = "calling"
	LeadStatusCalled  = "called"
	LeadStatusFailed  = "failed"
)

type Contact struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID      `gorm:"not null;index:ix_contacts_org" json:"org_id"`
	FirstName string            `gorm:"type:text;not null;default:''" json:"first_name"`
	LastName  string            `gorm:"type:text;not null;default:''" json:"last_name"`
	Email     string            `gorm:"type:text;not null;default:''" json:"email"`
	Phone     string            `gorm:"type:text;not null;default:''" json:"phone"`
	Company   string            `gorm:"type:text;not null;default:''" json:"company"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Contact) TableName() string { return "contacts" }

type Lead struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID  `gorm:"not null;index:ix_leads_org" json:"org_id"`
	ContactID    *snowflake.ID `json:"contact_id"`
	CampaignID   *snowflake.ID `gorm:"index:ix_leads_campaign_status,priority:1" json:"campaign_id"`
	Phone        string        `gorm:"type:text;not null" json:"phone"`
	Name         string        `gorm:"type:text;not null;default:''" json:"name"`
	Status       string        `gorm:"type:text;not null;default:'new';index:ix_leads_campaign_status,priority:2" json:"status"`
	Disposition  string        `gorm:"type:text;not null;default:''" json:"disposition"`
	LastCalledAt *time.Time    `json:"last_called_at"`
	CreatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Lead) TableName() string { return "leads" }
