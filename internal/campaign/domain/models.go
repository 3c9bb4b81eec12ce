// Package domain contains campaign persistence models and the executor
// contract that drives outbound dialing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Campaign lifecycle. Only active campaigns are picked up by the tick.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
)

// Call lifecycle. A call starts dialing when the provider accepts the
// request and settles when the call.ended webhook arrives.
const (
	CallStatusDialing    = "dialing"
	CallStatusInProgress = "in_progress"
	CallStatusCompleted  = "completed"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no_answer"
)

type Campaign struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID              snowflake.ID `gorm:"not null;index:ix_campaigns_org_status,priority:1" json:"org_id"`
	Name               string       `gorm:"type:text;not null" json:"name"`
	Status             string       `gorm:"type:text;not null;default:'draft';index:ix_campaigns_org_status,priority:2" json:"status"`
	AssistantID        string       `gorm:"type:text;not null;default:''" json:"assistant_id"`
	PhoneNumberID      string       `gorm:"type:text;not null;default:''" json:"phone_number_id"`
	DailyCallCap       int          `gorm:"not null;default:100" json:"daily_call_cap"`
	MaxConcurrentCalls int          `gorm:"not null;default:5" json:"max_concurrent_calls"`
	CallingHoursStart  int          `gorm:"not null;default:9" json:"calling_hours_start"`
	CallingHoursEnd    int          `gorm:"not null;default:17" json:"calling_hours_end"`
	TimezoneName       string       `gorm:"type:text;not null;default:'UTC'" json:"timezone_name"`
	LastTickAt         *time.Time   `json:"last_tick_at"`
	CompletedAt        *time.Time   `json:"completed_at"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Campaign) TableName() string { return "campaigns" }

type Call struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID `gorm:"not null" json:"org_id"`
	CampaignID     snowflake.ID `gorm:"not null;index:ix_campaign_calls_campaign" json:"campaign_id"`
	LeadID         snowflake.ID `gorm:"not null" json:"lead_id"`
	ProviderCallID string       `gorm:"type:text;not null;default:'';index:ix_campaign_calls_provider" json:"provider_call_id"`
	Status         string       `gorm:"type:text;not null;default:'dialing'" json:"status"`
	EndedReason    string       `gorm:"type:text;not null;default:''" json:"ended_reason"`
	Transcript     string       `gorm:"type:text;not null;default:''" json:"-"`
	Summary        string       `gorm:"type:text;not null;default:''" json:"summary"`
	Duration       int          `gorm:"column:duration_seconds;not null;default:0" json:"duration_seconds"`
	Cost           int64        `gorm:"column:cost_cents;not null;default:0" json:"cost_cents"`
	StartedAt      *time.Time   `json:"started_at"`
	EndedAt        *time.Time   `json:"ended_at"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Call) TableName() string { return "campaign_calls" }

// ValidCampaignStatus reports whether status is a known campaign state.
func ValidCampaignStatus(status string) bool {
	switch status {
	case CampaignStatusDraft, CampaignStatusActive, CampaignStatusPaused, CampaignStatusCompleted:
		return true
	}
	return false
}
