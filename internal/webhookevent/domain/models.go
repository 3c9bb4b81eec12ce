// Package domain contains the webhook delivery audit log.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the terminal outcome of the local processing attempt for a
// delivery, not of the delivery itself.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
	StatusIgnored   Status = "ignored"
)

// Event is one accepted inbound delivery. Append-mostly: the only mutation
// is the single status downgrade to failed/ignored. EventID is the
// provider's identifier, kept for traceability and deliberately not unique;
// effect dedup is the idempotency store's job.
type Event struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID   `gorm:"not null;index" json:"org_id"`
	EventID     string         `gorm:"type:text;not null;index" json:"event_id"`
	EventType   string         `gorm:"type:text;not null;index" json:"event_type"`
	Payload     datatypes.JSON `gorm:"not null" json:"payload"`
	Status      Status         `gorm:"type:text;not null" json:"status"`
	ProcessedAt *time.Time     `json:"processed_at"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "webhook_events" }

// Log records every accepted delivery. Payloads must be redacted by the
// caller before Record; raw secrets never reach storage.
type Log interface {
	Record(ctx context.Context, orgID snowflake.ID, eventID, eventType string, redactedPayload []byte) (*Event, error)
	MarkFailed(ctx context.Context, id snowflake.ID) error
	MarkIgnored(ctx context.Context, id snowflake.ID) error
}
