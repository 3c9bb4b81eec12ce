package domain

import (
	"context"
	"time"

	"github.com/apexhq/apex/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ContactFilter struct {
	Email string
	Phone string
}

type LeadFilter struct {
	CampaignID *snowflake.ID
	Status     string
}

// Repository persists contacts and leads. Claim and Settle are the
// campaign executor's entry points into the lead table.
type Repository interface {
	InsertContact(ctx context.Context, db *gorm.DB, contact *Contact) error
	FindContactByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Contact, error)
	ListContacts(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ContactFilter, page pagination.Pagination) ([]*Contact, error)
	UpdateContact(ctx context.Context, db *gorm.DB, contact *Contact) error
	DeleteContact(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (int64, error)

	InsertLead(ctx context.Context, db *gorm.DB, lead *Lead) error
	FindLeadByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Lead, error)
	ListLeads(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter LeadFilter, page pagination.Pagination) ([]*Lead, error)
	UpdateLead(ctx context.Context, db *gorm.DB, lead *Lead) error
	DeleteLead(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (int64, error)

	// ClaimLeads moves up to limit new leads of a campaign to calling and
	// returns the claimed rows. Each claim is a per-row compare-and-set,
	// so overlapping ticks never dial the same lead twice.
	ClaimLeads(ctx context.Context, db *gorm.DB, orgID, campaignID snowflake.ID, limit int, now time.Time) ([]*Lead, error)
	// SettleLead records the terminal outcome of a dial attempt.
	SettleLead(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, status, disposition string, now time.Time) (int64, error)
	// CountRemaining reports how many leads of a campaign are still
	// dialable.
	CountRemaining(ctx context.Context, db *gorm.DB, orgID, campaignID snowflake.ID) (int64, error)
}
