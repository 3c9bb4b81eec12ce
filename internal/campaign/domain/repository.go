package domain

import (
	"context"
	"time"

	"github.com/apexhq/apex/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CampaignFilter struct {
	Status string
}

type CallFilter struct {
	CampaignID *snowflake.ID
	Status     string
}

// Repository persists campaigns and their calls. The executor and the
// call webhooks go through the same interface as the CRUD surface.
type Repository interface {
	InsertCampaign(ctx context.Context, db *gorm.DB, campaign *Campaign) error
	FindCampaignByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Campaign, error)
	ListCampaigns(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter CampaignFilter, page pagination.Pagination) ([]*Campaign, error)
	UpdateCampaign(ctx context.Context, db *gorm.DB, campaign *Campaign) error
	// TransitionStatus moves a campaign between states only when it is
	// still in the expected one, reporting rows affected.
	TransitionStatus(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, from, to string, now time.Time) (int64, error)

	// FetchActive pages active campaigns across all orgs for the tick,
	// keyed on id.
	FetchActive(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]*Campaign, error)
	TouchLastTick(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	// CompleteIfExhausted marks an active campaign completed, reporting
	// rows affected so overlapping ticks complete it once.
	CompleteIfExhausted(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int64, error)

	InsertCall(ctx context.Context, db *gorm.DB, call *Call) error
	ListCalls(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter CallFilter, page pagination.Pagination) ([]*Call, error)
	FindCallByProviderID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, providerCallID string) (*Call, error)
	CountCallsInFlight(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) (int64, error)
	CountCallsSince(ctx context.Context, db *gorm.DB, campaignID snowflake.ID, since time.Time) (int64, error)
	// StartCall moves a dialing call to in_progress, reporting rows
	// affected so duplicate call.started deliveries are harmless.
	StartCall(ctx context.Context, db *gorm.DB, orgID snowflake.ID, providerCallID string, startedAt time.Time) (int64, error)
	FinishCall(ctx context.Context, db *gorm.DB, call *Call) error
	AttachTranscript(ctx context.Context, db *gorm.DB, orgID snowflake.ID, providerCallID, transcript, summary string) (int64, error)
}
