package repository

import (
	"context"
	"errors"
	"time"

	"github.com/apexhq/apex/internal/campaign/domain"
	"github.com/apexhq/apex/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertCampaign(ctx context.Context, db *gorm.DB, campaign *domain.Campaign) error {
	return db.WithContext(ctx).Create(campaign).Error
}

func (r *repo) FindCampaignByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Campaign, error) {
	var campaign domain.Campaign
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Take(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *repo) ListCampaigns(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.CampaignFilter, page pagination.Pagination) ([]*domain.Campaign, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("org_id = ?", orgID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}

	stmt, err := pagination.Apply(stmt, page)
	if err != nil {
		return nil, err
	}

	var campaigns []*domain.Campaign
	if err := stmt.Order("created_at desc, id desc").Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *repo) UpdateCampaign(ctx context.Context, db *gorm.DB, campaign *domain.Campaign) error {
	return db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("org_id = ? AND id = ?", campaign.OrgID, campaign.ID).
		Updates(map[string]any{
			"name":                 campaign.Name,
			"assistant_id":         campaign.AssistantID,
			"phone_number_id":      campaign.PhoneNumberID,
			"daily_call_cap":       campaign.DailyCallCap,
			"max_concurrent_calls": campaign.MaxConcurrentCalls,
			"calling_hours_start":  campaign.CallingHoursStart,
			"calling_hours_end":    campaign.CallingHoursEnd,
			"timezone_name":        campaign.TimezoneName,
			"updated_at":           time.Now().UTC(),
		}).Error
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, from, to string, now time.Time) (int64, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	if to == domain.CampaignStatusCompleted {
		updates["completed_at"] = now
	}
	res := db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("org_id = ? AND id = ? AND status = ?", orgID, id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repo) FetchActive(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]*domain.Campaign, error) {
	var campaigns []*domain.Campaign
	err := db.WithContext(ctx).
		Where("status = ? AND id > ?", domain.CampaignStatusActive, afterID).
		Order("id asc").
		Limit(limit).
		Find(&campaigns).Error
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *repo) TouchLastTick(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_tick_at": now,
			"updated_at":   now,
		}).Error
}

func (r *repo) CompleteIfExhausted(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("id = ? AND status = ?", id, domain.CampaignStatusActive).
		Updates(map[string]any{
			"status":       domain.CampaignStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) InsertCall(ctx context.Context, db *gorm.DB, call *domain.Call) error {
	return db.WithContext(ctx).Create(call).Error
}

func (r *repo) ListCalls(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.CallFilter, page pagination.Pagination) ([]*domain.Call, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("org_id = ?", orgID)
	if filter.CampaignID != nil {
		stmt = stmt.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}

	stmt, err := pagination.Apply(stmt, page)
	if err != nil {
		return nil, err
	}

	var calls []*domain.Call
	if err := stmt.Order("created_at desc, id desc").Find(&calls).Error; err != nil {
		return nil, err
	}
	return calls, nil
}

func (r *repo) FindCallByProviderID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, providerCallID string) (*domain.Call, error) {
	var call domain.Call
	err := db.WithContext(ctx).
		Where("org_id = ? AND provider_call_id = ?", orgID, providerCallID).
		Take(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (r *repo) CountCallsInFlight(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("campaign_id = ? AND status IN ?", campaignID,
			[]string{domain.CallStatusDialing, domain.CallStatusInProgress}).
		Count(&count).Error
	return count, err
}

func (r *repo) CountCallsSince(ctx context.Context, db *gorm.DB, campaignID snowflake.ID, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("campaign_id = ? AND created_at >= ?", campaignID, since).
		Count(&count).Error
	return count, err
}

func (r *repo) StartCall(ctx context.Context, db *gorm.DB, orgID snowflake.ID, providerCallID string, startedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("org_id = ? AND provider_call_id = ? AND status = ?", orgID, providerCallID, domain.CallStatusDialing).
		Updates(map[string]any{
			"status":     domain.CallStatusInProgress,
			"started_at": startedAt,
			"updated_at": startedAt,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) FinishCall(ctx context.Context, db *gorm.DB, call *domain.Call) error {
	return db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("org_id = ? AND id = ?", call.OrgID, call.ID).
		Updates(map[string]any{
			"status":           call.Status,
			"ended_reason":     call.EndedReason,
			"duration_seconds": call.Duration,
			"cost_cents":       call.Cost,
			"ended_at":         call.EndedAt,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *repo) AttachTranscript(ctx context.Context, db *gorm.DB, orgID snowflake.ID, providerCallID, transcript, summary string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Call{}).
		Where("org_id = ? AND provider_call_id = ?", orgID, providerCallID).
		Updates(map[string]any{
			"transcript": transcript,
			"summary":    summary,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
