package service

import (
	"context"
	"strings"
	"time"

	"github.com/apexhq/apex/internal/campaign/domain"
	"github.com/apexhq/apex/internal/orgcontext"
	"github.com/apexhq/apex/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("campaign.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) CreateCampaign(ctx context.Context, req domain.CreateCampaignRequest) (domain.Campaign, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Campaign{}, domain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Campaign{}, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	campaign := domain.Campaign{
		ID:                 s.genID.Generate(),
		OrgID:              orgID,
		Name:               name,
		Status:             domain.CampaignStatusDraft,
		AssistantID:        strings.TrimSpace(req.AssistantID),
		PhoneNumberID:      strings.TrimSpace(req.PhoneNumberID),
		DailyCallCap:       100,
		MaxConcurrentCalls: 5,
		CallingHoursStart:  9,
		CallingHoursEnd:    17,
		TimezoneName:       "UTC",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.DailyCallCap > 0 {
		campaign.DailyCallCap = req.DailyCallCap
	}
	if req.MaxConcurrentCalls > 0 {
		campaign.MaxConcurrentCalls = req.MaxConcurrentCalls
	}
	if req.CallingHoursStart != nil {
		campaign.CallingHoursStart = *req.CallingHoursStart
	}
	if req.CallingHoursEnd != nil {
		campaign.CallingHoursEnd = *req.CallingHoursEnd
	}
	if !validHour(campaign.CallingHoursStart) || !validHour(campaign.CallingHoursEnd) {
		return domain.Campaign{}, domain.ErrInvalidHours
	}
	if tz := strings.TrimSpace(req.TimezoneName); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return domain.Campaign{}, domain.ErrInvalidTimezone
		}
		campaign.TimezoneName = tz
	}

	if err := s.repo.InsertCampaign(ctx, s.db, &campaign); err != nil {
		return domain.Campaign{}, err
	}

	s.log.Info("campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("org_id", orgID.String()),
	)
	return campaign, nil
}

func (s *Service) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Campaign{}, domain.ErrInvalidOrganization
	}

	campaignID, err := parseID(id)
	if err != nil {
		return domain.Campaign{}, err
	}

	campaign, err := s.repo.FindCampaignByID(ctx, s.db, orgID, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if campaign == nil {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	return *campaign, nil
}

func (s *Service) ListCampaigns(ctx context.Context, req domain.ListCampaignsRequest) (domain.ListCampaignsResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListCampaignsResponse{}, domain.ErrInvalidOrganization
	}

	status := strings.TrimSpace(req.Status)
	if status != "" && !domain.ValidCampaignStatus(status) {
		return domain.ListCampaignsResponse{}, domain.ErrInvalidStatus
	}

	page := normalizePage(req.Pagination)
	items, err := s.repo.ListCampaigns(ctx, s.db, orgID, domain.CampaignFilter{Status: status}, page)
	if err != nil {
		return domain.ListCampaignsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, page.PageSize, func(campaign *domain.Campaign) string {
		return encodeCursor(campaign.ID, campaign.CreatedAt)
	})
	if pageInfo.HasMore && len(items) > page.PageSize {
		items = items[:page.PageSize]
	}

	campaigns := make([]domain.Campaign, 0, len(items))
	for _, item := range items {
		campaigns = append(campaigns, *item)
	}

	return domain.ListCampaignsResponse{PageInfo: *pageInfo, Campaigns: campaigns}, nil
}

func (s *Service) UpdateCampaign(ctx context.Context, id string, req domain.UpdateCampaignRequest) (domain.Campaign, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Campaign{}, domain.ErrInvalidOrganization
	}

	campaignID, err := parseID(id)
	if err != nil {
		return domain.Campaign{}, err
	}

	campaign, err := s.repo.FindCampaignByID(ctx, s.db, orgID, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if campaign == nil {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	if campaign.Status == domain.CampaignStatusCompleted {
		return domain.Campaign{}, domain.ErrCampaignCompleted
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Campaign{}, domain.ErrInvalidName
		}
		campaign.Name = name
	}
	if req.AssistantID != nil {
		campaign.AssistantID = strings.TrimSpace(*req.AssistantID)
	}
	if req.PhoneNumberID != nil {
		campaign.PhoneNumberID = strings.TrimSpace(*req.PhoneNumberID)
	}
	if req.DailyCallCap != nil && *req.DailyCallCap > 0 {
		campaign.DailyCallCap = *req.DailyCallCap
	}
	if req.MaxConcurrentCalls != nil && *req.MaxConcurrentCalls > 0 {
		campaign.MaxConcurrentCalls = *req.MaxConcurrentCalls
	}
	if req.CallingHoursStart != nil {
		campaign.CallingHoursStart = *req.CallingHoursStart
	}
	if req.CallingHoursEnd != nil {
		campaign.CallingHoursEnd = *req.CallingHoursEnd
	}
	if !validHour(campaign.CallingHoursStart) || !validHour(campaign.CallingHoursEnd) {
		return domain.Campaign{}, domain.ErrInvalidHours
	}
	if req.TimezoneName != nil {
		tz := strings.TrimSpace(*req.TimezoneName)
		if _, err := time.LoadLocation(tz); err != nil || tz == "" {
			return domain.Campaign{}, domain.ErrInvalidTimezone
		}
		campaign.TimezoneName = tz
	}

	if err := s.repo.UpdateCampaign(ctx, s.db, campaign); err != nil {
		return domain.Campaign{}, err
	}
	return *campaign, nil
}

func (s *Service) SetCampaignStatus(ctx context.Context, id, status string) (domain.Campaign, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Campaign{}, domain.ErrInvalidOrganization
	}

	campaignID, err := parseID(id)
	if err != nil {
		return domain.Campaign{}, err
	}
	if !domain.ValidCampaignStatus(status) {
		return domain.Campaign{}, domain.ErrInvalidStatus
	}

	campaign, err := s.repo.FindCampaignByID(ctx, s.db, orgID, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if campaign == nil {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	if campaign.Status == status {
		return *campaign, nil
	}
	if !domain.StatusTransitionAllowed(campaign.Status, status) {
		return domain.Campaign{}, domain.ErrInvalidStatus
	}

	now := time.Now().UTC()
	affected, err := s.repo.TransitionStatus(ctx, s.db, orgID, campaignID, campaign.Status, status, now)
	if err != nil {
		return domain.Campaign{}, err
	}
	if affected == 0 {
		// Lost a race with the executor or another request.
		return domain.Campaign{}, domain.ErrInvalidStatus
	}

	campaign.Status = status
	campaign.UpdatedAt = now
	if status == domain.CampaignStatusCompleted {
		campaign.CompletedAt = &now
	}
	s.log.Info("campaign status changed",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("status", status),
	)
	return *campaign, nil
}

func (s *Service) ListCalls(ctx context.Context, req domain.ListCallsRequest) (domain.ListCallsResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListCallsResponse{}, domain.ErrInvalidOrganization
	}

	page := normalizePage(req.Pagination)
	filter := domain.CallFilter{Status: strings.TrimSpace(req.Status)}
	if raw := strings.TrimSpace(req.CampaignID); raw != "" {
		campaignID, err := parseID(raw)
		if err != nil {
			return domain.ListCallsResponse{}, err
		}
		filter.CampaignID = &campaignID
	}

	items, err := s.repo.ListCalls(ctx, s.db, orgID, filter, page)
	if err != nil {
		return domain.ListCallsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, page.PageSize, func(call *domain.Call) string {
		return encodeCursor(call.ID, call.CreatedAt)
	})
	if pageInfo.HasMore && len(items) > page.PageSize {
		items = items[:page.PageSize]
	}

	calls := make([]domain.Call, 0, len(items))
	for _, item := range items {
		calls = append(calls, *item)
	}

	return domain.ListCallsResponse{PageInfo: *pageInfo, Calls: calls}, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func validHour(hour int) bool { return hour >= 0 && hour <= 23 }

func normalizePage(page pagination.Pagination) pagination.Pagination {
	if page.PageSize <= 0 {
		page.PageSize = 50
	}
	return page
}

func encodeCursor(id snowflake.ID, createdAt time.Time) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        id.String(),
		CreatedAt: createdAt.Format(time.RFC3339),
	})
	if err != nil {
		return ""
	}
	return token
}
