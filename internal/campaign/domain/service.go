package domain

import (
	"context"
	"errors"
	"time"

	"github.com/apexhq/apex/pkg/db/pagination"
)

// Service is the org-scoped campaign CRUD surface.
type Service interface {
	CreateCampaign(ctx context.Context, req CreateCampaignRequest) (Campaign, error)
	GetCampaign(ctx context.Context, id string) (Campaign, error)
	ListCampaigns(ctx context.Context, req ListCampaignsRequest) (ListCampaignsResponse, error)
	UpdateCampaign(ctx context.Context, id string, req UpdateCampaignRequest) (Campaign, error)
	SetCampaignStatus(ctx context.Context, id, status string) (Campaign, error)
	ListCalls(ctx context.Context, req ListCallsRequest) (ListCallsResponse, error)
}

// Executor runs one campaign tick. A tick fetches active campaigns,
// claims dialable leads within each campaign's caps and calling hours,
// places the calls and marks exhausted campaigns completed. Failures of
// one campaign never abort the tick for the others.
type Executor interface {
	ProcessCampaigns(ctx context.Context) error
}

type CreateCampaignRequest struct {
	Name               string `json:"name"`
	AssistantID        string `json:"assistant_id"`
	PhoneNumberID      string `json:"phone_number_id"`
	DailyCallCap       int    `json:"daily_call_cap"`
	MaxConcurrentCalls int    `json:"max_concurrent_calls"`
	CallingHoursStart  *int   `json:"calling_hours_start"`
	CallingHoursEnd    *int   `json:"calling_hours_end"`
	TimezoneName       string `json:"timezone_name"`
}

type UpdateCampaignRequest struct {
	Name               *string `json:"name"`
	AssistantID        *string `json:"assistant_id"`
	PhoneNumberID      *string `json:"phone_number_id"`
	DailyCallCap       *int    `json:"daily_call_cap"`
	MaxConcurrentCalls *int    `json:"max_concurrent_calls"`
	CallingHoursStart  *int    `json:"calling_hours_start"`
	CallingHoursEnd    *int    `json:"calling_hours_end"`
	TimezoneName       *string `json:"timezone_name"`
}

type ListCampaignsRequest struct {
	pagination.Pagination

	Status string `form:"status"`
}

type ListCampaignsResponse struct {
	Campaigns []Campaign          `json:"campaigns"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

type ListCallsRequest struct {
	pagination.Pagination

	CampaignID string `form:"campaign_id"`
	Status     string `form:"status"`
}

type ListCallsResponse struct {
	Calls    []Call              `json:"calls"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidCampaign     = errors.New("invalid_campaign")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidHours        = errors.New("invalid_calling_hours")
	ErrInvalidTimezone     = errors.New("invalid_timezone")
	ErrCampaignNotFound    = errors.New("campaign_not_found")
	ErrCampaignCompleted   = errors.New("campaign_completed")
)

// StatusTransitionAllowed reports whether a campaign may move from one
// state to another. Completed is terminal.
func StatusTransitionAllowed(from, to string) bool {
	switch from {
	case CampaignStatusDraft:
		return to == CampaignStatusActive
	case CampaignStatusActive:
		return to == CampaignStatusPaused || to == CampaignStatusCompleted
	case CampaignStatusPaused:
		return to == CampaignStatusActive || to == CampaignStatusCompleted
	}
	return false
}

// WithinCallingHours reports whether now falls inside the campaign's
// dialing window. An hour window that wraps midnight is honored.
func (c *Campaign) WithinCallingHours(now time.Time) bool {
	if c.CallingHoursStart == c.CallingHoursEnd {
		return false
	}
	loc, err := time.LoadLocation(c.TimezoneName)
	if err != nil {
		loc = time.UTC
	}
	hour := now.In(loc).Hour()
	if c.CallingHoursStart < c.CallingHoursEnd {
		return hour >= c.CallingHoursStart && hour < c.CallingHoursEnd
	}
	return hour >= c.CallingHoursStart || hour < c.CallingHoursEnd
}

// DayStart returns midnight of the current day in the campaign's
// timezone, the boundary for the daily call cap.
func (c *Campaign) DayStart(now time.Time) time.Time {
	loc, err := time.LoadLocation(c.TimezoneName)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
