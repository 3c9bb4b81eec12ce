package domain

import (
	"context"
	"errors"

	"github.com/apexhq/apex/pkg/db/pagination"
	"gorm.io/datatypes"
)

type CreateContactRequest struct {
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone"`
	Company   string            `json:"company"`
	Metadata  datatypes.JSONMap `json:"metadata"`
}

type UpdateContactRequest struct {
	FirstName *string           `json:"first_name"`
	LastName  *string           `json:"last_name"`
	Email     *string           `json:"email"`
	Phone     *string           `json:"phone"`
	Company   *string           `json:"company"`
	Metadata  datatypes.JSONMap `json:"metadata"`
}

type ListContactsRequest struct {
	pagination.Pagination
	Email string `form:"email"`
	Phone string `form:"phone"`
}

type ListContactsResponse struct {
	pagination.PageInfo
	Contacts []Contact `json:"contacts"`
}

type CreateLeadRequest struct {
	ContactID  string `json:"contact_id"`
	CampaignID string `json:"campaign_id"`
	Phone      string `json:"phone"`
	Name       string `json:"name"`
}

type UpdateLeadRequest struct {
	CampaignID  *string `json:"campaign_id"`
	Status      *string `json:"status"`
	Disposition *string `json:"disposition"`
}

type ListLeadsRequest struct {
	pagination.Pagination
	CampaignID string `form:"campaign_id"`
	Status     string `form:"status"`
}

type ListLeadsResponse struct {
	pagination.PageInfo
	Leads []Lead `json:"leads"`
}

type Service interface {
	CreateContact(ctx context.Context, req CreateContactRequest) (Contact, error)
	GetContact(ctx context.Context, id string) (Contact, error)
	ListContacts(ctx context.Context, req ListContactsRequest) (ListContactsResponse, error)
	UpdateContact(ctx context.Context, id string, req UpdateContactRequest) (Contact, error)
	DeleteContact(ctx context.Context, id string) error

	CreateLead(ctx context.Context, req CreateLeadRequest) (Lead, error)
	GetLead(ctx context.Context, id string) (Lead, error)
	ListLeads(ctx context.Context, req ListLeadsRequest) (ListLeadsResponse, error)
	UpdateLead(ctx context.Context, id string, req UpdateLeadRequest) (Lead, error)
	DeleteLead(ctx context.Context, id string) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPhone        = errors.New("invalid_phone")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidStatus       = errors.New("invalid_lead_status")
	ErrNotFound            = errors.New("not_found")
)
