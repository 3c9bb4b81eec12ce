package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Service interface {
	Create(ctx context.Context, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*OrganizationResponse, error)
	ListByOwner(ctx context.Context, ownerID string) ([]OrganizationResponse, error)
	Update(ctx context.Context, id string, req UpdateOrganizationRequest) (*OrganizationResponse, error)
	// Credentials returns the unmasked Vapi key pair for outbound calls.
	// Transport layers must never expose this.
	Credentials(ctx context.Context, orgID snowflake.ID) (VapiCredentials, error)
	SetSubscriptionStatus(ctx context.Context, orgID snowflake.ID, status string) error
}

type CreateOrganizationRequest struct {
	Name           string `json:"name"`
	OwnerID        string `json:"owner_id"`
	VapiAPIKey     string `json:"vapi_api_key"`
	VapiPrivateKey string `json:"vapi_private_key"`
}

type UpdateOrganizationRequest struct {
	Name           *string           `json:"name"`
	VapiAPIKey     *string           `json:"vapi_api_key"`
	VapiPrivateKey *string           `json:"vapi_private_key"`
	Settings       datatypes.JSONMap `json:"settings"`
}

// OrganizationResponse is the transport shape. Vapi keys are masked.
type OrganizationResponse struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Slug               string            `json:"slug"`
	OwnerID            string            `json:"owner_id"`
	VapiAPIKey         string            `json:"vapi_api_key"`
	SubscriptionStatus string            `json:"subscription_status"`
	Settings           datatypes.JSONMap `json:"settings"`
	CreatedAt          time.Time         `json:"created_at"`
}

type VapiCredentials struct {
	APIKey     string
	PrivateKey string
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidOwner        = errors.New("invalid_owner")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidStatus       = errors.New("invalid_subscription_status")
	ErrOrganizationExists  = errors.New("organization_exists")
	ErrNotFound            = errors.New("organization_not_found")
	ErrMissingCredentials  = errors.New("missing_vapi_credentials")
)
