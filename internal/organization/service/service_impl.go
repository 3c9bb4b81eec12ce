package service

import (
	"context"
	"strings"
	"time"

	"github.com/apexhq/apex/internal/cache"
	"github.com/apexhq/apex/internal/organization/domain"
	"github.com/apexhq/apex/internal/webhook/redact"
	"github.com/apexhq/apex/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type service struct {
	db    *gorm.DB
	repo  domain.Repository
	genID *snowflake.Node
	creds cache.CredentialsCache
}

func NewService(conn *gorm.DB, repo domain.Repository, genID *snowflake.Node, creds cache.CredentialsCache) domain.Service {
	return &service{
		db:    conn,
		repo:  repo,
		genID: genID,
		creds: creds,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return nil, domain.ErrInvalidOwner
	}

	now := time.Now().UTC()
	org := domain.Organization{
		ID:                 s.genID.Generate(),
		Name:               name,
		Slug:               slug.Make(name),
		OwnerID:            ownerID,
		VapiAPIKey:         strings.TrimSpace(req.VapiAPIKey),
		VapiPrivateKey:     strings.TrimSpace(req.VapiPrivateKey),
		SubscriptionStatus: domain.SubscriptionTrialing,
		Settings:           datatypes.JSONMap{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Create(ctx, org); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrOrganizationExists
		}
		return nil, err
	}

	return toResponse(&org), nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	orgID, err := parseOrgID(id)
	if err != nil {
		return nil, err
	}

	org, err := s.repo.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return toResponse(org), nil
}

func (s *service) ListByOwner(ctx context.Context, ownerID string) ([]domain.OrganizationResponse, error) {
	trimmed := strings.TrimSpace(ownerID)
	if trimmed == "" {
		return nil, domain.ErrInvalidOwner
	}

	orgs, err := s.repo.ListByOwner(ctx, trimmed)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrganizationResponse, 0, len(orgs))
	for i := range orgs {
		resp = append(resp, *toResponse(&orgs[i]))
	}
	return resp, nil
}

func (s *service) Update(ctx context.Context, id string, req domain.UpdateOrganizationRequest) (*domain.OrganizationResponse, error) {
	orgID, err := parseOrgID(id)
	if err != nil {
		return nil, err
	}

	var updated *domain.Organization
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		org, err := repo.Get(ctx, orgID)
		if err != nil {
			return err
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return domain.ErrInvalidName
			}
			org.Name = name
		}
		if req.VapiAPIKey != nil {
			org.VapiAPIKey = strings.TrimSpace(*req.VapiAPIKey)
		}
		if req.VapiPrivateKey != nil {
			org.VapiPrivateKey = strings.TrimSpace(*req.VapiPrivateKey)
		}
		if req.Settings != nil {
			org.Settings = req.Settings
		}

		if err := repo.Update(ctx, *org); err != nil {
			return err
		}
		updated = org
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.creds.Invalidate(orgID)
	return toResponse(updated), nil
}

func (s *service) Credentials(ctx context.Context, orgID snowflake.ID) (domain.VapiCredentials, error) {
	if creds, ok := s.creds.Get(orgID); ok {
		return creds, nil
	}

	org, err := s.repo.Get(ctx, orgID)
	if err != nil {
		return domain.VapiCredentials{}, err
	}
	if org.VapiAPIKey == "" {
		return domain.VapiCredentials{}, domain.ErrMissingCredentials
	}

	creds := domain.VapiCredentials{
		APIKey:     org.VapiAPIKey,
		PrivateKey: org.VapiPrivateKey,
	}
	s.creds.Set(orgID, creds)
	return creds, nil
}

func (s *service) SetSubscriptionStatus(ctx context.Context, orgID snowflake.ID, status string) error {
	if !domain.ValidSubscriptionStatus(status) {
		return domain.ErrInvalidStatus
	}

	affected, err := s.repo.SetSubscriptionStatus(ctx, orgID, status)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func parseOrgID(id string) (snowflake.ID, error) {
	raw := strings.TrimSpace(id)
	if raw == "" {
		return 0, domain.ErrInvalidOrganization
	}
	orgID, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, domain.ErrInvalidOrganization
	}
	return orgID, nil
}

func toResponse(org *domain.Organization) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:                 org.ID.String(),
		Name:               org.Name,
		Slug:               org.Slug,
		OwnerID:            org.OwnerID,
		VapiAPIKey:         redact.Secret(org.VapiAPIKey),
		SubscriptionStatus: org.SubscriptionStatus,
		Settings:           org.Settings,
		CreatedAt:          org.CreatedAt,
	}
}
