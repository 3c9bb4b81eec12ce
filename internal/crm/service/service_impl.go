package service

import (
	"context"
	"strings"
	"time"

	"github.com/apexhq/apex/internal/crm/domain"
	"github.com/apexhq/apex/internal/orgcontext"
	"github.com/apexhq/apex/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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
		log:   p.Log.Named("crm.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) CreateContact(ctx context.Context, req domain.CreateContactRequest) (domain.Contact, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Contact{}, domain.ErrInvalidOrganization
	}

	email := strings.TrimSpace(req.Email)
	if email != "" && !strings.Contains(email, "@") {
		return domain.Contact{}, domain.ErrInvalidEmail
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = datatypes.JSONMap{}
	}

	now := time.Now().UTC()
	contact := domain.Contact{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     email,
		Phone:     strings.TrimSpace(req.Phone),
		Company:   strings.TrimSpace(req.Company),
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.InsertContact(ctx, s.db, &contact); err != nil {
		return domain.Contact{}, err
	}
	return contact, nil
}

func (s *Service) GetContact(ctx context.Context, id string) (domain.Contact, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Contact{}, domain.ErrInvalidOrganization
	}

	contactID, err := parseID(id)
	if err != nil {
		return domain.Contact{}, err
	}

	contact, err := s.repo.FindContactByID(ctx, s.db, orgID, contactID)
	if err != nil {
		return domain.Contact{}, err
	}
	if contact == nil {
		return domain.Contact{}, domain.ErrNotFound
	}
	return *contact, nil
}

func (s *Service) ListContacts(ctx context.Context, req domain.ListContactsRequest) (domain.ListContactsResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListContactsResponse{}, domain.ErrInvalidOrganization
	}

	page := normalizePage(req.Pagination)
	filter := domain.ContactFilter{
		Email: strings.TrimSpace(req.Email),
		Phone: strings.TrimSpace(req.Phone),
	}

	items, err := s.repo.ListContacts(ctx, s.db, orgID, filter, page)
	if err != nil {
		return domain.ListContactsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, page.PageSize, func(contact *domain.Contact) string {
		return encodeCursor(contact.ID, contact.CreatedAt)
	})
	if pageInfo.HasMore && len(items) > page.PageSize {
		items = items[:page.PageSize]
	}

	contacts := make([]domain.Contact, 0, len(items))
	for _, item := range items {
		contacts = append(contacts, *item)
	}

	return domain.ListContactsResponse{PageInfo: *pageInfo, Contacts: contacts}, nil
}

func (s *Service) UpdateContact(ctx context.Context, id string, req domain.UpdateContactRequest) (domain.Contact, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Contact{}, domain.ErrInvalidOrganization
	}

	contactID, err := parseID(id)
	if err != nil {
		return domain.Contact{}, err
	}

	contact, err := s.repo.FindContactByID(ctx, s.db, orgID, contactID)
	if err != nil {
		return domain.Contact{}, err
	}
	if contact == nil {
		return domain.Contact{}, domain.ErrNotFound
	}

	if req.FirstName != nil {
		contact.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		contact.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if email != "" && !strings.Contains(email, "@") {
			return domain.Contact{}, domain.ErrInvalidEmail
		}
		contact.Email = email
	}
	if req.Phone != nil {
		contact.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Company != nil {
		contact.Company = strings.TrimSpace(*req.Company)
	}
	if req.Metadata != nil {
		contact.Metadata = req.Metadata
	}

	if err := s.repo.UpdateContact(ctx, s.db, contact); err != nil {
		return domain.Contact{}, err
	}
	return *contact, nil
}

func (s *Service) DeleteContact(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}

	contactID, err := parseID(id)
	if err != nil {
		return err
	}

	affected, err := s.repo.DeleteContact(ctx, s.db, orgID, contactID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) CreateLead(ctx context.Context, req domain.CreateLeadRequest) (domain.Lead, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Lead{}, domain.ErrInvalidOrganization
	}

	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return domain.Lead{}, domain.ErrInvalidPhone
	}

	now := time.Now().UTC()
	lead := domain.Lead{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Phone:     phone,
		Name:      strings.TrimSpace(req.Name),
		Status:    domain.LeadStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if raw := strings.TrimSpace(req.ContactID); raw != "" {
		contactID, err := parseID(raw)
		if err != nil {
			return domain.Lead{}, err
		}
		lead.ContactID = &contactID
	}
	if raw := strings.TrimSpace(req.CampaignID); raw != "" {
		campaignID, err := parseID(raw)
		if err != nil {
			return domain.Lead{}, err
		}
		lead.CampaignID = &campaignID
	}

	if err := s.repo.InsertLead(ctx, s.db, &lead); err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

func (s *Service) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Lead{}, domain.ErrInvalidOrganization
	}

	leadID, err := parseID(id)
	if err != nil {
		return domain.Lead{}, err
	}

	lead, err := s.repo.FindLeadByID(ctx, s.db, orgID, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if lead == nil {
		return domain.Lead{}, domain.ErrNotFound
	}
	return *lead, nil
}

func (s *Service) ListLeads(ctx context.Context, req domain.ListLeadsRequest) (domain.ListLeadsResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListLeadsResponse{}, domain.ErrInvalidOrganization
	}

	page := normalizePage(req.Pagination)
	filter := domain.LeadFilter{Status: strings.TrimSpace(req.Status)}
	if raw := strings.TrimSpace(req.CampaignID); raw != "" {
		campaignID, err := parseID(raw)
		if err != nil {
			return domain.ListLeadsResponse{}, err
		}
		filter.CampaignID = &campaignID
	}

	items, err := s.repo.ListLeads(ctx, s.db, orgID, filter, page)
	if err != nil {
		return domain.ListLeadsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, page.PageSize, func(lead *domain.Lead) string {
		return encodeCursor(lead.ID, lead.CreatedAt)
	})
	if pageInfo.HasMore && len(items) > page.PageSize {
		items = items[:page.PageSize]
	}

	leads := make([]domain.Lead, 0, len(items))
	for _, item := range items {
		leads = append(leads, *item)
	}

	return domain.ListLeadsResponse{PageInfo: *pageInfo, Leads: leads}, nil
}

func (s *Service) UpdateLead(ctx context.Context, id string, req domain.UpdateLeadRequest) (domain.Lead, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Lead{}, domain.ErrInvalidOrganization
	}

	leadID, err := parseID(id)
	if err != nil {
		return domain.Lead{}, err
	}

	lead, err := s.repo.FindLeadByID(ctx, s.db, orgID, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if lead == nil {
		return domain.Lead{}, domain.ErrNotFound
	}

	if req.CampaignID != nil {
		if raw := strings.TrimSpace(*req.CampaignID); raw == "" {
			lead.CampaignID = nil
		} else {
			campaignID, err := parseID(raw)
			if err != nil {
				return domain.Lead{}, err
			}
			lead.CampaignID = &campaignID
		}
	}
	if req.Status != nil {
		status := strings.TrimSpace(*req.Status)
		if !validLeadStatus(status) {
			return domain.Lead{}, domain.ErrInvalidStatus
		}
		lead.Status = status
	}
	if req.Disposition != nil {
		lead.Disposition = strings.TrimSpace(*req.Disposition)
	}

	if err := s.repo.UpdateLead(ctx, s.db, lead); err != nil {
		return domain.Lead{}, err
	}
	return *lead, nil
}

func (s *Service) DeleteLead(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}

	leadID, err := parseID(id)
	if err != nil {
		return err
	}

	affected, err := s.repo.DeleteLead(ctx, s.db, orgID, leadID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func validLeadStatus(status string) bool {
	switch status {
	case domain.LeadStatusNew, domain.LeadStatusCalling, domain.LeadStatusCalled, domain.LeadStatusFailed:
		return true
	}
	return false
}

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
