package repository

import (
	"context"
	"errors"
	"time"

	"github.com/apexhq/apex/internal/crm/domain"
	"github.com/apexhq/apex/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertContact(ctx context.Context, db *gorm.DB, contact *domain.Contact) error {
	return db.WithContext(ctx).Create(contact).Error
}

func (r *repo) FindContactByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Contact, error) {
	var contact domain.Contact
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Take(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *repo) ListContacts(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ContactFilter, page pagination.Pagination) ([]*domain.Contact, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("org_id = ?", orgID)
	if filter.Email != "" {
		stmt = stmt.Where("email = ?", filter.Email)
	}
	if filter.Phone != "" {
		stmt = stmt.Where("phone = ?", filter.Phone)
	}

	stmt, err := pagination.Apply(stmt, page)
	if err != nil {
		return nil, err
	}

	var contacts []*domain.Contact
	if err := stmt.Order("created_at desc, id desc").Find(&contacts).Error; err != nil {
		return nil, err
	}
	return contacts, nil
}

func (r *repo) UpdateContact(ctx context.Context, db *gorm.DB, contact *domain.Contact) error {
	return db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("org_id = ? AND id = ?", contact.OrgID, contact.ID).
		Updates(map[string]any{
			"first_name": contact.FirstName,
			"last_name":  contact.LastName,
			"email":      contact.Email,
			"phone":      contact.Phone,
			"company":    contact.Company,
			"metadata":   contact.Metadata,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repo) DeleteContact(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Delete(&domain.Contact{})
	return res.RowsAffected, res.Error
}

func (r *repo) InsertLead(ctx context.Context, db *gorm.DB, lead *domain.Lead) error {
	return db.WithContext(ctx).Create(lead).Error
}

func (r *repo) FindLeadByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Lead, error) {
	var lead domain.Lead
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Take(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (r *repo) ListLeads(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.LeadFilter, page pagination.Pagination) ([]*domain.Lead, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Lead{}).
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

	var leads []*domain.Lead
	if err := stmt.Order("created_at desc, id desc").Find(&leads).Error; err != nil {
		return nil, err
	}
	return leads, nil
}

func (r *repo) UpdateLead(ctx context.Context, db *gorm.DB, lead *domain.Lead) error {
	return db.WithContext(ctx).
		Model(&domain.Lead{}).
		Where("org_id = ? AND id = ?", lead.OrgID, lead.ID).
		Updates(map[string]any{
			"campaign_id": lead.CampaignID,
			"status":      lead.Status,
			"disposition": lead.Disposition,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (r *repo) DeleteLead(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Delete(&domain.Lead{})
	return res.RowsAffected, res.Error
}

func (r *repo) ClaimLeads(ctx context.Context, db *gorm.DB, orgID, campaignID snowflake.ID, limit int, now time.Time) ([]*domain.Lead, error) {
	if limit <= 0 {
		return nil, nil
	}

	var candidates []*domain.Lead
	err := db.WithContext(ctx).
		Where("org_id = ? AND campaign_id = ? AND status = ?", orgID, campaignID, domain.LeadStatusNew).
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]*domain.Lead, 0, len(candidates))
	for _, lead := range candidates {
		res := db.WithContext(ctx).
			Model(&domain.Lead{}).
			Where("id = ? AND status = ?", lead.ID, domain.LeadStatusNew).
			Updates(map[string]any{
				"status":         domain.LeadStatusCalling,
				"last_called_at": now,
				"updated_at":     now,
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		lead.Status = domain.LeadStatusCalling
		lead.LastCalledAt = &now
		claimed = append(claimed, lead)
	}
	return claimed, nil
}

func (r *repo) SettleLead(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, status, disposition string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Lead{}).
		Where("org_id = ? AND id = ?", orgID, id).
		Updates(map[string]any{
			"status":      status,
			"disposition": disposition,
			"updated_at":  now,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) CountRemaining(ctx context.Context, db *gorm.DB, orgID, campaignID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Lead{}).
		Where("org_id = ? AND campaign_id = ? AND status IN ?", orgID, campaignID,
			[]string{domain.LeadStatusNew, domain.LeadStatusCalling}).
		Count(&count).Error
	return count, err
}
