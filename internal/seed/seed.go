// Package seed creates the bootstrap organization for local development.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/apexhq/apex/internal/config"
	organizationdomain "github.com/apexhq/apex/internal/organization/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultOrgName  = "Main"
	defaultOrgSlug  = "main"
	defaultOrgOwner = "local-dev"
)

// EnsureDefaultOrg creates the default organization when none exists.
// The platform Vapi key from the environment becomes the org key so a
// fresh checkout can place calls without touching the API first.
func EnsureDefaultOrg(conn *gorm.DB, node *snowflake.Node, cfg config.Config) error {
	if conn == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org organizationdomain.Organization
		err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&org).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		org = organizationdomain.Organization{
			ID:                 node.Generate(),
			Name:               defaultOrgName,
			Slug:               defaultOrgSlug,
			OwnerID:            defaultOrgOwner,
			VapiAPIKey:         cfg.VapiAPIKey,
			SubscriptionStatus: organizationdomain.SubscriptionTrialing,
			Settings:           datatypes.JSONMap{},
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		return tx.WithContext(ctx).Create(&org).Error
	})
}
