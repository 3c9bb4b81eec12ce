package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, org Organization) error
	Get(ctx context.Context, id snowflake.ID) (*Organization, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Organization, error)
	Update(ctx context.Context, org Organization) error
	SetSubscriptionStatus(ctx context.Context, id snowflake.ID, status string) (int64, error)
}
