package service

import (
	"context"
	"time"

	webhookeventdomain "github.com/apexhq/apex/internal/webhookevent/domain"
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
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) webhookeventdomain.Log {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("webhookevent.log"),
		genID: p.GenID,
	}
}

func (s *Service) Record(ctx context.Context, orgID snowflake.ID, eventID, eventType string, redactedPayload []byte) (*webhookeventdomain.Event, error) {
	now := time.Now().UTC()
	record := webhookeventdomain.Event{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		EventID:     eventID,
		EventType:   eventType,
		Payload:     datatypes.JSON(redactedPayload),
		Status:      webhookeventdomain.StatusProcessed,
		ProcessedAt: &now,
		CreatedAt:   now,
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID) error {
	return s.setStatus(ctx, id, webhookeventdomain.StatusFailed)
}

func (s *Service) MarkIgnored(ctx context.Context, id snowflake.ID) error {
	return s.setStatus(ctx, id, webhookeventdomain.StatusIgnored)
}

func (s *Service) setStatus(ctx context.Context, id snowflake.ID, status webhookeventdomain.Status) error {
	err := s.db.WithContext(ctx).
		Model(&webhookeventdomain.Event{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		s.log.Warn("failed to update webhook event status",
			zap.String("event_row_id", id.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	return err
}
