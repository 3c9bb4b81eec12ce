package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	idempotencydomain "github.com/apexhq/apex/internal/idempotency/domain"
	"github.com/apexhq/apex/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(p Params) idempotencydomain.Store {
	return &Store{
		db:  p.DB,
		log: p.Log.Named("idempotency.store"),
	}
}

func (s *Store) CheckOrReserve(ctx context.Context, key, requestHash string) (idempotencydomain.Result, error) {
	now := time.Now().UTC()
	reservation := idempotencydomain.Key{
		Key:         key,
		RequestHash: requestHash,
		// Empty, not nil: the column is NOT NULL in the deployed schema.
		ResponseBody: []byte{},
		CreatedAt:    now,
		ExpiresAt:    now.Add(idempotencydomain.ReservationTTL),
	}

	err := s.db.WithContext(ctx).Create(&reservation).Error
	if err == nil {
		return idempotencydomain.Result{State: idempotencydomain.StateMiss}, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return idempotencydomain.Result{}, fmt.Errorf("%w: %v", idempotencydomain.ErrStoreUnavailable, err)
	}

	existing, err := s.load(ctx, key)
	if err != nil {
		return idempotencydomain.Result{}, err
	}
	if existing == nil {
		// Expired leftover row. Take it over; a concurrent takeover loser
		// falls through to the live row it lost to.
		claimed, err := s.claimExpired(ctx, &reservation)
		if err != nil {
			return idempotencydomain.Result{}, err
		}
		if claimed {
			return idempotencydomain.Result{State: idempotencydomain.StateMiss}, nil
		}
		existing, err = s.load(ctx, key)
		if err != nil {
			return idempotencydomain.Result{}, err
		}
		if existing == nil {
			return idempotencydomain.Result{State: idempotencydomain.StateInFlight}, nil
		}
	}

	return classify(existing, requestHash), nil
}

func (s *Store) Commit(ctx context.Context, key, requestHash string, status int, body []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&idempotencydomain.Key{}).
		Where("key = ? AND request_hash = ?", key, requestHash).
		Updates(map[string]any{
			"response_status": status,
			"response_body":   body,
			"expires_at":      now.Add(ttl),
		})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", idempotencydomain.ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		// Reservation vanished (swept or taken over after expiry). Write
		// the outcome fresh so replays still hit the cache.
		record := idempotencydomain.Key{
			Key:            key,
			RequestHash:    requestHash,
			ResponseStatus: status,
			ResponseBody:   body,
			CreatedAt:      now,
			ExpiresAt:      now.Add(ttl),
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil && !db.IsDuplicateKeyErr(err) {
			return fmt.Errorf("%w: %v", idempotencydomain.ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where("key = ? AND response_status = 0", key).
		Delete(&idempotencydomain.Key{}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", idempotencydomain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&idempotencydomain.Key{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", idempotencydomain.ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected > 0 {
		s.log.Info("purged expired idempotency keys", zap.Int64("deleted", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// load returns the live row for key, or nil when absent or expired.
func (s *Store) load(ctx context.Context, key string) (*idempotencydomain.Key, error) {
	var record idempotencydomain.Key
	err := s.db.WithContext(ctx).
		Where("key = ?", key).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", idempotencydomain.ErrStoreUnavailable, err)
	}
	if record.Expired(time.Now().UTC()) {
		return nil, nil
	}
	return &record, nil
}

// claimExpired re-reserves a row whose TTL has passed. The expiry predicate
// makes it a compare-and-set: exactly one concurrent claimer wins.
func (s *Store) claimExpired(ctx context.Context, reservation *idempotencydomain.Key) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&idempotencydomain.Key{}).
		Where("key = ? AND expires_at < ?", reservation.Key, time.Now().UTC()).
		Updates(map[string]any{
			"request_hash":    reservation.RequestHash,
			"response_status": 0,
			"response_body":   []byte{},
			"created_at":      reservation.CreatedAt,
			"expires_at":      reservation.ExpiresAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("%w: %v", idempotencydomain.ErrStoreUnavailable, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func classify(record *idempotencydomain.Key, requestHash string) idempotencydomain.Result {
	if record.RequestHash != requestHash {
		return idempotencydomain.Result{State: idempotencydomain.StateConflict}
	}
	if !record.Committed() {
		return idempotencydomain.Result{State: idempotencydomain.StateInFlight}
	}
	return idempotencydomain.Result{
		State:  idempotencydomain.StateHit,
		Status: record.ResponseStatus,
		Body:   record.ResponseBody,
	}
}
