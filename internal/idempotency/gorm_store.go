package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gmartell/paycore/pkg/db"
	"github.com/gmartell/paycore/pkg/db/models"
	pkgerrors "github.com/gmartell/paycore/pkg/errors"
)

// TxRunner runs a function inside a database transaction. *db.Client
// satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// GormStore implements Store on the relational database, for deployments
// that run without Redis. Lease expiry is tracked per row and reclaimed
// with an owner-guarded update.
type GormStore struct {
	client   TxRunner
	leaseTTL time.Duration
	newOwner func() string
	now      func() time.Time
}

// NewGormStore wires a database-backed idempotency store.
func NewGormStore(client TxRunner, leaseTTL time.Duration, newOwner func() string) (*GormStore, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if leaseTTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive")
	}
	if newOwner == nil {
		return nil, fmt.Errorf("owner generator required")
	}
	return &GormStore{
		client:   client,
		leaseTTL: leaseTTL,
		newOwner: newOwner,
		now:      time.Now,
	}, nil
}

func (s *GormStore) Reserve(ctx context.Context, key string) (*Reservation, error) {
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	var reservation *Reservation
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		var record models.IdempotencyKey
		err := tx.WithContext(ctx).Where("key = ?", key).First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			reservation, err = s.insertLease(ctx, tx, key)
			return err
		}
		if err != nil {
			return err
		}

		switch {
		case record.State == models.IdempotencyStateCompleted:
			reservation = &Reservation{State: StateCompleted, Result: record.Result}
		case record.LeaseExpiresAt.After(s.now()):
			reservation = &Reservation{State: StateInProgress}
		default:
			reservation, err = s.reclaimLease(ctx, tx, &record)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "reserve idempotency key")
	}
	return reservation, nil
}

func (s *GormStore) insertLease(ctx context.Context, tx *gorm.DB, key string) (*Reservation, error) {
	owner := s.newOwner()
	record := models.IdempotencyKey{
		Key:            key,
		State:          models.IdempotencyStateInProgress,
		Owner:          owner,
		LeaseExpiresAt: s.now().Add(s.leaseTTL),
	}
	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		if db.IsUniqueViolation(err, "idempotency_keys_pkey") {
			return &Reservation{State: StateInProgress}, nil
		}
		return nil, err
	}
	return &Reservation{State: StateAcquired, Owner: owner}, nil
}

// reclaimLease takes over an expired lease. The previous owner is part of
// the predicate so two reclaimers cannot both win.
func (s *GormStore) reclaimLease(ctx context.Context, tx *gorm.DB, record *models.IdempotencyKey) (*Reservation, error) {
	owner := s.newOwner()
	result := tx.WithContext(ctx).
		Model(&models.IdempotencyKey{}).
		Where("key = ? AND owner = ? AND state = ?", record.Key, record.Owner, models.IdempotencyStateInProgress).
		Updates(map[string]any{
			"owner":            owner,
			"lease_expires_at": s.now().Add(s.leaseTTL),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return &Reservation{State: StateInProgress}, nil
	}
	return &Reservation{State: StateAcquired, Owner: owner}, nil
}

func (s *GormStore) Complete(ctx context.Context, key, owner string, result json.RawMessage) error {
	if key == "" || owner == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key and owner are required")
	}
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.WithContext(ctx).
			Model(&models.IdempotencyKey{}).
			Where("key = ? AND owner = ?", key, owner).
			Updates(map[string]any{
				"state":  models.IdempotencyStateCompleted,
				"result": result,
			}).Error
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "complete idempotency key")
	}
	return nil
}

func (s *GormStore) Release(ctx context.Context, key, owner string) error {
	if key == "" || owner == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key and owner are required")
	}
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.WithContext(ctx).
			Where("key = ? AND owner = ? AND state = ?", key, owner, models.IdempotencyStateInProgress).
			Delete(&models.IdempotencyKey{}).Error
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "release idempotency key")
	}
	return nil
}
