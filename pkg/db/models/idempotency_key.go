package models

import (
	"encoding/json"
	"time"
)

// Idempotency key lifecycle states.
const (
	IdempotencyStateInProgress = "in_progress"
	IdempotencyStateCompleted  = "completed"
)

// IdempotencyKey backs the database implementation of the idempotency store.
// An in_progress row holds a lease that expires at LeaseExpiresAt; a
// completed row retains the serialized terminal result.
type IdempotencyKey struct {
	Key            string          `gorm:"column:key;primaryKey"`
	State          string          `gorm:"column:state;not null"`
	Owner          string          `gorm:"column:owner;not null"`
	Result         json.RawMessage `gorm:"column:result"`
	LeaseExpiresAt time.Time       `gorm:"column:lease_expires_at;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (IdempotencyKey) TableName() string {
	return "idempotency_keys"
}
