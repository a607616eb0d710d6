package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/gmartell/paycore/pkg/enums"
)

// TransactionEvent records one immutable status transition. The sequence
// column gives a total order even when two events share a timestamp.
type TransactionEvent struct {
	Seq           uint64                  `gorm:"column:seq;primaryKey;autoIncrement"`
	TransactionID uuid.UUID               `gorm:"column:transaction_id;type:uuid;not null;index:idx_transaction_events_tx_id"`
	Status        enums.TransactionStatus `gorm:"column:status;not null"`
	Reason        string                  `gorm:"column:reason"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides the default pluralization.
func (TransactionEvent) TableName() string {
	return "transaction_events"
}
