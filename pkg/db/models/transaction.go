package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/gmartell/paycore/pkg/enums"
)

// Transaction is the durable record for a payment or refund. Status history
// lives in TransactionEvent rows; the row's Status column mirrors the latest
// event for cheap lookups and is only ever advanced through the ledger.
type Transaction struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       string                  `gorm:"column:order_id;not null;index:idx_transactions_order_id"`
	Kind          enums.TransactionKind   `gorm:"column:kind;not null"`
	Status        enums.TransactionStatus `gorm:"column:status;not null"`
	AmountMinor   int64                   `gorm:"column:amount_minor;not null"`
	Currency      enums.Currency          `gorm:"column:currency;not null"`
	MethodType    enums.PaymentMethodType `gorm:"column:method_type;not null"`
	PaymentID     *uuid.UUID              `gorm:"column:payment_id;type:uuid;index:idx_transactions_payment_id"`
	AuthCode      *string                 `gorm:"column:auth_code"`
	ProviderRef   *string                 `gorm:"column:provider_ref"`
	FailureReason *string                 `gorm:"column:failure_reason"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (Transaction) TableName() string {
	return "transactions"
}
