// Package ledger owns the append-only record of transaction state
// transitions. State machines never mutate a transaction in place; every
// change goes through Append, which enforces the lifecycle and keeps the
// full event history.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gmartell/paycore/pkg/enums"
	"github.com/gmartell/paycore/pkg/money"
)

// StatusEvent is one immutable entry in a transaction's history.
type StatusEvent struct {
	Status enums.TransactionStatus `json:"status"`
	Reason string                  `json:"reason,omitempty"`
	At     time.Time               `json:"at"`
}

// Transaction is the ledger's view of a payment or refund. Events hold the
// complete transition history in order; Status mirrors the latest event.
type Transaction struct {
	ID            uuid.UUID
	OrderID       string
	Kind          enums.TransactionKind
	Status        enums.TransactionStatus
	Amount        money.Money
	MethodType    enums.PaymentMethodType
	PaymentID     *uuid.UUID
	AuthCode      string
	ProviderRef   string
	FailureReason string
	CreatedAt     time.Time
	Events        []StatusEvent
}

// AppendInput captures one proposed transition.
type AppendInput struct {
	Status enums.TransactionStatus
	Reason string
	At     time.Time
	// AuthCode and ProviderRef are recorded on settle so later refunds can
	// reference the acquirer-side payment.
	AuthCode    string
	ProviderRef string
}

// RefundSummary aggregates the committed refunds of a settled payment.
type RefundSummary struct {
	Refunded  money.Money
	Remaining money.Money
	Status    enums.RefundStatus
}

// Ledger is the engine's only path to durable transaction state. Writes are
// committed synchronously: when a call returns without error the record is
// durable.
type Ledger interface {
	// Create records a new transaction with its initial created event.
	Create(ctx context.Context, tx *Transaction) error
	// Append records a transition, rejecting any step the lifecycle
	// disallows, and returns the updated transaction.
	Append(ctx context.Context, transactionID uuid.UUID, input AppendInput) (*Transaction, error)
	Get(ctx context.Context, transactionID uuid.UUID) (*Transaction, error)
	// FindByOrder returns all transactions for an order ordered by creation.
	FindByOrder(ctx context.Context, orderID string) ([]*Transaction, error)
	// RefundBalance computes the refunded total and remaining refundable
	// balance of a settled payment from its refund history.
	RefundBalance(ctx context.Context, paymentID uuid.UUID) (*RefundSummary, error)
}
