package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gmartell/paycore/pkg/enums"
	pkgerrors "github.com/gmartell/paycore/pkg/errors"
)

// MemoryLedger is an in-memory Ledger used in tests and for deployments that
// bring their own durability. Semantics match the database-backed service.
type MemoryLedger struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]*Transaction
	byOrder      map[string][]uuid.UUID
}

// NewMemoryLedger builds an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		transactions: map[uuid.UUID]*Transaction{},
		byOrder:      map[string][]uuid.UUID{},
	}
}

func (m *MemoryLedger) Create(ctx context.Context, tx *Transaction) error {
	if tx == nil || tx.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if tx.OrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if tx.Status != enums.TransactionStatusCreated {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "new transactions must start in created status")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transactions[tx.ID]; exists {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction already exists").
			WithTransactionID(tx.ID.String())
	}
	stored := cloneTransaction(tx)
	stored.Events = []StatusEvent{{Status: enums.TransactionStatusCreated, At: tx.CreatedAt}}
	m.transactions[tx.ID] = stored
	m.byOrder[tx.OrderID] = append(m.byOrder[tx.OrderID], tx.ID)
	tx.Events = append([]StatusEvent(nil), stored.Events...)
	return nil
}

func (m *MemoryLedger) Append(ctx context.Context, transactionID uuid.UUID, input AppendInput) (*Transaction, error) {
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", input.Status))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.transactions[transactionID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found").
			WithTransactionID(transactionID.String())
	}
	if !stored.Status.CanTransitionTo(input.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("transition %s -> %s disallowed", stored.Status, input.Status)).
			WithTransactionID(transactionID.String())
	}

	stored.Status = input.Status
	if input.AuthCode != "" {
		stored.AuthCode = input.AuthCode
	}
	if input.ProviderRef != "" {
		stored.ProviderRef = input.ProviderRef
	}
	if input.Reason != "" {
		stored.FailureReason = input.Reason
	}
	stored.Events = append(stored.Events, StatusEvent{
		Status: input.Status,
		Reason: input.Reason,
		At:     input.At,
	})
	return cloneTransaction(stored), nil
}

func (m *MemoryLedger) Get(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.transactions[transactionID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found").
			WithTransactionID(transactionID.String())
	}
	return cloneTransaction(stored), nil
}

func (m *MemoryLedger) FindByOrder(ctx context.Context, orderID string) ([]*Transaction, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byOrder[orderID]
	results := make([]*Transaction, 0, len(ids))
	for _, id := range ids {
		results = append(results, cloneTransaction(m.transactions[id]))
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

func (m *MemoryLedger) RefundBalance(ctx context.Context, paymentID uuid.UUID) (*RefundSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.transactions[paymentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
			WithTransactionID(paymentID.String())
	}
	if payment.Kind != enums.TransactionKindPayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund balance requires a payment transaction").
			WithTransactionID(paymentID.String())
	}

	var refunded int64
	for _, candidate := range m.transactions {
		if candidate.Kind != enums.TransactionKindRefund || candidate.PaymentID == nil {
			continue
		}
		if *candidate.PaymentID == paymentID && candidate.Status == enums.TransactionStatusRefunded {
			refunded += candidate.Amount.AmountMinor
		}
	}
	return summarize(payment.Amount.AmountMinor, refunded, payment.Amount.Currency), nil
}

func cloneTransaction(tx *Transaction) *Transaction {
	clone := *tx
	clone.Events = append([]StatusEvent(nil), tx.Events...)
	if tx.PaymentID != nil {
		id := *tx.PaymentID
		clone.PaymentID = &id
	}
	return &clone
}
