package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gmartell/paycore/pkg/db/models"
	"github.com/gmartell/paycore/pkg/enums"
	pkgerrors "github.com/gmartell/paycore/pkg/errors"
	"github.com/gmartell/paycore/pkg/money"
)

// TxRunner runs a function inside a database transaction. *db.Client
// satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	client TxRunner
	repo   Repository
}

// NewService wires a database-backed ledger. Every Append commits the event
// and the transaction row in one synchronous database transaction.
func NewService(client TxRunner, repo Repository) (Ledger, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{client: client, repo: repo}, nil
}

func (s *service) Create(ctx context.Context, tx *Transaction) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction is required")
	}
	if tx.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if tx.OrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !tx.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction kind %q", tx.Kind))
	}
	if tx.Status != enums.TransactionStatusCreated {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "new transactions must start in created status")
	}

	record := toRecord(tx)
	err := s.client.WithTx(ctx, func(gtx *gorm.DB) error {
		repo := s.repo.WithTx(gtx)
		if err := repo.CreateTransaction(ctx, record); err != nil {
			return err
		}
		return repo.CreateEvent(ctx, &models.TransactionEvent{
			TransactionID: tx.ID,
			Status:        enums.TransactionStatusCreated,
			CreatedAt:     tx.CreatedAt,
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "persist transaction")
	}
	tx.Events = []StatusEvent{{Status: enums.TransactionStatusCreated, At: tx.CreatedAt}}
	return nil
}

func (s *service) Append(ctx context.Context, transactionID uuid.UUID, input AppendInput) (*Transaction, error) {
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", input.Status))
	}

	var updated *Transaction
	err := s.client.WithTx(ctx, func(gtx *gorm.DB) error {
		repo := s.repo.WithTx(gtx)
		record, err := repo.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if !record.Status.CanTransitionTo(input.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("transition %s -> %s disallowed", record.Status, input.Status)).
				WithTransactionID(transactionID.String())
		}

		record.Status = input.Status
		if input.AuthCode != "" {
			record.AuthCode = &input.AuthCode
		}
		if input.ProviderRef != "" {
			record.ProviderRef = &input.ProviderRef
		}
		if input.Reason != "" {
			record.FailureReason = &input.Reason
		}
		if err := repo.UpdateTransaction(ctx, record); err != nil {
			return err
		}
		if err := repo.CreateEvent(ctx, &models.TransactionEvent{
			TransactionID: transactionID,
			Status:        input.Status,
			Reason:        input.Reason,
			CreatedAt:     input.At,
		}); err != nil {
			return err
		}

		events, err := repo.ListEvents(ctx, transactionID)
		if err != nil {
			return err
		}
		updated = fromRecord(record, events)
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		if err == ErrNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found").
				WithTransactionID(transactionID.String())
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "append transition")
	}
	return updated, nil
}

func (s *service) Get(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	record, err := s.repo.GetTransaction(ctx, transactionID)
	if err == ErrNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found").
			WithTransactionID(transactionID.String())
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "load transaction")
	}
	events, err := s.repo.ListEvents(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "load transaction events")
	}
	return fromRecord(record, events), nil
}

func (s *service) FindByOrder(ctx context.Context, orderID string) ([]*Transaction, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	records, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "list order transactions")
	}
	results := make([]*Transaction, 0, len(records))
	for i := range records {
		events, err := s.repo.ListEvents(ctx, records[i].ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "load transaction events")
		}
		results = append(results, fromRecord(&records[i], events))
	}
	return results, nil
}

func (s *service) RefundBalance(ctx context.Context, paymentID uuid.UUID) (*RefundSummary, error) {
	payment, err := s.repo.GetTransaction(ctx, paymentID)
	if err == ErrNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
			WithTransactionID(paymentID.String())
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "load payment")
	}
	if payment.Kind != enums.TransactionKindPayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund balance requires a payment transaction").
			WithTransactionID(paymentID.String())
	}

	refunds, err := s.repo.ListRefunds(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "list refunds")
	}
	var refunded int64
	for _, refund := range refunds {
		if refund.Status == enums.TransactionStatusRefunded {
			refunded += refund.AmountMinor
		}
	}
	return summarize(payment.AmountMinor, refunded, payment.Currency), nil
}

func summarize(original, refunded int64, currency enums.Currency) *RefundSummary {
	status := enums.RefundStatusNone
	switch {
	case refunded >= original:
		status = enums.RefundStatusFull
	case refunded > 0:
		status = enums.RefundStatusPartial
	}
	return &RefundSummary{
		Refunded:  money.New(refunded, currency),
		Remaining: money.New(original-refunded, currency),
		Status:    status,
	}
}

func toRecord(tx *Transaction) *models.Transaction {
	record := &models.Transaction{
		ID:          tx.ID,
		OrderID:     tx.OrderID,
		Kind:        tx.Kind,
		Status:      tx.Status,
		AmountMinor: tx.Amount.AmountMinor,
		Currency:    tx.Amount.Currency,
		MethodType:  tx.MethodType,
		PaymentID:   tx.PaymentID,
		CreatedAt:   tx.CreatedAt,
	}
	return record
}

func fromRecord(record *models.Transaction, eventRows []models.TransactionEvent) *Transaction {
	tx := &Transaction{
		ID:         record.ID,
		OrderID:    record.OrderID,
		Kind:       record.Kind,
		Status:     record.Status,
		Amount:     money.New(record.AmountMinor, record.Currency),
		MethodType: record.MethodType,
		PaymentID:  record.PaymentID,
		CreatedAt:  record.CreatedAt,
	}
	if record.AuthCode != nil {
		tx.AuthCode = *record.AuthCode
	}
	if record.ProviderRef != nil {
		tx.ProviderRef = *record.ProviderRef
	}
	if record.FailureReason != nil {
		tx.FailureReason = *record.FailureReason
	}
	tx.Events = make([]StatusEvent, 0, len(eventRows))
	for _, row := range eventRows {
		tx.Events = append(tx.Events, StatusEvent{
			Status: row.Status,
			Reason: row.Reason,
			At:     row.CreatedAt,
		})
	}
	return tx
}
