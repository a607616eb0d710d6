package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gmartell/paycore/pkg/db/models"
	"github.com/gmartell/paycore/pkg/enums"
	pkgerrors "github.com/gmartell/paycore/pkg/errors"
	"github.com/gmartell/paycore/pkg/money"
)

type fakeRunner struct{}

func (fakeRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeRepository struct {
	transactions map[uuid.UUID]*models.Transaction
	events       map[uuid.UUID][]models.TransactionEvent
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		transactions: map[uuid.UUID]*models.Transaction{},
		events:       map[uuid.UUID][]models.TransactionEvent{},
	}
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) CreateTransaction(ctx context.Context, record *models.Transaction) error {
	copied := *record
	f.transactions[record.ID] = &copied
	return nil
}

func (f *fakeRepository) UpdateTransaction(ctx context.Context, record *models.Transaction) error {
	copied := *record
	f.transactions[record.ID] = &copied
	return nil
}

func (f *fakeRepository) CreateEvent(ctx context.Context, event *models.TransactionEvent) error {
	f.events[event.TransactionID] = append(f.events[event.TransactionID], *event)
	return nil
}

func (f *fakeRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	record, ok := f.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeRepository) ListEvents(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionEvent, error) {
	return f.events[transactionID], nil
}

func (f *fakeRepository) ListByOrderID(ctx context.Context, orderID string) ([]models.Transaction, error) {
	var records []models.Transaction
	for _, record := range f.transactions {
		if record.OrderID == orderID {
			records = append(records, *record)
		}
	}
	return records, nil
}

func (f *fakeRepository) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error) {
	var records []models.Transaction
	for _, record := range f.transactions {
		if record.Kind == enums.TransactionKindRefund && record.PaymentID != nil && *record.PaymentID == paymentID {
			records = append(records, *record)
		}
	}
	return records, nil
}

func newTestService(t *testing.T) (Ledger, *fakeRepository) {
	t.Helper()
	repo := newFakeRepository()
	svc, err := NewService(fakeRunner{}, repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc, repo
}

func newPayment(id uuid.UUID, orderID string, amount int64) *Transaction {
	return &Transaction{
		ID:         id,
		OrderID:    orderID,
		Kind:       enums.TransactionKindPayment,
		Status:     enums.TransactionStatusCreated,
		Amount:     money.New(amount, enums.CurrencyUSD),
		MethodType: enums.PaymentMethodTypeCard,
		CreatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestCreateRecordsInitialEvent(t *testing.T) {
	svc, repo := newTestService(t)
	id := uuid.New()

	if err := svc.Create(context.Background(), newPayment(id, "order_123", 10000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	events := repo.events[id]
	if len(events) != 1 || events[0].Status != enums.TransactionStatusCreated {
		t.Fatalf("expected one created event, got %+v", events)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	settled := newPayment(uuid.New(), "order_1", 100)
	settled.Status = enums.TransactionStatusSettled
	if err := svc.Create(ctx, settled); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict for non-created status, got %v", err)
	}

	missingOrder := newPayment(uuid.New(), "", 100)
	if err := svc.Create(ctx, missingOrder); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAppendEnforcesTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := uuid.New()
	if err := svc.Create(ctx, newPayment(id, "order_123", 10000)); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)
	if _, err := svc.Append(ctx, id, AppendInput{Status: enums.TransactionStatusAuthorizing, At: now}); err != nil {
		t.Fatalf("append authorizing: %v", err)
	}
	tx, err := svc.Append(ctx, id, AppendInput{
		Status:      enums.TransactionStatusSettled,
		At:          now.Add(time.Second),
		AuthCode:    "AUTH1",
		ProviderRef: "pay_9",
	})
	if err != nil {
		t.Fatalf("append settled: %v", err)
	}
	if tx.Status != enums.TransactionStatusSettled || tx.AuthCode != "AUTH1" {
		t.Fatalf("unexpected transaction state: %+v", tx)
	}
	if len(tx.Events) != 3 {
		t.Fatalf("expected created+authorizing+settled events, got %d", len(tx.Events))
	}

	// terminal status set exactly once
	if _, err := svc.Append(ctx, id, AppendInput{Status: enums.TransactionStatusDeclined, At: now}); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict after terminal status, got %v", err)
	}
}

func TestAppendUnknownTransaction(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Append(context.Background(), uuid.New(), AppendInput{
		Status: enums.TransactionStatusAuthorizing,
		At:     time.Now(),
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRefundBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	paymentID := uuid.New()
	if err := svc.Create(ctx, newPayment(paymentID, "order_123", 10000)); err != nil {
		t.Fatalf("create payment: %v", err)
	}
	at := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)
	if _, err := svc.Append(ctx, paymentID, AppendInput{Status: enums.TransactionStatusAuthorizing, At: at}); err != nil {
		t.Fatalf("authorizing: %v", err)
	}
	if _, err := svc.Append(ctx, paymentID, AppendInput{Status: enums.TransactionStatusSettled, At: at, AuthCode: "AUTH1"}); err != nil {
		t.Fatalf("settled: %v", err)
	}

	summary, err := svc.RefundBalance(ctx, paymentID)
	if err != nil {
		t.Fatalf("refund balance: %v", err)
	}
	if summary.Status != enums.RefundStatusNone || summary.Remaining.AmountMinor != 10000 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	refund := &Transaction{
		ID:         uuid.New(),
		OrderID:    "order_123",
		Kind:       enums.TransactionKindRefund,
		Status:     enums.TransactionStatusCreated,
		Amount:     money.New(4000, enums.CurrencyUSD),
		MethodType: enums.PaymentMethodTypeCard,
		PaymentID:  &paymentID,
		CreatedAt:  at,
	}
	if err := svc.Create(ctx, refund); err != nil {
		t.Fatalf("create refund: %v", err)
	}
	if _, err := svc.Append(ctx, refund.ID, AppendInput{Status: enums.TransactionStatusRefundAuthorizing, At: at}); err != nil {
		t.Fatalf("refund authorizing: %v", err)
	}
	if _, err := svc.Append(ctx, refund.ID, AppendInput{Status: enums.TransactionStatusRefunded, At: at}); err != nil {
		t.Fatalf("refunded: %v", err)
	}

	summary, err = svc.RefundBalance(ctx, paymentID)
	if err != nil {
		t.Fatalf("refund balance after refund: %v", err)
	}
	if summary.Status != enums.RefundStatusPartial {
		t.Fatalf("expected partial refund status, got %s", summary.Status)
	}
	if summary.Refunded.AmountMinor != 4000 || summary.Remaining.AmountMinor != 6000 {
		t.Fatalf("unexpected refund math %+v", summary)
	}
}

func TestRefundBalanceRejectsRefundID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	paymentID := uuid.New()
	refund := &Transaction{
		ID:         uuid.New(),
		OrderID:    "order_123",
		Kind:       enums.TransactionKindRefund,
		Status:     enums.TransactionStatusCreated,
		Amount:     money.New(100, enums.CurrencyUSD),
		MethodType: enums.PaymentMethodTypeCard,
		PaymentID:  &paymentID,
		CreatedAt:  time.Now(),
	}
	if err := svc.Create(ctx, refund); err != nil {
		t.Fatalf("create refund: %v", err)
	}
	if _, err := svc.RefundBalance(ctx, refund.ID); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}
