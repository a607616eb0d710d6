package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gmartell/paycore/pkg/enums"
	pkgerrors "github.com/gmartell/paycore/pkg/errors"
	"github.com/gmartell/paycore/pkg/money"
)

func TestMemoryLedgerLifecycle(t *testing.T) {
	ml := NewMemoryLedger()
	ctx := context.Background()
	id := uuid.New()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tx := newPayment(id, "order_7", 2500)
	tx.CreatedAt = at
	if err := ml.Create(ctx, tx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ml.Create(ctx, newPayment(id, "order_7", 2500)); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("duplicate create should conflict, got %v", err)
	}

	if _, err := ml.Append(ctx, id, AppendInput{Status: enums.TransactionStatusAuthorizing, At: at}); err != nil {
		t.Fatalf("authorizing: %v", err)
	}
	got, err := ml.Append(ctx, id, AppendInput{Status: enums.TransactionStatusDeclined, Reason: "card_declined", At: at})
	if err != nil {
		t.Fatalf("declined: %v", err)
	}
	if got.FailureReason != "card_declined" {
		t.Fatalf("expected failure reason to persist, got %q", got.FailureReason)
	}
	if _, err := ml.Append(ctx, id, AppendInput{Status: enums.TransactionStatusSettled, At: at}); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("terminal transition should conflict, got %v", err)
	}
}

func TestMemoryLedgerFindByOrderOrdering(t *testing.T) {
	ml := NewMemoryLedger()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	second := newPayment(uuid.New(), "order_8", 100)
	second.CreatedAt = base.Add(time.Minute)
	first := newPayment(uuid.New(), "order_8", 200)
	first.CreatedAt = base

	if err := ml.Create(ctx, second); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ml.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	results, err := ml.FindByOrder(ctx, "order_8")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(results))
	}
	if !results[0].CreatedAt.Before(results[1].CreatedAt) {
		t.Fatal("results must be ordered by creation time")
	}
}

func TestMemoryLedgerClonesAreIsolated(t *testing.T) {
	ml := NewMemoryLedger()
	ctx := context.Background()
	id := uuid.New()
	if err := ml.Create(ctx, newPayment(id, "order_9", 100)); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := ml.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Status = enums.TransactionStatusSettled
	got.Events = append(got.Events, StatusEvent{Status: enums.TransactionStatusSettled})

	fresh, err := ml.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.Status != enums.TransactionStatusCreated || len(fresh.Events) != 1 {
		t.Fatal("mutating a returned transaction must not affect stored state")
	}
}

func TestMemoryLedgerRefundBalanceFull(t *testing.T) {
	ml := NewMemoryLedger()
	ctx := context.Background()
	at := time.Now()
	paymentID := uuid.New()

	payment := newPayment(paymentID, "order_10", 5000)
	if err := ml.Create(ctx, payment); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := ml.Append(ctx, paymentID, AppendInput{Status: enums.TransactionStatusAuthorizing, At: at}); err != nil {
		t.Fatalf("authorizing: %v", err)
	}
	if _, err := ml.Append(ctx, paymentID, AppendInput{Status: enums.TransactionStatusSettled, At: at}); err != nil {
		t.Fatalf("settled: %v", err)
	}

	refund := &Transaction{
		ID:         uuid.New(),
		OrderID:    "order_10",
		Kind:       enums.TransactionKindRefund,
		Status:     enums.TransactionStatusCreated,
		Amount:     money.New(5000, enums.CurrencyUSD),
		MethodType: enums.PaymentMethodTypeCard,
		PaymentID:  &paymentID,
		CreatedAt:  at,
	}
	if err := ml.Create(ctx, refund); err != nil {
		t.Fatalf("create refund: %v", err)
	}
	if _, err := ml.Append(ctx, refund.ID, AppendInput{Status: enums.TransactionStatusRefundAuthorizing, At: at}); err != nil {
		t.Fatalf("refund authorizing: %v", err)
	}
	if _, err := ml.Append(ctx, refund.ID, AppendInput{Status: enums.TransactionStatusRefunded, At: at}); err != nil {
		t.Fatalf("refunded: %v", err)
	}

	summary, err := ml.RefundBalance(ctx, paymentID)
	if err != nil {
		t.Fatalf("refund balance: %v", err)
	}
	if summary.Status != enums.RefundStatusFull || summary.Remaining.AmountMinor != 0 {
		t.Fatalf("expected fully refunded, got %+v", summary)
	}
}
