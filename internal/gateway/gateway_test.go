package gateway

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gmartell/paycore/internal/acquirer"
	"github.com/gmartell/paycore/internal/idempotency"
	"github.com/gmartell/paycore/internal/ledger"
	"github.com/gmartell/paycore/internal/payments"
	"github.com/gmartell/paycore/internal/refunds"
	"github.com/gmartell/paycore/pkg/config"
	"github.com/gmartell/paycore/pkg/enums"
	pkgerrors "github.com/gmartell/paycore/pkg/errors"
	"github.com/gmartell/paycore/pkg/logger"
)

type fakeAcquirer struct {
	mu             sync.Mutex
	authorizeCalls int
	refundCalls    int
	outcome        acquirer.Outcome
	authorizeErrs  []error
	ctxErrs        []error
}

func newFakeAcquirer(outcome acquirer.Outcome) *fakeAcquirer {
	return &fakeAcquirer{outcome: outcome}
}

func (f *fakeAcquirer) Authorize(ctx context.Context, params acquirer.AuthorizeParams) (acquirer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorizeCalls++
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if len(f.authorizeErrs) > 0 {
		err := f.authorizeErrs[0]
		f.authorizeErrs = f.authorizeErrs[1:]
		if err != nil {
			return acquirer.Result{}, err
		}
	}
	return acquirer.Result{Outcome: f.outcome, AuthCode: "AUTH1", ProviderRef: "pay_1"}, nil
}

func (f *fakeAcquirer) Refund(ctx context.Context, params acquirer.RefundParams) (acquirer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls++
	return acquirer.Result{Outcome: f.outcome, ProviderRef: "ref_1"}, nil
}

func (f *fakeAcquirer) InquireStatus(ctx context.Context, requestID uuid.UUID) (acquirer.InquiryStatus, error) {
	return acquirer.InquiryUnknown, nil
}

type harness struct {
	gateway *Gateway
	ledger  *ledger.MemoryLedger
	store   *idempotency.MemoryStore
	client  *fakeAcquirer
}

func newHarness(t *testing.T, client *fakeAcquirer) *harness {
	t.Helper()
	led := ledger.NewMemoryLedger()
	store := idempotency.NewMemoryStore(time.Minute, nil)
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel, Output: &bytes.Buffer{}})
	engine := config.EngineConfig{
		InquiryAttempts:   2,
		InquiryBackoff:    time.Millisecond,
		CompletionTimeout: time.Minute,
	}

	paymentMachine, err := payments.NewMachine(led, client, logg, nil, engine)
	if err != nil {
		t.Fatalf("payment machine: %v", err)
	}
	refundMachine, err := refunds.NewMachine(led, client, logg, nil, engine)
	if err != nil {
		t.Fatalf("refund machine: %v", err)
	}
	gw, err := New(Deps{
		Ledger:   led,
		Payments: paymentMachine,
		Refunds:  refundMachine,
		Store:    store,
		Logger:   logg,
		Engine:   engine,
	})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	return &harness{gateway: gw, ledger: led, store: store, client: client}
}

func paymentRequest(key string) PaymentRequest {
	return PaymentRequest{
		OrderID:        "order_123",
		AmountMinor:    10000,
		Currency:       enums.CurrencyUSD,
		MethodType:     enums.PaymentMethodTypeCard,
		SourceRef:      "cnon:card-nonce",
		IdempotencyKey: key,
	}
}

func TestSubmitPaymentSettles(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeApproved))

	result, err := h.gateway.SubmitPayment(context.Background(), paymentRequest("key_1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Status != enums.TransactionStatusSettled || result.AuthCode != "AUTH1" {
		t.Fatalf("unexpected result %+v", result)
	}

	tx, err := h.ledger.Get(context.Background(), result.TransactionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(tx.Events) != 3 {
		t.Fatalf("expected full event history, got %d events", len(tx.Events))
	}
}

func TestSubmitPaymentValidation(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeApproved))
	ctx := context.Background()

	req := paymentRequest("key_v")
	req.AmountMinor = 0
	if _, err := h.gateway.SubmitPayment(ctx, req); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}

	req = paymentRequest("key_v")
	req.MethodType = "crypto"
	if _, err := h.gateway.SubmitPayment(ctx, req); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for unknown method, got %v", err)
	}

	req = paymentRequest("")
	if _, err := h.gateway.SubmitPayment(ctx, req); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for missing key, got %v", err)
	}
	if h.client.authorizeCalls != 0 {
		t.Fatal("invalid requests must not reach the acquirer")
	}
}

func TestSubmitPaymentReplaysSameKey(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeApproved))
	ctx := context.Background()

	first, err := h.gateway.SubmitPayment(ctx, paymentRequest("key_dup"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := h.gateway.SubmitPayment(ctx, paymentRequest("key_dup"))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first.TransactionID != second.TransactionID {
		t.Fatal("replays must return the same transaction")
	}
	if h.client.authorizeCalls != 1 {
		t.Fatalf("replay must not call the acquirer again, got %d calls", h.client.authorizeCalls)
	}
}

func TestSubmitPaymentRejectsReusedKey(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeApproved))
	ctx := context.Background()

	if _, err := h.gateway.SubmitPayment(ctx, paymentRequest("key_reuse")); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	altered := paymentRequest("key_reuse")
	altered.AmountMinor = 9999
	_, err := h.gateway.SubmitPayment(ctx, altered)
	if !pkgerrors.IsCode(err, pkgerrors.CodeIdempotency) {
		t.Fatalf("expected idempotency reuse error, got %v", err)
	}
}

func TestSubmitPaymentInProgressKey(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeApproved))
	ctx := context.Background()

	if _, err := h.store.Reserve(ctx, "key_busy"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, err := h.gateway.SubmitPayment(ctx, paymentRequest("key_busy"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeInProgress) {
		t.Fatalf("expected in-progress error, got %v", err)
	}
}

func TestSubmitPaymentCompletesAfterCallerCancel(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeApproved))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.gateway.SubmitPayment(ctx, paymentRequest("key_cancel"))
	if err != nil {
		t.Fatalf("submit with canceled caller: %v", err)
	}
	if result.Status != enums.TransactionStatusSettled {
		t.Fatalf("expected settled, got %s", result.Status)
	}
	for _, ctxErr := range h.client.ctxErrs {
		if ctxErr != nil {
			t.Fatal("acquirer call must run on a detached context")
		}
	}
}

func TestSubmitPaymentDeclined(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeDeclined))
	ctx := context.Background()

	result, err := h.gateway.SubmitPayment(ctx, paymentRequest("key_declined"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeAcquirerDeclined) {
		t.Fatalf("expected acquirer declined error, got %v", err)
	}
	typed := pkgerrors.As(err)
	if typed.TransactionID() == "" {
		t.Fatal("declined error must carry the transaction id")
	}
	if result == nil || result.Status != enums.TransactionStatusDeclined {
		t.Fatalf("expected declined result, got %+v", result)
	}

	replayed, err := h.gateway.SubmitPayment(ctx, paymentRequest("key_declined"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeAcquirerDeclined) {
		t.Fatalf("expected replayed declined error, got %v", err)
	}
	if replayed.TransactionID != result.TransactionID {
		t.Fatal("replay must return the recorded transaction")
	}
	if h.client.authorizeCalls != 1 {
		t.Fatalf("replay must not reprocess, got %d authorize calls", h.client.authorizeCalls)
	}
}

// A transport failure releases the lease so the caller may retry; the retry
// must pick up the ledger record of the first attempt, not mint a second one.
func TestSubmitPaymentRetryResumesSameTransaction(t *testing.T) {
	client := newFakeAcquirer(acquirer.OutcomeApproved)
	client.authorizeErrs = []error{errors.New("connection reset")}
	h := newHarness(t, client)
	ctx := context.Background()

	_, err := h.gateway.SubmitPayment(ctx, paymentRequest("key_retry"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeServiceUnavailable) {
		t.Fatalf("expected service unavailable on transport failure, got %v", err)
	}

	result, err := h.gateway.SubmitPayment(ctx, paymentRequest("key_retry"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Status != enums.TransactionStatusSettled {
		t.Fatalf("expected settled, got %s", result.Status)
	}

	transactions, err := h.ledger.FindByOrder(ctx, "order_123")
	if err != nil {
		t.Fatalf("find by order: %v", err)
	}
	if len(transactions) != 1 {
		t.Fatalf("retry must resume the same transaction, got %d records", len(transactions))
	}
	tx := transactions[0]
	if tx.ID != result.TransactionID {
		t.Fatal("retry settled a different transaction")
	}
	if len(tx.Events) != 3 {
		t.Fatalf("expected created/authorizing/settled history, got %d events", len(tx.Events))
	}
	if h.client.authorizeCalls != 2 {
		t.Fatalf("expected one authorize per attempt, got %d", h.client.authorizeCalls)
	}
}

func TestSubmitPaymentReconciliationError(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeNetworkError))
	ctx := context.Background()

	result, err := h.gateway.SubmitPayment(ctx, paymentRequest("key_recon"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeReconciliationRequired) {
		t.Fatalf("expected reconciliation error, got %v", err)
	}
	typed := pkgerrors.As(err)
	if typed.TransactionID() == "" {
		t.Fatal("reconciliation error must carry the transaction id")
	}
	if result == nil || result.Status != enums.TransactionStatusErrored {
		t.Fatalf("expected errored result, got %+v", result)
	}

	// the outcome is recorded, so a replay reproduces it without reprocessing
	replayed, err := h.gateway.SubmitPayment(ctx, paymentRequest("key_recon"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeReconciliationRequired) {
		t.Fatalf("expected replayed reconciliation error, got %v", err)
	}
	if replayed.TransactionID != result.TransactionID {
		t.Fatal("replay must return the recorded transaction")
	}
	if h.client.authorizeCalls != 1 {
		t.Fatalf("replay must not reprocess, got %d authorize calls", h.client.authorizeCalls)
	}
}

func settleTestPayment(t *testing.T, h *harness, amount int64) uuid.UUID {
	t.Helper()
	result, err := h.gateway.SubmitPayment(context.Background(), PaymentRequest{
		OrderID:        "order_refund",
		AmountMinor:    amount,
		Currency:       enums.CurrencyUSD,
		MethodType:     enums.PaymentMethodTypeCard,
		SourceRef:      "cnon:card-nonce",
		IdempotencyKey: "payment_" + uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("settle payment: %v", err)
	}
	return result.TransactionID
}

func TestSubmitRefundPartialThenRejected(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeApproved))
	ctx := context.Background()
	paymentID := settleTestPayment(t, h, 10000)

	first, err := h.gateway.SubmitRefund(ctx, RefundRequest{
		PaymentID:      paymentID,
		AmountMinor:    5000,
		Currency:       enums.CurrencyUSD,
		IdempotencyKey: "refund_1",
	})
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if first.Status != enums.TransactionStatusRefunded {
		t.Fatalf("expected refunded, got %s", first.Status)
	}

	_, err = h.gateway.SubmitRefund(ctx, RefundRequest{
		PaymentID:      paymentID,
		AmountMinor:    6000,
		Currency:       enums.CurrencyUSD,
		IdempotencyKey: "refund_2",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected rejection of over-refund, got %v", err)
	}
}

func TestSubmitRefundUnknownPayment(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeApproved))
	_, err := h.gateway.SubmitRefund(context.Background(), RefundRequest{
		PaymentID:      uuid.New(),
		AmountMinor:    100,
		Currency:       enums.CurrencyUSD,
		IdempotencyKey: "refund_missing",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// Concurrent refunds race for the same balance; whatever interleaving wins,
// the refunded total must never exceed the payment.
func TestConcurrentRefundsNeverExceedBalance(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeApproved))
	ctx := context.Background()
	const paymentAmount = 10000
	paymentID := settleTestPayment(t, h, paymentAmount)

	rng := rand.New(rand.NewSource(42))
	amounts := make([]int64, 16)
	for i := range amounts {
		amounts[i] = 500 + rng.Int63n(4000)
	}

	var wg sync.WaitGroup
	for i, amount := range amounts {
		wg.Add(1)
		go func(i int, amount int64) {
			defer wg.Done()
			_, err := h.gateway.SubmitRefund(ctx, RefundRequest{
				PaymentID:      paymentID,
				AmountMinor:    amount,
				Currency:       enums.CurrencyUSD,
				IdempotencyKey: "refund_race_" + uuid.NewString(),
			})
			if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				t.Errorf("refund %d: unexpected error %v", i, err)
			}
		}(i, amount)
	}
	wg.Wait()

	summary, err := h.ledger.RefundBalance(ctx, paymentID)
	if err != nil {
		t.Fatalf("refund balance: %v", err)
	}
	if summary.Refunded.AmountMinor > paymentAmount {
		t.Fatalf("refunded %d exceeds payment %d", summary.Refunded.AmountMinor, paymentAmount)
	}
	if summary.Remaining.AmountMinor < 0 {
		t.Fatalf("negative remaining balance %d", summary.Remaining.AmountMinor)
	}

	// the ledger agrees with the summary
	transactions, err := h.ledger.FindByOrder(ctx, "order_refund")
	if err != nil {
		t.Fatalf("find by order: %v", err)
	}
	var refunded int64
	for _, tx := range transactions {
		if tx.Kind == enums.TransactionKindRefund && tx.Status == enums.TransactionStatusRefunded {
			refunded += tx.Amount.AmountMinor
		}
	}
	if refunded != summary.Refunded.AmountMinor {
		t.Fatalf("ledger total %d disagrees with summary %d", refunded, summary.Refunded.AmountMinor)
	}
}

func TestListOrderTransactions(t *testing.T) {
	h := newHarness(t, newFakeAcquirer(acquirer.OutcomeApproved))
	ctx := context.Background()
	paymentID := settleTestPayment(t, h, 2000)

	if _, err := h.gateway.SubmitRefund(ctx, RefundRequest{
		PaymentID:      paymentID,
		AmountMinor:    2000,
		Currency:       enums.CurrencyUSD,
		IdempotencyKey: "refund_list",
	}); err != nil {
		t.Fatalf("refund: %v", err)
	}

	transactions, err := h.gateway.ListOrderTransactions(ctx, "order_refund")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("expected payment and refund, got %d", len(transactions))
	}
}
