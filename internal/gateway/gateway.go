// Package gateway is the submission surface of the engine. It enforces
// idempotency, serializes work per order, and drives the payment and refund
// state machines to a terminal result.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/gmartell/paycore/internal/idempotency"
	"github.com/gmartell/paycore/internal/ledger"
	"github.com/gmartell/paycore/internal/payments"
	"github.com/gmartell/paycore/internal/refunds"
	"github.com/gmartell/paycore/pkg/config"
	"github.com/gmartell/paycore/pkg/enums"
	pkgerrors "github.com/gmartell/paycore/pkg/errors"
	"github.com/gmartell/paycore/pkg/logger"
	"github.com/gmartell/paycore/pkg/metrics"
	"github.com/gmartell/paycore/pkg/money"
)

// PaymentRequest is one payment submission. SourceRef carries the transient
// payment credential; it is handed to the acquirer and never persisted, never
// logged, and never part of the idempotency fingerprint.
type PaymentRequest struct {
	OrderID        string                  `json:"order_id" validate:"required"`
	AmountMinor    int64                   `json:"amount_minor" validate:"required,gt=0"`
	Currency       enums.Currency          `json:"currency" validate:"required"`
	MethodType     enums.PaymentMethodType `json:"method_type" validate:"required"`
	SourceRef      string                  `json:"-" validate:"required"`
	IdempotencyKey string                  `json:"idempotency_key" validate:"required"`
}

// RefundRequest is one refund submission against a settled payment.
type RefundRequest struct {
	PaymentID      uuid.UUID      `json:"payment_id" validate:"required"`
	AmountMinor    int64          `json:"amount_minor" validate:"required,gt=0"`
	Currency       enums.Currency `json:"currency" validate:"required"`
	IdempotencyKey string         `json:"idempotency_key" validate:"required"`
}

// TransactionResult is the caller-facing answer to a submission. It is also
// the payload cached under the idempotency key for replays.
type TransactionResult struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	OrderID       string                  `json:"order_id"`
	Kind          enums.TransactionKind   `json:"kind"`
	Status        enums.TransactionStatus `json:"status"`
	AmountMinor   int64                   `json:"amount_minor"`
	Currency      enums.Currency          `json:"currency"`
	AuthCode      string                  `json:"auth_code,omitempty"`
	FailureReason string                  `json:"failure_reason,omitempty"`
}

// storedResult is the envelope cached in the idempotency store. The
// fingerprint detects a key reused with different parameters.
type storedResult struct {
	Fingerprint string            `json:"fingerprint"`
	Result      TransactionResult `json:"result"`
}

// Deps collects the gateway's collaborators. Now defaults to the real clock.
type Deps struct {
	Ledger   ledger.Ledger
	Payments *payments.Machine
	Refunds  *refunds.Machine
	Store    idempotency.Store
	Logger   *logger.Logger
	Metrics  *metrics.GatewayMetrics
	Engine   config.EngineConfig

	Now func() time.Time
}

// Gateway coordinates submissions end to end.
type Gateway struct {
	ledger   ledger.Ledger
	payments *payments.Machine
	refunds  *refunds.Machine
	store    idempotency.Store
	logg     *logger.Logger
	metrics  *metrics.GatewayMetrics
	validate *validator.Validate
	locks    *orderLocks

	completionTimeout time.Duration
	now               func() time.Time
}

// New wires a gateway from its dependencies.
func New(deps Deps) (*Gateway, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("payment machine required")
	}
	if deps.Refunds == nil {
		return nil, fmt.Errorf("refund machine required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	completionTimeout := deps.Engine.CompletionTimeout
	if completionTimeout <= 0 {
		completionTimeout = 2 * time.Minute
	}
	return &Gateway{
		ledger:            deps.Ledger,
		payments:          deps.Payments,
		refunds:           deps.Refunds,
		store:             deps.Store,
		logg:              deps.Logger,
		metrics:           deps.Metrics,
		validate:          validator.New(),
		locks:             newOrderLocks(),
		completionTimeout: completionTimeout,
		now:               now,
	}, nil
}

// SubmitPayment processes one payment submission. The same idempotency key
// always maps to the same transaction: replays return the recorded result
// without touching the acquirer. Declined and reconciliation-required
// outcomes return both the terminal result and a typed error carrying the
// transaction id.
func (g *Gateway) SubmitPayment(ctx context.Context, req PaymentRequest) (*TransactionResult, error) {
	if err := g.validatePayment(req); err != nil {
		return nil, err
	}
	ctx = g.logg.WithOrderID(ctx, req.OrderID)
	ctx = g.logg.WithIdempotencyKey(ctx, req.IdempotencyKey)

	fingerprint := paymentFingerprint(req)
	return g.submit(ctx, req.IdempotencyKey, fingerprint, req.OrderID, func(ctx context.Context) (*ledger.Transaction, error) {
		return g.payments.Run(ctx, payments.Input{
			TransactionID:  transactionID(req.IdempotencyKey),
			OrderID:        req.OrderID,
			Amount:         money.New(req.AmountMinor, req.Currency),
			MethodType:     req.MethodType,
			SourceRef:      req.SourceRef,
			IdempotencyKey: req.IdempotencyKey,
			Now:            g.now(),
		})
	})
}

// SubmitRefund processes one refund submission. Preconditions are re-checked
// by the refund machine while the order lock is held, so two concurrent
// refunds cannot both pass the balance check.
func (g *Gateway) SubmitRefund(ctx context.Context, req RefundRequest) (*TransactionResult, error) {
	if err := g.validateRefund(req); err != nil {
		return nil, err
	}
	ctx = g.logg.WithIdempotencyKey(ctx, req.IdempotencyKey)

	payment, err := g.ledger.Get(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	ctx = g.logg.WithOrderID(ctx, payment.OrderID)

	fingerprint := refundFingerprint(req)
	return g.submit(ctx, req.IdempotencyKey, fingerprint, payment.OrderID, func(ctx context.Context) (*ledger.Transaction, error) {
		return g.refunds.Run(ctx, refunds.Input{
			TransactionID:  transactionID(req.IdempotencyKey),
			PaymentID:      req.PaymentID,
			Amount:         money.New(req.AmountMinor, req.Currency),
			IdempotencyKey: req.IdempotencyKey,
			Now:            g.now(),
		})
	})
}

// GetTransaction returns one ledger record with its full event history.
func (g *Gateway) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*ledger.Transaction, error) {
	return g.ledger.Get(ctx, transactionID)
}

// ListOrderTransactions returns all transactions recorded for an order.
func (g *Gateway) ListOrderTransactions(ctx context.Context, orderID string) ([]*ledger.Transaction, error) {
	return g.ledger.FindByOrder(ctx, orderID)
}

// submit runs the shared reserve/run/complete flow around a state machine.
func (g *Gateway) submit(ctx context.Context, key, fingerprint, orderID string, run func(context.Context) (*ledger.Transaction, error)) (*TransactionResult, error) {
	reservation, err := g.store.Reserve(ctx, key)
	if err != nil {
		return nil, err
	}
	switch reservation.State {
	case idempotency.StateCompleted:
		return g.replay(ctx, reservation.Result, fingerprint)
	case idempotency.StateInProgress:
		return nil, pkgerrors.New(pkgerrors.CodeInProgress, "a submission with this idempotency key is being processed")
	}

	unlock := g.locks.acquire(orderID)
	defer unlock()

	// Once processing starts the outcome must be recorded even if the
	// caller goes away, so the machine runs on a detached context bounded
	// only by the completion timeout.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.completionTimeout)
	defer cancel()

	tx, err := run(runCtx)
	if err != nil {
		if releaseErr := g.store.Release(runCtx, key, reservation.Owner); releaseErr != nil {
			g.logg.Error(ctx, "releasing idempotency lease failed", releaseErr)
			err = multierr.Append(err, releaseErr)
		}
		return nil, err
	}

	result := resultFromTransaction(tx)
	payload, err := json.Marshal(storedResult{Fingerprint: fingerprint, Result: *result})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency result")
	}
	if err := g.store.Complete(runCtx, key, reservation.Owner, payload); err != nil {
		return nil, err
	}

	g.metrics.IncSubmission(string(tx.Kind), string(tx.Status))
	g.logg.Info(ctx, "submission finished")
	return result, terminalError(result)
}

// replay serves a finished submission from the idempotency cache, rejecting
// keys reused with different parameters.
func (g *Gateway) replay(ctx context.Context, payload json.RawMessage, fingerprint string) (*TransactionResult, error) {
	var stored storedResult
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency result")
	}
	if stored.Fingerprint != fingerprint {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key was already used with different parameters")
	}
	g.metrics.IncIdempotentReplay()
	g.logg.Info(ctx, "submission replayed from idempotency cache")
	return &stored.Result, terminalError(&stored.Result)
}

// terminalError maps a failed terminal status onto the caller-facing error.
// The result is returned alongside so the ledger record stays reachable.
func terminalError(result *TransactionResult) error {
	switch result.Status {
	case enums.TransactionStatusErrored:
		return pkgerrors.New(pkgerrors.CodeReconciliationRequired, "transaction outcome unknown, manual reconciliation required").
			WithTransactionID(result.TransactionID.String())
	case enums.TransactionStatusDeclined, enums.TransactionStatusRefundFailed:
		message := "declined by the acquirer"
		if result.FailureReason != "" {
			message = fmt.Sprintf("declined by the acquirer: %s", result.FailureReason)
		}
		return pkgerrors.New(pkgerrors.CodeAcquirerDeclined, message).
			WithTransactionID(result.TransactionID.String())
	}
	return nil
}

var transactionIDNamespace = uuid.MustParse("b4e7d2a1-56c8-4f93-a0d5-7e31f8c29b64")

// transactionID derives the ledger id for a submission from its idempotency
// key. A caller retry after a released lease resumes the same record instead
// of stranding the first one mid-flight.
func transactionID(idempotencyKey string) uuid.UUID {
	return uuid.NewSHA1(transactionIDNamespace, []byte(idempotencyKey))
}

func (g *Gateway) validatePayment(req PaymentRequest) error {
	if err := g.validate.Struct(req); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment request")
	}
	if !req.MethodType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid method type %q", req.MethodType))
	}
	if err := money.New(req.AmountMinor, req.Currency).Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	return nil
}

func (g *Gateway) validateRefund(req RefundRequest) error {
	if err := g.validate.Struct(req); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund request")
	}
	if req.PaymentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if err := money.New(req.AmountMinor, req.Currency).Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	return nil
}

func paymentFingerprint(req PaymentRequest) string {
	return fingerprint(
		string(enums.TransactionKindPayment),
		req.OrderID,
		fmt.Sprintf("%d", req.AmountMinor),
		string(req.Currency),
		string(req.MethodType),
	)
}

func refundFingerprint(req RefundRequest) string {
	return fingerprint(
		string(enums.TransactionKindRefund),
		req.PaymentID.String(),
		fmt.Sprintf("%d", req.AmountMinor),
		string(req.Currency),
	)
}

func fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func resultFromTransaction(tx *ledger.Transaction) *TransactionResult {
	return &TransactionResult{
		TransactionID: tx.ID,
		OrderID:       tx.OrderID,
		Kind:          tx.Kind,
		Status:        tx.Status,
		AmountMinor:   tx.Amount.AmountMinor,
		Currency:      tx.Amount.Currency,
		AuthCode:      tx.AuthCode,
		FailureReason: tx.FailureReason,
	}
}
