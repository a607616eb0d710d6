// Package refunds drives refunds against settled payments. Preconditions are
// checked against the ledger before any acquirer call, and the caller must
// hold the order lock so concurrent refunds cannot both pass the balance
// check.
package refunds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/gmartell/paycore/internal/acquirer"
	"github.com/gmartell/paycore/internal/ledger"
	"github.com/gmartell/paycore/internal/payments"
	"github.com/gmartell/paycore/pkg/config"
	"github.com/gmartell/paycore/pkg/enums"
	pkgerrors "github.com/gmartell/paycore/pkg/errors"
	"github.com/gmartell/paycore/pkg/logger"
	"github.com/gmartell/paycore/pkg/metrics"
	"github.com/gmartell/paycore/pkg/money"
)

var errInquiryUnknown = errors.New("acquirer status unknown")

// Input is one refund to process against a previously settled payment.
type Input struct {
	TransactionID  uuid.UUID
	PaymentID      uuid.UUID
	Amount         money.Money
	IdempotencyKey string
	Now            time.Time
}

// Machine validates and executes refunds, recording every step in the ledger.
type Machine struct {
	ledger   ledger.Ledger
	client   acquirer.Client
	logg     *logger.Logger
	metrics  *metrics.GatewayMetrics
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

// NewMachine wires a refund state machine.
func NewMachine(led ledger.Ledger, client acquirer.Client, logg *logger.Logger, m *metrics.GatewayMetrics, cfg config.EngineConfig) (*Machine, error) {
	if led == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if client == nil {
		return nil, fmt.Errorf("acquirer client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	attempts := cfg.InquiryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.InquiryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Machine{
		ledger:   led,
		client:   client,
		logg:     logg,
		metrics:  m,
		attempts: attempts,
		backoff:  backoff,
		now:      time.Now,
	}, nil
}

// Run takes a refund to its terminal status and returns the final ledger
// record. Like the payment machine, declined and errored refunds are results,
// not errors; validation and precondition failures are.
func (m *Machine) Run(ctx context.Context, in Input) (*ledger.Transaction, error) {
	ctx = m.logg.WithTransactionID(ctx, in.TransactionID.String())

	payment, err := m.checkPreconditions(ctx, in)
	if err != nil {
		return nil, err
	}
	ctx = m.logg.WithOrderID(ctx, payment.OrderID)

	tx, err := m.prepare(ctx, in, payment)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return tx, nil
	}

	requestID := acquirer.RequestID(in.IdempotencyKey)
	start := m.now()
	result, err := m.client.Refund(ctx, acquirer.RefundParams{
		RequestID:  requestID,
		Amount:     in.Amount,
		PaymentRef: payment.ProviderRef,
	})
	m.metrics.ObserveAcquirerCall("refund", string(result.Outcome), m.now().Sub(start))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "refund payment").
			WithTransactionID(in.TransactionID.String())
	}

	switch result.Outcome {
	case acquirer.OutcomeApproved:
		m.logg.Info(ctx, "refund approved")
		return m.ledger.Append(ctx, in.TransactionID, ledger.AppendInput{
			Status:      enums.TransactionStatusRefunded,
			At:          m.now(),
			ProviderRef: result.ProviderRef,
		})
	case acquirer.OutcomeDeclined:
		m.logg.Info(ctx, "refund declined")
		return m.ledger.Append(ctx, in.TransactionID, ledger.AppendInput{
			Status: enums.TransactionStatusRefundFailed,
			Reason: refundFailureReason(result.DeclineCode),
			At:     m.now(),
		})
	case acquirer.OutcomeNetworkError:
		return m.resolveAmbiguous(ctx, in.TransactionID, requestID, result)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unexpected acquirer outcome %q", result.Outcome)).
			WithTransactionID(in.TransactionID.String())
	}
}

// checkPreconditions verifies the refund is legal before any side effect: the
// payment must exist, be settled, match currency, and have enough unrefunded
// balance left.
func (m *Machine) checkPreconditions(ctx context.Context, in Input) (*ledger.Transaction, error) {
	payment, err := m.ledger.Get(ctx, in.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Kind != enums.TransactionKindPayment {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund target must be a payment").
			WithTransactionID(in.PaymentID.String())
	}
	if payment.Status != enums.TransactionStatusSettled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("payment in status %s cannot be refunded", payment.Status)).
			WithTransactionID(in.PaymentID.String())
	}
	if !payment.Amount.SameCurrency(in.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("refund currency %s does not match payment currency %s",
				in.Amount.Currency, payment.Amount.Currency))
	}
	if payment.ProviderRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no acquirer reference").
			WithTransactionID(in.PaymentID.String())
	}

	summary, err := m.ledger.RefundBalance(ctx, in.PaymentID)
	if err != nil {
		return nil, err
	}
	if in.Amount.GreaterThan(summary.Remaining) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("refund of %s exceeds remaining balance %s", in.Amount, summary.Remaining)).
			WithTransactionID(in.PaymentID.String())
	}
	return payment, nil
}

func (m *Machine) prepare(ctx context.Context, in Input, payment *ledger.Transaction) (*ledger.Transaction, error) {
	tx, err := m.ledger.Get(ctx, in.TransactionID)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		paymentID := in.PaymentID
		tx = &ledger.Transaction{
			ID:         in.TransactionID,
			OrderID:    payment.OrderID,
			Kind:       enums.TransactionKindRefund,
			Status:     enums.TransactionStatusCreated,
			Amount:     in.Amount,
			MethodType: payment.MethodType,
			PaymentID:  &paymentID,
			CreatedAt:  in.Now,
		}
		if err := m.ledger.Create(ctx, tx); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if tx.Status == enums.TransactionStatusCreated {
		return m.ledger.Append(ctx, in.TransactionID, ledger.AppendInput{
			Status: enums.TransactionStatusRefundAuthorizing,
			At:     m.now(),
		})
	}
	return tx, nil
}

func (m *Machine) resolveAmbiguous(ctx context.Context, transactionID, requestID uuid.UUID, result acquirer.Result) (*ledger.Transaction, error) {
	m.logg.Warn(ctx, "ambiguous acquirer outcome, starting status inquiry")

	var status acquirer.InquiryStatus
	backoff := retry.WithMaxRetries(uint64(m.attempts-1), retry.NewExponential(m.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		m.metrics.IncInquiryRetry(string(enums.TransactionKindRefund))
		inquired, err := m.client.InquireStatus(ctx, requestID)
		if err != nil {
			return retry.RetryableError(err)
		}
		if inquired == acquirer.InquiryUnknown {
			return retry.RetryableError(errInquiryUnknown)
		}
		status = inquired
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, ctx.Err(), "status inquiry interrupted").
				WithTransactionID(transactionID.String())
		}
		m.logg.Warn(ctx, "status inquiry exhausted, refund needs reconciliation")
		m.metrics.IncReconciliationRequired()
		return m.ledger.Append(ctx, transactionID, ledger.AppendInput{
			Status: enums.TransactionStatusErrored,
			Reason: payments.ReasonReconciliationRequired,
			At:     m.now(),
		})
	}

	switch status {
	case acquirer.InquiryApproved:
		m.logg.Info(ctx, "inquiry resolved refund as approved")
		return m.ledger.Append(ctx, transactionID, ledger.AppendInput{
			Status:      enums.TransactionStatusRefunded,
			At:          m.now(),
			ProviderRef: result.ProviderRef,
		})
	default:
		m.logg.Info(ctx, "inquiry resolved refund as declined")
		return m.ledger.Append(ctx, transactionID, ledger.AppendInput{
			Status: enums.TransactionStatusRefundFailed,
			Reason: refundFailureReason(result.DeclineCode),
			At:     m.now(),
		})
	}
}

func refundFailureReason(code string) string {
	if code == "" {
		return "refund_declined"
	}
	return code
}
