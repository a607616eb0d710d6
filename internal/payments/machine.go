// Package payments drives a payment from submission to a terminal status.
// Every transition is committed through the ledger before the next step, so
// a crash at any point leaves a resumable record.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/gmartell/paycore/internal/acquirer"
	"github.com/gmartell/paycore/internal/ledger"
	"github.com/gmartell/paycore/pkg/config"
	"github.com/gmartell/paycore/pkg/enums"
	pkgerrors "github.com/gmartell/paycore/pkg/errors"
	"github.com/gmartell/paycore/pkg/logger"
	"github.com/gmartell/paycore/pkg/metrics"
	"github.com/gmartell/paycore/pkg/money"
)

// Reason strings recorded on terminal events.
const (
	ReasonReconciliationRequired = "reconciliation_required"
	reasonDeclinedFallback       = "declined"
)

var errInquiryUnknown = errors.New("acquirer status unknown")

// Input is one payment to process. SourceRef is handed to the acquirer and
// never stored.
type Input struct {
	TransactionID  uuid.UUID
	OrderID        string
	Amount         money.Money
	MethodType     enums.PaymentMethodType
	SourceRef      string
	IdempotencyKey string
	Now            time.Time
}

// Machine authorizes payments against the acquirer and records every step in
// the ledger.
type Machine struct {
	ledger   ledger.Ledger
	client   acquirer.Client
	logg     *logger.Logger
	metrics  *metrics.GatewayMetrics
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

// NewMachine wires a payment state machine.
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

// Run takes a payment to its terminal status and returns the final ledger
// record. A declined or errored payment is not an error here; the caller maps
// terminal statuses to its own result shape. Run is safe to re-enter with the
// same input after a crash: the acquirer deduplicates on the derived request
// id and terminal transactions are returned as-is.
func (m *Machine) Run(ctx context.Context, in Input) (*ledger.Transaction, error) {
	ctx = m.logg.WithOrderID(ctx, in.OrderID)
	ctx = m.logg.WithTransactionID(ctx, in.TransactionID.String())

	tx, err := m.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return tx, nil
	}

	requestID := acquirer.RequestID(in.IdempotencyKey)
	start := m.now()
	result, err := m.client.Authorize(ctx, acquirer.AuthorizeParams{
		RequestID:  requestID,
		Amount:     in.Amount,
		MethodType: in.MethodType,
		SourceRef:  in.SourceRef,
	})
	m.metrics.ObserveAcquirerCall("authorize", string(result.Outcome), m.now().Sub(start))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "authorize payment").
			WithTransactionID(in.TransactionID.String())
	}

	switch result.Outcome {
	case acquirer.OutcomeApproved:
		m.logg.Info(ctx, "payment authorized")
		return m.ledger.Append(ctx, in.TransactionID, ledger.AppendInput{
			Status:      enums.TransactionStatusSettled,
			At:          m.now(),
			AuthCode:    result.AuthCode,
			ProviderRef: result.ProviderRef,
		})
	case acquirer.OutcomeDeclined:
		m.logg.Info(ctx, "payment declined")
		return m.ledger.Append(ctx, in.TransactionID, ledger.AppendInput{
			Status: enums.TransactionStatusDeclined,
			Reason: declineReason(result.DeclineCode),
			At:     m.now(),
		})
	case acquirer.OutcomeNetworkError:
		return m.resolveAmbiguous(ctx, in.TransactionID, requestID, result)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unexpected acquirer outcome %q", result.Outcome)).
			WithTransactionID(in.TransactionID.String())
	}
}

// prepare brings the ledger record to the authorizing state, creating it if
// this is the first attempt.
func (m *Machine) prepare(ctx context.Context, in Input) (*ledger.Transaction, error) {
	tx, err := m.ledger.Get(ctx, in.TransactionID)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		tx = &ledger.Transaction{
			ID:         in.TransactionID,
			OrderID:    in.OrderID,
			Kind:       enums.TransactionKindPayment,
			Status:     enums.TransactionStatusCreated,
			Amount:     in.Amount,
			MethodType: in.MethodType,
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
			Status: enums.TransactionStatusAuthorizing,
			At:     m.now(),
		})
	}
	return tx, nil
}

// resolveAmbiguous settles a network-error outcome through bounded status
// inquiries. A blind retry of the authorization could double-charge, so the
// only moves are inquire or give up into reconciliation.
func (m *Machine) resolveAmbiguous(ctx context.Context, transactionID, requestID uuid.UUID, result acquirer.Result) (*ledger.Transaction, error) {
	m.logg.Warn(ctx, "ambiguous acquirer outcome, starting status inquiry")

	var status acquirer.InquiryStatus
	backoff := retry.WithMaxRetries(uint64(m.attempts-1), retry.NewExponential(m.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		m.metrics.IncInquiryRetry(string(enums.TransactionKindPayment))
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
		m.logg.Warn(ctx, "status inquiry exhausted, transaction needs reconciliation")
		m.metrics.IncReconciliationRequired()
		return m.ledger.Append(ctx, transactionID, ledger.AppendInput{
			Status: enums.TransactionStatusErrored,
			Reason: ReasonReconciliationRequired,
			At:     m.now(),
		})
	}

	switch status {
	case acquirer.InquiryApproved:
		m.logg.Info(ctx, "inquiry resolved payment as approved")
		return m.ledger.Append(ctx, transactionID, ledger.AppendInput{
			Status:      enums.TransactionStatusSettled,
			At:          m.now(),
			AuthCode:    result.AuthCode,
			ProviderRef: result.ProviderRef,
		})
	default:
		m.logg.Info(ctx, "inquiry resolved payment as declined")
		return m.ledger.Append(ctx, transactionID, ledger.AppendInput{
			Status: enums.TransactionStatusDeclined,
			Reason: declineReason(result.DeclineCode),
			At:     m.now(),
		})
	}
}

func declineReason(code string) string {
	if code == "" {
		return reasonDeclinedFallback
	}
	return code
}
