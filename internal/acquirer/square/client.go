// Package square adapts the Square payments API to the acquirer.Client
// capability. Ambiguity resolution relies on Square's idempotency-key
// deduplication: re-sending a request with the same key is non-effectful and
// returns the original outcome.
package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/gmartell/paycore/internal/acquirer"
	"github.com/gmartell/paycore/pkg/config"
	"github.com/gmartell/paycore/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errLocationRequired    = errors.New("square location id is required")
	errInvalidSquareEnv    = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired      = errors.New("square logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

type attemptKind string

const (
	attemptAuthorize attemptKind = "authorize"
	attemptRefund    attemptKind = "refund"
)

// attempt retains the parameters of an issued request so an inquiry can
// replay it under the same idempotency key. Entries live only while the
// outcome is ambiguous; resolved attempts are evicted. Attempts issued by
// other processes are not known here; their inquiries report Unknown and the
// engine re-enters through Authorize/Refund instead, which Square dedupes.
type attempt struct {
	kind      attemptKind
	authorize acquirer.AuthorizeParams
	refund    acquirer.RefundParams
}

// Client implements acquirer.Client against Square.
type Client struct {
	sdk         *sqclient.Client
	locationID  string
	environment string
	logger      *logger.Logger

	mu       sync.Mutex
	attempts map[uuid.UUID]attempt
}

// NewClient initializes the Square adapter and validates the credentials.
func NewClient(ctx context.Context, cfg config.AcquirerConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Env)
	if err != nil {
		return nil, err
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, errLocationRequired
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURLs[env]),
		sqoption.WithToken(accessToken),
	)

	c := &Client{
		sdk:         sdk,
		locationID:  locationID,
		environment: env,
		logger:      logg,
		attempts:    map[uuid.UUID]attempt{},
	}

	logg.Info(ctx, "square acquirer initialized")
	return c, nil
}

// Authorize submits a payment under the attempt's stable request id.
func (c *Client) Authorize(ctx context.Context, params acquirer.AuthorizeParams) (acquirer.Result, error) {
	c.remember(params.RequestID, attempt{kind: attemptAuthorize, authorize: params})
	result, err := c.createPayment(ctx, params)
	if err != nil || result.Outcome != acquirer.OutcomeNetworkError {
		c.forget(params.RequestID)
	}
	return result, err
}

func (c *Client) createPayment(ctx context.Context, params acquirer.AuthorizeParams) (acquirer.Result, error) {
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: params.RequestID.String(),
		SourceID:       params.SourceRef,
		LocationID:     ptrString(c.locationID),
		AmountMoney:    moneyPtr(params.Amount.AmountMinor, string(params.Amount.Currency)),
	}
	c.log(ctx, "request", "create_payment", map[string]any{
		"request_id": params.RequestID.String(),
		"amount":     params.Amount.AmountMinor,
		"currency":   params.Amount.Currency.String(),
	})

	resp, err := c.sdk.Payments.Create(ctx, req)
	if err != nil {
		result, mapErr := c.mapCallError(err, "create payment")
		if mapErr != nil {
			c.log(ctx, "error", "create_payment", map[string]any{"error": err.Error()})
			return acquirer.Result{}, mapErr
		}
		return result, nil
	}

	payment := resp.GetPayment()
	result := paymentResult(stringValue(payment.GetID()), stringValue(payment.GetStatus()))
	c.log(ctx, "response", "create_payment", map[string]any{
		"payment_id": stringValue(payment.GetID()),
		"status":     stringValue(payment.GetStatus()),
	})
	return result, nil
}

// Refund submits a refund against a prior Square payment.
func (c *Client) Refund(ctx context.Context, params acquirer.RefundParams) (acquirer.Result, error) {
	c.remember(params.RequestID, attempt{kind: attemptRefund, refund: params})
	result, err := c.refundPayment(ctx, params)
	if err != nil || result.Outcome != acquirer.OutcomeNetworkError {
		c.forget(params.RequestID)
	}
	return result, err
}

func (c *Client) refundPayment(ctx context.Context, params acquirer.RefundParams) (acquirer.Result, error) {
	req := &sq.RefundPaymentRequest{
		IdempotencyKey: params.RequestID.String(),
		PaymentID:      ptrString(params.PaymentRef),
		AmountMoney:    moneyPtr(params.Amount.AmountMinor, string(params.Amount.Currency)),
	}
	c.log(ctx, "request", "refund_payment", map[string]any{
		"request_id": params.RequestID.String(),
		"payment_id": params.PaymentRef,
		"amount":     params.Amount.AmountMinor,
	})

	resp, err := c.sdk.Refunds.RefundPayment(ctx, req)
	if err != nil {
		result, mapErr := c.mapCallError(err, "refund payment")
		if mapErr != nil {
			c.log(ctx, "error", "refund_payment", map[string]any{"error": err.Error()})
			return acquirer.Result{}, mapErr
		}
		return result, nil
	}

	refund := resp.GetRefund()
	result := refundResult(refund.GetID(), stringValue(refund.GetStatus()))
	c.log(ctx, "response", "refund_payment", map[string]any{
		"refund_id": refund.GetID(),
		"status":    stringValue(refund.GetStatus()),
	})
	return result, nil
}

// InquireStatus resolves an ambiguous outcome by replaying the original
// request under its idempotency key. Square deduplicates and returns the
// recorded outcome without a second economic effect.
func (c *Client) InquireStatus(ctx context.Context, requestID uuid.UUID) (acquirer.InquiryStatus, error) {
	c.mu.Lock()
	att, ok := c.attempts[requestID]
	c.mu.Unlock()
	if !ok {
		return acquirer.InquiryUnknown, nil
	}

	var (
		result acquirer.Result
		err    error
	)
	switch att.kind {
	case attemptRefund:
		result, err = c.refundPayment(ctx, att.refund)
	default:
		result, err = c.createPayment(ctx, att.authorize)
	}
	if err != nil {
		return acquirer.InquiryUnknown, err
	}

	switch result.Outcome {
	case acquirer.OutcomeApproved:
		c.forget(requestID)
		return acquirer.InquiryApproved, nil
	case acquirer.OutcomeDeclined:
		c.forget(requestID)
		return acquirer.InquiryDeclined, nil
	default:
		return acquirer.InquiryUnknown, nil
	}
}

func (c *Client) remember(requestID uuid.UUID, att attempt) {
	c.mu.Lock()
	c.attempts[requestID] = att
	c.mu.Unlock()
}

func (c *Client) forget(requestID uuid.UUID) {
	c.mu.Lock()
	delete(c.attempts, requestID)
	c.mu.Unlock()
}

// mapCallError converts an SDK failure into an acquirer outcome. Declines are
// business outcomes, not errors; only malformed requests propagate as errors.
func (c *Client) mapCallError(err error, op string) (acquirer.Result, error) {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		// Transport failure: the request may or may not have been processed.
		return acquirer.Result{Outcome: acquirer.OutcomeNetworkError}, nil
	}
	if apiErr.StatusCode >= 500 {
		return acquirer.Result{Outcome: acquirer.OutcomeNetworkError}, nil
	}
	for _, sqErr := range extractSquareErrors(apiErr) {
		if sqErr == nil {
			continue
		}
		if sqErr.Category == sq.ErrorCategoryPaymentMethodError ||
			sqErr.Category == sq.ErrorCategoryRefundError {
			return acquirer.Result{
				Outcome:     acquirer.OutcomeDeclined,
				DeclineCode: string(sqErr.Code),
			}, nil
		}
	}
	return acquirer.Result{}, fmt.Errorf("square %s failed: %w", op, err)
}

func extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func paymentResult(paymentID, status string) acquirer.Result {
	switch strings.ToUpper(status) {
	case "COMPLETED", "APPROVED":
		return acquirer.Result{
			Outcome:     acquirer.OutcomeApproved,
			AuthCode:    paymentID,
			ProviderRef: paymentID,
		}
	case "FAILED", "CANCELED":
		return acquirer.Result{
			Outcome:     acquirer.OutcomeDeclined,
			DeclineCode: status,
			ProviderRef: paymentID,
		}
	default:
		return acquirer.Result{Outcome: acquirer.OutcomeNetworkError, ProviderRef: paymentID}
	}
}

func refundResult(refundID, status string) acquirer.Result {
	switch strings.ToUpper(status) {
	case "COMPLETED", "PENDING":
		return acquirer.Result{
			Outcome:     acquirer.OutcomeApproved,
			AuthCode:    refundID,
			ProviderRef: refundID,
		}
	case "FAILED", "REJECTED":
		return acquirer.Result{
			Outcome:     acquirer.OutcomeDeclined,
			DeclineCode: status,
			ProviderRef: refundID,
		}
	default:
		return acquirer.Result{Outcome: acquirer.OutcomeNetworkError, ProviderRef: refundID}
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("square %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("square %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "pan", "nonce", "token", "cvv", "cvc", "source", "secret"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func normalizeEnv(env string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(env))
	switch normalized {
	case sandboxEnv, productionEnv:
		return normalized, nil
	}
	return "", errInvalidSquareEnv
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	cur := sq.Currency(strings.ToUpper(strings.TrimSpace(currency)))
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: &cur,
	}
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
