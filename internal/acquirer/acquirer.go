// Package acquirer defines the capability interface to the external
// processing network. Implementations are supplied by the caller; the engine
// only depends on this surface.
package acquirer

import (
	"context"

	"github.com/google/uuid"

	"github.com/gmartell/paycore/pkg/enums"
	"github.com/gmartell/paycore/pkg/money"
)

// Outcome classifies an authorize/refund response.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDeclined Outcome = "declined"
	// OutcomeNetworkError marks an ambiguous result: the acquirer may or may
	// not have processed the request. Resolution goes through InquireStatus,
	// never through a blind retry.
	OutcomeNetworkError Outcome = "network_error"
)

// InquiryStatus is the answer to a status inquiry for a prior request.
type InquiryStatus string

const (
	InquiryApproved InquiryStatus = "approved"
	InquiryDeclined InquiryStatus = "declined"
	InquiryUnknown  InquiryStatus = "unknown"
)

// AuthorizeParams carries one payment authorization attempt. SourceRef is the
// transient credential (card token, account reference) handed through to the
// network; it is never persisted or logged by the engine.
type AuthorizeParams struct {
	RequestID  uuid.UUID
	Amount     money.Money
	MethodType enums.PaymentMethodType
	SourceRef  string
}

// RefundParams carries one refund attempt against a settled payment.
// PaymentRef is the acquirer-side reference of the original payment.
type RefundParams struct {
	RequestID  uuid.UUID
	Amount     money.Money
	PaymentRef string
}

// Result is the acquirer's answer to an authorize or refund call.
type Result struct {
	Outcome     Outcome
	AuthCode    string
	DeclineCode string
	// ProviderRef is the acquirer-side id of the created payment/refund,
	// needed later to refund or inquire.
	ProviderRef string
}

// Client is the boundary to the acquiring network. All calls must be safe to
// retry with the same RequestID; the acquirer deduplicates on it.
type Client interface {
	Authorize(ctx context.Context, params AuthorizeParams) (Result, error)
	Refund(ctx context.Context, params RefundParams) (Result, error)
	InquireStatus(ctx context.Context, requestID uuid.UUID) (InquiryStatus, error)
}

var requestIDNamespace = uuid.MustParse("8a0f44de-3c6b-4b7e-9b0a-52b1c6f3f0d4")

// RequestID derives the stable acquirer request id for a logical attempt.
// The same idempotency key always maps to the same id, so retries after a
// crash or an ambiguous outcome reuse it and the acquirer can deduplicate.
func RequestID(idempotencyKey string) uuid.UUID {
	return uuid.NewSHA1(requestIDNamespace, []byte(idempotencyKey))
}
