package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/gmartell/paycore/api/responses"
	"github.com/gmartell/paycore/api/validators"
	"github.com/gmartell/paycore/internal/gateway"
	"github.com/gmartell/paycore/pkg/enums"
	pkgerrors "github.com/gmartell/paycore/pkg/errors"
	"github.com/gmartell/paycore/pkg/logger"
)

type submitPaymentRequest struct {
	OrderID        string `json:"order_id" validate:"required"`
	AmountMinor    int64  `json:"amount_minor" validate:"required,gt=0"`
	Currency       string `json:"currency" validate:"required"`
	MethodType     string `json:"method_type" validate:"required"`
	SourceRef      string `json:"source_ref" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
}

type submitRefundRequest struct {
	PaymentID      string `json:"payment_id" validate:"required"`
	AmountMinor    int64  `json:"amount_minor" validate:"required,gt=0"`
	Currency       string `json:"currency" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
}

// SubmitPayment accepts a payment submission and blocks until it reaches a
// terminal status. The idempotency key may come from the body or the
// Idempotency-Key header; the body wins when both are set.
func SubmitPayment(gw *gateway.Gateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req submitPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		currency, err := enums.ParseCurrency(req.Currency)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
			return
		}
		methodType, err := enums.ParsePaymentMethodType(req.MethodType)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid method type"))
			return
		}

		result, err := gw.SubmitPayment(ctx, gateway.PaymentRequest{
			OrderID:        req.OrderID,
			AmountMinor:    req.AmountMinor,
			Currency:       currency,
			MethodType:     methodType,
			SourceRef:      req.SourceRef,
			IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// SubmitRefund accepts a refund submission against a settled payment.
func SubmitRefund(gw *gateway.Gateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req submitRefundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		paymentID, err := uuid.Parse(req.PaymentID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id"))
			return
		}
		currency, err := enums.ParseCurrency(req.Currency)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
			return
		}

		result, err := gw.SubmitRefund(ctx, gateway.RefundRequest{
			PaymentID:      paymentID,
			AmountMinor:    req.AmountMinor,
			Currency:       currency,
			IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func idempotencyKey(r *http.Request, bodyKey string) string {
	if bodyKey != "" {
		return bodyKey
	}
	return r.Header.Get("Idempotency-Key")
}
