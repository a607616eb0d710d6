package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gmartell/paycore/api/responses"
	"github.com/gmartell/paycore/internal/gateway"
	"github.com/gmartell/paycore/internal/ledger"
	"github.com/gmartell/paycore/pkg/enums"
	pkgerrors "github.com/gmartell/paycore/pkg/errors"
	"github.com/gmartell/paycore/pkg/logger"
)

type transactionResponse struct {
	ID            uuid.UUID               `json:"id"`
	OrderID       string                  `json:"order_id"`
	Kind          enums.TransactionKind   `json:"kind"`
	Status        enums.TransactionStatus `json:"status"`
	AmountMinor   int64                   `json:"amount_minor"`
	Currency      enums.Currency          `json:"currency"`
	PaymentID     *uuid.UUID              `json:"payment_id,omitempty"`
	AuthCode      string                  `json:"auth_code,omitempty"`
	FailureReason string                  `json:"failure_reason,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	Events        []ledger.StatusEvent    `json:"events"`
}

// GetTransaction returns one transaction with its full transition history.
func GetTransaction(gw *gateway.Gateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := uuid.Parse(chi.URLParam(r, "transactionID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction id"))
			return
		}
		tx, err := gw.GetTransaction(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toTransactionResponse(tx))
	}
}

// ListOrderTransactions returns every transaction recorded for an order.
func ListOrderTransactions(gw *gateway.Gateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID := chi.URLParam(r, "orderID")
		transactions, err := gw.ListOrderTransactions(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		payload := make([]transactionResponse, 0, len(transactions))
		for _, tx := range transactions {
			payload = append(payload, toTransactionResponse(tx))
		}
		responses.WriteSuccess(w, payload)
	}
}

func toTransactionResponse(tx *ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:            tx.ID,
		OrderID:       tx.OrderID,
		Kind:          tx.Kind,
		Status:        tx.Status,
		AmountMinor:   tx.Amount.AmountMinor,
		Currency:      tx.Amount.Currency,
		PaymentID:     tx.PaymentID,
		AuthCode:      tx.AuthCode,
		FailureReason: tx.FailureReason,
		CreatedAt:     tx.CreatedAt,
		Events:        tx.Events,
	}
}
