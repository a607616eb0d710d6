package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// TransactionID points at the ledger record behind the failure, when one
	// exists. Reconciliation-required errors always carry it.
	TransactionID string `json:"transaction_id,omitempty"`
	Details       any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
