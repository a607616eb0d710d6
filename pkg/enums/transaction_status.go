package enums

import "fmt"

// TransactionStatus is the lifecycle state of a payment or refund. Terminal
// statuses are set exactly once; the transition table below is the single
// source of truth for legal steps.
type TransactionStatus string

// TransactionStatusErrored marks an ambiguous outcome the engine could not
// resolve; the transaction needs manual reconciliation.
const (
	TransactionStatusCreated           TransactionStatus = "created"
	TransactionStatusAuthorizing       TransactionStatus = "authorizing"
	TransactionStatusSettled           TransactionStatus = "settled"
	TransactionStatusDeclined          TransactionStatus = "declined"
	TransactionStatusErrored           TransactionStatus = "errored"
	TransactionStatusRefundAuthorizing TransactionStatus = "refund_authorizing"
	TransactionStatusRefunded          TransactionStatus = "refunded"
	TransactionStatusRefundFailed      TransactionStatus = "refund_failed"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusCreated,
	TransactionStatusAuthorizing,
	TransactionStatusSettled,
	TransactionStatusDeclined,
	TransactionStatusErrored,
	TransactionStatusRefundAuthorizing,
	TransactionStatusRefunded,
	TransactionStatusRefundFailed,
}

var transactionStatusTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusCreated: {
		TransactionStatusAuthorizing,
		TransactionStatusRefundAuthorizing,
	},
	TransactionStatusAuthorizing: {
		TransactionStatusSettled,
		TransactionStatusDeclined,
		TransactionStatusErrored,
	},
	TransactionStatusRefundAuthorizing: {
		TransactionStatusRefunded,
		TransactionStatusRefundFailed,
		TransactionStatusErrored,
	},
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionStatus.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s TransactionStatus) IsTerminal() bool {
	if !s.IsValid() {
		return false
	}
	return len(transactionStatusTransitions[s]) == 0
}

// CanTransitionTo reports whether moving to next is a legal lifecycle step.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, candidate := range transactionStatusTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
