package enums

import "fmt"

// TransactionStatus tracks the aggregate settlement state of a checkout attempt.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusPartial  TransactionStatus = "partial"
	TransactionStatusApproved TransactionStatus = "approved"
	TransactionStatusRejected TransactionStatus = "rejected"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusPartial,
	TransactionStatusApproved,
	TransactionStatusRejected,
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

// IsFinal reports whether no further transition is possible.
func (s TransactionStatus) IsFinal() bool {
	return s == TransactionStatusApproved || s == TransactionStatusRejected
}

// rank orders statuses so transitions can only move forward.
func (s TransactionStatus) rank() int {
	switch s {
	case TransactionStatusPending:
		return 0
	case TransactionStatusPartial:
		return 1
	case TransactionStatusApproved, TransactionStatusRejected:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next is a forward (or
// identity) move. Final statuses only accept themselves.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	if s.IsFinal() {
		return false
	}
	return next.rank() > s.rank()
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

// PaymentMode records whether a transaction pays one or several storefronts.
type PaymentMode string

const (
	PaymentModeSingle PaymentMode = "single"
	PaymentModeMulti  PaymentMode = "multi"
)

// PaymentModeFor derives the mode from the number of storefronts in the cart.
func PaymentModeFor(storeCount int) PaymentMode {
	if storeCount > 1 {
		return PaymentModeMulti
	}
	return PaymentModeSingle
}
