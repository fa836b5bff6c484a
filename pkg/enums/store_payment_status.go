package enums

import "fmt"

// StorePaymentStatus tracks one storefront's charge within a transaction.
type StorePaymentStatus string

const (
	StorePaymentStatusPending    StorePaymentStatus = "pending"
	StorePaymentStatusProcessing StorePaymentStatus = "processing"
	StorePaymentStatusApproved   StorePaymentStatus = "approved"
	StorePaymentStatusRejected   StorePaymentStatus = "rejected"
	StorePaymentStatusCancelled  StorePaymentStatus = "cancelled"
)

var validStorePaymentStatuses = []StorePaymentStatus{
	StorePaymentStatusPending,
	StorePaymentStatusProcessing,
	StorePaymentStatusApproved,
	StorePaymentStatusRejected,
	StorePaymentStatusCancelled,
}

// String implements fmt.Stringer.
func (s StorePaymentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StorePaymentStatus.
func (s StorePaymentStatus) IsValid() bool {
	for _, candidate := range validStorePaymentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the processor is done with this payment.
func (s StorePaymentStatus) IsTerminal() bool {
	switch s {
	case StorePaymentStatusApproved, StorePaymentStatusRejected, StorePaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the payment ended without collecting money.
func (s StorePaymentStatus) IsFailure() bool {
	return s == StorePaymentStatusRejected || s == StorePaymentStatusCancelled
}

// CanTransitionTo encodes pending -> processing -> {approved, rejected, cancelled}.
// pending may also jump straight to a terminal state when the processor skips
// the intermediate notification.
func (s StorePaymentStatus) CanTransitionTo(next StorePaymentStatus) bool {
	if !next.IsValid() || s == next {
		return false
	}
	switch s {
	case StorePaymentStatusPending:
		return next != StorePaymentStatusPending
	case StorePaymentStatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}

// ParseStorePaymentStatus converts raw input into a StorePaymentStatus.
func ParseStorePaymentStatus(value string) (StorePaymentStatus, error) {
	for _, candidate := range validStorePaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid store payment status %q", value)
}
