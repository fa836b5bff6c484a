package enums

import "fmt"

// FulfillmentStatus tracks the order handed to a storefront's order system.
type FulfillmentStatus string

const (
	FulfillmentStatusPending   FulfillmentStatus = "pending"
	FulfillmentStatusCreated   FulfillmentStatus = "created"
	FulfillmentStatusFailed    FulfillmentStatus = "failed"
	FulfillmentStatusCancelled FulfillmentStatus = "cancelled"
)

var validFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentStatusPending,
	FulfillmentStatusCreated,
	FulfillmentStatusFailed,
	FulfillmentStatusCancelled,
}

// String implements fmt.Stringer.
func (s FulfillmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known FulfillmentStatus.
func (s FulfillmentStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseFulfillmentStatus converts raw input into a FulfillmentStatus.
func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	for _, candidate := range validFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}
