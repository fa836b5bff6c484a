package enums

import "fmt"

// OutboxAggregateType identifies the entity an outbox event describes.
type OutboxAggregateType string

const (
	AggregateTransaction  OutboxAggregateType = "transaction"
	AggregateStorePayment OutboxAggregateType = "store_payment"
	AggregateFulfillment  OutboxAggregateType = "fulfillment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateTransaction,
	AggregateStorePayment,
	AggregateFulfillment,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event published through the outbox.
type OutboxEventType string

const (
	EventTransactionCreated        OutboxEventType = "transaction.created"
	EventTransactionStatusChanged  OutboxEventType = "transaction.status_changed"
	EventStorePaymentStatusChanged OutboxEventType = "store_payment.status_changed"
	EventFulfillmentCreated        OutboxEventType = "fulfillment.created"
	EventFulfillmentFailed         OutboxEventType = "fulfillment.failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventTransactionCreated,
	EventTransactionStatusChanged,
	EventStorePaymentStatusChanged,
	EventFulfillmentCreated,
	EventFulfillmentFailed,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason explains why the publisher gave up on an event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonUnresolvable marks rows whose type, aggregate or
	// envelope could not be decoded.
	OutboxDLQReasonUnresolvable OutboxDLQErrorReason = "unresolvable"
	// OutboxDLQReasonNonRetryable marks rows the broker rejected outright.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// OutboxDLQReasonMaxAttempts marks rows that kept failing transiently.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
)

// IsValid reports whether the value matches a known dead-letter reason.
func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonUnresolvable, OutboxDLQReasonNonRetryable, OutboxDLQReasonMaxAttempts:
		return true
	}
	return false
}

// ParseOutboxDLQErrorReason converts raw input into OutboxDLQErrorReason.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	r := OutboxDLQErrorReason(value)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid dead-letter reason %q", value)
	}
	return r, nil
}
