package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionStatusTransitionsAreMonotonic(t *testing.T) {
	assert.True(t, TransactionStatusPending.CanTransitionTo(TransactionStatusPartial))
	assert.True(t, TransactionStatusPending.CanTransitionTo(TransactionStatusApproved))
	assert.True(t, TransactionStatusPending.CanTransitionTo(TransactionStatusRejected))
	assert.True(t, TransactionStatusPartial.CanTransitionTo(TransactionStatusApproved))
	assert.True(t, TransactionStatusPartial.CanTransitionTo(TransactionStatusRejected))
	assert.True(t, TransactionStatusPartial.CanTransitionTo(TransactionStatusPartial))

	assert.False(t, TransactionStatusPartial.CanTransitionTo(TransactionStatusPending))
	assert.False(t, TransactionStatusApproved.CanTransitionTo(TransactionStatusPartial))
	assert.False(t, TransactionStatusApproved.CanTransitionTo(TransactionStatusRejected))
	assert.False(t, TransactionStatusRejected.CanTransitionTo(TransactionStatusApproved))
	assert.False(t, TransactionStatus("bogus").CanTransitionTo(TransactionStatusApproved))
}

func TestStorePaymentStatusMachine(t *testing.T) {
	assert.True(t, StorePaymentStatusPending.CanTransitionTo(StorePaymentStatusProcessing))
	assert.True(t, StorePaymentStatusPending.CanTransitionTo(StorePaymentStatusApproved))
	assert.True(t, StorePaymentStatusProcessing.CanTransitionTo(StorePaymentStatusRejected))
	assert.True(t, StorePaymentStatusProcessing.CanTransitionTo(StorePaymentStatusCancelled))

	assert.False(t, StorePaymentStatusProcessing.CanTransitionTo(StorePaymentStatusPending))
	assert.False(t, StorePaymentStatusProcessing.CanTransitionTo(StorePaymentStatusProcessing))
	assert.False(t, StorePaymentStatusApproved.CanTransitionTo(StorePaymentStatusRejected))
	assert.False(t, StorePaymentStatusCancelled.CanTransitionTo(StorePaymentStatusApproved))

	assert.True(t, StorePaymentStatusCancelled.IsTerminal())
	assert.True(t, StorePaymentStatusCancelled.IsFailure())
	assert.False(t, StorePaymentStatusProcessing.IsTerminal())
}

func TestParseHelpers(t *testing.T) {
	status, err := ParseStorePaymentStatus("processing")
	require.NoError(t, err)
	assert.Equal(t, StorePaymentStatusProcessing, status)

	_, err = ParseTransactionStatus("done")
	require.Error(t, err)

	event, err := ParseOutboxEventType("fulfillment.failed")
	require.NoError(t, err)
	assert.Equal(t, EventFulfillmentFailed, event)

	assert.Equal(t, PaymentModeMulti, PaymentModeFor(2))
	assert.Equal(t, PaymentModeSingle, PaymentModeFor(1))
	assert.False(t, RateSourceDefault.IsVerified())
}
