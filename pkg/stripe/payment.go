package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/imc400/tuka-backend/pkg/enums"
)

const checkoutSessionPrefix = "cs_"

// PaymentDetail is the processor's current view of one payment.
type PaymentDetail struct {
	PaymentID   string
	IntentID    string
	Reference   string
	Status      enums.StorePaymentStatus
	AmountCents int64
	RawStatus   string
}

// GetPayment fetches full payment detail by id. Checkout session ids and
// payment intent ids are both accepted because webhook events carry either.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*PaymentDetail, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}
	if strings.HasPrefix(paymentID, checkoutSessionPrefix) {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		params.AddExpand("payment_intent")
		sess, err := session.Get(paymentID, params)
		if err != nil {
			return nil, fmt.Errorf("get checkout session %s: %w", paymentID, err)
		}
		return detailFromSession(sess), nil
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(paymentID, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", paymentID, err)
	}
	return detailFromPaymentIntent(pi), nil
}

func detailFromSession(sess *stripe.CheckoutSession) *PaymentDetail {
	detail := &PaymentDetail{
		IntentID:    sess.ID,
		Reference:   sess.ClientReferenceID,
		AmountCents: sess.AmountTotal,
		RawStatus:   string(sess.Status),
	}
	if detail.Reference == "" {
		detail.Reference = sess.Metadata[metadataReference]
	}
	detail.Status = sessionStatus(sess.Status, sess.PaymentStatus)
	if sess.PaymentIntent != nil {
		detail.PaymentID = sess.PaymentIntent.ID
		if sess.PaymentIntent.Status != "" {
			// the intent is more precise once it exists
			detail.Status = paymentIntentStatus(sess.PaymentIntent)
			detail.RawStatus = string(sess.PaymentIntent.Status)
		}
	}
	return detail
}

func detailFromPaymentIntent(pi *stripe.PaymentIntent) *PaymentDetail {
	return &PaymentDetail{
		PaymentID:   pi.ID,
		Reference:   pi.Metadata[metadataReference],
		Status:      paymentIntentStatus(pi),
		AmountCents: pi.Amount,
		RawStatus:   string(pi.Status),
	}
}

func sessionStatus(status stripe.CheckoutSessionStatus, paid stripe.CheckoutSessionPaymentStatus) enums.StorePaymentStatus {
	switch status {
	case stripe.CheckoutSessionStatusComplete:
		if paid == stripe.CheckoutSessionPaymentStatusPaid {
			return enums.StorePaymentStatusApproved
		}
		return enums.StorePaymentStatusProcessing
	case stripe.CheckoutSessionStatusExpired:
		return enums.StorePaymentStatusCancelled
	default:
		return enums.StorePaymentStatusPending
	}
}

// paymentIntentStatus maps processor states onto the store payment machine.
// A failed attempt leaves the intent in requires_payment_method with the
// last error set; that is reported as rejected.
func paymentIntentStatus(pi *stripe.PaymentIntent) enums.StorePaymentStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return enums.StorePaymentStatusApproved
	case stripe.PaymentIntentStatusCanceled:
		return enums.StorePaymentStatusCancelled
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return enums.StorePaymentStatusProcessing
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return enums.StorePaymentStatusRejected
		}
		return enums.StorePaymentStatusPending
	default:
		return enums.StorePaymentStatusPending
	}
}
