package stripe

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// ErrUnsupportedEvent marks events the settlement flow does not consume.
var ErrUnsupportedEvent = errors.New("unsupported stripe event")

// Event is the reduced webhook shape: an event type plus the id of the
// payment object to re-fetch.
type Event struct {
	ID        string
	Type      string
	PaymentID string
}

var settlementEvents = map[stripe.EventType]bool{
	stripe.EventTypeCheckoutSessionCompleted:             true,
	stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded: true,
	stripe.EventTypeCheckoutSessionAsyncPaymentFailed:    true,
	stripe.EventTypeCheckoutSessionExpired:               true,
	stripe.EventTypePaymentIntentProcessing:              true,
	stripe.EventTypePaymentIntentSucceeded:               true,
	stripe.EventTypePaymentIntentPaymentFailed:           true,
	stripe.EventTypePaymentIntentCanceled:                true,
}

// ParseWebhook verifies the signature and reduces the event. Unsupported
// event types return ErrUnsupportedEvent alongside the reduced event so
// callers can acknowledge them.
func (c *Client) ParseWebhook(payload []byte, signature string) (*Event, error) {
	raw, err := webhook.ConstructEventWithOptions(payload, signature, c.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}
	return reduceEvent(raw)
}

func reduceEvent(raw stripe.Event) (*Event, error) {
	evt := &Event{ID: raw.ID, Type: string(raw.Type)}
	if raw.Data != nil && raw.Data.Object != nil {
		if id, ok := raw.Data.Object["id"].(string); ok {
			evt.PaymentID = id
		}
	}
	if !settlementEvents[raw.Type] {
		return evt, ErrUnsupportedEvent
	}
	if evt.PaymentID == "" {
		return evt, fmt.Errorf("event %s carries no payment id", raw.ID)
	}
	return evt, nil
}
