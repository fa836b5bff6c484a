package stripe

import (
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v84"
)

// IsTransient reports whether a processor error is worth retrying with the
// same idempotency key.
func IsTransient(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
		stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
		stripeErr.Type == stripe.ErrorTypeAPI
}
