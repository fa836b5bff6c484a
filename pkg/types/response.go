package types

// SuccessEnvelope wraps every 2xx body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the client-visible half of a failed request. RequestID echoes
// the X-Request-Id header so support can find the matching log entries.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// StoreError is a per-storefront failure surfaced next to sibling successes.
type StoreError struct {
	StoreKey string `json:"store_key"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}
