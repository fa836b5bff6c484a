package ratesource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

var errEndpointRequired = errors.New("rate api url is required")

// Client calls a storefront's real-time shipping rate API.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithUserAgent sets the User-Agent header sent to storefronts.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(ua); trimmed != "" {
			c.userAgent = trimmed
		}
	}
}

// NewClient builds a rate source client. Per-call deadlines come from the context.
func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "tuka-rates/1",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// Item is one cart line as the rate source sees it.
type Item struct {
	VariantID  string `json:"variant_id"`
	Quantity   int    `json:"quantity"`
	Grams      int64  `json:"grams"`
	PriceCents int64  `json:"price_cents"`
}

// Destination is the buyer's shipping address.
type Destination struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// Request asks a storefront to price delivery of its share of the cart.
type Request struct {
	Destination   Destination `json:"destination"`
	Items         []Item      `json:"items"`
	SubtotalCents int64       `json:"subtotal_cents"`
	Grams         int64       `json:"grams"`
	Currency      string      `json:"currency"`
}

// Rate is one named option returned by the storefront.
type Rate struct {
	Title      string
	Code       string
	PriceCents int64
}

// Fetch posts the request to endpoint and returns the storefront's rates.
// Non-2xx answers are DEPENDENCY errors; 5xx and 429 are marked retryable.
func (c *Client) Fetch(ctx context.Context, endpoint string, req Request) ([]Rate, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "rate source client not configured")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, errEndpointRequired, "rate api url")
	}

	payload, err := json.Marshal(map[string]any{"rate": req})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal rate request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build rate request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Err: pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute rate request")}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		wrapped := pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "rate request failed")
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &TransientError{Err: wrapped}
		}
		return nil, wrapped
	}

	var apiResp struct {
		Rates []struct {
			ServiceName string      `json:"service_name"`
			ServiceCode string      `json:"service_code"`
			TotalPrice  json.Number `json:"total_price"`
		} `json:"rates"`
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode rate response")
	}

	rates := make([]Rate, 0, len(apiResp.Rates))
	for _, r := range apiResp.Rates {
		price, err := r.TotalPrice.Int64()
		if err != nil || price < 0 {
			continue
		}
		code := strings.TrimSpace(r.ServiceCode)
		title := strings.TrimSpace(r.ServiceName)
		if code == "" || title == "" {
			continue
		}
		rates = append(rates, Rate{Title: title, Code: code, PriceCents: price})
	}
	return rates, nil
}

// TransientError marks a failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err came from a retryable rate source failure.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
