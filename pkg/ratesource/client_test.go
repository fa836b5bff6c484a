package ratesource

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestFetchSendsCartAndParsesRates(t *testing.T) {
	var captured map[string]map[string]any
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", req.Method)
		}
		if req.URL.String() != "http://acme.test/rates" {
			t.Fatalf("unexpected URL %q", req.URL.String())
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		return respond(http.StatusOK, `{"rates":[
			{"service_name":"Express","service_code":"exp","total_price":"1500"},
			{"service_name":"Ground","service_code":"gnd","total_price":700},
			{"service_name":"","service_code":"bad","total_price":1},
			{"service_name":"Broken","service_code":"neg","total_price":-5}
		]}`), nil
	})

	client := NewClient(WithHTTPClient(&http.Client{Transport: rt}))
	rates, err := client.Fetch(context.Background(), "http://acme.test/rates", Request{
		Destination:   Destination{Line1: "1 Main", City: "Santiago", Country: "CL"},
		Items:         []Item{{VariantID: "v1", Quantity: 2, Grams: 300, PriceCents: 1000}},
		SubtotalCents: 2000,
		Grams:         600,
		Currency:      "USD",
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("expected 2 valid rates, got %d", len(rates))
	}
	if rates[0].Code != "exp" || rates[0].PriceCents != 1500 {
		t.Fatalf("unexpected first rate %+v", rates[0])
	}
	if rates[1].PriceCents != 700 {
		t.Fatalf("unexpected second rate %+v", rates[1])
	}
	if captured["rate"]["subtotal_cents"] != float64(2000) {
		t.Fatalf("subtotal not sent: %+v", captured["rate"])
	}
}

func TestFetchClassifiesFailures(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
			return respond(tc.status, "nope"), nil
		})
		client := NewClient(WithHTTPClient(&http.Client{Transport: rt}))
		_, err := client.Fetch(context.Background(), "http://acme.test/rates", Request{})
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if IsTransient(err) != tc.transient {
			t.Fatalf("status %d: transient=%v", tc.status, IsTransient(err))
		}
	}
}

func TestFetchRequiresEndpoint(t *testing.T) {
	if _, err := NewClient().Fetch(context.Background(), " ", Request{}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
