// Package http provides HTTP-specific implementations of t402 components:
// a payment-aware client transport, a resource server with route matching,
// and a facilitator client speaking the /verify /settle /supported API.
package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	t402 "github.com/t402-io/t402"
)

// Protocol headers. The current dialect carries everything in headers as
// base64(JSON); the legacy names are accepted on read for v1 peers.
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"

	HeaderLegacyPaymentRequired = "X-PAYMENT-REQUIRED"
	HeaderLegacyPayment         = "X-PAYMENT"
	HeaderLegacyPaymentResponse = "X-PAYMENT-RESPONSE"
)

// ============================================================================
// Re-export main types for convenience
// ============================================================================

type (
	// HTTPClient is an alias for t402HTTPClient
	HTTPClient = t402HTTPClient

	// HTTPServer is an alias for t402HTTPResourceServer
	HTTPServer = t402HTTPResourceServer
)

// ============================================================================
// Constructor functions with simpler names
// ============================================================================

// NewClient creates a new HTTP-aware t402 client
func NewClient(client *t402.T402Client) *t402HTTPClient {
	return Newt402HTTPClient(client)
}

// NewServer creates a new HTTP resource server
func NewServer(routes RoutesConfig, opts ...t402.ResourceServerOption) *t402HTTPResourceServer {
	return Newt402HTTPResourceServer(routes, opts...)
}

// NewFacilitatorClient creates a new HTTP facilitator client
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}

// ============================================================================
// Convenience functions
// ============================================================================

// WrapClient wraps a standard HTTP client with t402 payment handling
func WrapClient(client *http.Client, t402Client *t402HTTPClient) *http.Client {
	return WrapHTTPClientWithPayment(client, t402Client)
}

// Get performs a GET request with automatic payment handling
func Get(ctx context.Context, url string, t402Client *t402HTTPClient) (*http.Response, error) {
	return t402Client.GetWithPayment(ctx, url)
}

// Post performs a POST request with automatic payment handling
func Post(ctx context.Context, url string, body io.Reader, t402Client *t402HTTPClient) (*http.Response, error) {
	return t402Client.PostWithPayment(ctx, url, body)
}

// Do performs an HTTP request with automatic payment handling
func Do(ctx context.Context, req *http.Request, t402Client *t402HTTPClient) (*http.Response, error) {
	return t402Client.DoWithPayment(ctx, req)
}

// ============================================================================
// Header Codec
// ============================================================================

// EncodePaymentRequiredHeader encodes payment requirements as base64(JSON)
func EncodePaymentRequiredHeader(required t402.PaymentRequired) string {
	data, err := json.Marshal(required)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal payment required: %v", err))
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePaymentRequiredHeader decodes a base64 payment required header
func DecodePaymentRequiredHeader(header string) (t402.PaymentRequired, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return t402.PaymentRequired{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var required t402.PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return t402.PaymentRequired{}, fmt.Errorf("invalid payment required JSON: %w", err)
	}

	return required, nil
}

// EncodePaymentResponseHeader encodes a settlement response as base64(JSON)
func EncodePaymentResponseHeader(response t402.SettleResponse) string {
	data, err := json.Marshal(response)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal settle response: %v", err))
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePaymentResponseHeader decodes a base64 payment response header
func DecodePaymentResponseHeader(header string) (*t402.SettleResponse, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var response t402.SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("invalid settle response JSON: %w", err)
	}

	return &response, nil
}
