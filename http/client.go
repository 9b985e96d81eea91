package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/types"
)

// ============================================================================
// t402HTTPClient - HTTP-aware payment client
// ============================================================================

// t402HTTPClient wraps T402Client with HTTP-specific payment handling
type t402HTTPClient struct {
	client *t402.T402Client
}

// Newt402HTTPClient creates a new HTTP-aware t402 client
func Newt402HTTPClient(client *t402.T402Client) *t402HTTPClient {
	return &t402HTTPClient{
		client: client,
	}
}

// ============================================================================
// Header Encoding/Decoding
// ============================================================================

// EncodePaymentSignatureHeader encodes raw payment payload bytes into the
// signature header appropriate for the payload's protocol version.
func (c *t402HTTPClient) EncodePaymentSignatureHeader(payloadBytes []byte) (map[string]string, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(payloadBytes)

	switch version {
	case t402.ProtocolVersion:
		return map[string]string{HeaderPaymentSignature: encoded}, nil
	case t402.ProtocolVersionV1:
		return map[string]string{HeaderLegacyPayment: encoded}, nil
	default:
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
}

// GetPaymentRequiredResponse extracts payment requirements from an HTTP
// response, handling both the header form and the legacy body form.
func (c *t402HTTPClient) GetPaymentRequiredResponse(headers map[string]string, body []byte) (t402.PaymentRequired, error) {
	normalized := normalizeHeaders(headers)

	if header, exists := normalized[HeaderPaymentRequired]; exists {
		return DecodePaymentRequiredHeader(header)
	}
	if header, exists := normalized[HeaderLegacyPaymentRequired]; exists {
		return DecodePaymentRequiredHeader(header)
	}

	// v1 servers send PaymentRequired as the 402 response body
	if len(body) > 0 {
		var required t402.PaymentRequired
		if err := json.Unmarshal(body, &required); err == nil {
			if required.T402Version == t402.ProtocolVersionV1 {
				return required, nil
			}
		}
	}

	return t402.PaymentRequired{}, fmt.Errorf("no payment required information found in response")
}

// GetPaymentSettleResponse extracts a settlement response from HTTP headers
func (c *t402HTTPClient) GetPaymentSettleResponse(headers map[string]string) (*t402.SettleResponse, error) {
	normalized := normalizeHeaders(headers)

	if header, exists := normalized[HeaderPaymentResponse]; exists {
		return DecodePaymentResponseHeader(header)
	}
	if header, exists := normalized[HeaderLegacyPaymentResponse]; exists {
		return DecodePaymentResponseHeader(header)
	}

	return nil, fmt.Errorf("payment response header not found")
}

func normalizeHeaders(headers map[string]string) map[string]string {
	normalized := make(map[string]string, len(headers))
	for k, v := range headers {
		normalized[strings.ToUpper(k)] = v
	}
	return normalized
}

// ============================================================================
// HTTP Client Wrapper
// ============================================================================

// WrapHTTPClientWithPayment wraps a standard HTTP client with t402 payment
// handling so 402 responses are paid and retried transparently.
func WrapHTTPClientWithPayment(client *http.Client, t402Client *t402HTTPClient) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}

	originalTransport := client.Transport
	if originalTransport == nil {
		originalTransport = http.DefaultTransport
	}

	client.Transport = &PaymentRoundTripper{
		Transport:  originalTransport,
		t402Client: t402Client,
		retryCount: &sync.Map{},
	}

	return client
}

// PaymentRoundTripper implements http.RoundTripper with t402 payment handling
type PaymentRoundTripper struct {
	Transport  http.RoundTripper
	t402Client *t402HTTPClient
	retryCount *sync.Map // per-request retry count, guards against loops
}

// RoundTrip performs the request, and on a 402 creates a payment for one of
// the offered requirements and retries exactly once.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := fmt.Sprintf("%p", req)
	count, _ := t.retryCount.LoadOrStore(requestID, 0)
	retries := count.(int)

	if retries > 1 {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("payment retry limit exceeded")
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		t.retryCount.Delete(requestID)
		return resp, nil
	}

	t.retryCount.Store(requestID, retries+1)

	headers := make(map[string]string)
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	version, err := detectPaymentRequiredVersion(headers, body)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("failed to detect payment version: %w", err)
	}

	//nolint:contextcheck // Intentionally using request's context for payment flow
	ctx := req.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var payloadBytes []byte
	if version == t402.ProtocolVersionV1 {
		payloadBytes, err = t.handleV1Payment(ctx, body)
	} else {
		payloadBytes, err = t.handleV2Payment(ctx, headers, body)
	}
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}

	paymentHeaders, err := t.t402Client.EncodePaymentSignatureHeader(payloadBytes)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}

	paymentReq := req.Clone(ctx)
	for k, v := range paymentHeaders {
		paymentReq.Header.Set(k, v)
	}

	newResp, err := t.Transport.RoundTrip(paymentReq)
	t.retryCount.Delete(requestID)

	return newResp, err
}

// handleV1Payment processes a legacy PaymentRequired body and creates a v1 payload
func (t *PaymentRoundTripper) handleV1Payment(ctx context.Context, body []byte) ([]byte, error) {
	var requiredV1 types.PaymentRequiredV1
	if err := json.Unmarshal(body, &requiredV1); err != nil {
		return nil, fmt.Errorf("failed to parse v1 payment required: %w", err)
	}

	selected, err := t.t402Client.client.SelectPaymentRequirementsV1(requiredV1.Accepts)
	if err != nil {
		return nil, fmt.Errorf("cannot fulfill v1 payment requirements: %w", err)
	}

	payload, err := t.t402Client.client.CreatePaymentPayloadV1(ctx, selected)
	if err != nil {
		return nil, fmt.Errorf("failed to create v1 payment: %w", err)
	}

	return json.Marshal(payload)
}

// handleV2Payment processes a PaymentRequired header (or body) and creates a payload
func (t *PaymentRoundTripper) handleV2Payment(ctx context.Context, headers map[string]string, body []byte) ([]byte, error) {
	var required types.PaymentRequired

	normalized := normalizeHeaders(headers)

	if header, exists := normalized[HeaderPaymentRequired]; exists {
		decoded, err := DecodePaymentRequiredHeader(header)
		if err != nil {
			return nil, fmt.Errorf("failed to decode payment required header: %w", err)
		}
		required = decoded
	} else if len(body) > 0 {
		if err := json.Unmarshal(body, &required); err != nil {
			return nil, fmt.Errorf("failed to parse payment required: %w", err)
		}
	} else {
		return nil, fmt.Errorf("no payment required information found")
	}

	selected, err := t.t402Client.client.SelectPaymentRequirements(required.Accepts)
	if err != nil {
		return nil, fmt.Errorf("cannot fulfill payment requirements: %w", err)
	}

	payload, err := t.t402Client.client.CreatePaymentPayload(
		ctx,
		selected,
		required.Resource,
		required.Extensions,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	return json.Marshal(payload)
}

// detectPaymentRequiredVersion detects the protocol version of a 402 response
func detectPaymentRequiredVersion(headers map[string]string, body []byte) (int, error) {
	normalized := normalizeHeaders(headers)

	if _, exists := normalized[HeaderPaymentRequired]; exists {
		return t402.ProtocolVersion, nil
	}

	if len(body) > 0 {
		var versionCheck struct {
			T402Version int `json:"t402Version"`
		}
		if err := json.Unmarshal(body, &versionCheck); err == nil {
			switch versionCheck.T402Version {
			case t402.ProtocolVersionV1:
				return t402.ProtocolVersionV1, nil
			case t402.ProtocolVersion:
				return t402.ProtocolVersion, nil
			}
		}
	}

	return 0, fmt.Errorf("could not detect protocol version from response")
}

// ============================================================================
// Convenience Methods
// ============================================================================

// DoWithPayment performs an HTTP request with automatic payment handling
func (c *t402HTTPClient) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := &http.Client{
		Transport: &PaymentRoundTripper{
			Transport:  http.DefaultTransport,
			t402Client: c,
			retryCount: &sync.Map{},
		},
	}

	return client.Do(req.WithContext(ctx))
}

// GetWithPayment performs a GET request with automatic payment handling
func (c *t402HTTPClient) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a POST request with automatic payment handling
func (c *t402HTTPClient) PostWithPayment(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}
