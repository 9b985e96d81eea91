package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/types"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient talks to a remote facilitator service over HTTP.
// Implements the FacilitatorClient interface for both protocol versions.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
}

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers per facilitator endpoint
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Identifier for this facilitator (optional)
	Identifier string
}

// DefaultFacilitatorURL is the default public facilitator
const DefaultFacilitatorURL = "https://t402.org/facilitator"

// NewHTTPFacilitatorClient creates a new HTTP facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
	}
}

// ============================================================================
// FacilitatorClient Implementation (network boundary, bytes in and out)
// ============================================================================

// Verify checks if a payment is valid
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*t402.VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	var verifyResponse t402.VerifyResponse
	if err := c.postJSON(ctx, "/verify", version, payloadBytes, requirementsBytes, &verifyResponse); err != nil {
		return nil, err
	}

	return &verifyResponse, nil
}

// Settle executes a payment
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*t402.SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	var settleResponse t402.SettleResponse
	if err := c.postJSON(ctx, "/settle", version, payloadBytes, requirementsBytes, &settleResponse); err != nil {
		return nil, err
	}

	return &settleResponse, nil
}

// GetSupported gets the payment kinds the facilitator supports
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (t402.SupportedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/supported", nil)
	if err != nil {
		return t402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if err := c.applyAuth(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
		return t402.SupportedResponse{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return t402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return t402.SupportedResponse{}, fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(body))
	}

	var supportedResponse t402.SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&supportedResponse); err != nil {
		return t402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
	}

	return supportedResponse, nil
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

func (c *HTTPFacilitatorClient) postJSON(ctx context.Context, endpoint string, version int, payloadBytes, requirementsBytes []byte, out interface{}) error {
	var payloadMap, requirementsMap map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &payloadMap); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if err := json.Unmarshal(requirementsBytes, &requirementsMap); err != nil {
		return fmt.Errorf("failed to unmarshal requirements: %w", err)
	}

	requestBody := map[string]interface{}{
		"t402Version":         version,
		"paymentPayload":      payloadMap,
		"paymentRequirements": requirementsMap,
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}

	req.Header.Set("Content-Type", "application/json")

	selector := func(h AuthHeaders) map[string]string { return h.Verify }
	if endpoint == "/settle" {
		selector = func(h AuthHeaders) map[string]string { return h.Settle }
	}
	if err := c.applyAuth(ctx, req, selector); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("facilitator %s failed (%d): %s", endpoint, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}

	return nil
}

func (c *HTTPFacilitatorClient) applyAuth(ctx context.Context, req *http.Request, selector func(AuthHeaders) map[string]string) error {
	if c.authProvider == nil {
		return nil
	}

	authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range selector(authHeaders) {
		req.Header.Set(k, v)
	}
	return nil
}
