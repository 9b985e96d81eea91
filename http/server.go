package http

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/types"
)

// ============================================================================
// HTTP Adapter Interface
// ============================================================================

// HTTPAdapter provides framework-agnostic HTTP operations.
// Implement this for each web framework (Gin, Echo, net/http, etc.)
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string
	GetAcceptHeader() string
	GetUserAgent() string
}

// ============================================================================
// Configuration Types
// ============================================================================

// PaywallConfig configures the HTML paywall for browser requests
type PaywallConfig struct {
	AppName    string `json:"appName,omitempty"`
	AppLogo    string `json:"appLogo,omitempty"`
	CurrentURL string `json:"currentUrl,omitempty"`
	Testnet    bool   `json:"testnet,omitempty"`
}

// DynamicPayToFunc resolves the payTo address from the request context
type DynamicPayToFunc func(context.Context, HTTPRequestContext) (string, error)

// DynamicPriceFunc resolves the price from the request context
type DynamicPriceFunc func(context.Context, HTTPRequestContext) (t402.Price, error)

// UnpaidResponse is the custom body for unpaid (402) API requests, letting
// servers return preview data or error messages alongside the accepts list.
type UnpaidResponse struct {
	ContentType string
	Body        interface{}
}

// UnpaidResponseBodyFunc generates a custom response for unpaid API
// requests. For browser requests the paywall HTML takes precedence.
type UnpaidResponseBodyFunc func(ctx context.Context, reqCtx HTTPRequestContext) (*UnpaidResponse, error)

// PaymentOption is one way a client can pay for access to a route
type PaymentOption struct {
	Scheme            string                 `json:"scheme"`
	PayTo             interface{}            `json:"payTo"` // string or DynamicPayToFunc
	Price             interface{}            `json:"price"` // t402.Price or DynamicPriceFunc
	Network           t402.Network           `json:"network"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentOptions is a slice of PaymentOption for convenience
type PaymentOptions = []PaymentOption

// RouteConfig defines payment configuration for an HTTP endpoint
type RouteConfig struct {
	Accepts PaymentOptions `json:"accepts"`

	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	CustomPaywallHTML string                 `json:"customPaywallHtml,omitempty"`
	Extensions        map[string]interface{} `json:"extensions,omitempty"`

	UnpaidResponseBody UnpaidResponseBodyFunc `json:"-"`
}

// RoutesConfig maps route patterns like "GET /api/*" to configurations
type RoutesConfig map[string]RouteConfig

// CompiledRoute is a parsed route ready for matching
type CompiledRoute struct {
	Verb   string
	Regex  *regexp.Regexp
	Config RouteConfig
}

// ============================================================================
// Request/Response Types
// ============================================================================

// HTTPRequestContext encapsulates an HTTP request
type HTTPRequestContext struct {
	Adapter       HTTPAdapter
	Path          string
	Method        string
	PaymentHeader string
}

// HTTPResponseInstructions tells the framework how to respond
type HTTPResponseInstructions struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    interface{}       `json:"body,omitempty"`
	IsHTML  bool              `json:"isHtml,omitempty"`
}

// HTTPProcessResult indicates the result of processing a payment request
type HTTPProcessResult struct {
	Type                string
	Response            *HTTPResponseInstructions
	PaymentPayload      *types.PaymentPayload
	PaymentRequirements *types.PaymentRequirements
}

// Result type constants
const (
	ResultNoPaymentRequired = "no-payment-required"
	ResultPaymentVerified   = "payment-verified"
	ResultPaymentError      = "payment-error"
)

// ProcessSettleResult represents the result of settlement processing
type ProcessSettleResult struct {
	Success     bool
	Headers     map[string]string
	ErrorReason string
	Transaction string
	Network     t402.Network
	Payer       string
}

// ============================================================================
// t402HTTPResourceServer
// ============================================================================

// t402HTTPResourceServer provides HTTP-specific payment handling on top of
// the core resource server: route matching, header extraction, 402 bodies.
type t402HTTPResourceServer struct {
	*t402.T402ResourceServer
	compiledRoutes  []CompiledRoute
	settlementCache *t402.SettlementCache
}

// defaultSettlementCacheTTL bounds how long a settled payment is remembered
// for retried requests carrying the same signed payload.
const defaultSettlementCacheTTL = 10 * time.Minute

// Newt402HTTPResourceServer creates a new HTTP resource server
func Newt402HTTPResourceServer(routes RoutesConfig, opts ...t402.ResourceServerOption) *t402HTTPResourceServer {
	return Wrappedt402HTTPResourceServer(routes, t402.Newt402ResourceServer(opts...))
}

// Wrappedt402HTTPResourceServer wraps an existing resource server with HTTP
// functionality. Used by middleware that shares one core server.
func Wrappedt402HTTPResourceServer(routes RoutesConfig, resourceServer *t402.T402ResourceServer) *t402HTTPResourceServer {
	server := &t402HTTPResourceServer{
		T402ResourceServer: resourceServer,
		compiledRoutes:     []CompiledRoute{},
		settlementCache:    t402.NewSettlementCache(defaultSettlementCacheTTL),
	}

	normalizedRoutes := routes
	if normalizedRoutes == nil {
		normalizedRoutes = make(RoutesConfig)
	}

	for pattern, config := range normalizedRoutes {
		verb, regex := parseRoutePattern(pattern)
		server.compiledRoutes = append(server.compiledRoutes, CompiledRoute{
			Verb:   verb,
			Regex:  regex,
			Config: config,
		})
	}

	return server
}

// BuildPaymentRequirementsFromOptions builds payment requirements for each
// payment option, resolving dynamic payTo and price values from the request.
func (s *t402HTTPResourceServer) BuildPaymentRequirementsFromOptions(ctx context.Context, options []PaymentOption, reqCtx HTTPRequestContext) ([]types.PaymentRequirements, error) {
	allRequirements := make([]types.PaymentRequirements, 0)

	for _, option := range options {
		var resolvedPayTo string
		if payToFunc, ok := option.PayTo.(DynamicPayToFunc); ok {
			payTo, err := payToFunc(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve dynamic payTo: %w", err)
			}
			resolvedPayTo = payTo
		} else if payToStr, ok := option.PayTo.(string); ok {
			resolvedPayTo = payToStr
		} else {
			return nil, fmt.Errorf("payTo must be string or DynamicPayToFunc, got %T", option.PayTo)
		}

		var resolvedPrice t402.Price
		if priceFunc, ok := option.Price.(DynamicPriceFunc); ok {
			price, err := priceFunc(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve dynamic price: %w", err)
			}
			resolvedPrice = price
		} else {
			resolvedPrice = option.Price
		}

		resourceConfig := t402.ResourceConfig{
			Scheme:            option.Scheme,
			PayTo:             resolvedPayTo,
			Price:             resolvedPrice,
			Network:           option.Network,
			MaxTimeoutSeconds: option.MaxTimeoutSeconds,
		}

		requirements, err := s.BuildPaymentRequirementsFromConfig(ctx, resourceConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build requirements for option %s on %s: %w", option.Scheme, option.Network, err)
		}

		allRequirements = append(allRequirements, requirements...)
	}

	return allRequirements, nil
}

// ProcessHTTPRequest handles an HTTP request and returns processing result
func (s *t402HTTPResourceServer) ProcessHTTPRequest(ctx context.Context, reqCtx HTTPRequestContext, paywallConfig *PaywallConfig) HTTPProcessResult {
	routeConfig := s.getRouteConfig(reqCtx.Path, reqCtx.Method)
	if routeConfig == nil {
		return HTTPProcessResult{Type: ResultNoPaymentRequired}
	}

	paymentOptions := routeConfig.Accepts
	if len(paymentOptions) == 0 {
		return HTTPProcessResult{Type: ResultNoPaymentRequired}
	}

	typedPayload, err := s.extractPayment(reqCtx.Adapter)
	if err != nil {
		// A header that cannot even be decoded is a client error, not a
		// payment negotiation step.
		if IsMalformedHeaderError(err) {
			return HTTPProcessResult{
				Type: ResultPaymentError,
				Response: &HTTPResponseInstructions{
					Status:  400,
					Headers: map[string]string{"Content-Type": "application/json"},
					Body: map[string]string{
						"error":   t402.ReasonMalformedPaymentHeader,
						"message": err.Error(),
					},
				},
			}
		}
		return HTTPProcessResult{
			Type: ResultPaymentError,
			Response: &HTTPResponseInstructions{
				Status:  400,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body: map[string]string{
					"error":   t402.ReasonInvalidPaymentPayload,
					"message": err.Error(),
				},
			},
		}
	}

	requirements, err := s.BuildPaymentRequirementsFromOptions(ctx, paymentOptions, reqCtx)
	if err != nil {
		return HTTPProcessResult{
			Type: ResultPaymentError,
			Response: &HTTPResponseInstructions{
				Status:  500,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    map[string]string{"error": err.Error()},
			},
		}
	}

	resourceInfo := &types.ResourceInfo{
		URL:         reqCtx.Adapter.GetURL(),
		Description: routeConfig.Description,
		MimeType:    routeConfig.MimeType,
	}

	extensions := routeConfig.Extensions

	if typedPayload == nil {
		paymentRequired := s.CreatePaymentRequiredResponse(
			requirements,
			resourceInfo,
			"Payment required",
			extensions,
		)

		var unpaidResponse *UnpaidResponse
		if routeConfig.UnpaidResponseBody != nil {
			unpaidResp, err := routeConfig.UnpaidResponseBody(ctx, reqCtx)
			if err != nil {
				return HTTPProcessResult{
					Type: ResultPaymentError,
					Response: &HTTPResponseInstructions{
						Status:  500,
						Headers: map[string]string{"Content-Type": "application/json"},
						Body:    map[string]string{"error": fmt.Sprintf("failed to generate unpaid response: %v", err)},
					},
				}
			}
			unpaidResponse = unpaidResp
		}

		return HTTPProcessResult{
			Type: ResultPaymentError,
			Response: s.createPaymentRequiredHTTPResponse(
				paymentRequired,
				s.isWebBrowser(reqCtx.Adapter),
				paywallConfig,
				routeConfig.CustomPaywallHTML,
				unpaidResponse,
			),
		}
	}

	matchingReqs := s.FindMatchingRequirements(requirements, *typedPayload)
	if matchingReqs == nil {
		paymentRequired := s.CreatePaymentRequiredResponse(
			requirements,
			resourceInfo,
			"No matching payment requirements",
			extensions,
		)

		return HTTPProcessResult{
			Type:     ResultPaymentError,
			Response: s.createPaymentRequiredHTTPResponse(paymentRequired, false, paywallConfig, "", nil),
		}
	}

	verification, verifyErr := s.VerifyPayment(ctx, *typedPayload, *matchingReqs)
	if verifyErr != nil || !verification.IsValid {
		errorMsg := ""
		if verifyErr != nil {
			errorMsg = verifyErr.Error()
		} else {
			errorMsg = verification.InvalidReason
		}

		paymentRequired := s.CreatePaymentRequiredResponse(
			requirements,
			resourceInfo,
			errorMsg,
			extensions,
		)

		return HTTPProcessResult{
			Type:     ResultPaymentError,
			Response: s.createPaymentRequiredHTTPResponse(paymentRequired, false, paywallConfig, "", nil),
		}
	}

	return HTTPProcessResult{
		Type:                ResultPaymentVerified,
		PaymentPayload:      typedPayload,
		PaymentRequirements: matchingReqs,
	}
}

// CreateSettleFailureResponse rebuilds the 402 instructions after a failed
// settlement, carrying the route's accepts list so the client can retry
// with another payment option.
func (s *t402HTTPResourceServer) CreateSettleFailureResponse(ctx context.Context, reqCtx HTTPRequestContext, errorReason string) *HTTPResponseInstructions {
	fallback := &HTTPResponseInstructions{
		Status:  402,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    map[string]string{"error": errorReason},
	}

	routeConfig := s.getRouteConfig(reqCtx.Path, reqCtx.Method)
	if routeConfig == nil {
		return fallback
	}

	requirements, err := s.BuildPaymentRequirementsFromOptions(ctx, routeConfig.Accepts, reqCtx)
	if err != nil {
		return fallback
	}

	resourceInfo := &types.ResourceInfo{
		URL:         reqCtx.Adapter.GetURL(),
		Description: routeConfig.Description,
		MimeType:    routeConfig.MimeType,
	}

	paymentRequired := s.CreatePaymentRequiredResponse(requirements, resourceInfo, errorReason, routeConfig.Extensions)
	response := s.createPaymentRequiredHTTPResponse(paymentRequired, false, nil, "", nil)
	response.Body = paymentRequired
	return response
}

// RequiresPayment checks if a request matches a configured payment route
func (s *t402HTTPResourceServer) RequiresPayment(reqCtx HTTPRequestContext) bool {
	routeConfig := s.getRouteConfig(reqCtx.Path, reqCtx.Method)
	return routeConfig != nil
}

// ProcessSettlement handles settlement after a successful response. Repeat
// requests carrying the same signed payload are deduplicated: a cached
// settlement is replayed and concurrent attempts coalesce onto one
// broadcast. Failures are never cached, so a retry settles again.
func (s *t402HTTPResourceServer) ProcessSettlement(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) *ProcessSettleResult {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return &ProcessSettleResult{
			Success:     false,
			ErrorReason: err.Error(),
		}
	}
	key := t402.GenerateSettlementKey(payloadBytes)

	for {
		status, cached, done := s.settlementCache.CheckAndMark(key)
		switch status {
		case t402.StatusCached:
			return s.settledResult(cached)

		case t402.StatusInFlight:
			result, waitErr := s.settlementCache.WaitForResult(ctx, key, done)
			if waitErr != nil {
				return &ProcessSettleResult{
					Success:     false,
					ErrorReason: waitErr.Error(),
				}
			}
			if result != nil {
				return s.settledResult(result)
			}
			// The owning request failed without caching; take over.
			continue
		}

		settleResult, settleErr := s.SettlePayment(ctx, payload, requirements)
		if settleErr != nil {
			s.settlementCache.Fail(key, done)
			return &ProcessSettleResult{
				Success:     false,
				ErrorReason: settleErr.Error(),
			}
		}
		if !settleResult.Success {
			s.settlementCache.Fail(key, done)
			return &ProcessSettleResult{
				Success:     false,
				ErrorReason: settleResult.ErrorReason,
			}
		}

		s.settlementCache.Complete(key, settleResult, done)
		return s.settledResult(settleResult)
	}
}

func (s *t402HTTPResourceServer) settledResult(response *t402.SettleResponse) *ProcessSettleResult {
	return &ProcessSettleResult{
		Success:     true,
		Headers:     s.createSettlementHeaders(response),
		Transaction: response.Transaction,
		Network:     response.Network,
		Payer:       response.Payer,
	}
}

// ============================================================================
// Helper Methods
// ============================================================================

// getRouteConfig finds the matching route configuration
func (s *t402HTTPResourceServer) getRouteConfig(path, method string) *RouteConfig {
	normalizedPath := normalizePath(path)
	upperMethod := strings.ToUpper(method)

	for _, route := range s.compiledRoutes {
		if route.Regex.MatchString(normalizedPath) &&
			(route.Verb == "*" || route.Verb == upperMethod) {
			config := route.Config
			return &config
		}
	}

	return nil
}

// extractPayment extracts a payment payload from the request headers,
// accepting both the current and legacy header names.
func (s *t402HTTPResourceServer) extractPayment(adapter HTTPAdapter) (*types.PaymentPayload, error) {
	header := adapter.GetHeader(HeaderPaymentSignature)
	if header == "" {
		header = adapter.GetHeader(strings.ToLower(HeaderPaymentSignature))
	}
	if header == "" {
		header = adapter.GetHeader(HeaderLegacyPayment)
	}

	if header == "" {
		return nil, nil
	}

	jsonBytes, err := DecodePaymentHeader(header)
	if err != nil {
		return nil, err
	}

	version, err := types.DetectVersion(jsonBytes)
	if err != nil {
		return nil, invalidPayloadError("failed to detect version: %v", err)
	}

	if version == t402.ProtocolVersionV1 {
		payloadV1, err := types.ToPaymentPayloadV1(jsonBytes)
		if err != nil {
			return nil, invalidPayloadError("failed to unmarshal v1 payload: %v", err)
		}
		// The v1 payload only names scheme and network; the matching offer
		// supplies the rest of the accepted entry.
		converted := types.PayloadV1ToV2(*payloadV1, types.PaymentRequirements{
			Scheme:  payloadV1.Scheme,
			Network: payloadV1.Network,
		})
		return &converted, nil
	}

	payload, err := ValidateAndDecodePaymentHeader(header)
	if err != nil {
		return nil, err
	}

	return payload, nil
}

// isWebBrowser checks if the request comes from a web browser
func (s *t402HTTPResourceServer) isWebBrowser(adapter HTTPAdapter) bool {
	accept := adapter.GetAcceptHeader()
	userAgent := adapter.GetUserAgent()
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}

// createPaymentRequiredHTTPResponse builds the 402 response instructions
func (s *t402HTTPResourceServer) createPaymentRequiredHTTPResponse(paymentRequired types.PaymentRequired, isWebBrowser bool, paywallConfig *PaywallConfig, customHTML string, unpaidResponse *UnpaidResponse) *HTTPResponseInstructions {
	if isWebBrowser {
		paywallHTML := s.generatePaywallHTML(paymentRequired, paywallConfig, customHTML)
		return &HTTPResponseInstructions{
			Status: 402,
			Headers: map[string]string{
				"Content-Type": "text/html",
			},
			Body:   paywallHTML,
			IsHTML: true,
		}
	}

	contentType := "application/json"
	var body interface{}

	if unpaidResponse != nil {
		contentType = unpaidResponse.ContentType
		body = unpaidResponse.Body
	}

	return &HTTPResponseInstructions{
		Status: 402,
		Headers: map[string]string{
			"Content-Type":        contentType,
			HeaderPaymentRequired: EncodePaymentRequiredHeader(paymentRequired),
		},
		Body: body,
	}
}

// createSettlementHeaders creates settlement response headers
func (s *t402HTTPResourceServer) createSettlementHeaders(response *t402.SettleResponse) map[string]string {
	return map[string]string{
		HeaderPaymentResponse: EncodePaymentResponseHeader(*response),
	}
}

// generatePaywallHTML generates the HTML paywall for browsers
func (s *t402HTTPResourceServer) generatePaywallHTML(paymentRequired types.PaymentRequired, config *PaywallConfig, customHTML string) string {
	if customHTML != "" {
		return customHTML
	}

	displayAmount := s.getDisplayAmount(paymentRequired)

	resourceDesc := ""
	if paymentRequired.Resource != nil {
		if paymentRequired.Resource.Description != "" {
			resourceDesc = paymentRequired.Resource.Description
		} else if paymentRequired.Resource.URL != "" {
			resourceDesc = paymentRequired.Resource.URL
		}
	}

	appLogo := ""
	appName := ""
	testnet := false

	if config != nil {
		if config.AppLogo != "" {
			appLogo = fmt.Sprintf(`<img src="%s" alt="%s" style="max-width: 200px; margin-bottom: 20px;">`,
				html.EscapeString(config.AppLogo),
				html.EscapeString(config.AppName))
		}
		appName = config.AppName
		testnet = config.Testnet
	}

	requirementsJSON, _ := json.Marshal(paymentRequired)

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<title>Payment Required</title>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<style>
		body {
			font-family: system-ui, -apple-system, sans-serif;
			margin: 0;
			padding: 0;
			background: #f5f5f5;
		}
		.container {
			max-width: 600px;
			margin: 50px auto;
			padding: 20px;
			background: white;
			border-radius: 8px;
			box-shadow: 0 2px 4px rgba(0,0,0,0.1);
		}
		.logo { margin-bottom: 20px; }
		h1 { color: #333; }
		.info { margin: 20px 0; }
		.info p { margin: 10px 0; }
		.amount {
			font-size: 24px;
			font-weight: bold;
			color: #0066cc;
			margin: 20px 0;
		}
		#payment-widget {
			margin-top: 30px;
			padding: 20px;
			border: 1px dashed #ccc;
			border-radius: 4px;
			background: #fafafa;
			text-align: center;
			color: #666;
		}
	</style>
</head>
<body>
	<div class="container">
		%s
		<h1>Payment Required</h1>
		<div class="info">
			<p><strong>Resource:</strong> %s</p>
			<p class="amount">Amount: $%.2f USDC</p>
		</div>
		<div id="payment-widget"
			data-requirements='%s'
			data-app-name="%s"
			data-testnet="%t">
			<p>Loading payment widget...</p>
		</div>
	</div>
</body>
</html>`,
		appLogo,
		html.EscapeString(resourceDesc),
		displayAmount,
		html.EscapeString(string(requirementsJSON)),
		html.EscapeString(appName),
		testnet,
	)
}

// getDisplayAmount extracts a display amount from payment requirements
func (s *t402HTTPResourceServer) getDisplayAmount(paymentRequired types.PaymentRequired) float64 {
	if len(paymentRequired.Accepts) > 0 {
		firstReq := paymentRequired.Accepts[0]
		if firstReq.Amount != "" {
			amount, err := strconv.ParseFloat(firstReq.Amount, 64)
			if err == nil {
				// Display assumes a six-decimal stablecoin
				return amount / 1000000
			}
		}
	}
	return 0.0
}

// ============================================================================
// Utility Functions
// ============================================================================

// parseRoutePattern parses a route pattern like "GET /api/*"
func parseRoutePattern(pattern string) (string, *regexp.Regexp) {
	parts := strings.Fields(pattern)

	var verb, path string
	if len(parts) == 2 {
		verb = strings.ToUpper(parts[0])
		path = parts[1]
	} else {
		verb = "*"
		path = pattern
	}

	regexPattern := "^" + regexp.QuoteMeta(path)
	regexPattern = strings.ReplaceAll(regexPattern, `\*`, `.*?`)
	// Parameters like [id] match one path segment
	paramRegex := regexp.MustCompile(`\\\[([^\]]+)\\\]`)
	regexPattern = paramRegex.ReplaceAllString(regexPattern, `[^/]+`)
	regexPattern += "$"

	regex := regexp.MustCompile(regexPattern)

	return verb, regex
}

// normalizePath normalizes a URL path for matching
func normalizePath(path string) string {
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}

	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	path = strings.ReplaceAll(path, `\`, `/`)
	multiSlash := regexp.MustCompile(`/+`)
	path = multiSlash.ReplaceAllString(path, `/`)
	path = strings.TrimSuffix(path, `/`)

	if path == "" {
		path = "/"
	}

	return path
}
