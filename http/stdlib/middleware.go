// Package stdlib provides t402 payment middleware for net/http servers.
package stdlib

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	t402 "github.com/t402-io/t402"
	t402http "github.com/t402-io/t402/http"
)

// ============================================================================
// net/http Adapter Implementation
// ============================================================================

// StdlibAdapter implements HTTPAdapter for net/http
type StdlibAdapter struct {
	req *http.Request
}

// NewStdlibAdapter creates a new net/http adapter
func NewStdlibAdapter(req *http.Request) *StdlibAdapter {
	return &StdlibAdapter{req: req}
}

// GetHeader gets a request header
func (a *StdlibAdapter) GetHeader(name string) string {
	return a.req.Header.Get(name)
}

// GetMethod gets the HTTP method
func (a *StdlibAdapter) GetMethod() string {
	return a.req.Method
}

// GetPath gets the request path
func (a *StdlibAdapter) GetPath() string {
	return a.req.URL.Path
}

// GetURL gets the full request URL
func (a *StdlibAdapter) GetURL() string {
	scheme := "http"
	if a.req.TLS != nil {
		scheme = "https"
	}
	host := a.req.Host
	if host == "" {
		host = a.GetHeader("Host")
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, a.req.URL.Path)
}

// GetAcceptHeader gets the Accept header
func (a *StdlibAdapter) GetAcceptHeader() string {
	return a.GetHeader("Accept")
}

// GetUserAgent gets the User-Agent header
func (a *StdlibAdapter) GetUserAgent() string {
	return a.GetHeader("User-Agent")
}

// ============================================================================
// Middleware Configuration
// ============================================================================

// MiddlewareConfig configures the payment middleware
type MiddlewareConfig struct {
	FacilitatorClients     []t402.FacilitatorClient
	Schemes                []SchemeRegistration
	PaywallConfig          *t402http.PaywallConfig
	SyncFacilitatorOnStart bool
	Timeout                time.Duration
}

// SchemeRegistration registers a scheme with the server
type SchemeRegistration struct {
	Network t402.Network
	Server  t402.SchemeNetworkServer
}

// MiddlewareOption configures the middleware
type MiddlewareOption func(*MiddlewareConfig)

// WithFacilitatorClient adds a facilitator client
func WithFacilitatorClient(client t402.FacilitatorClient) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.FacilitatorClients = append(c.FacilitatorClients, client)
	}
}

// WithScheme registers a scheme server
func WithScheme(network t402.Network, schemeServer t402.SchemeNetworkServer) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.Schemes = append(c.Schemes, SchemeRegistration{
			Network: network,
			Server:  schemeServer,
		})
	}
}

// WithPaywallConfig sets the paywall configuration
func WithPaywallConfig(config *t402http.PaywallConfig) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.PaywallConfig = config
	}
}

// WithSyncFacilitatorOnStart sets whether to sync with the facilitator on startup
func WithSyncFacilitatorOnStart(sync bool) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.SyncFacilitatorOnStart = sync
	}
}

// WithTimeout sets the context timeout for payment operations
func WithTimeout(timeout time.Duration) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.Timeout = timeout
	}
}

// ============================================================================
// Payment Middleware
// ============================================================================

// PaymentMiddleware creates net/http middleware for t402 payment handling
func PaymentMiddleware(routes t402http.RoutesConfig, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	config := &MiddlewareConfig{
		SyncFacilitatorOnStart: true,
		Timeout:                30 * time.Second,
	}

	for _, opt := range opts {
		opt(config)
	}

	serverOpts := []t402.ResourceServerOption{}
	for _, client := range config.FacilitatorClients {
		serverOpts = append(serverOpts, t402.WithFacilitatorClient(client))
	}

	httpServer := t402http.Newt402HTTPResourceServer(routes, serverOpts...)

	for _, scheme := range config.Schemes {
		httpServer.Register(scheme.Network, scheme.Server)
	}

	if config.SyncFacilitatorOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		if err := httpServer.Initialize(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to initialize t402 server")
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adapter := NewStdlibAdapter(r)
			reqCtx := t402http.HTTPRequestContext{
				Adapter: adapter,
				Path:    r.URL.Path,
				Method:  r.Method,
			}

			if !httpServer.RequiresPayment(reqCtx) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), config.Timeout)
			defer cancel()

			result := httpServer.ProcessHTTPRequest(ctx, reqCtx, config.PaywallConfig)

			switch result.Type {
			case t402http.ResultNoPaymentRequired:
				next.ServeHTTP(w, r)

			case t402http.ResultPaymentError:
				writeResponse(w, result.Response)

			case t402http.ResultPaymentVerified:
				capture := &responseCapture{
					ResponseWriter: w,
					body:           &bytes.Buffer{},
					statusCode:     http.StatusOK,
				}

				next.ServeHTTP(capture, r)

				// Handler failure releases the payment
				if capture.statusCode >= 400 {
					w.WriteHeader(capture.statusCode)
					_, _ = w.Write(capture.body.Bytes())
					return
				}

				settleResult := httpServer.ProcessSettlement(ctx, *result.PaymentPayload, *result.PaymentRequirements)
				if !settleResult.Success {
					// A failed settlement degrades back to the negotiation
					// step: the 402 carries the route's accepts so the
					// client can retry with another payment option.
					writeResponse(w, httpServer.CreateSettleFailureResponse(ctx, reqCtx, settleResult.ErrorReason))
					return
				}

				for key, value := range settleResult.Headers {
					w.Header().Set(key, value)
				}
				w.WriteHeader(capture.statusCode)
				_, _ = w.Write(capture.body.Bytes())
			}
		})
	}
}

// writeResponse writes HTTPResponseInstructions to a ResponseWriter
func writeResponse(w http.ResponseWriter, response *t402http.HTTPResponseInstructions) {
	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}

	if response.IsHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(response.Status)
		if body, ok := response.Body.(string); ok {
			_, _ = w.Write([]byte(body))
		}
		return
	}

	w.WriteHeader(response.Status)
	if response.Body != nil {
		data, err := json.Marshal(response.Body)
		if err == nil {
			_, _ = w.Write(data)
		}
	}
}

// responseCapture buffers the response so settlement can run before the
// body reaches the client.
type responseCapture struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	written    bool
}

// WriteHeader captures the status code
func (w *responseCapture) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

// Write captures the response body
func (w *responseCapture) Write(data []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(data)
}
