package gin

import (
	"time"

	"github.com/gin-gonic/gin"

	t402 "github.com/t402-io/t402"
	t402http "github.com/t402-io/t402/http"
)

// Config provides struct-based configuration for t402 payment middleware,
// a cleaner alternative to the variadic options pattern.
type Config struct {
	// Routes maps HTTP patterns to payment requirements
	Routes t402http.RoutesConfig

	// Facilitator is a single facilitator client (most common case).
	// Use this OR Facilitators, not both.
	Facilitator t402.FacilitatorClient

	// Facilitators is a list of facilitator clients for fallback
	Facilitators []t402.FacilitatorClient

	// Schemes to register with the server
	Schemes []SchemeConfig

	// PaywallConfig for browser-based payment UI (optional)
	PaywallConfig *t402http.PaywallConfig

	// SyncFacilitatorOnStart fetches supported kinds from facilitators on
	// startup. Default: true when facilitators are configured.
	SyncFacilitatorOnStart bool

	// Timeout for payment operations, default 30 seconds
	Timeout time.Duration

	// ErrorHandler for custom error handling (optional)
	ErrorHandler func(*gin.Context, error)

	// SettlementHandler called after successful settlement (optional)
	SettlementHandler func(*gin.Context, *t402.SettleResponse)
}

// SchemeConfig configures a payment scheme for a network
type SchemeConfig struct {
	Network t402.Network
	Server  t402.SchemeNetworkServer
}

// T402Payment creates payment middleware using struct-based configuration.
//
// Example:
//
//	r.Use(ginmw.T402Payment(ginmw.Config{
//	    Routes: routes,
//	    Facilitator: facilitatorClient,
//	    Schemes: []ginmw.SchemeConfig{
//	        {Network: "eip155:*", Server: evm.NewExactEvmServerScheme()},
//	    },
//	    Timeout: 30 * time.Second,
//	}))
func T402Payment(config Config) gin.HandlerFunc {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	var facilitators []t402.FacilitatorClient
	if config.Facilitator != nil {
		facilitators = append(facilitators, config.Facilitator)
	}
	facilitators = append(facilitators, config.Facilitators...)

	syncOnStart := config.SyncFacilitatorOnStart || len(facilitators) > 0

	opts := []MiddlewareOption{
		WithSyncFacilitatorOnStart(syncOnStart),
		WithTimeout(config.Timeout),
	}

	for _, facilitator := range facilitators {
		opts = append(opts, WithFacilitatorClient(facilitator))
	}

	for _, scheme := range config.Schemes {
		opts = append(opts, WithScheme(scheme.Network, scheme.Server))
	}

	if config.PaywallConfig != nil {
		opts = append(opts, WithPaywallConfig(config.PaywallConfig))
	}
	if config.ErrorHandler != nil {
		opts = append(opts, WithErrorHandler(config.ErrorHandler))
	}
	if config.SettlementHandler != nil {
		opts = append(opts, WithSettlementHandler(config.SettlementHandler))
	}

	return PaymentMiddlewareFromConfig(config.Routes, opts...)
}

// SimpleT402Payment creates middleware with minimal configuration: one
// price, one recipient, every route protected.
func SimpleT402Payment(payTo string, price string, network t402.Network, facilitatorURL string) gin.HandlerFunc {
	facilitator := t402http.NewHTTPFacilitatorClient(&t402http.FacilitatorConfig{
		URL: facilitatorURL,
	})

	routes := t402http.RoutesConfig{
		"*": {
			Accepts: []t402http.PaymentOption{
				{
					Scheme:  "exact",
					PayTo:   payTo,
					Price:   t402.Price(price),
					Network: network,
				},
			},
		},
	}

	return T402Payment(Config{
		Routes:                 routes,
		Facilitator:            facilitator,
		SyncFacilitatorOnStart: true,
	})
}
