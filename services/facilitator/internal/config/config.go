// Package config loads facilitator service configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the facilitator service.
type Config struct {
	// Server
	Port        int    `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
	Environment string `env:"ENVIRONMENT" envDefault:"development" validate:"oneof=development staging production"`

	// Redis
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	// Rate limiting
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"1000" validate:"min=1"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`

	// Settlement deduplication
	SettlementCacheTTL time.Duration `env:"SETTLEMENT_CACHE_TTL" envDefault:"10m"`

	// EVM
	EvmPrivateKey string `env:"EVM_PRIVATE_KEY"`
	EthRPC        string `env:"ETH_RPC" envDefault:"https://eth.llamarpc.com"`
	ArbitrumRPC   string `env:"ARBITRUM_RPC" envDefault:"https://arb1.arbitrum.io/rpc"`
	BaseRPC       string `env:"BASE_RPC" envDefault:"https://mainnet.base.org"`
	OptimismRPC   string `env:"OPTIMISM_RPC" envDefault:"https://mainnet.optimism.io"`

	// Solana
	SvmPrivateKey string `env:"SVM_PRIVATE_KEY"`
	SolanaRPC     string `env:"SOLANA_RPC" envDefault:"https://api.mainnet-beta.solana.com"`
	SolanaDevRPC  string `env:"SOLANA_DEVNET_RPC"`

	// TON. The facilitator broadcasts user-signed messages, so only the
	// lite client config URLs are needed.
	TonEnabled          bool   `env:"TON_ENABLED" envDefault:"true"`
	TonConfigURL        string `env:"TON_CONFIG_URL"`
	TonTestnetConfigURL string `env:"TON_TESTNET_CONFIG_URL"`
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
