// The facilitator service exposes payment verification and settlement over
// HTTP for EVM, Solana, and TON networks.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/extensions/idempotency"
	evmfac "github.com/t402-io/t402/mechanisms/evm/exact/facilitator"
	svmmech "github.com/t402-io/t402/mechanisms/svm"
	svmfac "github.com/t402-io/t402/mechanisms/svm/exact/facilitator"
	tonmech "github.com/t402-io/t402/mechanisms/ton"
	tonfac "github.com/t402-io/t402/mechanisms/ton/exact/facilitator"
	"github.com/t402-io/t402/services/facilitator/internal/cache"
	"github.com/t402-io/t402/services/facilitator/internal/config"
	"github.com/t402-io/t402/services/facilitator/internal/server"
	evmsigner "github.com/t402-io/t402/signers/evm"
	svmsigner "github.com/t402-io/t402/signers/svm"
	tonsigner "github.com/t402-io/t402/signers/ton"
)

func main() {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Msg("starting t402 facilitator service")

	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using in-memory rate limiting and deduplication")
		redisClient = nil
	} else {
		logger.Info().Str("url", cfg.RedisURL).Msg("redis connected")
	}

	facilitator, err := setupFacilitator(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up facilitator")
	}

	idempotent := wrapWithDeduplication(facilitator, redisClient, cfg)

	srv := server.New(idempotent, redisClient, cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func newLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "facilitator").Logger()
}

// setupFacilitator builds the core engine and registers a scheme per
// configured network family. At least one family must be configured.
func setupFacilitator(cfg *config.Config, logger zerolog.Logger) (*t402.T402Facilitator, error) {
	facilitator := t402.Newt402Facilitator()

	var configured []string

	if cfg.EvmPrivateKey != "" {
		networks, err := registerEvm(facilitator, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("evm setup: %w", err)
		}
		configured = append(configured, networks...)
	} else {
		logger.Warn().Msg("EVM_PRIVATE_KEY not set, EVM networks disabled")
	}

	if cfg.SvmPrivateKey != "" {
		networks, err := registerSvm(facilitator, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("svm setup: %w", err)
		}
		configured = append(configured, networks...)
	} else {
		logger.Warn().Msg("SVM_PRIVATE_KEY not set, Solana networks disabled")
	}

	if cfg.TonEnabled {
		configured = append(configured, registerTon(facilitator, cfg, logger)...)
	} else {
		logger.Warn().Msg("TON_ENABLED=false, TON networks disabled")
	}

	if len(configured) == 0 {
		return nil, fmt.Errorf("no networks configured, at least one signer is required")
	}

	logger.Info().Strs("networks", configured).Msg("networks configured")

	facilitator.OnAfterVerify(func(ctx t402.FacilitatorVerifyResultContext) error {
		logger.Info().
			Str("payer", ctx.Result.Payer).
			Bool("valid", ctx.Result.IsValid).
			Str("reason", ctx.Result.InvalidReason).
			Msg("payment verified")
		return nil
	})

	facilitator.OnAfterSettle(func(ctx t402.FacilitatorSettleResultContext) error {
		logger.Info().
			Str("transaction", ctx.Result.Transaction).
			Str("payer", ctx.Result.Payer).
			Str("network", string(ctx.Result.Network)).
			Bool("success", ctx.Result.Success).
			Msg("payment settled")
		return nil
	})

	facilitator.OnVerifyFailure(func(ctx t402.FacilitatorVerifyFailureContext) (*t402.FacilitatorVerifyFailureHookResult, error) {
		logger.Warn().Err(ctx.Error).Msg("verify failed")
		return nil, nil
	})

	facilitator.OnSettleFailure(func(ctx t402.FacilitatorSettleFailureContext) (*t402.FacilitatorSettleFailureHookResult, error) {
		logger.Error().Err(ctx.Error).Msg("settle failed")
		return nil, nil
	})

	return facilitator, nil
}

func registerEvm(facilitator *t402.T402Facilitator, cfg *config.Config, logger zerolog.Logger) ([]string, error) {
	type networkInfo struct {
		network t402.Network
		rpc     string
		name    string
	}

	candidates := []networkInfo{
		{t402.Network("eip155:1"), cfg.EthRPC, "ethereum"},
		{t402.Network("eip155:42161"), cfg.ArbitrumRPC, "arbitrum"},
		{t402.Network("eip155:8453"), cfg.BaseRPC, "base"},
		{t402.Network("eip155:10"), cfg.OptimismRPC, "optimism"},
	}

	defaultRPC := cfg.BaseRPC
	if defaultRPC == "" {
		defaultRPC = cfg.EthRPC
	}
	if defaultRPC == "" {
		return nil, fmt.Errorf("no RPC endpoint configured")
	}

	signer, err := evmsigner.NewFacilitatorSigner(context.Background(), cfg.EvmPrivateKey, defaultRPC)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	var networks []t402.Network
	var names []string
	for _, n := range candidates {
		if n.rpc != "" {
			networks = append(networks, n.network)
			names = append(names, n.name)
		}
	}

	facilitator.Register(networks, evmfac.NewExactEvmScheme(signer, &evmfac.ExactEvmSchemeConfig{
		DeployERC4337WithEIP6492: true,
	}))
	logger.Info().Str("address", signer.GetAddresses()[0]).Msg("evm facilitator signer ready")

	return names, nil
}

func registerSvm(facilitator *t402.T402Facilitator, cfg *config.Config, logger zerolog.Logger) ([]string, error) {
	signer, err := svmsigner.NewFacilitatorSigner(cfg.SvmPrivateKey, cfg.SolanaRPC)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	networks := []t402.Network{t402.Network(svmmech.SolanaMainnetCAIP2)}
	names := []string{"solana"}
	if cfg.SolanaDevRPC != "" {
		networks = append(networks, t402.Network(svmmech.SolanaDevnetCAIP2))
		names = append(names, "solana-devnet")
	}

	facilitator.Register(networks, svmfac.NewExactSvmScheme(signer))

	addrs := signer.GetAddresses(context.Background(), svmmech.SolanaMainnetCAIP2)
	if len(addrs) > 0 {
		logger.Info().Str("address", addrs[0].String()).Msg("svm facilitator signer ready")
	}

	return names, nil
}

// registerTon wires the TON scheme. TON settlement broadcasts user-signed
// messages, so no facilitator key is required.
func registerTon(facilitator *t402.T402Facilitator, cfg *config.Config, logger zerolog.Logger) []string {
	signer := tonsigner.NewFacilitatorSigner(&tonsigner.FacilitatorConfig{
		MainnetConfigURL: cfg.TonConfigURL,
		TestnetConfigURL: cfg.TonTestnetConfigURL,
	})

	networks := []t402.Network{
		t402.Network(tonmech.TonMainnetCAIP2),
		t402.Network(tonmech.TonTestnetCAIP2),
	}

	facilitator.Register(networks, tonfac.NewExactTonScheme(signer))
	logger.Info().Msg("ton facilitator ready")

	return []string{"ton", "ton-testnet"}
}

// wrapWithDeduplication adds settlement idempotency. With Redis the
// deduplication window is shared across instances; without it each
// instance deduplicates locally.
func wrapWithDeduplication(facilitator *t402.T402Facilitator, redisClient *cache.Client, cfg *config.Config) *idempotency.IdempotentFacilitator {
	var store idempotency.SettlementStore
	if redisClient != nil {
		store = idempotency.NewRedisStore(redisClient.Redis(), cfg.SettlementCacheTTL)
	} else {
		store = idempotency.NewInMemoryStore(cfg.SettlementCacheTTL)
	}

	return idempotency.Wrap(facilitator, idempotency.WithStore(store))
}
