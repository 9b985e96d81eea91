// Package svm provides SVM (Solana Virtual Machine) support for the t402
// payment protocol. It implements the exact payment scheme using SPL Token
// TransferChecked instructions, with the facilitator acting as fee payer.
// Swig smart wallet transactions are supported via the swig helpers.
package svm

import (
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// SchemeExact is the exact payment scheme identifier
const SchemeExact = "exact"

// CAIP-2 network identifiers (genesis hash prefix)
const (
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnetCAIP2 = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
)

// V1 network nicknames
const (
	SolanaMainnetV1 = "solana"
	SolanaDevnetV1  = "solana-devnet"
	SolanaTestnetV1 = "solana-testnet"
)

// Compute budget defaults. A payment transaction is three instructions
// (SetComputeUnitLimit + SetComputeUnitPrice + TransferChecked), so the
// limit is small.
const (
	DefaultComputeUnitLimit              uint32 = 6500
	DefaultComputeUnitPriceMicrolamports uint64 = 10000

	// MaxComputeUnitPriceMicrolamports caps the priority fee a client may
	// set, since the facilitator pays it (5 lamports per compute unit).
	MaxComputeUnitPriceMicrolamports uint64 = 5000000
)

// Program addresses recognized beyond the token programs
const (
	MemoProgramAddress         = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	LighthouseProgramAddress   = "L2TExMFKdjpN9kozasaurPirfHy9P8sbXoAN1qA3S95"
	SwigProgramAddress         = "swigypWHEksbC64pWKwah1WTeh9JXwx8H1rJHLdbQMB"
	Secp256r1PrecompileAddress = "Secp256r11111111111111111111111111111111111"
)

// SwigSignV2Discriminator is the U16 LE discriminator of the Swig program's
// signV2 instruction.
const SwigSignV2Discriminator uint16 = 15

// Transaction shape bounds. The base shape is 3 instructions; up to 3
// optional Lighthouse assertion or Memo instructions may follow.
const (
	MinTransactionInstructions = 3
	MaxTransactionInstructions = 6
)

// DefaultCommitment is the commitment level used for simulation and
// confirmation.
const DefaultCommitment = rpc.CommitmentConfirmed

// Confirmation polling bounds
const (
	MaxConfirmAttempts = 30
	ConfirmRetryDelay  = 2 * time.Second
)

// NetworkConfigs maps network identifiers (CAIP-2 and V1 nicknames) to
// their configuration. USDC is the default asset on every network.
var NetworkConfigs = map[string]*NetworkConfig{
	SolanaMainnetCAIP2: solanaMainnetConfig,
	SolanaMainnetV1:    solanaMainnetConfig,
	SolanaDevnetCAIP2:  solanaDevnetConfig,
	SolanaDevnetV1:     solanaDevnetConfig,
	SolanaTestnetCAIP2: solanaTestnetConfig,
	SolanaTestnetV1:    solanaTestnetConfig,
}

var solanaMainnetConfig = &NetworkConfig{
	CAIP2:  SolanaMainnetCAIP2,
	RPCURL: "https://api.mainnet-beta.solana.com",
	DefaultAsset: AssetInfo{
		Address:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Symbol:   "USDC",
		Decimals: 6,
	},
	SupportedAssets: map[string]AssetInfo{
		"USDC": {
			Address:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Symbol:   "USDC",
			Decimals: 6,
		},
	},
}

var solanaDevnetConfig = &NetworkConfig{
	CAIP2:  SolanaDevnetCAIP2,
	RPCURL: "https://api.devnet.solana.com",
	DefaultAsset: AssetInfo{
		Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Symbol:   "USDC",
		Decimals: 6,
	},
	SupportedAssets: map[string]AssetInfo{
		"USDC": {
			Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			Symbol:   "USDC",
			Decimals: 6,
		},
	},
}

var solanaTestnetConfig = &NetworkConfig{
	CAIP2:  SolanaTestnetCAIP2,
	RPCURL: "https://api.testnet.solana.com",
	DefaultAsset: AssetInfo{
		Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Symbol:   "USDC",
		Decimals: 6,
	},
	SupportedAssets: map[string]AssetInfo{
		"USDC": {
			Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			Symbol:   "USDC",
			Decimals: 6,
		},
	},
}
