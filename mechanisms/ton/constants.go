// Package ton provides TON blockchain support for the t402 payment protocol.
// It implements the exact payment scheme using Jetton transfers carried in
// pre-signed external messages (BOC), with the facilitator broadcasting the
// message and monitoring the wallet seqno for confirmation.
package ton

// SchemeExact is the exact payment scheme identifier
const SchemeExact = "exact"

// CAIP-2 network identifiers (TON global workchain ids)
const (
	TonMainnetCAIP2 = "ton:-239"
	TonTestnetCAIP2 = "ton:-3"
)

// V1 network nicknames
const (
	TonMainnetV1 = "ton"
	TonTestnetV1 = "ton-testnet"
)

// DefaultValidityDuration is the payment validity window in seconds when the
// requirements carry no timeout.
const DefaultValidityDuration = 600

// MinValidityBuffer is the minimum remaining validity in seconds at verify
// time, covering broadcast and inclusion latency.
const MinValidityBuffer = 30

// DefaultJettonTransferTon is the TON attached to a Jetton transfer to cover
// forwarding gas, in nanotons (0.05 TON).
const DefaultJettonTransferTon = 50000000

// NetworkConfigs maps network identifiers (CAIP-2 and V1 nicknames) to
// their configuration. USDT is the default Jetton on every network.
var NetworkConfigs = map[string]*NetworkConfig{
	TonMainnetCAIP2: tonMainnetConfig,
	TonMainnetV1:    tonMainnetConfig,
	TonTestnetCAIP2: tonTestnetConfig,
	TonTestnetV1:    tonTestnetConfig,
}

var tonMainnetConfig = &NetworkConfig{
	CAIP2: TonMainnetCAIP2,
	DefaultAsset: AssetInfo{
		MasterAddress: "EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs",
		Symbol:        "USDT",
		Name:          "Tether USD",
		Decimals:      6,
	},
	SupportedAssets: map[string]AssetInfo{
		"USDT": {
			MasterAddress: "EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs",
			Symbol:        "USDT",
			Name:          "Tether USD",
			Decimals:      6,
		},
	},
}

var tonTestnetConfig = &NetworkConfig{
	CAIP2: TonTestnetCAIP2,
	DefaultAsset: AssetInfo{
		MasterAddress: "kQD0GKBM8ZbryVk2aESmzfU6b9b_8era_IkvBSELujFZPsyy",
		Symbol:        "USDT",
		Name:          "Tether USD",
		Decimals:      6,
	},
	SupportedAssets: map[string]AssetInfo{
		"USDT": {
			MasterAddress: "kQD0GKBM8ZbryVk2aESmzfU6b9b_8era_IkvBSELujFZPsyy",
			Symbol:        "USDT",
			Name:          "Tether USD",
			Decimals:      6,
		},
	},
}
