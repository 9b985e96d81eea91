package evm

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// IsValidNetwork reports whether the network identifier maps to a known
// EVM chain. Both CAIP-2 identifiers ("eip155:8453") and legacy v1
// nicknames ("base") are accepted.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}

// IsValidAddress reports whether s looks like a 20-byte hex address.
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// NormalizeAddress returns the EIP-55 checksummed form of an address.
func NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// GetNetworkConfig returns the configuration for a network identifier.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return &config, nil
}

// GetEvmChainId returns the chain ID for a network identifier.
func GetEvmChainId(network string) (*big.Int, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	return config.ChainID, nil
}

// GetAssetInfo resolves an asset by symbol or contract address on a network.
// An empty asset resolves to the network's default asset.
func GetAssetInfo(network string, assetSymbolOrAddress string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if assetSymbolOrAddress == "" {
		asset := config.DefaultAsset
		return &asset, nil
	}

	// Symbol lookup first
	if asset, ok := config.SupportedAssets[strings.ToUpper(assetSymbolOrAddress)]; ok {
		return &asset, nil
	}

	// Address lookup against known assets
	for _, asset := range config.SupportedAssets {
		if strings.EqualFold(asset.Address, assetSymbolOrAddress) {
			found := asset
			return &found, nil
		}
	}
	if strings.EqualFold(config.DefaultAsset.Address, assetSymbolOrAddress) {
		asset := config.DefaultAsset
		return &asset, nil
	}

	// Unknown but well-formed address: treat as a generic token with
	// default decimals so Permit2 flows can still price it.
	if IsValidAddress(assetSymbolOrAddress) {
		return &AssetInfo{
			Address:  NormalizeAddress(assetSymbolOrAddress),
			Name:     "",
			Version:  "",
			Decimals: DefaultDecimals,
		}, nil
	}

	return nil, fmt.Errorf("unknown asset %q on network %s", assetSymbolOrAddress, network)
}

// ParseAmount converts a decimal amount string ("1.50") into the token's
// smallest unit as a big integer, using exact decimal arithmetic.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative: %s", amount)
	}

	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}

	return shifted.BigInt(), nil
}

// FormatAmount converts a smallest-unit amount into a decimal string.
func FormatAmount(amount *big.Int, decimals int) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// CreateNonce generates a random 32-byte nonce as a 0x-prefixed hex string,
// for EIP-3009 authorizations.
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return BytesToHex(nonce), nil
}

// CreatePermit2Nonce generates a random uint256 nonce as a decimal string,
// for Permit2 unordered nonces.
func CreatePermit2Nonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return new(big.Int).SetBytes(nonce).String(), nil
}

// CreateValidityWindow returns (validAfter, validBefore) for an authorization
// valid from now until now+duration. validAfter is backdated slightly to
// tolerate clock skew between client and chain.
func CreateValidityWindow(duration time.Duration) (*big.Int, *big.Int) {
	now := time.Now().Unix()
	validAfter := big.NewInt(now - 60)
	validBefore := big.NewInt(now + int64(duration.Seconds()))
	return validAfter, validBefore
}

// HexToBytes decodes a 0x-prefixed (or bare) hex string.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	b := common.FromHex("0x" + s)
	if len(b) != len(s)/2 {
		return nil, fmt.Errorf("invalid hex string")
	}
	return b, nil
}

// BytesToHex encodes bytes as a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + common.Bytes2Hex(b)
}

// MaxUint256 returns 2^256 - 1, used for unlimited ERC-20 approvals.
func MaxUint256() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}
