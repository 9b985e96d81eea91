package ton

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// IsValidNetwork checks if a network identifier is supported (CAIP-2 or V1 nickname)
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}

// GetNetworkConfig returns the configuration for a network
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return config, nil
}

// GetAssetInfo returns asset information for a Jetton master address or
// symbol. An empty asset resolves to the network's default asset.
func GetAssetInfo(network string, asset string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if asset == "" {
		info := config.DefaultAsset
		return &info, nil
	}

	if info, ok := config.SupportedAssets[strings.ToUpper(asset)]; ok {
		return &info, nil
	}

	for _, info := range config.SupportedAssets {
		if AddressesEqual(info.MasterAddress, asset) {
			result := info
			return &result, nil
		}
	}

	// Unknown Jetton master: accept it if the address parses, with the
	// default decimals.
	if _, err := parseAddress(asset); err == nil {
		return &AssetInfo{
			MasterAddress: asset,
			Decimals:      config.DefaultAsset.Decimals,
		}, nil
	}

	return nil, fmt.Errorf("unknown asset %s on network %s", asset, network)
}

// ParseAmount converts a decimal amount string to the Jetton's smallest unit.
// "1.50" with 6 decimals yields 1500000.
func ParseAmount(amount string, decimals int) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative: %s", amount)
	}

	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	if !shifted.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows uint64", amount)
	}

	return shifted.BigInt().Uint64(), nil
}

// FormatAmount converts a smallest-unit amount to a decimal string
func FormatAmount(amount uint64, decimals int) string {
	return decimal.New(int64(amount), -int32(decimals)).String()
}

// ValidateBoc checks that a string is a well-formed base64-encoded BOC
func ValidateBoc(signedBoc string) error {
	if signedBoc == "" {
		return fmt.Errorf("empty BOC")
	}

	data, err := base64.StdEncoding.DecodeString(signedBoc)
	if err != nil {
		return fmt.Errorf("invalid base64: %w", err)
	}

	if _, err := cell.FromBOC(data); err != nil {
		return fmt.Errorf("invalid BOC: %w", err)
	}

	return nil
}

// AddressesEqual compares two TON addresses, tolerating different encodings
// (raw, bounceable, non-bounceable) of the same account.
func AddressesEqual(a, b string) bool {
	addrA, errA := parseAddress(a)
	addrB, errB := parseAddress(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return addrA.Workchain() == addrB.Workchain() && bytes.Equal(addrA.Data(), addrB.Data())
}

func parseAddress(s string) (*address.Address, error) {
	if strings.Contains(s, ":") {
		return address.ParseRawAddr(s)
	}
	return address.ParseAddr(s)
}
