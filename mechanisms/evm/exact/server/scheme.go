// Package server implements the resource-server side of the exact payment
// scheme for EVM networks: price parsing and payment requirement
// enhancement for EIP-3009 and Permit2 transfers.
package server

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/mechanisms/evm"
	"github.com/t402-io/t402/types"
)

// ExactEvmScheme implements the SchemeNetworkServer interface for EVM exact payments (V2)
type ExactEvmScheme struct {
	moneyParsers []t402.MoneyParser
}

// NewExactEvmScheme creates a new ExactEvmScheme
func NewExactEvmScheme() *ExactEvmScheme {
	return &ExactEvmScheme{
		moneyParsers: []t402.MoneyParser{},
	}
}

// Scheme returns the scheme identifier
func (s *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// RegisterMoneyParser registers a custom money parser in the parser chain.
// Parsers are tried in registration order; each receives a decimal amount
// (1.50 for $1.50) and returns nil to pass to the next parser. The default
// USDC conversion is always the final fallback.
//
// Example:
//
//	evmServer.RegisterMoneyParser(func(amount float64, network t402.Network) (*t402.AssetAmount, error) {
//	    if amount > 100 {
//	        return &t402.AssetAmount{
//	            Amount: fmt.Sprintf("%.0f", amount*1e18),
//	            Asset:  "0x6B175474E89094C44Da98b954EedeAC495271d0F", // DAI
//	            Extra:  map[string]interface{}{"token": "DAI"},
//	        }, nil
//	    }
//	    return nil, nil
//	})
func (s *ExactEvmScheme) RegisterMoneyParser(parser t402.MoneyParser) *ExactEvmScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// ParsePrice parses a price and converts it to an asset amount (V2).
// An AssetAmount map passes through unchanged; Money (string | number) is
// parsed to a decimal, offered to the custom parser chain, and finally
// converted to the network's default asset.
func (s *ExactEvmScheme) ParsePrice(price t402.Price, network t402.Network) (t402.AssetAmount, error) {
	// If already an AssetAmount (map with "amount" and "asset"), return it directly
	if priceMap, ok := price.(map[string]interface{}); ok {
		if amountVal, hasAmount := priceMap["amount"]; hasAmount {
			amountStr, ok := amountVal.(string)
			if !ok {
				return t402.AssetAmount{}, t402.NewPaymentError(t402.ReasonInvalidPriceFormat, "amount must be a string", nil)
			}

			asset := ""
			if assetVal, hasAsset := priceMap["asset"]; hasAsset {
				if assetStr, ok := assetVal.(string); ok {
					asset = assetStr
				}
			}

			if asset == "" {
				return t402.AssetAmount{}, t402.NewPaymentError(t402.ReasonInvalidPriceFormat, "asset address must be specified for AssetAmount", nil)
			}

			extra := make(map[string]interface{})
			if extraVal, hasExtra := priceMap["extra"]; hasExtra {
				if extraMap, ok := extraVal.(map[string]interface{}); ok {
					extra = extraMap
				}
			}

			return t402.AssetAmount{
				Amount: amountStr,
				Asset:  asset,
				Extra:  extra,
			}, nil
		}
	}

	// Parse Money to decimal
	decimalAmount, err := s.parseMoneyToDecimal(price)
	if err != nil {
		return t402.AssetAmount{}, err
	}

	// Try each custom money parser in order
	for _, parser := range s.moneyParsers {
		result, err := parser(decimalAmount.InexactFloat64(), network)
		if err != nil {
			// Parser returned an error, skip it
			continue
		}
		if result != nil {
			return *result, nil
		}
	}

	// All custom parsers returned nil, use default conversion
	return s.defaultMoneyConversion(decimalAmount, network)
}

// parseMoneyToDecimal converts Money (string | number) to an exact decimal
func (s *ExactEvmScheme) parseMoneyToDecimal(price t402.Price) (decimal.Decimal, error) {
	switch v := price.(type) {
	case string:
		// Remove currency symbols
		cleanPrice := strings.TrimSpace(v)
		cleanPrice = strings.TrimPrefix(cleanPrice, "$")
		cleanPrice = strings.TrimSuffix(cleanPrice, " USD")
		cleanPrice = strings.TrimSuffix(cleanPrice, " USDC")
		cleanPrice = strings.TrimSpace(cleanPrice)

		amount, err := decimal.NewFromString(cleanPrice)
		if err != nil {
			return decimal.Zero, t402.NewPaymentError(t402.ReasonInvalidPriceFormat,
				fmt.Sprintf("failed to parse price string '%s': %v", v, err), nil)
		}
		return amount, nil

	case float64:
		return decimal.NewFromFloat(v), nil

	case int:
		return decimal.NewFromInt(int64(v)), nil

	case int64:
		return decimal.NewFromInt(v), nil

	default:
		return decimal.Zero, t402.NewPaymentError(t402.ReasonInvalidPriceFormat,
			fmt.Sprintf("unsupported price type: %T", price), nil)
	}
}

// defaultMoneyConversion converts a decimal amount to the network's default
// asset (USDC) in its smallest unit.
func (s *ExactEvmScheme) defaultMoneyConversion(amount decimal.Decimal, network t402.Network) (t402.AssetAmount, error) {
	networkStr := string(network)

	// Get network config to determine the asset
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return t402.AssetAmount{}, t402.NewPaymentError(t402.ReasonNoDefaultAsset,
			fmt.Sprintf("no default asset for network %s", networkStr), nil)
	}

	// A whole number of at least one full unit in the smallest denomination
	// (1000000 for $1.00 USDC) is treated as already converted.
	oneUnit := decimal.New(1, int32(config.DefaultAsset.Decimals))
	if amount.GreaterThanOrEqual(oneUnit) && amount.Equal(amount.Truncate(0)) {
		return t402.AssetAmount{
			Asset:  config.DefaultAsset.Address,
			Amount: amount.String(),
			Extra:  make(map[string]interface{}),
		}, nil
	}

	// Convert decimal to smallest unit ($1.50 -> 1500000 for USDC with 6 decimals)
	smallest := amount.Shift(int32(config.DefaultAsset.Decimals)).Truncate(0)
	if smallest.IsNegative() {
		return t402.AssetAmount{}, t402.NewPaymentError(t402.ReasonInvalidPriceFormat, "price must not be negative", nil)
	}

	return t402.AssetAmount{
		Asset:  config.DefaultAsset.Address,
		Amount: smallest.String(),
		Extra:  make(map[string]interface{}),
	}, nil
}

// EnhancePaymentRequirements adds scheme-specific enhancements to V2 payment requirements
func (s *ExactEvmScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements types.PaymentRequirements,
	supportedKind types.SupportedKind,
	extensionKeys []string,
) (types.PaymentRequirements, error) {
	// Get network config
	networkStr := string(requirements.Network)
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return requirements, err
	}

	// Get asset info
	var assetInfo *evm.AssetInfo
	if requirements.Asset != "" {
		assetInfo, err = evm.GetAssetInfo(networkStr, requirements.Asset)
		if err != nil {
			return requirements, err
		}
	} else {
		// Use default asset if not specified
		assetInfo = &config.DefaultAsset
		requirements.Asset = assetInfo.Address
	}

	// Ensure amount is in the smallest unit
	if requirements.Amount != "" && strings.Contains(requirements.Amount, ".") {
		amount, err := evm.ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf("failed to parse amount: %w", err)
		}
		requirements.Amount = amount.String()
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	// Add token name and version for EIP-712 signing.
	// ONLY add if not already present (caller may have specified exact values).
	if _, ok := requirements.Extra["name"]; !ok {
		requirements.Extra["name"] = assetInfo.Name
	}
	if _, ok := requirements.Extra["version"]; !ok {
		requirements.Extra["version"] = assetInfo.Version
	}

	// Copy extensions from supportedKind if provided
	if supportedKind.Extra != nil {
		for _, key := range extensionKeys {
			if val, ok := supportedKind.Extra[key]; ok {
				requirements.Extra[key] = val
			}
		}
	}

	return requirements, nil
}

// GetDisplayAmount formats an amount for display
func (s *ExactEvmScheme) GetDisplayAmount(amount string, network string, asset string) (string, error) {
	// Get asset info
	assetInfo, err := evm.GetAssetInfo(network, asset)
	if err != nil {
		return "", err
	}

	// Parse amount
	amountBig, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return "", fmt.Errorf("invalid amount: %s", amount)
	}

	// Format with decimals
	formatted := evm.FormatAmount(amountBig, assetInfo.Decimals)

	return "$" + formatted + " USDC", nil
}

// ValidatePaymentRequirements validates that requirements are valid for this scheme
func (s *ExactEvmScheme) ValidatePaymentRequirements(requirements t402.PaymentRequirements) error {
	// Check network is supported
	networkStr := string(requirements.Network)
	if !evm.IsValidNetwork(networkStr) {
		return fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	// Check PayTo is a valid address
	if !evm.IsValidAddress(requirements.PayTo) {
		return fmt.Errorf("invalid PayTo address: %s", requirements.PayTo)
	}

	// Check amount is valid
	if requirements.Amount == "" {
		return fmt.Errorf("amount is required")
	}

	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	// Check asset is valid if specified
	if requirements.Asset != "" && !evm.IsValidAddress(requirements.Asset) {
		// Try to look it up as a symbol
		_, err := evm.GetAssetInfo(networkStr, requirements.Asset)
		if err != nil {
			return fmt.Errorf("invalid asset: %s", requirements.Asset)
		}
	}

	return nil
}

// ConvertToTokenAmount converts a decimal amount to token smallest unit
func (s *ExactEvmScheme) ConvertToTokenAmount(decimalAmount string, network string) (string, error) {
	config, err := evm.GetNetworkConfig(network)
	if err != nil {
		return "", err
	}

	amount, err := evm.ParseAmount(decimalAmount, config.DefaultAsset.Decimals)
	if err != nil {
		return "", err
	}

	return amount.String(), nil
}

// ConvertFromTokenAmount converts from token smallest unit to decimal
func (s *ExactEvmScheme) ConvertFromTokenAmount(tokenAmount string, network string) (string, error) {
	config, err := evm.GetNetworkConfig(network)
	if err != nil {
		return "", err
	}

	amount, ok := new(big.Int).SetString(tokenAmount, 10)
	if !ok {
		return "", fmt.Errorf("invalid token amount: %s", tokenAmount)
	}

	return evm.FormatAmount(amount, config.DefaultAsset.Decimals), nil
}

// GetSupportedNetworks returns the list of supported networks
func (s *ExactEvmScheme) GetSupportedNetworks() []string {
	networks := make([]string, 0, len(evm.NetworkConfigs))
	for network := range evm.NetworkConfigs {
		networks = append(networks, network)
	}
	return networks
}

// GetSupportedAssets returns the list of supported assets for a network
func (s *ExactEvmScheme) GetSupportedAssets(network string) ([]string, error) {
	config, err := evm.GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	assets := make([]string, 0, len(config.SupportedAssets))
	for symbol := range config.SupportedAssets {
		assets = append(assets, symbol)
	}

	// Also add the addresses
	for _, asset := range config.SupportedAssets {
		assets = append(assets, asset.Address)
	}

	return assets, nil
}
