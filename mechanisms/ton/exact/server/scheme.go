// Package server implements the resource-server side of the exact payment
// scheme for TON networks: price parsing and payment requirement enhancement
// for Jetton transfers.
package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/mechanisms/ton"
	"github.com/t402-io/t402/types"
)

// ExactTonScheme implements the SchemeNetworkServer interface for TON exact payments (V2)
type ExactTonScheme struct {
	moneyParsers []t402.MoneyParser
}

// NewExactTonScheme creates a new ExactTonScheme
func NewExactTonScheme() *ExactTonScheme {
	return &ExactTonScheme{
		moneyParsers: []t402.MoneyParser{},
	}
}

// Scheme returns the scheme identifier
func (s *ExactTonScheme) Scheme() string {
	return ton.SchemeExact
}

// RegisterMoneyParser registers a custom money parser in the parser chain.
// Parsers are tried in registration order; each receives a decimal amount
// (1.50 for $1.50) and returns nil to pass to the next parser. The default
// USDT conversion is always the final fallback.
func (s *ExactTonScheme) RegisterMoneyParser(parser t402.MoneyParser) *ExactTonScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// ParsePrice parses a price and converts it to an asset amount (V2).
// An AssetAmount map passes through with the default asset filled in;
// Money (string | number) is parsed to a decimal, offered to the custom
// parser chain, and finally converted to the network's default Jetton.
func (s *ExactTonScheme) ParsePrice(price t402.Price, network t402.Network) (t402.AssetAmount, error) {
	networkStr := string(network)

	config, err := ton.GetNetworkConfig(networkStr)
	if err != nil {
		return t402.AssetAmount{}, t402.NewPaymentError(t402.ReasonNoDefaultAsset,
			fmt.Sprintf("no default asset for network %s", networkStr), nil)
	}

	// Pre-parsed price object (with amount and asset)
	if priceMap, ok := price.(map[string]interface{}); ok {
		if amountVal, hasAmount := priceMap["amount"]; hasAmount {
			amountStr, ok := amountVal.(string)
			if !ok {
				return t402.AssetAmount{}, t402.NewPaymentError(t402.ReasonInvalidPriceFormat, "amount must be a string", nil)
			}

			asset := config.DefaultAsset.MasterAddress
			if assetVal, hasAsset := priceMap["asset"]; hasAsset {
				if assetStr, ok := assetVal.(string); ok {
					asset = assetStr
				}
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
	return s.defaultMoneyConversion(decimalAmount, config)
}

// parseMoneyToDecimal converts Money (string | number) to an exact decimal
func (s *ExactTonScheme) parseMoneyToDecimal(price t402.Price) (decimal.Decimal, error) {
	switch v := price.(type) {
	case string:
		cleanPrice := strings.TrimSpace(v)
		cleanPrice = strings.TrimPrefix(cleanPrice, "$")
		cleanPrice = strings.TrimSuffix(cleanPrice, " USD")
		cleanPrice = strings.TrimSuffix(cleanPrice, " USDT")
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
// Jetton (USDT) in its smallest unit.
func (s *ExactTonScheme) defaultMoneyConversion(amount decimal.Decimal, config *ton.NetworkConfig) (t402.AssetAmount, error) {
	parsedAmount, err := ton.ParseAmount(amount.String(), config.DefaultAsset.Decimals)
	if err != nil {
		return t402.AssetAmount{}, t402.NewPaymentError(t402.ReasonInvalidPriceFormat,
			fmt.Sprintf("failed to convert amount: %v", err), nil)
	}

	return t402.AssetAmount{
		Amount: strconv.FormatUint(parsedAmount, 10),
		Asset:  config.DefaultAsset.MasterAddress,
		Extra: map[string]interface{}{
			"symbol":   config.DefaultAsset.Symbol,
			"name":     config.DefaultAsset.Name,
			"decimals": config.DefaultAsset.Decimals,
		},
	}, nil
}

// EnhancePaymentRequirements adds scheme-specific enhancements to V2 payment requirements
func (s *ExactTonScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements types.PaymentRequirements,
	supportedKind types.SupportedKind,
	extensionKeys []string,
) (types.PaymentRequirements, error) {
	networkStr := string(requirements.Network)
	config, err := ton.GetNetworkConfig(networkStr)
	if err != nil {
		return requirements, err
	}

	var assetInfo *ton.AssetInfo
	if requirements.Asset != "" {
		assetInfo, err = ton.GetAssetInfo(networkStr, requirements.Asset)
		if err != nil {
			return requirements, err
		}
	} else {
		assetInfo = &config.DefaultAsset
		requirements.Asset = assetInfo.MasterAddress
	}

	// Ensure amount is in the smallest unit
	if requirements.Amount != "" && strings.Contains(requirements.Amount, ".") {
		amount, err := ton.ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf("failed to parse amount: %w", err)
		}
		requirements.Amount = strconv.FormatUint(amount, 10)
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	// Asset metadata for wallet display
	requirements.Extra["symbol"] = assetInfo.Symbol
	requirements.Extra["name"] = assetInfo.Name
	requirements.Extra["decimals"] = assetInfo.Decimals

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
