package svm

import (
	"encoding/base64"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"
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

// GetAssetInfo returns asset information for a mint address or symbol.
// An empty asset resolves to the network's default asset.
func GetAssetInfo(network string, asset string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if asset == "" {
		info := config.DefaultAsset
		return &info, nil
	}

	// Symbol lookup
	if info, ok := config.SupportedAssets[strings.ToUpper(asset)]; ok {
		return &info, nil
	}

	// Mint address lookup against known assets
	for _, info := range config.SupportedAssets {
		if info.Address == asset {
			result := info
			return &result, nil
		}
	}

	// Unknown mint: accept it if it parses as a valid public key, using the
	// default decimals. The facilitator reads actual decimals from the mint.
	if _, err := solana.PublicKeyFromBase58(asset); err == nil {
		return &AssetInfo{
			Address:  asset,
			Decimals: config.DefaultAsset.Decimals,
		}, nil
	}

	return nil, fmt.Errorf("unknown asset %s on network %s", asset, network)
}

// ParseAmount converts a decimal amount string to the token's smallest unit.
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

// EncodeTransaction serializes a transaction to base64
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	data, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeTransaction deserializes a base64-encoded transaction
func DecodeTransaction(base64Tx string) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(base64Tx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 transaction: %w", err)
	}

	tx := &solana.Transaction{}
	if err := tx.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return tx, nil
}

// GetTokenPayerFromTransaction extracts the token owner (payer) from the
// transaction's TransferChecked instruction. For Swig transactions the payer
// is the Swig PDA holding the tokens.
func GetTokenPayerFromTransaction(tx *solana.Transaction) (string, error) {
	if IsSwigTransaction(tx) {
		result, err := ParseSwigTransaction(tx)
		if err != nil {
			return "", err
		}
		return result.SwigPDA, nil
	}

	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if progID != solana.TokenProgramID && progID != solana.Token2022ProgramID {
			continue
		}

		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			continue
		}

		decoded, err := token.DecodeInstruction(accounts, inst.Data)
		if err != nil {
			continue
		}

		if transferChecked, ok := decoded.Impl.(*token.TransferChecked); ok {
			return transferChecked.GetOwnerAccount().PublicKey.String(), nil
		}
	}

	return "", fmt.Errorf("no transfer instruction found in transaction")
}
