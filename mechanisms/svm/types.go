package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// ExactSvmPayload represents the exact payment payload for SVM networks.
// The transaction is a base64-encoded, partially signed Solana transaction;
// the facilitator adds the fee payer signature before broadcast.
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
}

// ToMap converts an ExactSvmPayload to a map for JSON marshaling
func (p *ExactSvmPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"transaction": p.Transaction,
	}
}

// PayloadFromMap creates an ExactSvmPayload from a map
func PayloadFromMap(data map[string]interface{}) (*ExactSvmPayload, error) {
	tx, ok := data["transaction"].(string)
	if !ok || tx == "" {
		return nil, fmt.Errorf("missing or invalid transaction field")
	}
	return &ExactSvmPayload{Transaction: tx}, nil
}

// ClientConfig holds optional client-side RPC configuration
type ClientConfig struct {
	// RPCURL overrides the network's default RPC endpoint
	RPCURL string
}

// ClientSvmSigner defines the interface for client-side SVM signing operations
type ClientSvmSigner interface {
	// Address returns the signer's public key
	Address() solana.PublicKey

	// SignTransaction partially signs the transaction with the client's key
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// FacilitatorSvmSigner defines the interface for facilitator SVM operations.
// Supports multiple fee payer addresses for load balancing and key rotation.
type FacilitatorSvmSigner interface {
	// GetAddresses returns the fee payer addresses available on the network
	GetAddresses(ctx context.Context, network string) []solana.PublicKey

	// SignTransaction signs the transaction with the given fee payer's key
	SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error

	// SimulateTransaction simulates the transaction and returns an error if
	// it would fail on-chain
	SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error

	// SendTransaction broadcasts the transaction to the network
	SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error)

	// ConfirmTransaction waits for the transaction to reach confirmed commitment
	ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error
}

// AssetInfo contains information about an SPL token mint
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals int
}

// NetworkConfig contains network-specific configuration
type NetworkConfig struct {
	CAIP2           string
	RPCURL          string
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo
}
