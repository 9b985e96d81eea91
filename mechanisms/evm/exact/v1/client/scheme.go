// Package client implements the client side of the exact payment scheme
// for EVM networks speaking the legacy V1 dialect.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/t402-io/t402/mechanisms/evm"
	"github.com/t402-io/t402/types"
)

// ExactEvmSchemeV1 implements the SchemeNetworkClientV1 interface for EVM exact payments
type ExactEvmSchemeV1 struct {
	signer evm.ClientEvmSigner
}

// NewExactEvmSchemeV1 creates a new ExactEvmSchemeV1
func NewExactEvmSchemeV1(signer evm.ClientEvmSigner) *ExactEvmSchemeV1 {
	return &ExactEvmSchemeV1{
		signer: signer,
	}
}

// Scheme returns the scheme identifier
func (c *ExactEvmSchemeV1) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload creates a V1 payment payload for the exact scheme.
// V1 only supports EIP-3009 transfers and uses maxAmountRequired as the
// payment value.
func (c *ExactEvmSchemeV1) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirementsV1,
) (types.PaymentPayloadV1, error) {
	networkStr := requirements.Network
	if !evm.IsValidNetwork(networkStr) {
		return types.PaymentPayloadV1{}, fmt.Errorf("unsupported network: %s", networkStr)
	}

	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	value, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return types.PaymentPayloadV1{}, fmt.Errorf("invalid maxAmountRequired: %s", requirements.MaxAmountRequired)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	// Backdate validAfter 10 minutes to tolerate clock skew
	now := time.Now().Unix()
	validAfter := big.NewInt(now - 600)

	timeout := int64(600)
	if requirements.MaxTimeoutSeconds > 0 {
		timeout = int64(requirements.MaxTimeoutSeconds)
	}
	validBefore := big.NewInt(now + timeout)

	// V1 requirements carry the EIP-712 domain parameters in extra
	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if requirements.Extra != nil {
		var extraMap map[string]interface{}
		if err := json.Unmarshal(*requirements.Extra, &extraMap); err == nil {
			if name, ok := extraMap["name"].(string); ok {
				tokenName = name
			}
			if ver, ok := extraMap["version"].(string); ok {
				tokenVersion = ver
			}
		}
	}

	authorization := evm.ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
	}

	signature, err := c.signAuthorization(ctx, authorization, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     evm.BytesToHex(signature),
		Authorization: authorization,
	}

	return types.PaymentPayloadV1{
		T402Version: 1,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     evmPayload.ToMap(),
	}, nil
}

// signAuthorization signs the EIP-3009 authorization using EIP-712
func (c *ExactEvmSchemeV1) signAuthorization(
	ctx context.Context,
	authorization evm.ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	eip712Types := map[string][]evm.TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}

	value, ok := new(big.Int).SetString(authorization.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value: %s", authorization.Value)
	}
	validAfter, _ := new(big.Int).SetString(authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(authorization.ValidBefore, 10)
	nonceBytes, err := evm.HexToBytes(authorization.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	message := map[string]interface{}{
		"from":        authorization.From,
		"to":          authorization.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}

	return c.signer.SignTypedData(ctx, domain, eip712Types, "TransferWithAuthorization", message)
}
