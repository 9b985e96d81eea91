// Package facilitator implements the facilitator side of the exact payment
// scheme for EVM networks speaking the legacy V1 dialect. V1 payloads carry
// scheme and network at the top level and use maxAmountRequired in the
// requirements. Only EIP-3009 transfers exist in V1; Permit2 is V2-only.
package facilitator

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/mechanisms/evm"
	"github.com/t402-io/t402/types"
)

// Verify error reasons for the V1 dialect
const (
	ErrInvalidScheme           = "invalid_exact_evm_scheme"
	ErrNetworkMismatch         = "invalid_exact_evm_network_mismatch"
	ErrInvalidPayload          = "invalid_exact_evm_payload"
	ErrMissingSignature        = "invalid_exact_evm_payload_missing_signature"
	ErrInvalidExtra            = "invalid_exact_evm_extra"
	ErrMissingEIP712Domain     = "invalid_exact_evm_missing_eip712_domain"
	ErrRecipientMismatch       = "invalid_exact_evm_payload_recipient_mismatch"
	ErrInvalidValue            = "invalid_exact_evm_payload_authorization_value"
	ErrValidBeforeExpired      = "invalid_exact_evm_payload_authorization_valid_before"
	ErrValidAfterInFuture      = "invalid_exact_evm_payload_authorization_valid_after"
	ErrNonceAlreadyUsed        = "invalid_exact_evm_nonce_already_used"
	ErrInsufficientFunds       = "insufficient_funds"
	ErrInvalidSignature        = "invalid_exact_evm_payload_signature"
	ErrFailedToExecuteTransfer = "invalid_exact_evm_failed_to_execute_transfer"
	ErrFailedToGetReceipt      = "invalid_exact_evm_failed_to_get_receipt"
	ErrTransactionFailed       = "invalid_exact_evm_transaction_state"
)

// ExactEvmSchemeV1 implements the SchemeNetworkFacilitatorV1 interface for
// EVM exact payments.
type ExactEvmSchemeV1 struct {
	signer evm.FacilitatorEvmSigner
}

// NewExactEvmSchemeV1 creates a new ExactEvmSchemeV1
func NewExactEvmSchemeV1(signer evm.FacilitatorEvmSigner) *ExactEvmSchemeV1 {
	return &ExactEvmSchemeV1{
		signer: signer,
	}
}

// Scheme returns the scheme identifier
func (f *ExactEvmSchemeV1) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the CAIP-2 family pattern for EVM networks
func (f *ExactEvmSchemeV1) CaipFamily() string {
	return "eip155:*"
}

// GetExtra returns nil; EVM mechanisms have no supported-kind extra data
func (f *ExactEvmSchemeV1) GetExtra(network t402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns the facilitator signer addresses for the network
func (f *ExactEvmSchemeV1) GetSigners(network t402.Network) []string {
	return f.signer.GetAddresses()
}

// Verify verifies a V1 payment payload against requirements using pure reads
func (f *ExactEvmSchemeV1) Verify(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
) (*t402.VerifyResponse, error) {
	network := t402.Network(requirements.Network)

	// V1 carries scheme and network at the top level
	if payload.Scheme != evm.SchemeExact || requirements.Scheme != evm.SchemeExact {
		return nil, t402.NewVerifyError(ErrInvalidScheme, "", network, nil)
	}
	if payload.Network != requirements.Network {
		return nil, t402.NewVerifyError(ErrNetworkMismatch, "", network, nil)
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidPayload, "", network, err)
	}
	payer := evmPayload.Authorization.From

	if evmPayload.Signature == "" {
		return nil, t402.NewVerifyError(ErrMissingSignature, payer, network, nil)
	}

	networkStr := string(requirements.Network)
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return nil, t402.NewVerifyError(ErrNetworkMismatch, payer, network, err)
	}

	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidPayload, payer, network, err)
	}

	// V1 requires the EIP-712 domain parameters in extra
	var extraMap map[string]interface{}
	if requirements.Extra != nil {
		if err := json.Unmarshal(*requirements.Extra, &extraMap); err != nil {
			return nil, t402.NewVerifyError(ErrInvalidExtra, payer, network, err)
		}
	}
	tokenName, _ := extraMap["name"].(string)
	tokenVersion, _ := extraMap["version"].(string)
	if tokenName == "" || tokenVersion == "" {
		return nil, t402.NewVerifyError(ErrMissingEIP712Domain, payer, network, nil)
	}

	if !strings.EqualFold(evmPayload.Authorization.To, requirements.PayTo) {
		return nil, t402.NewVerifyError(ErrRecipientMismatch, payer, network, nil)
	}

	authValue, ok := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	if !ok {
		return nil, t402.NewVerifyError(ErrInvalidValue, payer, network, nil)
	}

	requiredValue, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return nil, t402.NewVerifyError(ErrInvalidValue, payer, network, nil)
	}

	if authValue.Cmp(requiredValue) < 0 {
		return nil, t402.NewVerifyError(ErrInvalidValue, payer, network, nil)
	}

	// Check validBefore is in the future with a 6 second buffer for block time
	now := time.Now().Unix()
	validBefore, ok := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	if !ok || validBefore.Cmp(big.NewInt(now+evm.Permit2DeadlineBuffer)) < 0 {
		return nil, t402.NewVerifyError(ErrValidBeforeExpired, payer, network, nil)
	}

	// Check validAfter is not in the future
	validAfter, ok := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	if !ok || validAfter.Cmp(big.NewInt(now)) > 0 {
		return nil, t402.NewVerifyError(ErrValidAfterInFuture, payer, network, nil)
	}

	// Check the authorization nonce has not been consumed on-chain
	used, err := f.checkNonceUsed(ctx, assetInfo.Address, payer, evmPayload.Authorization.Nonce)
	if err == nil && used {
		return nil, t402.NewVerifyError(ErrNonceAlreadyUsed, payer, network, nil)
	}

	balance, err := f.signer.GetBalance(ctx, payer, assetInfo.Address)
	if err == nil && balance.Cmp(requiredValue) < 0 {
		return nil, t402.NewVerifyError(ErrInsufficientFunds, payer, network, nil)
	}

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidSignature, payer, network, err)
	}

	valid, err := f.verifySignature(
		ctx,
		evmPayload.Authorization,
		signatureBytes,
		config.ChainID,
		assetInfo.Address,
		tokenName,
		tokenVersion,
	)
	if err != nil || !valid {
		return nil, t402.NewVerifyError(ErrInvalidSignature, payer, network, err)
	}

	return &t402.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// Settle settles a V1 payment on-chain. Verification is the orchestration
// layer's responsibility, so the payload is assumed to be checked already.
func (f *ExactEvmSchemeV1) Settle(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
) (*t402.SettleResponse, error) {
	network := t402.Network(payload.Network)

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, t402.NewSettleError(ErrInvalidPayload, "", network, "", err)
	}
	payer := evmPayload.Authorization.From

	networkStr := string(requirements.Network)
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, t402.NewSettleError(ErrInvalidPayload, payer, network, "", err)
	}

	// V1 clients are EOAs; the signature is a 65-byte (r, s, v) tuple
	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil || len(signatureBytes) != 65 {
		return nil, t402.NewSettleError(ErrInvalidSignature, payer, network, "", err)
	}

	var r, s [32]byte
	copy(r[:], signatureBytes[0:32])
	copy(s[:], signatureBytes[32:64])
	v := signatureBytes[64]

	value, ok := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	if !ok {
		return nil, t402.NewSettleError(ErrInvalidValue, payer, network, "", nil)
	}
	validAfter, ok := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	if !ok {
		return nil, t402.NewSettleError(ErrInvalidPayload, payer, network, "", nil)
	}
	validBefore, ok := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	if !ok {
		return nil, t402.NewSettleError(ErrInvalidPayload, payer, network, "", nil)
	}
	nonceBytes, err := evm.HexToBytes(evmPayload.Authorization.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return nil, t402.NewSettleError(ErrInvalidPayload, payer, network, "", err)
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	txHash, err := f.signer.WriteContract(
		ctx,
		assetInfo.Address,
		evm.TransferWithAuthorizationVRSABI,
		evm.FunctionTransferWithAuthorization,
		common.HexToAddress(evmPayload.Authorization.From),
		common.HexToAddress(evmPayload.Authorization.To),
		value,
		validAfter,
		validBefore,
		nonce,
		v,
		r,
		s,
	)
	if err != nil {
		return nil, t402.NewSettleError(ErrFailedToExecuteTransfer, payer, network, "", err)
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, t402.NewSettleError(ErrFailedToGetReceipt, payer, network, txHash, err)
	}

	if receipt.Status != evm.TxStatusSuccess {
		return nil, t402.NewSettleError(ErrTransactionFailed, payer, network, txHash, nil)
	}

	return &t402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       payer,
	}, nil
}

// checkNonceUsed reads the token's authorizationState to detect replay
func (f *ExactEvmSchemeV1) checkNonceUsed(ctx context.Context, tokenAddress, from, nonce string) (bool, error) {
	nonceBytes, err := evm.HexToBytes(nonce)
	if err != nil || len(nonceBytes) != 32 {
		return false, err
	}
	var nonce32 [32]byte
	copy(nonce32[:], nonceBytes)

	result, err := f.signer.ReadContract(ctx, tokenAddress, evm.AuthorizationStateABI,
		evm.FunctionAuthorizationState, common.HexToAddress(from), nonce32)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, nil
	}
	return used, nil
}

// verifySignature verifies the EIP-712 TransferWithAuthorization signature
func (f *ExactEvmSchemeV1) verifySignature(
	ctx context.Context,
	authorization evm.ExactEIP3009Authorization,
	signature []byte,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) (bool, error) {
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
		return false, nil
	}
	validAfter, ok := new(big.Int).SetString(authorization.ValidAfter, 10)
	if !ok {
		return false, nil
	}
	validBefore, ok := new(big.Int).SetString(authorization.ValidBefore, 10)
	if !ok {
		return false, nil
	}
	nonceBytes, err := evm.HexToBytes(authorization.Nonce)
	if err != nil {
		return false, err
	}

	message := map[string]interface{}{
		"from":        authorization.From,
		"to":          authorization.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}

	return f.signer.VerifyTypedData(
		ctx,
		authorization.From,
		domain,
		eip712Types,
		"TransferWithAuthorization",
		message,
		signature,
	)
}
