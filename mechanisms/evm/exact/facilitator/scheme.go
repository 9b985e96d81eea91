// Package facilitator implements the facilitator side of the exact payment
// scheme for EVM networks. Verify performs pure reads against the chain;
// Settle broadcasts the transfer and waits for confirmation. Verification
// before settlement is the orchestration layer's responsibility, so Settle
// assumes the payload has already been checked.
package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/mechanisms/evm"
	"github.com/t402-io/t402/types"
)

// ExactEvmSchemeConfig holds configuration for the ExactEvmScheme facilitator
type ExactEvmSchemeConfig struct {
	// DeployERC4337WithEIP6492 enables automatic deployment of ERC-4337 smart wallets
	// via ERC-6492 when encountering undeployed contract signatures during settlement
	DeployERC4337WithEIP6492 bool
}

// ExactEvmScheme implements the SchemeNetworkFacilitator interface for EVM exact payments (V2)
type ExactEvmScheme struct {
	signer evm.FacilitatorEvmSigner
	config ExactEvmSchemeConfig
}

// NewExactEvmScheme creates a new ExactEvmScheme. A nil config uses defaults.
func NewExactEvmScheme(signer evm.FacilitatorEvmSigner, config *ExactEvmSchemeConfig) *ExactEvmScheme {
	cfg := ExactEvmSchemeConfig{}
	if config != nil {
		cfg = *config
	}
	return &ExactEvmScheme{
		signer: signer,
		config: cfg,
	}
}

// Scheme returns the scheme identifier
func (f *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator supports
func (f *ExactEvmScheme) CaipFamily() string {
	return "eip155:*"
}

// GetExtra returns mechanism-specific extra data for the supported kinds endpoint.
// For EVM, no extra data is needed.
func (f *ExactEvmScheme) GetExtra(_ t402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns signer addresses used by this facilitator.
func (f *ExactEvmScheme) GetSigners(_ t402.Network) []string {
	return f.signer.GetAddresses()
}

// Verify verifies a V2 payment payload against requirements with pure reads
func (f *ExactEvmScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*t402.VerifyResponse, error) {
	network := t402.Network(requirements.Network)

	// Validate scheme (v2 has scheme in Accepted field)
	if payload.Accepted.Scheme != evm.SchemeExact {
		return nil, t402.NewVerifyError(ErrInvalidScheme, "", network, nil)
	}

	// Validate network (v2 has network in Accepted field)
	if payload.Accepted.Network != requirements.Network {
		return nil, t402.NewVerifyError(ErrNetworkMismatch, "", network, nil)
	}

	// Permit2 payloads take a different verification path
	if evm.IsPermit2Payload(payload.Payload) {
		permit2Payload, err := evm.Permit2PayloadFromMap(payload.Payload)
		if err != nil {
			return nil, t402.NewVerifyError(ErrInvalidPayload, "", network, err)
		}
		return VerifyPermit2(ctx, f.signer, payload, requirements, permit2Payload)
	}

	// Parse EVM payload
	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidPayload, "", network, err)
	}

	// Validate signature exists
	if evmPayload.Signature == "" {
		return nil, t402.NewVerifyError(ErrMissingSignature, "", network, nil)
	}

	// Get network configuration
	networkStr := string(requirements.Network)
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return nil, t402.NewVerifyError(ErrFailedToGetNetworkConfig, "", network, err)
	}

	// Get asset info
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, t402.NewVerifyError(ErrFailedToGetAssetInfo, "", network, err)
	}

	payer := evmPayload.Authorization.From

	// Validate authorization matches requirements
	if !strings.EqualFold(evmPayload.Authorization.To, requirements.PayTo) {
		return nil, t402.NewVerifyError(ErrRecipientMismatch, payer, network, nil)
	}

	// Parse and validate amount
	authValue, ok := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	if !ok {
		return nil, t402.NewVerifyError(ErrInvalidAuthorizationValue, payer, network, nil)
	}

	// Requirements.Amount is already in the smallest unit
	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, t402.NewVerifyError(ErrInvalidRequiredAmount, payer, network, fmt.Errorf("invalid amount: %s", requirements.Amount))
	}

	if authValue.Cmp(requiredValue) < 0 {
		return nil, t402.NewVerifyError(ErrInsufficientAmount, payer, network, nil)
	}

	// Check the validity window. validBefore gets a buffer so the
	// settlement transaction has time to land in a block.
	now := time.Now().Unix()
	validBefore, ok := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	if !ok {
		return nil, t402.NewVerifyError(ErrInvalidPayload, payer, network, nil)
	}
	if validBefore.Cmp(big.NewInt(now+evm.Permit2DeadlineBuffer)) < 0 {
		return nil, t402.NewVerifyError(ErrValidBeforeExpired, payer, network, nil)
	}
	validAfter, ok := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	if !ok {
		return nil, t402.NewVerifyError(ErrInvalidPayload, payer, network, nil)
	}
	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return nil, t402.NewVerifyError(ErrValidAfterInFuture, payer, network, nil)
	}

	// Check if nonce has been used
	nonceUsed, err := f.checkNonceUsed(ctx, payer, evmPayload.Authorization.Nonce, assetInfo.Address)
	if err != nil {
		return nil, t402.NewVerifyError(ErrFailedToCheckNonce, payer, network, err)
	}
	if nonceUsed {
		return nil, t402.NewVerifyError(ErrNonceAlreadyUsed, payer, network, nil)
	}

	// Check balance
	balance, err := f.signer.GetBalance(ctx, payer, assetInfo.Address)
	if err != nil {
		return nil, t402.NewVerifyError(ErrFailedToGetBalance, payer, network, err)
	}
	if balance.Cmp(authValue) < 0 {
		return nil, t402.NewVerifyError(ErrInsufficientBalance, payer, network, nil)
	}

	// Extract token info from requirements
	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if version, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = version
		}
	}

	// Verify signature
	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidSignatureFormat, payer, network, err)
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
	if err != nil {
		return nil, t402.NewVerifyError(ErrFailedToVerifySignature, payer, network, err)
	}

	if !valid {
		return nil, t402.NewVerifyError(ErrInvalidSignature, payer, network, nil)
	}

	return &t402.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// Settle settles a V2 payment on-chain. The orchestration layer re-runs
// Verify immediately before calling Settle, so no verification happens here.
func (f *ExactEvmScheme) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*t402.SettleResponse, error) {
	network := t402.Network(payload.Accepted.Network)

	// Permit2 payloads settle through the t402 Permit2 proxy
	if evm.IsPermit2Payload(payload.Payload) {
		permit2Payload, err := evm.Permit2PayloadFromMap(payload.Payload)
		if err != nil {
			return nil, t402.NewSettleError(ErrInvalidPayload, "", network, "", err)
		}
		return SettlePermit2(ctx, f.signer, payload, requirements, permit2Payload)
	}

	// Parse EVM payload
	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, t402.NewSettleError(ErrInvalidPayload, "", network, "", err)
	}

	payer := evmPayload.Authorization.From

	// Get asset info
	networkStr := string(requirements.Network)
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, t402.NewSettleError(ErrFailedToGetAssetInfo, payer, network, "", err)
	}

	// Parse signature
	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return nil, t402.NewSettleError(ErrInvalidSignatureFormat, payer, network, "", err)
	}

	// Parse ERC-6492 signature to extract inner signature if needed
	sigData, err := evm.ParseERC6492Signature(signatureBytes)
	if err != nil {
		return nil, t402.NewSettleError(ErrFailedToParseSignature, payer, network, "", err)
	}

	// Check if wallet needs deployment (undeployed smart wallet with ERC-6492)
	zeroFactory := [20]byte{}
	if sigData.Factory != zeroFactory && len(sigData.FactoryCalldata) > 0 {
		code, err := f.signer.GetCode(ctx, payer)
		if err != nil {
			return nil, t402.NewSettleError(ErrFailedToCheckDeployment, payer, network, "", err)
		}

		if len(code) == 0 {
			// Wallet not deployed
			if f.config.DeployERC4337WithEIP6492 {
				if err := f.deploySmartWallet(ctx, sigData); err != nil {
					return nil, t402.NewSettleError(evm.ErrSmartWalletDeploymentFailed, payer, network, "", err)
				}
			} else {
				return nil, t402.NewSettleError(evm.ErrUndeployedSmartWallet, payer, network, "", nil)
			}
		}
	}

	// Use inner signature for settlement
	signatureBytes = sigData.InnerSignature

	// Parse values
	value, _ := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(evmPayload.Authorization.Nonce)

	// Determine signature type: ECDSA (65 bytes) or smart wallet (longer)
	isECDSA := len(signatureBytes) == 65

	var txHash string
	if isECDSA {
		// For EOA wallets, use v,r,s overload
		r := signatureBytes[0:32]
		s := signatureBytes[32:64]
		v := signatureBytes[64]

		txHash, err = f.signer.WriteContract(
			ctx,
			assetInfo.Address,
			evm.TransferWithAuthorizationVRSABI,
			evm.FunctionTransferWithAuthorization,
			common.HexToAddress(evmPayload.Authorization.From),
			common.HexToAddress(evmPayload.Authorization.To),
			value,
			validAfter,
			validBefore,
			[32]byte(nonceBytes),
			v,
			[32]byte(r),
			[32]byte(s),
		)
	} else {
		// For smart wallets, use bytes signature overload
		txHash, err = f.signer.WriteContract(
			ctx,
			assetInfo.Address,
			evm.TransferWithAuthorizationBytesABI,
			evm.FunctionTransferWithAuthorization,
			common.HexToAddress(evmPayload.Authorization.From),
			common.HexToAddress(evmPayload.Authorization.To),
			value,
			validAfter,
			validBefore,
			[32]byte(nonceBytes),
			signatureBytes,
		)
	}

	if err != nil {
		return nil, t402.NewSettleError(ErrFailedToExecuteTransfer, payer, network, "", err)
	}

	// Wait for transaction confirmation
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

// deploySmartWallet deploys an ERC-4337 smart wallet using the ERC-6492 factory.
// The factoryCalldata already contains the complete encoded function call.
func (f *ExactEvmScheme) deploySmartWallet(
	ctx context.Context,
	sigData *evm.ERC6492SignatureData,
) error {
	factoryAddr := common.BytesToAddress(sigData.Factory[:])

	txHash, err := f.signer.SendTransaction(
		ctx,
		factoryAddr.Hex(),
		sigData.FactoryCalldata,
	)
	if err != nil {
		return fmt.Errorf("factory deployment transaction failed: %w", err)
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return fmt.Errorf("failed to wait for deployment: %w", err)
	}

	if receipt.Status != evm.TxStatusSuccess {
		return fmt.Errorf("deployment transaction reverted")
	}

	return nil
}

// checkNonceUsed checks if a nonce has already been used
func (f *ExactEvmScheme) checkNonceUsed(ctx context.Context, from string, nonce string, tokenAddress string) (bool, error) {
	nonceBytes, err := evm.HexToBytes(nonce)
	if err != nil {
		return false, err
	}

	result, err := f.signer.ReadContract(
		ctx,
		tokenAddress,
		evm.AuthorizationStateABI,
		evm.FunctionAuthorizationState,
		common.HexToAddress(from),
		[32]byte(nonceBytes),
	)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from authorizationState")
	}

	return used, nil
}

// verifySignature verifies the EIP-712 signature
func (f *ExactEvmScheme) verifySignature(
	ctx context.Context,
	authorization evm.ExactEIP3009Authorization,
	signature []byte,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) (bool, error) {
	// Hash the EIP-712 typed data
	hash, err := evm.HashEIP3009Authorization(
		authorization,
		chainID,
		verifyingContract,
		tokenName,
		tokenVersion,
	)
	if err != nil {
		return false, err
	}

	var hash32 [32]byte
	copy(hash32[:], hash)

	// Universal verification supports EOA, EIP-1271, and ERC-6492. An
	// undeployed wallet with deployment info passes here; the actual
	// deployment happens in Settle when configured.
	valid, _, err := evm.VerifyUniversalSignature(
		ctx,
		f.signer,
		authorization.From,
		hash32,
		signature,
		true,
	)
	if err != nil {
		return false, err
	}

	return valid, nil
}
