package facilitator

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/mechanisms/evm"
	"github.com/t402-io/t402/types"
)

// VerifyPermit2 verifies a Permit2 payment payload.
func VerifyPermit2(
	ctx context.Context,
	signer evm.FacilitatorEvmSigner,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
	permit2Payload *evm.ExactPermit2Payload,
) (*t402.VerifyResponse, error) {
	network := t402.Network(requirements.Network)
	payer := permit2Payload.Permit2Authorization.From

	// Verify scheme matches
	if payload.Accepted.Scheme != evm.SchemeExact || requirements.Scheme != evm.SchemeExact {
		return nil, t402.NewVerifyError(ErrUnsupportedPayloadType, payer, network, nil)
	}

	// Verify network matches
	if payload.Accepted.Network != requirements.Network {
		return nil, t402.NewVerifyError(ErrNetworkMismatch, payer, network, nil)
	}

	chainID, err := evm.GetEvmChainId(string(requirements.Network))
	if err != nil {
		return nil, t402.NewVerifyError(ErrFailedToGetNetworkConfig, payer, network, err)
	}

	tokenAddress := evm.NormalizeAddress(requirements.Asset)

	// Verify spender is the t402 Permit2 proxy
	if !strings.EqualFold(permit2Payload.Permit2Authorization.Spender, evm.T402ExactPermit2ProxyAddress) {
		return nil, t402.NewVerifyError(ErrPermit2InvalidSpender, payer, network, nil)
	}

	// Verify witness.to matches payTo
	if !strings.EqualFold(permit2Payload.Permit2Authorization.Witness.To, requirements.PayTo) {
		return nil, t402.NewVerifyError(ErrPermit2RecipientMismatch, payer, network, nil)
	}

	// Parse and verify deadline not expired (with buffer for block time)
	now := time.Now().Unix()
	deadline, ok := new(big.Int).SetString(permit2Payload.Permit2Authorization.Deadline, 10)
	if !ok {
		return nil, t402.NewVerifyError(ErrInvalidPayload, payer, network, nil)
	}
	deadlineThreshold := big.NewInt(now + evm.Permit2DeadlineBuffer)
	if deadline.Cmp(deadlineThreshold) < 0 {
		return nil, t402.NewVerifyError(ErrPermit2DeadlineExpired, payer, network, nil)
	}

	// Parse and verify validAfter is not in the future
	validAfter, ok := new(big.Int).SetString(permit2Payload.Permit2Authorization.Witness.ValidAfter, 10)
	if !ok {
		return nil, t402.NewVerifyError(ErrInvalidPayload, payer, network, nil)
	}
	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return nil, t402.NewVerifyError(ErrPermit2NotYetValid, payer, network, nil)
	}

	// Parse and verify amount is sufficient
	authAmount, ok := new(big.Int).SetString(permit2Payload.Permit2Authorization.Permitted.Amount, 10)
	if !ok {
		return nil, t402.NewVerifyError(ErrInvalidPayload, payer, network, nil)
	}
	requiredAmount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, t402.NewVerifyError(ErrInvalidRequiredAmount, payer, network, nil)
	}
	if authAmount.Cmp(requiredAmount) < 0 {
		return nil, t402.NewVerifyError(ErrPermit2InsufficientAmount, payer, network, nil)
	}

	// Verify token matches
	if !strings.EqualFold(permit2Payload.Permit2Authorization.Permitted.Token, requirements.Asset) {
		return nil, t402.NewVerifyError(ErrPermit2TokenMismatch, payer, network, nil)
	}

	// Verify signature
	signatureBytes, err := evm.HexToBytes(permit2Payload.Signature)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidSignatureFormat, payer, network, err)
	}

	valid, err := verifyPermit2Signature(ctx, signer, permit2Payload.Permit2Authorization, signatureBytes, chainID)
	if err != nil || !valid {
		return nil, t402.NewVerifyError(ErrPermit2InvalidSignature, payer, network, err)
	}

	// Check Permit2 allowance. Without an approval the proxy settle
	// call will revert, so surface that at verify time.
	allowance, err := signer.ReadContract(ctx, tokenAddress, evm.ERC20AllowanceABI, "allowance",
		common.HexToAddress(payer), common.HexToAddress(evm.PERMIT2Address))
	if err == nil {
		if allowanceBig, ok := allowance.(*big.Int); ok && allowanceBig.Cmp(requiredAmount) < 0 {
			return nil, t402.NewVerifyError(ErrPermit2AllowanceRequired, payer, network, nil)
		}
	}

	// Check balance
	balance, err := signer.GetBalance(ctx, payer, tokenAddress)
	if err == nil && balance.Cmp(requiredAmount) < 0 {
		return nil, t402.NewVerifyError(ErrInsufficientBalance, payer, network, nil)
	}

	return &t402.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// SettlePermit2 settles a Permit2 payment by calling settle() on the t402
// Permit2 proxy. Verification is the orchestration layer's responsibility.
func SettlePermit2(
	ctx context.Context,
	signer evm.FacilitatorEvmSigner,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
	permit2Payload *evm.ExactPermit2Payload,
) (*t402.SettleResponse, error) {
	network := t402.Network(payload.Accepted.Network)
	payer := permit2Payload.Permit2Authorization.From

	// Parse values for the contract call (validated during verify, but check again for safety)
	amount, ok := new(big.Int).SetString(permit2Payload.Permit2Authorization.Permitted.Amount, 10)
	if !ok {
		return nil, t402.NewSettleError(ErrInvalidPayload, payer, network, "", nil)
	}
	nonce, ok := new(big.Int).SetString(permit2Payload.Permit2Authorization.Nonce, 10)
	if !ok {
		return nil, t402.NewSettleError(ErrInvalidPayload, payer, network, "", nil)
	}
	deadline, ok := new(big.Int).SetString(permit2Payload.Permit2Authorization.Deadline, 10)
	if !ok {
		return nil, t402.NewSettleError(ErrInvalidPayload, payer, network, "", nil)
	}
	validAfter, ok := new(big.Int).SetString(permit2Payload.Permit2Authorization.Witness.ValidAfter, 10)
	if !ok {
		return nil, t402.NewSettleError(ErrInvalidPayload, payer, network, "", nil)
	}
	extraBytes, err := evm.HexToBytes(permit2Payload.Permit2Authorization.Witness.Extra)
	if err != nil {
		return nil, t402.NewSettleError(ErrInvalidPayload, payer, network, "", err)
	}
	signatureBytes, err := evm.HexToBytes(permit2Payload.Signature)
	if err != nil {
		return nil, t402.NewSettleError(ErrInvalidSignatureFormat, payer, network, "", err)
	}

	// Struct args for the settle call: settle(permit, owner, witness, signature)
	permitStruct := struct {
		Permitted struct {
			Token  common.Address
			Amount *big.Int
		}
		Nonce    *big.Int
		Deadline *big.Int
	}{
		Permitted: struct {
			Token  common.Address
			Amount *big.Int
		}{
			Token:  common.HexToAddress(permit2Payload.Permit2Authorization.Permitted.Token),
			Amount: amount,
		},
		Nonce:    nonce,
		Deadline: deadline,
	}

	witnessStruct := struct {
		To         common.Address
		ValidAfter *big.Int
		Extra      []byte
	}{
		To:         common.HexToAddress(permit2Payload.Permit2Authorization.Witness.To),
		ValidAfter: validAfter,
		Extra:      extraBytes,
	}

	txHash, err := signer.WriteContract(
		ctx,
		evm.T402ExactPermit2ProxyAddress,
		evm.T402ExactPermit2ProxySettleABI,
		evm.FunctionSettle,
		permitStruct,
		common.HexToAddress(payer),
		witnessStruct,
		signatureBytes,
	)
	if err != nil {
		errorReason := parsePermit2Error(err)
		return nil, t402.NewSettleError(errorReason, payer, network, "", err)
	}

	// Wait for transaction confirmation
	receipt, err := signer.WaitForTransactionReceipt(ctx, txHash)
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

// verifyPermit2Signature verifies the Permit2 EIP-712 signature.
func verifyPermit2Signature(
	ctx context.Context,
	signer evm.FacilitatorEvmSigner,
	authorization evm.Permit2Authorization,
	signature []byte,
	chainID *big.Int,
) (bool, error) {
	hash, err := evm.HashPermit2Authorization(authorization, chainID)
	if err != nil {
		return false, err
	}

	var hash32 [32]byte
	copy(hash32[:], hash)

	// Universal verification supports EOA, EIP-1271, and ERC-6492
	valid, _, err := evm.VerifyUniversalSignature(ctx, signer, authorization.From, hash32, signature, true)
	return valid, err
}

// parsePermit2Error extracts meaningful error codes from contract reverts.
func parsePermit2Error(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "AmountExceedsPermitted"):
		return ErrPermit2AmountExceedsPermitted
	case strings.Contains(msg, "InvalidDestination"):
		return ErrPermit2InvalidDestination
	case strings.Contains(msg, "InvalidOwner"):
		return ErrPermit2InvalidOwner
	case strings.Contains(msg, "PaymentTooEarly"):
		return ErrPermit2PaymentTooEarly
	case strings.Contains(msg, "InvalidSignature"), strings.Contains(msg, "SignatureExpired"):
		return ErrPermit2InvalidSignature
	case strings.Contains(msg, "InvalidNonce"):
		return ErrPermit2InvalidNonce
	default:
		return ErrFailedToExecuteTransfer
	}
}
