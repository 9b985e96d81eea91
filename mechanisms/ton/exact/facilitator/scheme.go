// Package facilitator implements the facilitator side of the exact payment
// scheme for TON networks. Verification decodes the signed BOC, checks the
// Jetton transfer it carries against the requirements, and validates the
// wallet seqno for replay protection. Settlement broadcasts the message and
// waits for the seqno to advance. Verification before settlement is the
// orchestration layer's responsibility, so Settle assumes the payload has
// already been checked.
package facilitator

import (
	"context"
	"strconv"
	"time"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/mechanisms/ton"
	"github.com/t402-io/t402/types"
)

// ExactTonScheme implements the SchemeNetworkFacilitator interface for TON exact payments (V2)
type ExactTonScheme struct {
	signer ton.FacilitatorTonSigner
}

// NewExactTonScheme creates a new ExactTonScheme
func NewExactTonScheme(signer ton.FacilitatorTonSigner) *ExactTonScheme {
	return &ExactTonScheme{
		signer: signer,
	}
}

// Scheme returns the scheme identifier
func (f *ExactTonScheme) Scheme() string {
	return ton.SchemeExact
}

// CaipFamily returns the CAIP-2 family pattern for TON networks
func (f *ExactTonScheme) CaipFamily() string {
	return "ton:*"
}

// GetExtra returns default asset metadata for the supported kinds endpoint
func (f *ExactTonScheme) GetExtra(network t402.Network) map[string]interface{} {
	config, err := ton.GetNetworkConfig(string(network))
	if err != nil {
		return nil
	}

	return map[string]interface{}{
		"defaultAsset": config.DefaultAsset.MasterAddress,
		"symbol":       config.DefaultAsset.Symbol,
		"decimals":     config.DefaultAsset.Decimals,
	}
}

// GetSigners returns all wallet addresses available on the network
func (f *ExactTonScheme) GetSigners(network t402.Network) []string {
	return f.signer.GetAddresses(context.Background(), string(network))
}

// Verify verifies a V2 payment payload against requirements using pure reads
func (f *ExactTonScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*t402.VerifyResponse, error) {
	network := t402.Network(requirements.Network)

	if payload.Accepted.Scheme != ton.SchemeExact || requirements.Scheme != ton.SchemeExact {
		return nil, t402.NewVerifyError(ErrUnsupportedScheme, "", network, nil)
	}

	if string(payload.Accepted.Network) != string(requirements.Network) {
		return nil, t402.NewVerifyError(ErrNetworkMismatch, "", network, nil)
	}

	if !ton.IsValidNetwork(string(network)) {
		return nil, t402.NewVerifyError(ErrUnsupportedNetwork, "", network, nil)
	}

	tonPayload, err := ton.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidPayload, "", network, err)
	}

	authorization := tonPayload.Authorization
	payer := authorization.From

	if err := ton.ValidateBoc(tonPayload.SignedBoc); err != nil {
		return nil, t402.NewVerifyError(ErrInvalidBocFormat, payer, network, err)
	}

	// Structural check: the BOC's signature must be valid and its Jetton
	// transfer must match the declared authorization
	verifyResult, err := f.signer.VerifyMessage(ctx, ton.VerifyMessageParams{
		SignedBoc:    tonPayload.SignedBoc,
		ExpectedFrom: authorization.From,
		ExpectedTransfer: ton.ExpectedTransfer{
			JettonAmount: authorization.JettonAmount,
			Destination:  requirements.PayTo,
			JettonMaster: requirements.Asset,
		},
		Network: string(network),
	})
	if err != nil {
		return nil, t402.NewVerifyError(ErrMessageVerificationFailed, payer, network, err)
	}
	if !verifyResult.Valid {
		return nil, t402.NewVerifyError(ErrMessageVerificationFailed, payer, network, nil)
	}

	// Expiry check with a buffer covering broadcast and inclusion latency
	now := time.Now().Unix()
	if authorization.ValidUntil < now+ton.MinValidityBuffer {
		return nil, t402.NewVerifyError(ErrAuthorizationExpired, payer, network, nil)
	}

	requiredAmount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidRequiredAmount, payer, network, err)
	}

	payloadAmount, err := strconv.ParseUint(authorization.JettonAmount, 10, 64)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidPayloadAmount, payer, network, err)
	}
	if payloadAmount < requiredAmount {
		return nil, t402.NewVerifyError(ErrInsufficientAmount, payer, network, nil)
	}

	if !ton.AddressesEqual(authorization.To, requirements.PayTo) {
		return nil, t402.NewVerifyError(ErrRecipientMismatch, payer, network, nil)
	}

	if !ton.AddressesEqual(authorization.JettonMaster, requirements.Asset) {
		return nil, t402.NewVerifyError(ErrAssetMismatch, payer, network, nil)
	}

	balance, err := f.signer.GetJettonBalance(ctx, ton.GetJettonBalanceParams{
		OwnerAddress:        authorization.From,
		JettonMasterAddress: requirements.Asset,
		Network:             string(network),
	})
	if err != nil {
		return nil, t402.NewVerifyError(ErrBalanceCheckFailed, payer, network, err)
	}

	balanceUint, err := strconv.ParseUint(balance, 10, 64)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidBalanceFormat, payer, network, err)
	}
	if balanceUint < requiredAmount {
		return nil, t402.NewVerifyError(ErrInsufficientJettonBalance, payer, network, nil)
	}

	// Seqno is the replay protection: the message is valid only at the
	// wallet's current seqno
	currentSeqno, err := f.signer.GetSeqno(ctx, authorization.From, string(network))
	if err != nil {
		return nil, t402.NewVerifyError(ErrSeqnoCheckFailed, payer, network, err)
	}
	if authorization.Seqno < currentSeqno {
		return nil, t402.NewVerifyError(ErrSeqnoAlreadyUsed, payer, network, nil)
	}
	if authorization.Seqno > currentSeqno {
		return nil, t402.NewVerifyError(ErrSeqnoTooHigh, payer, network, nil)
	}

	// An undeployed wallet cannot send the external message
	isDeployed, err := f.signer.IsDeployed(ctx, authorization.From, string(network))
	if err != nil {
		return nil, t402.NewVerifyError(ErrDeploymentCheckFailed, payer, network, err)
	}
	if !isDeployed {
		return nil, t402.NewVerifyError(ErrWalletNotDeployed, payer, network, nil)
	}

	return &t402.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// Settle broadcasts the signed external message and waits for the wallet
// seqno to advance.
func (f *ExactTonScheme) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*t402.SettleResponse, error) {
	network := t402.Network(requirements.Network)

	tonPayload, err := ton.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, t402.NewSettleError(ErrInvalidPayload, "", network, "", err)
	}

	authorization := tonPayload.Authorization
	payer := authorization.From

	txHash, err := f.signer.SendExternalMessage(ctx, tonPayload.SignedBoc, string(network))
	if err != nil {
		return nil, t402.NewSettleError(ErrTransactionFailed, payer, network, "", err)
	}

	// Confirmation means the wallet's seqno advanced past the signed one
	confirmation, err := f.signer.WaitForTransaction(ctx, ton.WaitForTransactionParams{
		Address: authorization.From,
		Seqno:   authorization.Seqno + 1,
		Timeout: 60000,
		Network: string(network),
	})
	if err != nil {
		return nil, t402.NewSettleError(ErrConfirmationFailed, payer, network, txHash, err)
	}

	if !confirmation.Success {
		return nil, t402.NewSettleError(ErrConfirmationFailed, payer, network, txHash, nil)
	}

	finalTxHash := txHash
	if confirmation.Hash != "" {
		finalTxHash = confirmation.Hash
	}

	return &t402.SettleResponse{
		Success:     true,
		Transaction: finalTxHash,
		Network:     network,
		Payer:       payer,
	}, nil
}
