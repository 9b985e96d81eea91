// Package facilitator implements the facilitator side of the exact payment
// scheme for SVM networks. Verification decodes the partially signed
// transaction, checks its shape and transfer instruction against the
// requirements, then signs and simulates it. Settlement co-signs as fee
// payer, broadcasts, and waits for confirmation. Verification before
// settlement is the orchestration layer's responsibility, so Settle assumes
// the payload has already been checked.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/mechanisms/svm"
	"github.com/t402-io/t402/types"
)

// ExactSvmScheme implements the SchemeNetworkFacilitator interface for SVM exact payments (V2)
type ExactSvmScheme struct {
	signer svm.FacilitatorSvmSigner
}

// NewExactSvmScheme creates a new ExactSvmScheme
func NewExactSvmScheme(signer svm.FacilitatorSvmSigner) *ExactSvmScheme {
	return &ExactSvmScheme{
		signer: signer,
	}
}

// Scheme returns the scheme identifier
func (f *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// CaipFamily returns the CAIP-2 family pattern for SVM networks
func (f *ExactSvmScheme) CaipFamily() string {
	return "solana:*"
}

// GetExtra returns a randomly selected fee payer address for the supported
// kinds endpoint. Random selection distributes load across signers.
func (f *ExactSvmScheme) GetExtra(network t402.Network) map[string]interface{} {
	addresses := f.signer.GetAddresses(context.Background(), string(network))
	if len(addresses) == 0 {
		return nil
	}

	return map[string]interface{}{
		"feePayer": addresses[rand.Intn(len(addresses))].String(),
	}
}

// GetSigners returns all fee payer addresses available on the network
func (f *ExactSvmScheme) GetSigners(network t402.Network) []string {
	addresses := f.signer.GetAddresses(context.Background(), string(network))
	result := make([]string, len(addresses))
	for i, addr := range addresses {
		result[i] = addr.String()
	}
	return result
}

// Verify verifies a V2 payment payload against requirements. The transaction
// is signed and simulated but never broadcast.
func (f *ExactSvmScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*t402.VerifyResponse, error) {
	network := t402.Network(requirements.Network)

	if payload.Accepted.Scheme != svm.SchemeExact || requirements.Scheme != svm.SchemeExact {
		return nil, t402.NewVerifyError(ErrUnsupportedScheme, "", network, nil)
	}

	if string(payload.Accepted.Network) != string(requirements.Network) {
		return nil, t402.NewVerifyError(ErrNetworkMismatch, "", network, nil)
	}

	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok || feePayerStr == "" {
		return nil, t402.NewVerifyError(ErrMissingFeePayer, "", network, nil)
	}

	// The requested fee payer must be managed by this facilitator
	signerAddresses := f.signer.GetAddresses(ctx, string(network))
	signerAddressStrs := make([]string, len(signerAddresses))
	feePayerManaged := false
	for i, addr := range signerAddresses {
		signerAddressStrs[i] = addr.String()
		if signerAddressStrs[i] == feePayerStr {
			feePayerManaged = true
		}
	}
	if !feePayerManaged {
		return nil, t402.NewVerifyError(ErrFeePayerNotManaged, "", network, nil)
	}

	solanaPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidTransaction, "", network, err)
	}

	tx, err := svm.DecodeTransaction(solanaPayload.Transaction)
	if err != nil {
		return nil, t402.NewVerifyError(ErrTransactionNotDecodable, "", network, err)
	}

	// Swig smart wallet transactions embed the payment instructions in a
	// signV2 instruction; flatten them to the regular layout first.
	instructions := tx.Message.Instructions
	payer := ""
	if svm.IsSwigTransaction(tx) {
		swigResult, err := svm.ParseSwigTransaction(tx)
		if err != nil {
			return nil, t402.NewVerifyError(ErrNoTransferInstruction, "", network, err)
		}
		instructions = swigResult.Instructions
		payer = swigResult.SwigPDA
	}

	if len(instructions) < svm.MinTransactionInstructions || len(instructions) > svm.MaxTransactionInstructions {
		return nil, t402.NewVerifyError(ErrTransactionInstructionsLength, payer, network, nil)
	}

	if err := f.verifyComputeLimitInstruction(tx, instructions[0]); err != nil {
		return nil, t402.NewVerifyError(err.Error(), payer, network, err)
	}

	if err := f.verifyComputePriceInstruction(tx, instructions[1]); err != nil {
		return nil, t402.NewVerifyError(err.Error(), payer, network, err)
	}

	// Exactly one TransferChecked among the remaining instructions; any
	// others must be Lighthouse assertions or Memo.
	transferIdx := -1
	for i := 2; i < len(instructions); i++ {
		if int(instructions[i].ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			return nil, t402.NewVerifyError(ErrUnexpectedInstruction, payer, network, nil)
		}
		progID := tx.Message.AccountKeys[instructions[i].ProgramIDIndex]
		switch {
		case progID == solana.TokenProgramID || progID == solana.Token2022ProgramID:
			if transferIdx >= 0 {
				return nil, t402.NewVerifyError(ErrUnexpectedInstruction, payer, network, nil)
			}
			transferIdx = i
		case progID.String() == svm.LighthouseProgramAddress || progID.String() == svm.MemoProgramAddress:
			// allowed auxiliary instruction
		default:
			return nil, t402.NewVerifyError(ErrUnexpectedInstruction, payer, network, nil)
		}
	}
	if transferIdx < 0 {
		return nil, t402.NewVerifyError(ErrNoTransferInstruction, payer, network, nil)
	}

	if payer == "" {
		payer, err = svm.GetTokenPayerFromTransaction(tx)
		if err != nil {
			return nil, t402.NewVerifyError(ErrNoTransferInstruction, "", network, err)
		}
	}

	if err := f.verifyTransferInstruction(tx, instructions[transferIdx], requirements, signerAddressStrs); err != nil {
		return nil, t402.NewVerifyError(err.Error(), payer, network, err)
	}

	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return nil, t402.NewVerifyError(ErrInvalidFeePayer, payer, network, err)
	}

	// Sign with the fee payer so the transaction is complete, then simulate.
	// Simulation catches insufficient balance, missing ATAs, and the like.
	if err := f.signer.SignTransaction(ctx, tx, feePayer, string(requirements.Network)); err != nil {
		return nil, t402.NewVerifyError(ErrTransactionSigningFailed, payer, network, err)
	}

	if err := f.signer.SimulateTransaction(ctx, tx, string(requirements.Network)); err != nil {
		return nil, t402.NewVerifyError(ErrTransactionSimulationFailed, payer, network, err)
	}

	return &t402.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// Settle co-signs the transaction as fee payer, broadcasts it, and waits
// for confirmation.
func (f *ExactSvmScheme) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*t402.SettleResponse, error) {
	network := t402.Network(requirements.Network)

	solanaPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, t402.NewSettleError(ErrInvalidTransaction, "", network, "", err)
	}

	tx, err := svm.DecodeTransaction(solanaPayload.Transaction)
	if err != nil {
		return nil, t402.NewSettleError(ErrTransactionNotDecodable, "", network, "", err)
	}

	payer, err := svm.GetTokenPayerFromTransaction(tx)
	if err != nil {
		return nil, t402.NewSettleError(ErrNoTransferInstruction, "", network, "", err)
	}

	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok || feePayerStr == "" {
		return nil, t402.NewSettleError(ErrMissingFeePayer, payer, network, "", nil)
	}

	expectedFeePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return nil, t402.NewSettleError(ErrInvalidFeePayer, payer, network, "", err)
	}

	// First account is the fee payer; it must match the requirements
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(expectedFeePayer) {
		return nil, t402.NewSettleError(ErrFeePayerMismatch, payer, network, "",
			fmt.Errorf("transaction fee payer does not match requirements"))
	}

	if err := f.signer.SignTransaction(ctx, tx, expectedFeePayer, string(requirements.Network)); err != nil {
		return nil, t402.NewSettleError(ErrTransactionFailed, payer, network, "", err)
	}

	signature, err := f.signer.SendTransaction(ctx, tx, string(requirements.Network))
	if err != nil {
		return nil, t402.NewSettleError(ErrTransactionFailed, payer, network, "", err)
	}

	if err := f.signer.ConfirmTransaction(ctx, signature, string(requirements.Network)); err != nil {
		return nil, t402.NewSettleError(ErrTransactionConfirmationFailed, payer, network, signature.String(), err)
	}

	return &t402.SettleResponse{
		Success:     true,
		Transaction: signature.String(),
		Network:     network,
		Payer:       payer,
	}, nil
}

// verifyComputeLimitInstruction verifies the compute unit limit instruction
func (f *ExactSvmScheme) verifyComputeLimitInstruction(tx *solana.Transaction, inst solana.CompiledInstruction) error {
	if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
		return errors.New(ErrInvalidComputeLimitInstruction)
	}
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if !progID.Equals(solana.ComputeBudget) {
		return errors.New(ErrInvalidComputeLimitInstruction)
	}

	// Discriminator 2 is SetComputeUnitLimit
	if len(inst.Data) < 1 || inst.Data[0] != 2 {
		return errors.New(ErrInvalidComputeLimitInstruction)
	}

	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return errors.New(ErrInvalidComputeLimitInstruction)
	}

	if _, err := computebudget.DecodeInstruction(accounts, inst.Data); err != nil {
		return errors.New(ErrInvalidComputeLimitInstruction)
	}

	return nil
}

// verifyComputePriceInstruction verifies the compute unit price instruction
// and caps the priority fee, since the facilitator pays it.
func (f *ExactSvmScheme) verifyComputePriceInstruction(tx *solana.Transaction, inst solana.CompiledInstruction) error {
	if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
		return errors.New(ErrInvalidComputePriceInstruction)
	}
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if !progID.Equals(solana.ComputeBudget) {
		return errors.New(ErrInvalidComputePriceInstruction)
	}

	// Discriminator 3 is SetComputeUnitPrice
	if len(inst.Data) < 1 || inst.Data[0] != 3 {
		return errors.New(ErrInvalidComputePriceInstruction)
	}

	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return errors.New(ErrInvalidComputePriceInstruction)
	}

	decoded, err := computebudget.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return errors.New(ErrInvalidComputePriceInstruction)
	}

	priceInst, ok := decoded.Impl.(*computebudget.SetComputeUnitPrice)
	if !ok {
		return errors.New(ErrInvalidComputePriceInstruction)
	}
	if priceInst.MicroLamports > svm.MaxComputeUnitPriceMicrolamports {
		return errors.New(ErrComputePriceTooHigh)
	}

	return nil
}

// verifyTransferInstruction verifies the TransferChecked instruction against
// the payment requirements.
func (f *ExactSvmScheme) verifyTransferInstruction(
	tx *solana.Transaction,
	inst solana.CompiledInstruction,
	requirements types.PaymentRequirements,
	signerAddresses []string,
) error {
	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil || len(accounts) < 4 {
		return errors.New(ErrNoTransferInstruction)
	}

	decoded, err := token.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return errors.New(ErrNoTransferInstruction)
	}

	transferChecked, ok := decoded.Impl.(*token.TransferChecked)
	if !ok {
		return errors.New(ErrNoTransferInstruction)
	}

	// The facilitator's signers must never be the transfer authority, or a
	// malicious payload could sign away the facilitator's own tokens.
	authorityAddr := transferChecked.GetOwnerAccount().PublicKey.String()
	for _, signerAddr := range signerAddresses {
		if authorityAddr == signerAddr {
			return errors.New(ErrFeePayerTransferringFunds)
		}
	}

	mintAddr := transferChecked.GetMintAccount().PublicKey.String()
	if mintAddr != requirements.Asset {
		return errors.New(ErrMintMismatch)
	}

	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return errors.New(ErrRecipientMismatch)
	}

	mintPubkey, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return errors.New(ErrMintMismatch)
	}

	expectedDestATA, _, err := solana.FindAssociatedTokenAddress(payToPubkey, mintPubkey)
	if err != nil {
		return errors.New(ErrRecipientMismatch)
	}

	destATA := transferChecked.GetDestinationAccount().PublicKey
	if !destATA.Equals(expectedDestATA) {
		return errors.New(ErrRecipientMismatch)
	}

	requiredAmount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return errors.New(ErrAmountInsufficient)
	}

	if transferChecked.Amount == nil || *transferChecked.Amount < requiredAmount {
		return errors.New(ErrAmountInsufficient)
	}

	return nil
}
