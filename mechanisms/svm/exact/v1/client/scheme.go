// Package client implements the client side of the exact payment scheme for
// SVM networks speaking the legacy V1 dialect.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/t402-io/t402/mechanisms/svm"
	"github.com/t402-io/t402/types"
)

// ExactSvmSchemeV1 implements the SchemeNetworkClientV1 interface for SVM exact payments
type ExactSvmSchemeV1 struct {
	signer svm.ClientSvmSigner
	config *svm.ClientConfig
}

// NewExactSvmSchemeV1 creates a new ExactSvmSchemeV1.
// Config is optional; network defaults are used when omitted.
func NewExactSvmSchemeV1(signer svm.ClientSvmSigner, config ...*svm.ClientConfig) *ExactSvmSchemeV1 {
	var cfg *svm.ClientConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &ExactSvmSchemeV1{
		signer: signer,
		config: cfg,
	}
}

// Scheme returns the scheme identifier
func (c *ExactSvmSchemeV1) Scheme() string {
	return svm.SchemeExact
}

// CreatePaymentPayload creates a V1 payment payload for the exact scheme.
// V1 networks use simple names ("solana-devnet") which resolve through the
// same network table as CAIP-2 identifiers.
func (c *ExactSvmSchemeV1) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirementsV1,
) (types.PaymentPayloadV1, error) {
	networkStr := requirements.Network
	if !svm.IsValidNetwork(networkStr) {
		return types.PaymentPayloadV1{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	config, err := svm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	rpcURL := config.RPCURL
	if c.config != nil && c.config.RPCURL != "" {
		rpcURL = c.config.RPCURL
	}
	rpcClient := rpc.New(rpcURL)

	mintPubkey, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("invalid asset address: %w", err)
	}

	mintAccount, err := rpcClient.GetAccountInfo(ctx, mintPubkey)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to get mint account: %w", err)
	}

	tokenProgramID := mintAccount.Value.Owner
	if tokenProgramID != solana.TokenProgramID && tokenProgramID != solana.Token2022ProgramID {
		return types.PaymentPayloadV1{}, fmt.Errorf("asset was not created by a known token program")
	}

	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("invalid payTo address: %w", err)
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(c.signer.Address(), mintPubkey)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to derive source ATA: %w", err)
	}

	destinationATA, _, err := solana.FindAssociatedTokenAddress(payToPubkey, mintPubkey)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to derive destination ATA: %w", err)
	}

	// V1 facilitators do not simulate, so fail early when either ATA is missing
	sourceAccount, err := rpcClient.GetAccountInfo(ctx, sourceATA)
	if err != nil || sourceAccount == nil || sourceAccount.Value == nil {
		return types.PaymentPayloadV1{}, fmt.Errorf(
			"invalid_exact_solana_payload_ata_not_found: source ATA does not exist for client %s",
			c.signer.Address(),
		)
	}

	destAccount, err := rpcClient.GetAccountInfo(ctx, destinationATA)
	if err != nil || destAccount == nil || destAccount.Value == nil {
		return types.PaymentPayloadV1{}, fmt.Errorf(
			"invalid_exact_solana_payload_ata_not_found: destination ATA does not exist for recipient %s",
			requirements.PayTo,
		)
	}

	amount, err := strconv.ParseUint(requirements.MaxAmountRequired, 10, 64)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("invalid amount: %w", err)
	}

	var extraMap map[string]interface{}
	if requirements.Extra != nil {
		if err := json.Unmarshal(*requirements.Extra, &extraMap); err != nil {
			return types.PaymentPayloadV1{}, fmt.Errorf("invalid extra field: %w", err)
		}
	}

	feePayerAddr, ok := extraMap["feePayer"].(string)
	if !ok {
		return types.PaymentPayloadV1{}, fmt.Errorf("feePayer is required in paymentRequirements.extra for Solana transactions")
	}

	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("invalid feePayer address: %w", err)
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to decode mint data: %w", err)
	}

	latestBlockhash, err := rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	recentBlockhash := latestBlockhash.Value.Blockhash

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(svm.DefaultComputeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}

	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(svm.DefaultComputeUnitPriceMicrolamports).
		ValidateAndBuild()
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to build compute price instruction: %w", err)
	}

	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(mintData.Decimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(mintPubkey).
		SetDestinationAccount(destinationATA).
		SetOwnerAccount(c.signer.Address()).
		ValidateAndBuild()
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to build transfer instruction: %w", err)
	}

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice).
		AddInstruction(transferIx).
		SetRecentBlockHash(recentBlockhash).
		SetFeePayer(feePayer).
		Build()
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	base64Tx, err := svm.EncodeTransaction(tx)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	svmPayload := &svm.ExactSvmPayload{
		Transaction: base64Tx,
	}

	return types.PaymentPayloadV1{
		T402Version: 1,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     svmPayload.ToMap(),
	}, nil
}
