// Package client implements the client side of the exact payment scheme for
// SVM networks. The client builds and partially signs an SPL Token
// TransferChecked transaction; the facilitator co-signs as fee payer.
package client

import (
	"context"
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

// ExactSvmScheme implements the SchemeNetworkClient interface for SVM exact payments (V2)
type ExactSvmScheme struct {
	signer svm.ClientSvmSigner
	config *svm.ClientConfig
}

// NewExactSvmScheme creates a new ExactSvmScheme.
// Config is optional; network defaults are used when omitted.
func NewExactSvmScheme(signer svm.ClientSvmSigner, config ...*svm.ClientConfig) *ExactSvmScheme {
	var cfg *svm.ClientConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &ExactSvmScheme{
		signer: signer,
		config: cfg,
	}
}

// Scheme returns the scheme identifier
func (c *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// CreatePaymentPayload creates a V2 payment payload for the exact scheme.
// The only network I/O is reading the mint account and fetching a recent
// blockhash; the transaction itself is not broadcast.
func (c *ExactSvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !svm.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	config, err := svm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	rpcURL := config.RPCURL
	if c.config != nil && c.config.RPCURL != "" {
		rpcURL = c.config.RPCURL
	}
	rpcClient := rpc.New(rpcURL)

	mintPubkey, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid asset address: %w", err)
	}

	mintAccount, err := rpcClient.GetAccountInfo(ctx, mintPubkey)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get mint account: %w", err)
	}

	// The mint's owner determines the token program (Token or Token-2022)
	tokenProgramID := mintAccount.Value.Owner
	if tokenProgramID != solana.TokenProgramID && tokenProgramID != solana.Token2022ProgramID {
		return types.PaymentPayload{}, fmt.Errorf("asset was not created by a known token program")
	}

	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid payTo address: %w", err)
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(c.signer.Address(), mintPubkey)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to derive source ATA: %w", err)
	}

	destinationATA, _, err := solana.FindAssociatedTokenAddress(payToPubkey, mintPubkey)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to derive destination ATA: %w", err)
	}

	amount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid amount: %w", err)
	}

	// The facilitator advertises its fee payer address via requirements.extra
	feePayerAddr, ok := requirements.Extra["feePayer"].(string)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("feePayer is required in paymentRequirements.extra for Solana transactions")
	}

	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid feePayer address: %w", err)
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to decode mint data: %w", err)
	}

	latestBlockhash, err := rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	recentBlockhash := latestBlockhash.Value.Blockhash

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(svm.DefaultComputeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}

	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(svm.DefaultComputeUnitPriceMicrolamports).
		ValidateAndBuild()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build compute price instruction: %w", err)
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
		return types.PaymentPayload{}, fmt.Errorf("failed to build transfer instruction: %w", err)
	}

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice).
		AddInstruction(transferIx).
		SetRecentBlockHash(recentBlockhash).
		SetFeePayer(feePayer).
		Build()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	// Partially sign with the client's key; the fee payer slot stays empty
	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	base64Tx, err := svm.EncodeTransaction(tx)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	svmPayload := &svm.ExactSvmPayload{
		Transaction: base64Tx,
	}

	return types.PaymentPayload{
		T402Version: 2,
		Payload:     svmPayload.ToMap(),
	}, nil
}
