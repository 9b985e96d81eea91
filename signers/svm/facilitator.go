package svm

import (
	"context"
	"fmt"
	"sync"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	t402svm "github.com/t402-io/t402/mechanisms/svm"
)

// FacilitatorSigner implements t402svm.FacilitatorSvmSigner using an Ed25519
// private key. The facilitator key is the fee payer for payment transactions;
// it must never be the transfer authority.
type FacilitatorSigner struct {
	privateKey solana.PrivateKey
	rpcURL     string

	mu         sync.Mutex
	rpcClients map[string]*rpc.Client
}

// NewFacilitatorSigner creates a facilitator signer from a base58-encoded
// private key. An empty rpcURL uses each network's default endpoint.
func NewFacilitatorSigner(privateKeyBase58 string, rpcURL string) (*FacilitatorSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &FacilitatorSigner{
		privateKey: privateKey,
		rpcURL:     rpcURL,
		rpcClients: make(map[string]*rpc.Client),
	}, nil
}

// GetAddresses returns the fee payer public keys available on the network.
func (s *FacilitatorSigner) GetAddresses(ctx context.Context, network string) []solana.PublicKey {
	return []solana.PublicKey{s.privateKey.PublicKey()}
}

func (s *FacilitatorSigner) getRPC(network string) (*rpc.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.rpcClients[network]; ok {
		return client, nil
	}

	rpcURL := s.rpcURL
	if rpcURL == "" {
		config, err := t402svm.GetNetworkConfig(network)
		if err != nil {
			return nil, err
		}
		rpcURL = config.RPCURL
	}

	client := rpc.New(rpcURL)
	s.rpcClients[network] = client
	return client, nil
}

// SignTransaction adds the fee payer signature to a transaction.
func (s *FacilitatorSigner) SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error {
	if feePayer != s.privateKey.PublicKey() {
		return fmt.Errorf("no signer for fee payer %s, available: %s", feePayer, s.privateKey.PublicKey())
	}

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := s.privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(s.privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}

	if len(tx.Signatures) <= int(accountIndex) {
		newSignatures := make([]solana.Signature, accountIndex+1)
		copy(newSignatures, tx.Signatures)
		tx.Signatures = newSignatures
	}

	tx.Signatures[accountIndex] = signature
	return nil
}

// SimulateTransaction runs a fully signed transaction against the RPC node
// without broadcasting it.
func (s *FacilitatorSigner) SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error {
	rpcClient, err := s.getRPC(network)
	if err != nil {
		return err
	}

	opts := rpc.SimulateTransactionOpts{
		SigVerify:              true,
		ReplaceRecentBlockhash: false,
		Commitment:             t402svm.DefaultCommitment,
	}

	simResult, err := rpcClient.SimulateTransactionWithOpts(ctx, tx, &opts)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	if simResult != nil && simResult.Value != nil && simResult.Value.Err != nil {
		return fmt.Errorf("simulation failed: transaction would fail on-chain")
	}

	return nil
}

// SendTransaction broadcasts a fully signed transaction. Preflight is
// skipped since verification already simulated it.
func (s *FacilitatorSigner) SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error) {
	rpcClient, err := s.getRPC(network)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: t402svm.DefaultCommitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	return sig, nil
}

// ConfirmTransaction polls until the transaction reaches confirmed or
// finalized commitment.
func (s *FacilitatorSigner) ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error {
	rpcClient, err := s.getRPC(network)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < t402svm.MaxConfirmAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		statuses, err := rpcClient.GetSignatureStatuses(ctx, true, signature)
		if err == nil && statuses != nil && statuses.Value != nil && len(statuses.Value) > 0 {
			status := statuses.Value[0]
			if status != nil {
				if status.Err != nil {
					return fmt.Errorf("transaction failed on-chain")
				}
				if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
					status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
					return nil
				}
			}
		}

		// Fallback for nodes without signature status support
		if err != nil {
			txResult, txErr := rpcClient.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
				Encoding:   solana.EncodingBase58,
				Commitment: t402svm.DefaultCommitment,
			})
			if txErr == nil && txResult != nil && txResult.Meta != nil {
				if txResult.Meta.Err != nil {
					return fmt.Errorf("transaction failed on-chain")
				}
				return nil
			}
		}

		time.Sleep(t402svm.ConfirmRetryDelay)
	}

	return fmt.Errorf("transaction confirmation timed out after %d attempts", t402svm.MaxConfirmAttempts)
}
