package ton

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	tonsdk "github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/jetton"
	"github.com/xssnick/tonutils-go/tvm/cell"

	tonmech "github.com/t402-io/t402/mechanisms/ton"
)

const confirmPollInterval = 2 * time.Second

// FacilitatorConfig configures a FacilitatorSigner.
type FacilitatorConfig struct {
	// MainnetConfigURL and TestnetConfigURL override the default global
	// config URLs for the lite client pools.
	MainnetConfigURL string
	TestnetConfigURL string

	// Addresses are reported through GetAddresses. TON settlement only
	// broadcasts user-signed messages, so the facilitator holds no key;
	// listing addresses here is informational.
	Addresses []string
}

// FacilitatorSigner implements tonmech.FacilitatorTonSigner over lite client
// connections. It performs the chain reads used during verification and
// broadcasts signed external messages during settlement.
type FacilitatorSigner struct {
	config FacilitatorConfig

	mu   sync.Mutex
	apis map[string]tonsdk.APIClientWrapped
}

// NewFacilitatorSigner creates a facilitator signer. Lite client pools are
// established lazily per network on first use.
func NewFacilitatorSigner(config ...*FacilitatorConfig) *FacilitatorSigner {
	var cfg FacilitatorConfig
	if len(config) > 0 && config[0] != nil {
		cfg = *config[0]
	}
	if cfg.MainnetConfigURL == "" {
		cfg.MainnetConfigURL = MainnetConfigURL
	}
	if cfg.TestnetConfigURL == "" {
		cfg.TestnetConfigURL = TestnetConfigURL
	}

	return &FacilitatorSigner{
		config: cfg,
		apis:   make(map[string]tonsdk.APIClientWrapped),
	}
}

// GetAddresses returns the configured facilitator addresses.
func (s *FacilitatorSigner) GetAddresses(ctx context.Context, network string) []string {
	return s.config.Addresses
}

func (s *FacilitatorSigner) getAPI(ctx context.Context, network string) (tonsdk.APIClientWrapped, error) {
	config, err := tonmech.GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if api, ok := s.apis[config.CAIP2]; ok {
		return api, nil
	}

	configURL := s.config.MainnetConfigURL
	if config.CAIP2 == tonmech.TonTestnetCAIP2 {
		configURL = s.config.TestnetConfigURL
	}

	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, fmt.Errorf("failed to connect to lite servers: %w", err)
	}

	api := tonsdk.NewAPIClient(pool).WithRetry()
	s.apis[config.CAIP2] = api
	return api, nil
}

// VerifyMessage parses a signed external message and checks that it carries
// the expected Jetton transfer: correct sender wallet, correct Jetton wallet
// for the expected master, matching amount and destination, and a signature
// that verifies against the sender wallet's on-chain public key.
func (s *FacilitatorSigner) VerifyMessage(ctx context.Context, params tonmech.VerifyMessageParams) (*tonmech.VerifyMessageResult, error) {
	api, err := s.getAPI(ctx, params.Network)
	if err != nil {
		return nil, err
	}

	bocBytes, err := base64.StdEncoding.DecodeString(params.SignedBoc)
	if err != nil {
		return &tonmech.VerifyMessageResult{Valid: false, Reason: "invalid_boc_encoding"}, nil
	}

	msgCell, err := cell.FromBOC(bocBytes)
	if err != nil {
		return &tonmech.VerifyMessageResult{Valid: false, Reason: "invalid_boc"}, nil
	}

	var ext tlb.ExternalMessage
	if err := tlb.LoadFromCell(&ext, msgCell.BeginParse()); err != nil {
		return &tonmech.VerifyMessageResult{Valid: false, Reason: "not_external_message"}, nil
	}

	if ext.DstAddr == nil || !tonmech.AddressesEqual(ext.DstAddr.String(), params.ExpectedFrom) {
		return &tonmech.VerifyMessageResult{Valid: false, Reason: "sender_mismatch"}, nil
	}

	signature, signedCell, messages, err := parseWalletBody(ext.Body)
	if err != nil {
		return &tonmech.VerifyMessageResult{Valid: false, Reason: "invalid_wallet_body"}, nil
	}

	// Resolve the sender's Jetton wallet for the expected master; the
	// internal message must target it, which binds the transfer to the
	// expected Jetton.
	masterAddr, err := parseAddr(params.ExpectedTransfer.JettonMaster)
	if err != nil {
		return &tonmech.VerifyMessageResult{Valid: false, Reason: "invalid_jetton_master"}, nil
	}

	master := jetton.NewJettonMasterClient(api, masterAddr)
	senderJettonWallet, err := master.GetJettonWallet(ctx, ext.DstAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve jetton wallet: %w", err)
	}

	expectedAmount, ok := new(big.Int).SetString(params.ExpectedTransfer.JettonAmount, 10)
	if !ok {
		return &tonmech.VerifyMessageResult{Valid: false, Reason: "invalid_expected_amount"}, nil
	}

	found := false
	for _, intMsg := range messages {
		if intMsg.DstAddr == nil || intMsg.Body == nil {
			continue
		}
		if !tonmech.AddressesEqual(intMsg.DstAddr.String(), senderJettonWallet.Address().String()) {
			continue
		}

		transfer, err := parseJettonTransfer(intMsg.Body)
		if err != nil {
			continue
		}
		if transfer.amount.Cmp(expectedAmount) != 0 {
			return &tonmech.VerifyMessageResult{Valid: false, Reason: "amount_mismatch"}, nil
		}
		if !tonmech.AddressesEqual(transfer.destination, params.ExpectedTransfer.Destination) {
			return &tonmech.VerifyMessageResult{Valid: false, Reason: "destination_mismatch"}, nil
		}
		found = true
		break
	}
	if !found {
		return &tonmech.VerifyMessageResult{Valid: false, Reason: "no_matching_transfer"}, nil
	}

	// Verify the ed25519 signature against the wallet's on-chain public key
	publicKey, err := s.getPublicKey(ctx, api, params.ExpectedFrom)
	if err != nil {
		return &tonmech.VerifyMessageResult{Valid: false, Reason: "public_key_unavailable"}, nil
	}

	if !ed25519.Verify(publicKey, signedCell.Hash(), signature) {
		return &tonmech.VerifyMessageResult{Valid: false, Reason: "invalid_signature"}, nil
	}

	return &tonmech.VerifyMessageResult{Valid: true}, nil
}

type jettonTransfer struct {
	queryId     uint64
	amount      *big.Int
	destination string
}

// parseWalletBody splits a wallet v3/v4 external message body into the
// 512-bit signature, the signed cell (whose hash the signature covers), and
// the carried internal messages.
func parseWalletBody(body *cell.Cell) (signature []byte, signedCell *cell.Cell, messages []*tlb.InternalMessage, err error) {
	slice := body.BeginParse()

	signature, err = slice.LoadSlice(512)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load signature: %w", err)
	}

	signedCell, err = slice.Copy().ToCell()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to rebuild signed cell: %w", err)
	}

	// subwallet id, valid until, seqno
	if _, err = slice.LoadUInt(32); err != nil {
		return nil, nil, nil, err
	}
	if _, err = slice.LoadUInt(32); err != nil {
		return nil, nil, nil, err
	}
	if _, err = slice.LoadUInt(32); err != nil {
		return nil, nil, nil, err
	}

	// Wallet v4 inserts an op byte (0 for plain transfers) before the
	// message list; v3 goes straight to the first send mode. A leading
	// zero byte is read as the v4 op.
	havePendingMode := false
	if slice.BitsLeft() >= 8 {
		b, loadErr := slice.LoadUInt(8)
		if loadErr != nil {
			return nil, nil, nil, loadErr
		}
		if b != 0 {
			havePendingMode = true
		}
	}

	for slice.RefsNum() > 0 {
		if !havePendingMode {
			if _, err = slice.LoadUInt(8); err != nil {
				break
			}
		}
		havePendingMode = false

		ref, loadErr := slice.LoadRef()
		if loadErr != nil {
			break
		}

		var intMsg tlb.InternalMessage
		if err := tlb.LoadFromCell(&intMsg, ref); err != nil {
			continue
		}
		messages = append(messages, &intMsg)
	}

	if len(messages) == 0 {
		return nil, nil, nil, fmt.Errorf("no internal messages")
	}

	return signature, signedCell, messages, nil
}

// parseJettonTransfer parses a TEP-74 transfer body.
func parseJettonTransfer(body *cell.Cell) (*jettonTransfer, error) {
	slice := body.BeginParse()

	op, err := slice.LoadUInt(32)
	if err != nil {
		return nil, err
	}
	if op != jettonTransferOp {
		return nil, fmt.Errorf("not a jetton transfer: op 0x%x", op)
	}

	queryId, err := slice.LoadUInt(64)
	if err != nil {
		return nil, err
	}

	amount, err := slice.LoadBigCoins()
	if err != nil {
		return nil, err
	}

	dest, err := slice.LoadAddr()
	if err != nil {
		return nil, err
	}

	return &jettonTransfer{
		queryId:     queryId,
		amount:      amount,
		destination: dest.String(),
	}, nil
}

func (s *FacilitatorSigner) getPublicKey(ctx context.Context, api tonsdk.APIClientWrapped, addr string) (ed25519.PublicKey, error) {
	walletAddr, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	block, err := api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, err
	}

	res, err := api.RunGetMethod(ctx, block, walletAddr, "get_public_key")
	if err != nil {
		return nil, err
	}

	keyInt, err := res.Int(0)
	if err != nil {
		return nil, err
	}

	key := make([]byte, ed25519.PublicKeySize)
	keyInt.FillBytes(key)
	return ed25519.PublicKey(key), nil
}

// GetJettonBalance returns the owner's Jetton balance in the smallest unit.
// A missing Jetton wallet means a zero balance.
func (s *FacilitatorSigner) GetJettonBalance(ctx context.Context, params tonmech.GetJettonBalanceParams) (string, error) {
	api, err := s.getAPI(ctx, params.Network)
	if err != nil {
		return "", err
	}

	ownerAddr, err := parseAddr(params.OwnerAddress)
	if err != nil {
		return "", fmt.Errorf("invalid owner address: %w", err)
	}

	masterAddr, err := parseAddr(params.JettonMasterAddress)
	if err != nil {
		return "", fmt.Errorf("invalid jetton master address: %w", err)
	}

	master := jetton.NewJettonMasterClient(api, masterAddr)
	jettonWallet, err := master.GetJettonWallet(ctx, ownerAddr)
	if err != nil {
		var execErr tonsdk.ContractExecError
		if errors.As(err, &execErr) {
			return "0", nil
		}
		return "", fmt.Errorf("failed to resolve jetton wallet: %w", err)
	}

	balance, err := jettonWallet.GetBalance(ctx)
	if err != nil {
		var execErr tonsdk.ContractExecError
		if errors.As(err, &execErr) {
			return "0", nil
		}
		return "", fmt.Errorf("failed to get balance: %w", err)
	}

	return balance.String(), nil
}

// GetSeqno returns the current seqno of a wallet. An undeployed wallet has
// seqno 0.
func (s *FacilitatorSigner) GetSeqno(ctx context.Context, addr string, network string) (int64, error) {
	api, err := s.getAPI(ctx, network)
	if err != nil {
		return 0, err
	}

	walletAddr, err := parseAddr(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid address: %w", err)
	}

	return getSeqno(ctx, api, walletAddr)
}

// IsDeployed checks whether a wallet contract is active.
func (s *FacilitatorSigner) IsDeployed(ctx context.Context, addr string, network string) (bool, error) {
	api, err := s.getAPI(ctx, network)
	if err != nil {
		return false, err
	}

	walletAddr, err := parseAddr(addr)
	if err != nil {
		return false, fmt.Errorf("invalid address: %w", err)
	}

	block, err := api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get masterchain info: %w", err)
	}

	account, err := api.GetAccount(ctx, block, walletAddr)
	if err != nil {
		return false, fmt.Errorf("failed to get account: %w", err)
	}

	return account.IsActive && account.State.Status == tlb.AccountStatusActive, nil
}

// SendExternalMessage broadcasts a signed external message and returns the
// hex-encoded hash of the message cell.
func (s *FacilitatorSigner) SendExternalMessage(ctx context.Context, signedBoc string, network string) (string, error) {
	api, err := s.getAPI(ctx, network)
	if err != nil {
		return "", err
	}

	bocBytes, err := base64.StdEncoding.DecodeString(signedBoc)
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}

	msgCell, err := cell.FromBOC(bocBytes)
	if err != nil {
		return "", fmt.Errorf("invalid BOC: %w", err)
	}

	var ext tlb.ExternalMessage
	if err := tlb.LoadFromCell(&ext, msgCell.BeginParse()); err != nil {
		return "", fmt.Errorf("not an external message: %w", err)
	}

	if err := api.SendExternalMessage(ctx, &ext); err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	return hex.EncodeToString(msgCell.Hash()), nil
}

// WaitForTransaction polls the wallet seqno until it reaches the target or
// the timeout elapses.
func (s *FacilitatorSigner) WaitForTransaction(ctx context.Context, params tonmech.WaitForTransactionParams) (*tonmech.TransactionConfirmation, error) {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 60000
	}

	deadline := time.Now().Add(time.Duration(timeout) * time.Millisecond)

	for time.Now().Before(deadline) {
		currentSeqno, err := s.GetSeqno(ctx, params.Address, params.Network)
		if err == nil && currentSeqno >= params.Seqno {
			return &tonmech.TransactionConfirmation{Success: true}, nil
		}

		select {
		case <-ctx.Done():
			return &tonmech.TransactionConfirmation{
				Success: false,
				Error:   "context cancelled",
			}, nil
		case <-time.After(confirmPollInterval):
		}
	}

	return &tonmech.TransactionConfirmation{
		Success: false,
		Error:   "timeout waiting for transaction",
	}, nil
}
