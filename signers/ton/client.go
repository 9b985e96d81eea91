// Package ton provides ClientTonSigner and FacilitatorTonSigner
// implementations backed by tonutils-go lite client connections.
package ton

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	tonsdk "github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/jetton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"

	tonmech "github.com/t402-io/t402/mechanisms/ton"
)

// Global config URLs for the lite client connection pools
const (
	MainnetConfigURL = "https://ton.org/global.config.json"
	TestnetConfigURL = "https://ton-blockchain.github.io/testnet-global.config.json"
)

// jettonTransferOp is the TEP-74 transfer operation code
const jettonTransferOp = 0x0f8a7ea5

// ClientSigner implements tonmech.ClientTonSigner using a wallet derived
// from a seed phrase. It builds Jetton transfers and signs them as external
// messages without broadcasting; the facilitator broadcasts the BOC.
type ClientSigner struct {
	w   *wallet.Wallet
	api tonsdk.APIClientWrapped
}

// NewClientSignerFromSeed creates a client signer from a 24-word seed phrase.
// The network identifier selects the global config (mainnet or testnet).
func NewClientSignerFromSeed(ctx context.Context, seed []string, network string) (tonmech.ClientTonSigner, error) {
	config, err := tonmech.GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	configURL := MainnetConfigURL
	if config.CAIP2 == tonmech.TonTestnetCAIP2 {
		configURL = TestnetConfigURL
	}

	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, fmt.Errorf("failed to connect to lite servers: %w", err)
	}

	api := tonsdk.NewAPIClient(pool).WithRetry()

	w, err := wallet.FromSeed(api, seed, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("failed to derive wallet: %w", err)
	}

	return &ClientSigner{
		w:   w,
		api: api,
	}, nil
}

// Address returns the wallet address of the signer.
func (s *ClientSigner) Address() string {
	return s.w.WalletAddress().String()
}

// GetSeqno returns the wallet's current seqno. An undeployed wallet has
// seqno 0.
func (s *ClientSigner) GetSeqno(ctx context.Context) (int64, error) {
	return getSeqno(ctx, s.api, s.w.WalletAddress())
}

// SignMessage builds a Jetton transfer to the recipient's wallet and signs
// it as an external message, returning the base64-encoded BOC.
func (s *ClientSigner) SignMessage(ctx context.Context, params tonmech.SignMessageParams) (string, error) {
	destAddr, err := parseAddr(params.To)
	if err != nil {
		return "", fmt.Errorf("invalid destination address: %w", err)
	}

	masterAddr, err := parseAddr(params.JettonMaster)
	if err != nil {
		return "", fmt.Errorf("invalid jetton master address: %w", err)
	}

	jettonAmount, ok := new(big.Int).SetString(params.JettonAmount, 10)
	if !ok {
		return "", fmt.Errorf("invalid jetton amount: %s", params.JettonAmount)
	}

	queryId, err := strconv.ParseUint(params.QueryId, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid query id: %w", err)
	}

	// The transfer is sent to the sender's own Jetton wallet, which
	// forwards the tokens to the recipient's Jetton wallet
	master := jetton.NewJettonMasterClient(s.api, masterAddr)
	jettonWallet, err := master.GetJettonWallet(ctx, s.w.WalletAddress())
	if err != nil {
		return "", fmt.Errorf("failed to resolve jetton wallet: %w", err)
	}

	body := cell.BeginCell().
		MustStoreUInt(jettonTransferOp, 32).
		MustStoreUInt(queryId, 64).
		MustStoreBigCoins(jettonAmount).
		MustStoreAddr(destAddr).
		MustStoreAddr(s.w.WalletAddress()). // excess gas returns to sender
		MustStoreBoolBit(false).            // no custom payload
		MustStoreCoins(1).                  // forward amount for transfer notification
		MustStoreBoolBit(false).            // no forward payload
		EndCell()

	if params.Timeout > 0 {
		if spec, ok := s.w.GetSpec().(*wallet.SpecV4R2); ok {
			spec.SetMessagesTTL(uint32(params.Timeout))
		}
	}

	msg := wallet.SimpleMessage(jettonWallet.Address(), tlb.FromNanoTON(new(big.Int).SetUint64(params.TonAmount)), body)

	ext, err := s.w.BuildExternalMessageForMany(ctx, []*wallet.Message{msg})
	if err != nil {
		return "", fmt.Errorf("failed to build external message: %w", err)
	}

	extCell, err := tlb.ToCell(ext)
	if err != nil {
		return "", fmt.Errorf("failed to serialize message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(extCell.ToBOC()), nil
}

// getSeqno runs the seqno get method on a wallet contract. Execution errors
// mean the wallet is not deployed yet, which maps to seqno 0.
func getSeqno(ctx context.Context, api tonsdk.APIClientWrapped, addr *address.Address) (int64, error) {
	block, err := api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get masterchain info: %w", err)
	}

	res, err := api.RunGetMethod(ctx, block, addr, "seqno")
	if err != nil {
		var execErr tonsdk.ContractExecError
		if errors.As(err, &execErr) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get seqno: %w", err)
	}

	seqno, err := res.Int(0)
	if err != nil {
		return 0, fmt.Errorf("unexpected seqno result: %w", err)
	}

	return seqno.Int64(), nil
}

func parseAddr(s string) (*address.Address, error) {
	if strings.Contains(s, ":") {
		return address.ParseRawAddr(s)
	}
	return address.ParseAddr(s)
}
