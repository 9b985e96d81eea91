package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	t402evm "github.com/t402-io/t402/mechanisms/evm"
)

const (
	// writeGasLimit bounds settlement transactions; an EIP-3009 transfer
	// uses well under this.
	writeGasLimit = 300000

	receiptPollAttempts = 30
	receiptPollInterval = 1 * time.Second
)

// FacilitatorSigner implements t402evm.FacilitatorEvmSigner using an ECDSA
// private key and an ethclient connection. It performs the on-chain reads
// used during verification and broadcasts settlement transactions.
type FacilitatorSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	client     *ethclient.Client
	chainID    *big.Int
}

// NewFacilitatorSigner creates a facilitator signer from a hex-encoded
// private key and an RPC endpoint. The chain ID is fetched once at
// construction.
func NewFacilitatorSigner(ctx context.Context, privateKeyHex string, rpcURL string) (*FacilitatorSigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &FacilitatorSigner{
		privateKey: privateKey,
		address:    address,
		client:     client,
		chainID:    chainID,
	}, nil
}

// GetAddresses returns the signer's addresses.
func (s *FacilitatorSigner) GetAddresses() []string {
	return []string{s.address.Hex()}
}

// GetChainID returns the chain ID of the connected network.
func (s *FacilitatorSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return s.chainID, nil
}

// VerifyTypedData verifies an EIP-712 signature by recovering the signer
// address from the digest and comparing it to the expected address.
func (s *FacilitatorSigner) VerifyTypedData(
	ctx context.Context,
	address string,
	domain t402evm.TypedDataDomain,
	types map[string][]t402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return false, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return false, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	digest := crypto.Keccak256(rawData)

	if len(signature) != 65 {
		return false, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	// Normalize v from 27/28 to the 0/1 recovery ID
	sigCopy := make([]byte, 65)
	copy(sigCopy, signature)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest, sigCopy)
	if err != nil {
		return false, fmt.Errorf("failed to recover public key: %w", err)
	}

	recoveredAddr := crypto.PubkeyToAddress(*pubKey)
	expectedAddr := common.HexToAddress(address)

	return bytes.Equal(recoveredAddr.Bytes(), expectedAddr.Bytes()), nil
}

// ReadContract reads data from a smart contract.
func (s *FacilitatorSigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}

	result, err := s.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}

	// Some RPC nodes return empty data for reverting eth_call; map the
	// common read methods to safe zero values.
	if len(result) == 0 {
		if functionName == "authorizationState" {
			return false, nil
		}
		if functionName == "balanceOf" || functionName == "allowance" {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("empty result from contract call")
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	if len(outputs) == 0 {
		return nil, nil
	}
	return outputs[0], nil
}

// WriteContract executes a smart contract transaction and returns its hash.
func (s *FacilitatorSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack method call: %w", err)
	}

	return s.sendTransaction(ctx, common.HexToAddress(contractAddress), data)
}

// SendTransaction sends a transaction with pre-encoded calldata. Used for
// smart wallet deployment where the calldata is built by the caller.
func (s *FacilitatorSigner) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	return s.sendTransaction(ctx, common.HexToAddress(to), data)
}

func (s *FacilitatorSigner) sendTransaction(ctx context.Context, to common.Address, data []byte) (string, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), writeGasLimit, gasPrice, data)

	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls for the receipt of a transaction.
func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*t402evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)

	for i := 0; i < receiptPollAttempts; i++ {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return &t402evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}

	return nil, fmt.Errorf("transaction receipt not found after %d attempts", receiptPollAttempts)
}

// GetBalance returns the balance of an address. An empty or zero token
// address means the native balance; anything else is read via balanceOf.
func (s *FacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if tokenAddress == "" || tokenAddress == "0x0000000000000000000000000000000000000000" {
		balance, err := s.client.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		return balance, nil
	}

	const erc20ABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

	result, err := s.ReadContract(ctx, tokenAddress, []byte(erc20ABI), "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}

	if balance, ok := result.(*big.Int); ok {
		return balance, nil
	}

	return nil, fmt.Errorf("unexpected balance type: %T", result)
}

// GetCode returns the bytecode at the given address. An EOA yields an
// empty slice.
func (s *FacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	code, err := s.client.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get code: %w", err)
	}
	return code, nil
}
