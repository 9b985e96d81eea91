package evm

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// erc6492Magic is the decoded form of ERC6492MagicValue.
var erc6492Magic = common.FromHex(ERC6492MagicValue)

// ParseERC6492Signature splits an ERC-6492 wrapped signature into its
// factory address, factory calldata, and inner signature. A signature
// without the magic suffix is returned unchanged as the inner signature.
func ParseERC6492Signature(signature []byte) (*ERC6492SignatureData, error) {
	data := &ERC6492SignatureData{InnerSignature: signature}

	if len(signature) < 32 || !bytes.Equal(signature[len(signature)-32:], erc6492Magic) {
		return data, nil
	}

	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		return nil, err
	}
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{
		{Type: addressType},
		{Type: bytesType},
		{Type: bytesType},
	}

	values, err := args.Unpack(signature[:len(signature)-32])
	if err != nil {
		return nil, fmt.Errorf("failed to decode ERC-6492 wrapper: %w", err)
	}

	factory, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected factory type in ERC-6492 wrapper")
	}
	factoryCalldata, ok := values[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected calldata type in ERC-6492 wrapper")
	}
	innerSignature, ok := values[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected signature type in ERC-6492 wrapper")
	}

	copy(data.Factory[:], factory[:])
	data.FactoryCalldata = factoryCalldata
	data.InnerSignature = innerSignature
	return data, nil
}

// VerifyUniversalSignature verifies a signature over hash for signerAddress,
// supporting EOA (ecrecover), deployed smart wallets (EIP-1271), and
// undeployed smart wallets (ERC-6492 via the UniversalSigValidator).
//
// The returned ERC6492SignatureData is non-nil when the signature carried an
// ERC-6492 wrapper; callers use it to deploy the wallet during settlement.
// allowUndeployed controls whether a wrapped signature for a not-yet-deployed
// wallet is accepted.
func VerifyUniversalSignature(
	ctx context.Context,
	facilitatorSigner FacilitatorEvmSigner,
	signerAddress string,
	hash [32]byte,
	signature []byte,
	allowUndeployed bool,
) (bool, *ERC6492SignatureData, error) {
	sigData, err := ParseERC6492Signature(signature)
	if err != nil {
		return false, nil, err
	}

	zeroFactory := [20]byte{}
	wrapped := sigData.Factory != zeroFactory

	code, err := facilitatorSigner.GetCode(ctx, signerAddress)
	if err != nil {
		return false, nil, err
	}

	switch {
	case len(code) > 0:
		// Deployed contract wallet: EIP-1271
		valid, err := verifyEIP1271Signature(ctx, facilitatorSigner, signerAddress, hash, sigData.InnerSignature)
		if wrapped {
			return valid, sigData, err
		}
		return valid, nil, err

	case wrapped:
		// Undeployed wallet with deployment info: validator simulates
		// deployment and checks EIP-1271 atomically
		if !allowUndeployed {
			return false, sigData, nil
		}
		valid, err := VerifyERC6492Signature(ctx, facilitatorSigner, signerAddress, hash, signature)
		return valid, sigData, err

	default:
		// EOA: recover and compare
		valid, err := verifyEOASignature(signerAddress, hash, sigData.InnerSignature)
		return valid, nil, err
	}
}

// verifyEOASignature recovers the signer from a 65-byte secp256k1 signature
// and compares it to the expected address.
func verifyEOASignature(signerAddress string, hash [32]byte, signature []byte) (bool, error) {
	if len(signature) != 65 {
		return false, fmt.Errorf("expected 65-byte signature, got %d bytes", len(signature))
	}

	// Normalize v from {27, 28} to {0, 1} for crypto.SigToPub
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return false, fmt.Errorf("failed to recover signer: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	return recovered == common.HexToAddress(signerAddress), nil
}

// VerifyERC6492Signature verifies an ERC-6492 counterfactual signature by calling the
// ERC-6492 UniversalSigValidator contract via eth_call (no state changes committed).
// The validator atomically simulates the factory deployment then verifies the inner
// signature using EIP-1271 isValidSignature on the resulting contract.
//
// Returns false (not an error) if the validator returns false.
// Returns false + error if the validator contract is unavailable or the call fails.
func VerifyERC6492Signature(
	ctx context.Context,
	facilitatorSigner FacilitatorEvmSigner,
	signerAddress string,
	hash [32]byte,
	signature []byte,
) (bool, error) {
	signerAddr := common.HexToAddress(signerAddress)
	result, err := facilitatorSigner.ReadContract(
		ctx,
		UniversalSigValidatorAddress,
		UniversalSigValidatorABI,
		"isValidSig",
		signerAddr,
		hash,
		signature,
	)
	if err != nil {
		return false, err
	}
	valid, ok := result.(bool)
	if !ok {
		return false, nil
	}
	return valid, nil
}

// verifyEIP1271Signature calls isValidSignature on a deployed contract wallet.
func verifyEIP1271Signature(
	ctx context.Context,
	facilitatorSigner FacilitatorEvmSigner,
	signerAddress string,
	hash [32]byte,
	signature []byte,
) (bool, error) {
	result, err := facilitatorSigner.ReadContract(
		ctx,
		signerAddress,
		EIP1271IsValidSignatureABI,
		"isValidSignature",
		hash,
		signature,
	)
	if err != nil {
		return false, err
	}

	var magic []byte
	switch v := result.(type) {
	case [4]byte:
		magic = v[:]
	case []byte:
		magic = v
	default:
		return false, fmt.Errorf("unexpected result type from isValidSignature")
	}

	return bytes.Equal(magic, common.FromHex(EIP1271MagicValue)), nil
}
