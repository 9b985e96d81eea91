package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// eip712DomainFields is the canonical EIP712Domain type used when a caller
// does not supply one.
var eip712DomainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// HashTypedData computes the EIP-712 digest for a typed message:
// keccak256("\x19\x01" || domainSeparator || structHash). The result is what
// gets signed by wallets and recovered during verification.
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types, len(types)+1),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for name, fields := range types {
		converted := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			converted[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[name] = converted
	}
	if _, ok := typedData.Types["EIP712Domain"]; !ok {
		typedData.Types["EIP712Domain"] = eip712DomainFields
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	digest := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	digest = append(digest, 0x19, 0x01)
	digest = append(digest, domainSeparator...)
	digest = append(digest, structHash...)
	return crypto.Keccak256(digest), nil
}

// parseUint256 parses a decimal string into a big.Int for an EIP-712 uint256
// field, naming the field in the error.
func parseUint256(field, value string) (*big.Int, error) {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %s", field, value)
	}
	return parsed, nil
}

// HashEIP3009Authorization hashes a TransferWithAuthorization message under
// the token's EIP-712 domain, as verified by EIP-3009 tokens like USDC.
func HashEIP3009Authorization(
	authorization ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	value, err := parseUint256("authorization value", authorization.Value)
	if err != nil {
		return nil, err
	}
	validAfter, err := parseUint256("validAfter", authorization.ValidAfter)
	if err != nil {
		return nil, err
	}
	validBefore, err := parseUint256("validBefore", authorization.ValidBefore)
	if err != nil {
		return nil, err
	}
	nonceBytes, err := HexToBytes(authorization.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	domain := TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
	types := map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}

	// Addresses must be checksummed for the struct hash to match on-chain
	// verification.
	message := map[string]interface{}{
		"from":        common.HexToAddress(authorization.From).Hex(),
		"to":          common.HexToAddress(authorization.To).Hex(),
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}

	return HashTypedData(domain, types, "TransferWithAuthorization", message)
}

// HashPermit2Authorization hashes a PermitWitnessTransferFrom message with
// the payment witness under the canonical Permit2 domain.
func HashPermit2Authorization(
	authorization Permit2Authorization,
	chainID *big.Int,
) ([]byte, error) {
	amount, err := parseUint256("permitted amount", authorization.Permitted.Amount)
	if err != nil {
		return nil, err
	}
	nonce, err := parseUint256("nonce", authorization.Nonce)
	if err != nil {
		return nil, err
	}
	deadline, err := parseUint256("deadline", authorization.Deadline)
	if err != nil {
		return nil, err
	}
	validAfter, err := parseUint256("validAfter", authorization.Witness.ValidAfter)
	if err != nil {
		return nil, err
	}
	extraBytes, err := HexToBytes(authorization.Witness.Extra)
	if err != nil {
		return nil, fmt.Errorf("invalid witness extra: %w", err)
	}

	// Permit2 uses a fixed contract and domain name and no version.
	domain := TypedDataDomain{
		Name:              "Permit2",
		ChainID:           chainID,
		VerifyingContract: PERMIT2Address,
	}
	types := GetPermit2EIP712Types()

	message := map[string]interface{}{
		"permitted": map[string]interface{}{
			"token":  common.HexToAddress(authorization.Permitted.Token).Hex(),
			"amount": amount,
		},
		"spender":  common.HexToAddress(authorization.Spender).Hex(),
		"nonce":    nonce,
		"deadline": deadline,
		"witness": map[string]interface{}{
			"extra":      extraBytes,
			"to":         common.HexToAddress(authorization.Witness.To).Hex(),
			"validAfter": validAfter,
		},
	}

	return HashTypedData(domain, types, "PermitWitnessTransferFrom", message)
}
