package ton

import (
	"context"
	"fmt"
)

// ExactTonAuthorization carries the human-readable parameters of the signed
// Jetton transfer. The facilitator cross-checks them against the decoded BOC.
type ExactTonAuthorization struct {
	From         string `json:"from"`         // Sender wallet address
	To           string `json:"to"`           // Recipient wallet address
	JettonMaster string `json:"jettonMaster"` // Jetton master contract address
	JettonAmount string `json:"jettonAmount"` // Amount in smallest unit as decimal string
	TonAmount    string `json:"tonAmount"`    // Attached TON in nanotons as decimal string
	ValidUntil   int64  `json:"validUntil"`   // Unix timestamp the message expires at
	Seqno        int64  `json:"seqno"`        // Wallet seqno for replay protection
	QueryId      string `json:"queryId"`      // Unique Jetton transfer query id
}

// ExactTonPayload represents the exact payment payload for TON networks
type ExactTonPayload struct {
	SignedBoc     string                `json:"signedBoc"` // Base64 BOC of the signed external message
	Authorization ExactTonAuthorization `json:"authorization"`
}

// ToMap converts an ExactTonPayload to a map for JSON marshaling
func (p *ExactTonPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signedBoc": p.SignedBoc,
		"authorization": map[string]interface{}{
			"from":         p.Authorization.From,
			"to":           p.Authorization.To,
			"jettonMaster": p.Authorization.JettonMaster,
			"jettonAmount": p.Authorization.JettonAmount,
			"tonAmount":    p.Authorization.TonAmount,
			"validUntil":   p.Authorization.ValidUntil,
			"seqno":        p.Authorization.Seqno,
			"queryId":      p.Authorization.QueryId,
		},
	}
}

// PayloadFromMap creates an ExactTonPayload from a map
func PayloadFromMap(data map[string]interface{}) (*ExactTonPayload, error) {
	payload := &ExactTonPayload{}

	boc, ok := data["signedBoc"].(string)
	if !ok || boc == "" {
		return nil, fmt.Errorf("missing or invalid signedBoc field")
	}
	payload.SignedBoc = boc

	auth, ok := data["authorization"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid authorization field")
	}

	if from, ok := auth["from"].(string); ok {
		payload.Authorization.From = from
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.from field")
	}
	if to, ok := auth["to"].(string); ok {
		payload.Authorization.To = to
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.to field")
	}
	if master, ok := auth["jettonMaster"].(string); ok {
		payload.Authorization.JettonMaster = master
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.jettonMaster field")
	}
	if amount, ok := auth["jettonAmount"].(string); ok {
		payload.Authorization.JettonAmount = amount
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.jettonAmount field")
	}
	if tonAmount, ok := auth["tonAmount"].(string); ok {
		payload.Authorization.TonAmount = tonAmount
	}
	if queryId, ok := auth["queryId"].(string); ok {
		payload.Authorization.QueryId = queryId
	}

	// JSON numbers decode as float64
	switch v := auth["validUntil"].(type) {
	case float64:
		payload.Authorization.ValidUntil = int64(v)
	case int64:
		payload.Authorization.ValidUntil = v
	default:
		return nil, fmt.Errorf("missing or invalid authorization.validUntil field")
	}

	switch v := auth["seqno"].(type) {
	case float64:
		payload.Authorization.Seqno = int64(v)
	case int64:
		payload.Authorization.Seqno = v
	default:
		return nil, fmt.Errorf("missing or invalid authorization.seqno field")
	}

	return payload, nil
}

// ClientConfig holds optional client-side configuration
type ClientConfig struct {
	// APIURL overrides the network's default API endpoint
	APIURL string
}

// SignMessageParams are the parameters for building and signing a Jetton
// transfer external message.
type SignMessageParams struct {
	To           string // Recipient wallet address
	JettonMaster string // Jetton master contract address
	JettonAmount string // Amount in smallest unit
	TonAmount    uint64 // Attached TON in nanotons
	QueryId      string // Unique Jetton transfer query id
	Timeout      int64  // Message validity in seconds
}

// ClientTonSigner defines the interface for client-side TON signing operations
type ClientTonSigner interface {
	// Address returns the signer's wallet address
	Address() string

	// GetSeqno returns the wallet's current seqno
	GetSeqno(ctx context.Context) (int64, error)

	// SignMessage builds and signs a Jetton transfer external message,
	// returning the base64-encoded BOC
	SignMessage(ctx context.Context, params SignMessageParams) (string, error)
}

// ExpectedTransfer describes the Jetton transfer a signed BOC must contain
type ExpectedTransfer struct {
	JettonAmount string
	Destination  string
	JettonMaster string
}

// VerifyMessageParams are the parameters for structural BOC verification
type VerifyMessageParams struct {
	SignedBoc        string
	ExpectedFrom     string
	ExpectedTransfer ExpectedTransfer
	Network          string
}

// VerifyMessageResult is the outcome of structural BOC verification
type VerifyMessageResult struct {
	Valid  bool
	Reason string
}

// GetJettonBalanceParams are the parameters for a Jetton balance lookup
type GetJettonBalanceParams struct {
	OwnerAddress        string
	JettonMasterAddress string
	Network             string
}

// WaitForTransactionParams are the parameters for confirmation monitoring
type WaitForTransactionParams struct {
	Address string // Wallet address to monitor
	Seqno   int64  // Seqno to wait for
	Timeout int64  // Timeout in milliseconds
	Network string
}

// TransactionConfirmation is the outcome of confirmation monitoring
type TransactionConfirmation struct {
	Success bool
	Hash    string
	Error   string
}

// FacilitatorTonSigner defines the interface for facilitator TON operations
type FacilitatorTonSigner interface {
	// GetAddresses returns the wallet addresses available on the network
	GetAddresses(ctx context.Context, network string) []string

	// VerifyMessage checks the signed BOC's signature and that its Jetton
	// transfer matches the expected parameters
	VerifyMessage(ctx context.Context, params VerifyMessageParams) (*VerifyMessageResult, error)

	// GetJettonBalance returns the owner's Jetton balance in smallest units
	GetJettonBalance(ctx context.Context, params GetJettonBalanceParams) (string, error)

	// GetSeqno returns the current seqno of the given wallet
	GetSeqno(ctx context.Context, address string, network string) (int64, error)

	// IsDeployed reports whether the wallet contract is deployed
	IsDeployed(ctx context.Context, address string, network string) (bool, error)

	// SendExternalMessage broadcasts the signed BOC and returns the message hash
	SendExternalMessage(ctx context.Context, signedBoc string, network string) (string, error)

	// WaitForTransaction waits for the wallet's seqno to advance
	WaitForTransaction(ctx context.Context, params WaitForTransactionParams) (*TransactionConfirmation, error)
}

// AssetInfo contains information about a Jetton
type AssetInfo struct {
	MasterAddress string
	Symbol        string
	Name          string
	Decimals      int
}

// NetworkConfig contains network-specific configuration
type NetworkConfig struct {
	CAIP2           string
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo
}
