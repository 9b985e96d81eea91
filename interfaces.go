package t402

import (
	"context"

	"github.com/t402-io/t402/types"
)

// MoneyParser converts a decimal amount to an AssetAmount for a network.
// Parsers are tried in registration order; a parser that cannot handle the
// conversion returns nil so the next one runs. The scheme's default
// conversion is always the final fallback.
type MoneyParser func(amount float64, network Network) (*AssetAmount, error)

// ============================================================================
// V1 Interfaces (Legacy - explicitly versioned)
// ============================================================================

// SchemeNetworkClientV1 is implemented by client-side V1 payment mechanisms
type SchemeNetworkClientV1 interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirementsV1) (types.PaymentPayloadV1, error)
}

// SchemeNetworkFacilitatorV1 is implemented by facilitator-side V1 payment mechanisms
type SchemeNetworkFacilitatorV1 interface {
	Scheme() string

	// CaipFamily returns the CAIP family pattern this facilitator supports,
	// e.g. "eip155:*" for EVM or "solana:*" for SVM. Used to group signers
	// in the supported response.
	CaipFamily() string

	// GetExtra returns mechanism-specific extra data for the supported kinds
	// endpoint, or nil when the mechanism has none (EVM). SVM mechanisms
	// return the fee payer address here.
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the signer addresses this facilitator uses on the
	// given network. Multiple addresses support rotation and load balancing.
	GetSigners(network Network) []string

	Verify(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*SettleResponse, error)
}

// Note: no SchemeNetworkServerV1; new resource servers speak V2 only and
// translate to v1 at the codec boundary when needed.

// ============================================================================
// V2 Interfaces (Current - default, no version suffix)
// ============================================================================

// SchemeNetworkClient is implemented by client-side payment mechanisms (V2).
// CreatePaymentPayload must not perform network I/O beyond what is needed to
// construct a signable message (fetching a blockhash, for example), and two
// calls with identical requirements must yield independently valid payloads.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error)
}

// SchemeNetworkServer is implemented by server-side payment mechanisms (V2)
type SchemeNetworkServer interface {
	Scheme() string
	ParsePrice(price Price, network Network) (AssetAmount, error)
	EnhancePaymentRequirements(
		ctx context.Context,
		requirements types.PaymentRequirements,
		supportedKind types.SupportedKind,
		extensions []string,
	) (types.PaymentRequirements, error)
}

// SchemeNetworkFacilitator is implemented by facilitator-side payment mechanisms (V2)
type SchemeNetworkFacilitator interface {
	Scheme() string

	// CaipFamily returns the CAIP family pattern this facilitator supports,
	// e.g. "eip155:*" for EVM or "solana:*" for SVM.
	CaipFamily() string

	// GetExtra returns mechanism-specific extra data for the supported kinds
	// endpoint, or nil when the mechanism has none.
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the signer addresses this facilitator uses on the
	// given network.
	GetSigners(network Network) []string

	// Verify checks the payload against the requirements with pure reads
	// only; it must never mutate chain state.
	Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error)

	// Settle broadcasts the payment on-chain and awaits confirmation.
	// At most one settlement attempt per call; callers must not retry
	// blindly since a failed broadcast may still land.
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error)
}

// ============================================================================
// FacilitatorClient Interface (Network Boundary - uses bytes)
// ============================================================================

// FacilitatorClient is the boundary between resource servers and a
// facilitator. It carries raw bytes so transports stay dialect-agnostic;
// version detection and routing happen on the facilitator side.
type FacilitatorClient interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)
}
