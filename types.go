package t402

import (
	"encoding/json"

	"github.com/t402-io/t402/types"
)

// Price represents a price that can be specified in various formats:
// a human string ("$0.10"), a bare number, or a pre-resolved AssetAmount.
type Price interface{}

// AssetAmount represents an amount of a specific asset in its smallest unit
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// PartialPaymentPayload contains only t402Version for version detection
// before unmarshaling to a dialect-specific type.
type PartialPaymentPayload struct {
	T402Version int `json:"t402Version"`
}

// Re-export V2 types as the default in the t402 package. The wire shapes
// live in types/ so mechanisms can depend on them without importing the core.
type (
	PaymentRequirements = types.PaymentRequirements
	PaymentPayload      = types.PaymentPayload
	PaymentRequired     = types.PaymentRequired
	ResourceInfo        = types.ResourceInfo
	SupportedKind       = types.SupportedKind
	SupportedResponse   = types.SupportedResponse
)

// Re-export V1 types for legacy facilitator support
type (
	SupportedResponseV1 = types.SupportedResponseV1
)

// VerifyResponse contains the verification result. Verification never
// mutates chain state; an invalid payment is reported through InvalidReason.
// If verification cannot run at all, an error (typically *VerifyError) is
// returned and this is nil.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse contains the settlement result
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// ResourceConfig defines payment configuration for a protected resource
type ResourceConfig struct {
	Scheme            string  `json:"scheme"`
	PayTo             string  `json:"payTo"`
	Price             Price   `json:"price"`
	Network           Network `json:"network"`
	MaxTimeoutSeconds int     `json:"maxTimeoutSeconds,omitempty"`
}

// ============================================================================
// View Interfaces for Selectors/Policies/Hooks
// ============================================================================

// PaymentRequirementsView is the version-independent read interface over
// payment requirements; both dialects implement it.
type PaymentRequirementsView = types.PaymentRequirementsView

// PaymentPayloadView is the version-independent read interface over payment
// payloads; both dialects implement it.
type PaymentPayloadView = types.PaymentPayloadView

// PaymentRequirementsSelector chooses which payment option to use.
// Operates on the unified view so one selector serves both dialects.
type PaymentRequirementsSelector func(requirements []PaymentRequirementsView) PaymentRequirementsView

// PaymentPolicy filters or transforms payment requirements before selection
type PaymentPolicy func(requirements []PaymentRequirementsView) []PaymentRequirementsView

// DefaultPaymentSelector chooses the first available payment option.
// The accepts list is in server-preference order.
func DefaultPaymentSelector(requirements []PaymentRequirementsView) PaymentRequirementsView {
	if len(requirements) == 0 {
		panic("no payment requirements available")
	}
	return requirements[0]
}

// ============================================================================
// Utility Functions
// ============================================================================

// DeepEqual compares two values after JSON normalization. Used to check that
// the requirements a client echoes back match an entry the server offered.
func DeepEqual(a, b interface{}) bool {
	aJSON, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return false
	}

	var aNorm, bNorm interface{}
	if err := json.Unmarshal(aJSON, &aNorm); err != nil {
		return false
	}
	if err := json.Unmarshal(bJSON, &bNorm); err != nil {
		return false
	}

	aNormJSON, _ := json.Marshal(aNorm)
	bNormJSON, _ := json.Marshal(bNorm)

	return string(aNormJSON) == string(bNormJSON)
}

// toViews converts a slice of concrete requirement types to view interfaces
func toViews[T PaymentRequirementsView](reqs []T) []PaymentRequirementsView {
	views := make([]PaymentRequirementsView, len(reqs))
	for i, req := range reqs {
		views[i] = req
	}
	return views
}

// fromView converts a view interface back to its concrete type
func fromView[T PaymentRequirementsView](view PaymentRequirementsView) T {
	return view.(T)
}
