package types

// PaymentPayloadView gives version-independent read access to a payment
// payload. Both PaymentPayload (v2) and PaymentPayloadV1 implement it, so
// hook and logging code can inspect either dialect without branching.
type PaymentPayloadView interface {
	GetVersion() int
	GetScheme() string
	GetNetwork() string
	GetPayload() map[string]interface{}
}

// PaymentRequirementsView gives version-independent read access to payment
// requirements across dialects.
type PaymentRequirementsView interface {
	GetScheme() string
	GetNetwork() string
	GetAsset() string
	GetAmount() string
	GetPayTo() string
	GetMaxTimeoutSeconds() int
	GetExtra() map[string]interface{}
}
