package types

import "encoding/json"

// Dialect adapters. v1 and v2 share a semantic core; the differences are
// field renames (maxAmountRequired vs amount) and nesting (resource fields
// inline in v1 requirements vs a separate resource object in v2).

// RequirementsV1ToV2 converts v1 requirements to the v2 shape
func RequirementsV1ToV2(r PaymentRequirementsV1) PaymentRequirements {
	return PaymentRequirements{
		Scheme:            r.Scheme,
		Network:           r.Network,
		Asset:             r.Asset,
		Amount:            r.MaxAmountRequired,
		PayTo:             r.PayTo,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Extra:             r.GetExtra(),
	}
}

// RequirementsV2ToV1 converts v2 requirements to the v1 shape. The v2
// resource descriptor, if present, fills the inline v1 resource fields.
func RequirementsV2ToV1(r PaymentRequirements, resource *ResourceInfo) PaymentRequirementsV1 {
	v1 := PaymentRequirementsV1{
		Scheme:            r.Scheme,
		Network:           r.Network,
		MaxAmountRequired: r.Amount,
		PayTo:             r.PayTo,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Asset:             r.Asset,
	}
	if resource != nil {
		v1.Resource = resource.URL
		v1.Description = resource.Description
		v1.MimeType = resource.MimeType
	}
	if len(r.Extra) > 0 {
		if extraJSON, err := json.Marshal(r.Extra); err == nil {
			raw := json.RawMessage(extraJSON)
			v1.Extra = &raw
		}
	}
	return v1
}

// PayloadV1ToV2 lifts a v1 payload into the v2 shape using the requirements
// the payment was made against.
func PayloadV1ToV2(p PaymentPayloadV1, requirements PaymentRequirements) PaymentPayload {
	return PaymentPayload{
		T402Version: p.T402Version,
		Payload:     p.Payload,
		Accepted:    requirements,
	}
}

// PayloadV2ToV1 flattens a v2 payload into the v1 shape
func PayloadV2ToV1(p PaymentPayload) PaymentPayloadV1 {
	return PaymentPayloadV1{
		T402Version: p.T402Version,
		Scheme:      p.Accepted.Scheme,
		Network:     p.Accepted.Network,
		Payload:     p.Payload,
	}
}
