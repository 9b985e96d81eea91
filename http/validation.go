package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/types"
)

// Base64 regex pattern, requires at least one character
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// malformedHeaderError reports a header that could not be decoded at all.
// Distinct from payload validation failures so transports can map it to a
// 400 with the malformed_payment_header code instead of a 402.
func malformedHeaderError(format string, args ...interface{}) error {
	return &t402.PaymentError{
		Code:    t402.ReasonMalformedPaymentHeader,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsMalformedHeaderError reports whether err came from header decoding
// rather than payload validation.
func IsMalformedHeaderError(err error) bool {
	if paymentErr, ok := err.(*t402.PaymentError); ok {
		return paymentErr.Code == t402.ReasonMalformedPaymentHeader
	}
	return false
}

// DecodePaymentHeader decodes a payment signature header into raw JSON
// bytes, checking only that the envelope is sound base64(JSON).
func DecodePaymentHeader(paymentHeader string) ([]byte, error) {
	if paymentHeader == "" {
		return nil, malformedHeaderError("payment header is empty")
	}

	if !base64Regex.MatchString(paymentHeader) {
		return nil, malformedHeaderError("invalid payment header format: not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(paymentHeader)
	if err != nil {
		return nil, malformedHeaderError("invalid payment header format: base64 decoding failed: %v", err)
	}

	if !json.Valid(decoded) {
		return nil, malformedHeaderError("invalid payment header format: not valid JSON")
	}

	return decoded, nil
}

// ValidateAndDecodePaymentHeader decodes a payment header and validates the
// payload structure. Envelope problems (base64, JSON) surface as
// malformed-header errors; structural problems as invalid-payload errors.
func ValidateAndDecodePaymentHeader(paymentHeader string) (*types.PaymentPayload, error) {
	decoded, err := DecodePaymentHeader(paymentHeader)
	if err != nil {
		return nil, err
	}

	var rawPayload map[string]interface{}
	if err := json.Unmarshal(decoded, &rawPayload); err != nil {
		return nil, malformedHeaderError("invalid payment header format: not valid JSON: %v", err)
	}

	if version, exists := rawPayload["t402Version"]; exists {
		if versionNum, ok := version.(float64); !ok {
			return nil, invalidPayloadError("invalid field type: t402Version must be a number")
		} else if int(versionNum) < 1 {
			return nil, invalidPayloadError("invalid value: t402Version must be at least 1")
		}
	}

	if _, exists := rawPayload["accepted"]; !exists {
		return nil, invalidPayloadError("missing required field: accepted")
	}
	if _, ok := rawPayload["accepted"].(map[string]interface{}); !ok {
		return nil, invalidPayloadError("invalid field type: accepted must be an object")
	}

	if _, exists := rawPayload["payload"]; !exists {
		return nil, invalidPayloadError("missing required field: payload")
	}
	if _, ok := rawPayload["payload"].(map[string]interface{}); !ok {
		return nil, invalidPayloadError("invalid field type: payload must be an object")
	}

	if resource, exists := rawPayload["resource"]; exists && resource != nil {
		resourceMap, ok := resource.(map[string]interface{})
		if !ok {
			return nil, invalidPayloadError("invalid field type: resource must be an object")
		}
		if url, exists := resourceMap["url"]; exists {
			if _, ok := url.(string); !ok {
				return nil, invalidPayloadError("invalid field type: resource.url must be a string")
			}
		}
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, invalidPayloadError("failed to parse payment payload: %v", err)
	}

	return &payload, nil
}

func invalidPayloadError(format string, args ...interface{}) error {
	return &t402.PaymentError{
		Code:    t402.ReasonInvalidPaymentPayload,
		Message: fmt.Sprintf(format, args...),
	}
}
