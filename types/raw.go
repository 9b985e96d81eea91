package types

import (
	"encoding/json"
	"fmt"
)

// DetectVersion extracts t402Version from JSON bytes. Messages that omit the
// field are treated as v1 for backward compatibility with pre-versioned
// clients; an explicit version below 1 is invalid.
func DetectVersion(data []byte) (int, error) {
	var detector struct {
		T402Version *int `json:"t402Version"`
	}
	if err := json.Unmarshal(data, &detector); err != nil {
		return 0, fmt.Errorf("failed to detect version: %w", err)
	}
	if detector.T402Version == nil {
		return 1, nil
	}
	if *detector.T402Version < 1 {
		return 0, fmt.Errorf("invalid version: %d", *detector.T402Version)
	}
	return *detector.T402Version, nil
}

// RequirementsInfo is minimal info extracted from requirements for routing
type RequirementsInfo struct {
	Scheme  string
	Network string
}

// ExtractRequirementsInfo gets scheme and network from requirements bytes.
// Works for both v1 and v2, which keep scheme/network at the top level.
func ExtractRequirementsInfo(data []byte) (*RequirementsInfo, error) {
	var info struct {
		Scheme  string `json:"scheme"`
		Network string `json:"network"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &RequirementsInfo{
		Scheme:  info.Scheme,
		Network: info.Network,
	}, nil
}

// PayloadBase is the minimal payload structure (version + payload field only)
// returned by v2 mechanism clients before the core wraps it.
type PayloadBase struct {
	T402Version int                    `json:"t402Version"`
	Payload     map[string]interface{} `json:"payload"`
}

// ToPayloadBase unmarshals just version and payload field
func ToPayloadBase(data []byte) (*PayloadBase, error) {
	var base PayloadBase
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}
	return &base, nil
}

// PaymentRequiredPartial keeps accepts entries as raw bytes so callers can
// detect the version before committing to a dialect shape.
type PaymentRequiredPartial struct {
	T402Version int               `json:"t402Version"`
	Error       string            `json:"error,omitempty"`
	Accepts     []json.RawMessage `json:"accepts"`
	Resource    json.RawMessage   `json:"resource,omitempty"`
	Extensions  json.RawMessage   `json:"extensions,omitempty"`
}

// ToPaymentRequiredPartial unmarshals PaymentRequired keeping accepts as raw bytes
func ToPaymentRequiredPartial(data []byte) (*PaymentRequiredPartial, error) {
	var required PaymentRequiredPartial
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, err
	}
	return &required, nil
}
