package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequirementsV1ToV2(t *testing.T) {
	extra := json.RawMessage(`{"name":"USD Coin","decimals":6}`)
	v1 := PaymentRequirementsV1{
		Scheme:            "exact",
		Network:           "eip155:8453",
		MaxAmountRequired: "10000",
		Resource:          "https://api.example.com/data",
		PayTo:             "0xRecipient",
		MaxTimeoutSeconds: 300,
		Asset:             "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Extra:             &extra,
	}

	v2 := RequirementsV1ToV2(v1)
	assert.Equal(t, "exact", v2.Scheme)
	assert.Equal(t, "eip155:8453", v2.Network)
	assert.Equal(t, "10000", v2.Amount)
	assert.Equal(t, "0xRecipient", v2.PayTo)
	assert.Equal(t, 300, v2.MaxTimeoutSeconds)
	assert.Equal(t, "USD Coin", v2.Extra["name"])
}

func TestRequirementsV2ToV1(t *testing.T) {
	v2 := PaymentRequirements{
		Scheme:            "exact",
		Network:           "eip155:8453",
		Asset:             "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Amount:            "10000",
		PayTo:             "0xRecipient",
		MaxTimeoutSeconds: 300,
		Extra:             map[string]interface{}{"decimals": 6},
	}
	resource := &ResourceInfo{
		URL:         "https://api.example.com/data",
		Description: "Weather data",
		MimeType:    "application/json",
	}

	v1 := RequirementsV2ToV1(v2, resource)
	assert.Equal(t, "10000", v1.MaxAmountRequired)
	assert.Equal(t, "https://api.example.com/data", v1.Resource)
	assert.Equal(t, "Weather data", v1.Description)
	assert.Equal(t, "application/json", v1.MimeType)
	require.NotNil(t, v1.Extra)
	assert.JSONEq(t, `{"decimals":6}`, string(*v1.Extra))
}

func TestRequirementsV2ToV1NilResource(t *testing.T) {
	v1 := RequirementsV2ToV1(PaymentRequirements{Scheme: "exact", Amount: "1"}, nil)
	assert.Empty(t, v1.Resource)
	assert.Nil(t, v1.Extra)
}

func TestRequirementsRoundTrip(t *testing.T) {
	v1 := PaymentRequirementsV1{
		Scheme:            "exact",
		Network:           "eip155:8453",
		MaxAmountRequired: "10000",
		PayTo:             "0xRecipient",
		MaxTimeoutSeconds: 60,
		Asset:             "0xUSDC",
	}

	back := RequirementsV2ToV1(RequirementsV1ToV2(v1), nil)
	assert.Equal(t, v1.Scheme, back.Scheme)
	assert.Equal(t, v1.Network, back.Network)
	assert.Equal(t, v1.MaxAmountRequired, back.MaxAmountRequired)
	assert.Equal(t, v1.PayTo, back.PayTo)
	assert.Equal(t, v1.MaxTimeoutSeconds, back.MaxTimeoutSeconds)
	assert.Equal(t, v1.Asset, back.Asset)
}

func TestPayloadV1ToV2(t *testing.T) {
	v1 := PaymentPayloadV1{
		T402Version: 1,
		Scheme:      "exact",
		Network:     "eip155:8453",
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}
	requirements := PaymentRequirements{Scheme: "exact", Network: "eip155:8453", Amount: "10000"}

	v2 := PayloadV1ToV2(v1, requirements)
	assert.Equal(t, 1, v2.T402Version)
	assert.Equal(t, "0xsig", v2.Payload["signature"])
	assert.Equal(t, requirements, v2.Accepted)
	assert.Equal(t, "exact", v2.GetScheme())
	assert.Equal(t, "eip155:8453", v2.GetNetwork())
}

func TestPayloadV2ToV1(t *testing.T) {
	v2 := PaymentPayload{
		T402Version: 2,
		Payload:     map[string]interface{}{"signature": "0xsig"},
		Accepted:    PaymentRequirements{Scheme: "exact", Network: "eip155:8453"},
	}

	v1 := PayloadV2ToV1(v2)
	assert.Equal(t, "exact", v1.Scheme)
	assert.Equal(t, "eip155:8453", v1.Network)
	assert.Equal(t, "0xsig", v1.Payload["signature"])
}

func TestViewsOverDialects(t *testing.T) {
	var views []PaymentRequirementsView

	views = append(views, PaymentRequirementsV1{
		Scheme:            "exact",
		Network:           "base",
		MaxAmountRequired: "500",
	})
	views = append(views, PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:8453",
		Amount:  "500",
	})

	for _, view := range views {
		assert.Equal(t, "exact", view.GetScheme())
		assert.Equal(t, "500", view.GetAmount())
	}
}
