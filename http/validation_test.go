package http

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t402 "github.com/t402-io/t402"
)

func encodeHeader(t *testing.T, raw string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func TestDecodePaymentHeader(t *testing.T) {
	t.Run("valid envelope", func(t *testing.T) {
		decoded, err := DecodePaymentHeader(encodeHeader(t, `{"t402Version":2}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"t402Version":2}`, string(decoded))
	})

	t.Run("empty header", func(t *testing.T) {
		_, err := DecodePaymentHeader("")
		assert.True(t, IsMalformedHeaderError(err))
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := DecodePaymentHeader("!!!not base64!!!")
		assert.True(t, IsMalformedHeaderError(err))
	})

	t.Run("base64 of non-JSON", func(t *testing.T) {
		_, err := DecodePaymentHeader(encodeHeader(t, "just text"))
		assert.True(t, IsMalformedHeaderError(err))
	})
}

func TestValidateAndDecodePaymentHeader(t *testing.T) {
	valid := `{
		"t402Version": 2,
		"payload": {"signature": "0xsig"},
		"accepted": {"scheme":"exact","network":"eip155:8453","amount":"10000","payTo":"0xRecipient","asset":"0xUSDC"},
		"resource": {"url": "https://api.example.com/data"}
	}`

	t.Run("valid payload", func(t *testing.T) {
		payload, err := ValidateAndDecodePaymentHeader(encodeHeader(t, valid))
		require.NoError(t, err)
		assert.Equal(t, 2, payload.T402Version)
		assert.Equal(t, "exact", payload.Accepted.Scheme)
		assert.Equal(t, "0xsig", payload.Payload["signature"])
		require.NotNil(t, payload.Resource)
		assert.Equal(t, "https://api.example.com/data", payload.Resource.URL)
	})

	t.Run("missing accepted is invalid payload not malformed", func(t *testing.T) {
		_, err := ValidateAndDecodePaymentHeader(encodeHeader(t, `{"t402Version":2,"payload":{}}`))
		require.Error(t, err)
		assert.False(t, IsMalformedHeaderError(err))

		paymentErr, ok := err.(*t402.PaymentError)
		require.True(t, ok)
		assert.Equal(t, t402.ReasonInvalidPaymentPayload, paymentErr.Code)
	})

	t.Run("missing payload field", func(t *testing.T) {
		_, err := ValidateAndDecodePaymentHeader(encodeHeader(t, `{"t402Version":2,"accepted":{}}`))
		require.Error(t, err)
		assert.False(t, IsMalformedHeaderError(err))
	})

	t.Run("wrong field types", func(t *testing.T) {
		cases := []string{
			`{"t402Version":"two","accepted":{},"payload":{}}`,
			`{"t402Version":0,"accepted":{},"payload":{}}`,
			`{"t402Version":2,"accepted":"not an object","payload":{}}`,
			`{"t402Version":2,"accepted":{},"payload":"not an object"}`,
			`{"t402Version":2,"accepted":{},"payload":{},"resource":"not an object"}`,
			`{"t402Version":2,"accepted":{},"payload":{},"resource":{"url":42}}`,
		}
		for _, raw := range cases {
			_, err := ValidateAndDecodePaymentHeader(encodeHeader(t, raw))
			assert.Error(t, err, "payload %s should be rejected", raw)
			assert.False(t, IsMalformedHeaderError(err), "payload %s is structurally invalid, not malformed", raw)
		}
	})

	t.Run("garbage envelope stays malformed", func(t *testing.T) {
		_, err := ValidateAndDecodePaymentHeader("%%%")
		assert.True(t, IsMalformedHeaderError(err))
	})
}

func TestPaymentRequiredHeaderCodec(t *testing.T) {
	required := t402.PaymentRequired{
		T402Version: t402.ProtocolVersion,
		Error:       "payment required",
		Accepts: []t402.PaymentRequirements{
			{
				Scheme:            "exact",
				Network:           "eip155:8453",
				Asset:             "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				Amount:            "10000",
				PayTo:             "0xRecipient",
				MaxTimeoutSeconds: 300,
			},
		},
		Resource: &t402.ResourceInfo{URL: "https://api.example.com/data"},
	}

	header := EncodePaymentRequiredHeader(required)
	decoded, err := DecodePaymentRequiredHeader(header)
	require.NoError(t, err)

	assert.Equal(t, required.T402Version, decoded.T402Version)
	require.Len(t, decoded.Accepts, 1)
	assert.Equal(t, "10000", decoded.Accepts[0].Amount)
	require.NotNil(t, decoded.Resource)
	assert.Equal(t, required.Resource.URL, decoded.Resource.URL)

	_, err = DecodePaymentRequiredHeader("%%%")
	assert.Error(t, err)
}

func TestPaymentResponseHeaderCodec(t *testing.T) {
	response := t402.SettleResponse{
		Success:     true,
		Transaction: "0xabc123",
		Network:     "eip155:8453",
		Payer:       "0xPayer",
	}

	header := EncodePaymentResponseHeader(response)
	decoded, err := DecodePaymentResponseHeader(header)
	require.NoError(t, err)
	assert.True(t, decoded.Success)
	assert.Equal(t, "0xabc123", decoded.Transaction)

	_, err = DecodePaymentResponseHeader(encodeHeader(t, "not json"))
	assert.Error(t, err)
}
