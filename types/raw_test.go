package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectVersion(t *testing.T) {
	t.Run("explicit v2", func(t *testing.T) {
		version, err := DetectVersion([]byte(`{"t402Version":2,"payload":{}}`))
		require.NoError(t, err)
		assert.Equal(t, 2, version)
	})

	t.Run("explicit v1", func(t *testing.T) {
		version, err := DetectVersion([]byte(`{"t402Version":1,"scheme":"exact"}`))
		require.NoError(t, err)
		assert.Equal(t, 1, version)
	})

	t.Run("missing field defaults to v1", func(t *testing.T) {
		version, err := DetectVersion([]byte(`{"scheme":"exact","network":"base"}`))
		require.NoError(t, err)
		assert.Equal(t, 1, version)
	})

	t.Run("version below 1 is invalid", func(t *testing.T) {
		_, err := DetectVersion([]byte(`{"t402Version":0}`))
		assert.Error(t, err)

		_, err = DetectVersion([]byte(`{"t402Version":-3}`))
		assert.Error(t, err)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := DetectVersion([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestExtractRequirementsInfo(t *testing.T) {
	t.Run("v2 shape", func(t *testing.T) {
		info, err := ExtractRequirementsInfo([]byte(`{"scheme":"exact","network":"eip155:8453","amount":"10000"}`))
		require.NoError(t, err)
		assert.Equal(t, "exact", info.Scheme)
		assert.Equal(t, "eip155:8453", info.Network)
	})

	t.Run("v1 shape", func(t *testing.T) {
		info, err := ExtractRequirementsInfo([]byte(`{"scheme":"exact","network":"base","maxAmountRequired":"10000"}`))
		require.NoError(t, err)
		assert.Equal(t, "exact", info.Scheme)
		assert.Equal(t, "base", info.Network)
	})
}

func TestToPaymentRequiredPartial(t *testing.T) {
	data := []byte(`{
		"t402Version": 2,
		"error": "payment required",
		"accepts": [
			{"scheme":"exact","network":"eip155:8453","amount":"10000"},
			{"scheme":"exact","network":"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp","amount":"10000"}
		],
		"resource": {"url":"https://api.example.com/data"},
		"extensions": {"bazaar": {}}
	}`)

	partial, err := ToPaymentRequiredPartial(data)
	require.NoError(t, err)
	assert.Equal(t, 2, partial.T402Version)
	assert.Equal(t, "payment required", partial.Error)
	require.Len(t, partial.Accepts, 2)

	// Accepts entries stay raw so each can be version-detected independently.
	info, err := ExtractRequirementsInfo(partial.Accepts[1])
	require.NoError(t, err)
	assert.Equal(t, "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", info.Network)

	assert.NotEmpty(t, partial.Resource)
	assert.NotEmpty(t, partial.Extensions)
}
