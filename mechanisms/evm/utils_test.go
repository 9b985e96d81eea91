package evm

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidNetwork(t *testing.T) {
	assert.True(t, IsValidNetwork("eip155:8453"))
	assert.True(t, IsValidNetwork("eip155:84532"))
	// Legacy v1 nicknames resolve too.
	assert.True(t, IsValidNetwork("base"))
	assert.False(t, IsValidNetwork("eip155:999999"))
	assert.False(t, IsValidNetwork("solana:mainnet"))
}

func TestAddressHelpers(t *testing.T) {
	assert.True(t, IsValidAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))
	assert.False(t, IsValidAddress("0x123"))
	assert.False(t, IsValidAddress("not an address"))

	// Checksumming is idempotent and case-insensitive on input.
	lower := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	checksummed := NormalizeAddress(lower)
	assert.Equal(t, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", checksummed)
	assert.Equal(t, checksummed, NormalizeAddress(checksummed))
}

func TestGetEvmChainId(t *testing.T) {
	chainID, err := GetEvmChainId("eip155:8453")
	require.NoError(t, err)
	assert.Equal(t, int64(8453), chainID.Int64())

	chainID, err = GetEvmChainId("eip155:84532")
	require.NoError(t, err)
	assert.Equal(t, int64(84532), chainID.Int64())

	_, err = GetEvmChainId("eip155:0")
	assert.Error(t, err)
}

func TestGetAssetInfo(t *testing.T) {
	config, err := GetNetworkConfig("eip155:8453")
	require.NoError(t, err)

	t.Run("empty asset resolves to default", func(t *testing.T) {
		info, err := GetAssetInfo("eip155:8453", "")
		require.NoError(t, err)
		assert.Equal(t, config.DefaultAsset.Address, info.Address)
	})

	t.Run("symbol lookup is case-insensitive", func(t *testing.T) {
		info, err := GetAssetInfo("eip155:8453", "usdc")
		require.NoError(t, err)
		assert.Equal(t, config.DefaultAsset.Address, info.Address)
	})

	t.Run("address lookup is case-insensitive", func(t *testing.T) {
		info, err := GetAssetInfo("eip155:8453", config.DefaultAsset.Address)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultAsset.Name, info.Name)
	})

	t.Run("unknown address becomes generic token", func(t *testing.T) {
		info, err := GetAssetInfo("eip155:8453", "0x1111111111111111111111111111111111111111")
		require.NoError(t, err)
		assert.Equal(t, DefaultDecimals, info.Decimals)
		assert.Empty(t, info.Name)
	})

	t.Run("unknown symbol fails", func(t *testing.T) {
		_, err := GetAssetInfo("eip155:8453", "NOTATOKEN")
		assert.Error(t, err)
	})
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int
		want     string
	}{
		{"1.50", 6, "1500000"},
		{"0.10", 6, "100000"},
		{"0.000001", 6, "1"},
		{"100", 6, "100000000"},
		{"0", 6, "0"},
		{"1.5", 18, "1500000000000000000"},
	}
	for _, c := range cases {
		got, err := ParseAmount(c.amount, c.decimals)
		require.NoError(t, err, "amount %s", c.amount)
		assert.Equal(t, c.want, got.String(), "amount %s", c.amount)
	}

	t.Run("rejects excess precision", func(t *testing.T) {
		_, err := ParseAmount("0.0000001", 6)
		assert.Error(t, err)
	})

	t.Run("rejects negative", func(t *testing.T) {
		_, err := ParseAmount("-1", 6)
		assert.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseAmount("one dollar", 6)
		assert.Error(t, err)
	})
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.5", FormatAmount(big.NewInt(1500000), 6))
	assert.Equal(t, "0.000001", FormatAmount(big.NewInt(1), 6))
	assert.Equal(t, "100", FormatAmount(big.NewInt(100000000), 6))
}

func TestNonceGenerators(t *testing.T) {
	nonce1, err := CreateNonce()
	require.NoError(t, err)
	nonce2, err := CreateNonce()
	require.NoError(t, err)
	assert.Len(t, nonce1, 66)
	assert.NotEqual(t, nonce1, nonce2)

	p2nonce, err := CreatePermit2Nonce()
	require.NoError(t, err)
	_, ok := new(big.Int).SetString(p2nonce, 10)
	assert.True(t, ok, "permit2 nonce must be a decimal string")
}

func TestCreateValidityWindow(t *testing.T) {
	validAfter, validBefore := CreateValidityWindow(5 * time.Minute)

	// Backdated to tolerate clock skew, and open for the requested duration.
	assert.True(t, validAfter.Cmp(validBefore) < 0)
	window := new(big.Int).Sub(validBefore, validAfter)
	assert.Equal(t, int64(360), window.Int64())
}

func TestHexCodec(t *testing.T) {
	b, err := HexToBytes("0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)
	assert.Equal(t, "0xdeadbeef", BytesToHex(b))

	b, err = HexToBytes("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", BytesToHex(b))

	_, err = HexToBytes("0xabc")
	assert.Error(t, err)

	_, err = HexToBytes("0xzz")
	assert.Error(t, err)
}

func TestMaxUint256(t *testing.T) {
	max := MaxUint256()
	assert.Equal(t, 256, max.BitLen())

	overflow := new(big.Int).Add(max, big.NewInt(1))
	assert.Equal(t, 257, overflow.BitLen())
}
