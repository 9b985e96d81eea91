package ton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usdtBounceable    = "EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs"
	usdtNonBounceable = "UQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_p0p"
	usdtRaw           = "0:b113a994b5024a16719f69139328eb759596c38a25f59028b146fecdc3621dfe"
)

func TestIsValidNetwork(t *testing.T) {
	assert.True(t, IsValidNetwork(TonMainnetCAIP2))
	assert.True(t, IsValidNetwork(TonTestnetCAIP2))
	assert.True(t, IsValidNetwork(TonMainnetV1))
	assert.True(t, IsValidNetwork(TonTestnetV1))
	assert.False(t, IsValidNetwork("ton:0"))
	assert.False(t, IsValidNetwork("eip155:8453"))
}

func TestGetAssetInfo(t *testing.T) {
	t.Run("empty asset resolves to USDT", func(t *testing.T) {
		info, err := GetAssetInfo(TonMainnetCAIP2, "")
		require.NoError(t, err)
		assert.Equal(t, "USDT", info.Symbol)
		assert.Equal(t, 6, info.Decimals)
	})

	t.Run("symbol lookup is case-insensitive", func(t *testing.T) {
		info, err := GetAssetInfo(TonMainnetCAIP2, "usdt")
		require.NoError(t, err)
		assert.Equal(t, usdtBounceable, info.MasterAddress)
	})

	t.Run("master address in another encoding still matches", func(t *testing.T) {
		info, err := GetAssetInfo(TonMainnetCAIP2, usdtNonBounceable)
		require.NoError(t, err)
		assert.Equal(t, "USDT", info.Symbol)
	})

	t.Run("unknown but valid address becomes generic Jetton", func(t *testing.T) {
		other := "EQAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAM9c"
		info, err := GetAssetInfo(TonMainnetCAIP2, other)
		require.NoError(t, err)
		assert.Equal(t, other, info.MasterAddress)
		assert.Equal(t, 6, info.Decimals)
	})

	t.Run("garbage asset fails", func(t *testing.T) {
		_, err := GetAssetInfo(TonMainnetCAIP2, "not an address")
		assert.Error(t, err)
	})
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int
		want     uint64
	}{
		{"1.50", 6, 1500000},
		{"0.10", 6, 100000},
		{"0.000001", 6, 1},
		{"100", 6, 100000000},
	}
	for _, c := range cases {
		got, err := ParseAmount(c.amount, c.decimals)
		require.NoError(t, err, "amount %s", c.amount)
		assert.Equal(t, c.want, got, "amount %s", c.amount)
	}

	_, err := ParseAmount("0.0000001", 6)
	assert.Error(t, err, "excess precision must be rejected")

	_, err = ParseAmount("-1", 6)
	assert.Error(t, err)

	_, err = ParseAmount("18446744073709551616", 0)
	assert.Error(t, err, "uint64 overflow must be rejected")
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.5", FormatAmount(1500000, 6))
	assert.Equal(t, "0.000001", FormatAmount(1, 6))
	assert.Equal(t, "0.05", FormatAmount(DefaultJettonTransferTon, 9))
}

func TestAddressesEqual(t *testing.T) {
	t.Run("same encoding", func(t *testing.T) {
		assert.True(t, AddressesEqual(usdtBounceable, usdtBounceable))
	})

	t.Run("bounceable vs non-bounceable", func(t *testing.T) {
		assert.True(t, AddressesEqual(usdtBounceable, usdtNonBounceable))
	})

	t.Run("friendly vs raw", func(t *testing.T) {
		assert.True(t, AddressesEqual(usdtBounceable, usdtRaw))
	})

	t.Run("different accounts", func(t *testing.T) {
		testnet := "kQD0GKBM8ZbryVk2aESmzfU6b9b_8era_IkvBSELujFZPsyy"
		assert.False(t, AddressesEqual(usdtBounceable, testnet))
	})

	t.Run("unparseable falls back to string equality", func(t *testing.T) {
		assert.True(t, AddressesEqual("garbage", "garbage"))
		assert.False(t, AddressesEqual("garbage", usdtBounceable))
	})
}

func TestValidateBoc(t *testing.T) {
	assert.Error(t, ValidateBoc(""))
	assert.Error(t, ValidateBoc("not base64!!!"))
	assert.Error(t, ValidateBoc("aGVsbG8="), "base64 of non-BOC bytes must fail")
}
