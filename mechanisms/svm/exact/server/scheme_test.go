package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/mechanisms/svm"
)

func mainnetUSDC(t *testing.T) string {
	t.Helper()
	config, err := svm.GetNetworkConfig(svm.SolanaMainnetCAIP2)
	require.NoError(t, err)
	return config.DefaultAsset.Address
}

func TestParsePriceMoney(t *testing.T) {
	scheme := NewExactSvmScheme()
	usdc := mainnetUSDC(t)

	cases := []struct {
		name  string
		price t402.Price
		want  string
	}{
		{"dollar string", "$0.10", "100000"},
		{"plain string", "1.50", "1500000"},
		{"usd suffix", "2.25 USD", "2250000"},
		{"float", 0.5, "500000"},
		{"int", 3, "3000000"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			result, err := scheme.ParsePrice(c.price, t402.Network(svm.SolanaMainnetCAIP2))
			require.NoError(t, err)
			assert.Equal(t, c.want, result.Amount)
			assert.Equal(t, usdc, result.Asset)
		})
	}
}

func TestParsePriceAssetAmount(t *testing.T) {
	scheme := NewExactSvmScheme()

	t.Run("explicit mint passes through", func(t *testing.T) {
		result, err := scheme.ParsePrice(map[string]interface{}{
			"amount": "42000",
			"asset":  "So11111111111111111111111111111111111111112",
		}, t402.Network(svm.SolanaMainnetCAIP2))
		require.NoError(t, err)
		assert.Equal(t, "42000", result.Amount)
		assert.Equal(t, "So11111111111111111111111111111111111111112", result.Asset)
	})

	t.Run("missing asset falls back to the network default", func(t *testing.T) {
		result, err := scheme.ParsePrice(map[string]interface{}{
			"amount": "42000",
		}, t402.Network(svm.SolanaMainnetCAIP2))
		require.NoError(t, err)
		assert.Equal(t, mainnetUSDC(t), result.Asset)
	})
}

func TestParsePriceCustomMoneyParser(t *testing.T) {
	scheme := NewExactSvmScheme()
	scheme.RegisterMoneyParser(func(amount float64, network t402.Network) (*t402.AssetAmount, error) {
		if amount >= 10 {
			return &t402.AssetAmount{Amount: "override", Asset: "BonkMint"}, nil
		}
		return nil, nil
	})

	result, err := scheme.ParsePrice("$25.00", t402.Network(svm.SolanaMainnetCAIP2))
	require.NoError(t, err)
	assert.Equal(t, "override", result.Amount)

	result, err = scheme.ParsePrice("$1.00", t402.Network(svm.SolanaMainnetCAIP2))
	require.NoError(t, err)
	assert.Equal(t, "1000000", result.Amount)
	assert.Equal(t, mainnetUSDC(t), result.Asset)
}

func TestParsePriceUnsupportedNetwork(t *testing.T) {
	scheme := NewExactSvmScheme()
	_, err := scheme.ParsePrice("$1.00", "solana:unknown")
	require.Error(t, err)

	var paymentErr *t402.PaymentError
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, t402.ReasonNoDefaultAsset, paymentErr.Code)
}

func TestParsePriceRejectsGarbage(t *testing.T) {
	scheme := NewExactSvmScheme()

	_, err := scheme.ParsePrice("one dollar", t402.Network(svm.SolanaMainnetCAIP2))
	require.Error(t, err)

	var paymentErr *t402.PaymentError
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, t402.ReasonInvalidPriceFormat, paymentErr.Code)

	_, err = scheme.ParsePrice([]string{"$1"}, t402.Network(svm.SolanaMainnetCAIP2))
	assert.Error(t, err)
}
