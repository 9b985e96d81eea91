package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/mechanisms/ton"
)

func TestParsePriceMoney(t *testing.T) {
	scheme := NewExactTonScheme()
	config, err := ton.GetNetworkConfig(ton.TonMainnetCAIP2)
	require.NoError(t, err)

	cases := []struct {
		name  string
		price t402.Price
		want  string
	}{
		{"dollar string", "$0.10", "100000"},
		{"plain string", "1.50", "1500000"},
		{"usdt suffix", "2.25 USDT", "2250000"},
		{"float", 0.5, "500000"},
		{"int", 3, "3000000"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			result, err := scheme.ParsePrice(c.price, t402.Network(ton.TonMainnetCAIP2))
			require.NoError(t, err)
			assert.Equal(t, c.want, result.Amount)
			assert.Equal(t, config.DefaultAsset.MasterAddress, result.Asset)
		})
	}
}

func TestParsePriceUnsupportedNetwork(t *testing.T) {
	scheme := NewExactTonScheme()
	_, err := scheme.ParsePrice("$1.00", "ton:unknown")
	require.Error(t, err)

	var paymentErr *t402.PaymentError
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, t402.ReasonNoDefaultAsset, paymentErr.Code)
}

func TestParsePriceInvalidFormatCode(t *testing.T) {
	scheme := NewExactTonScheme()

	var paymentErr *t402.PaymentError

	_, err := scheme.ParsePrice("one dollar", t402.Network(ton.TonMainnetCAIP2))
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, t402.ReasonInvalidPriceFormat, paymentErr.Code)

	_, err = scheme.ParsePrice([]string{"$1"}, t402.Network(ton.TonMainnetCAIP2))
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, t402.ReasonInvalidPriceFormat, paymentErr.Code)
}
