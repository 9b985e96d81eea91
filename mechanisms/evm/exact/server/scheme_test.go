package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/mechanisms/evm"
	"github.com/t402-io/t402/types"
)

func defaultAsset(t *testing.T, network string) evm.AssetInfo {
	t.Helper()
	config, err := evm.GetNetworkConfig(network)
	require.NoError(t, err)
	return config.DefaultAsset
}

func TestParsePriceMoney(t *testing.T) {
	scheme := NewExactEvmScheme()
	usdc := defaultAsset(t, "eip155:84532")

	cases := []struct {
		name  string
		price t402.Price
		want  string
	}{
		{"dollar string", "$0.10", "100000"},
		{"plain string", "1.50", "1500000"},
		{"usd suffix", "2.25 USD", "2250000"},
		{"usdc suffix", "0.01 USDC", "10000"},
		{"float", 0.5, "500000"},
		{"int", 3, "3000000"},
		{"already smallest unit", "1000000", "1000000"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			result, err := scheme.ParsePrice(c.price, "eip155:84532")
			require.NoError(t, err)
			assert.Equal(t, c.want, result.Amount)
			assert.Equal(t, usdc.Address, result.Asset)
		})
	}
}

func TestParsePriceAssetAmountPassthrough(t *testing.T) {
	scheme := NewExactEvmScheme()

	result, err := scheme.ParsePrice(map[string]interface{}{
		"amount": "42000",
		"asset":  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		"extra":  map[string]interface{}{"token": "DAI"},
	}, "eip155:8453")
	require.NoError(t, err)
	assert.Equal(t, "42000", result.Amount)
	assert.Equal(t, "0x6B175474E89094C44Da98b954EedeAC495271d0F", result.Asset)
	assert.Equal(t, "DAI", result.Extra["token"])

	_, err = scheme.ParsePrice(map[string]interface{}{"amount": "42000"}, "eip155:8453")
	assert.Error(t, err, "AssetAmount without an asset address must be rejected")
}

func TestParsePriceCustomMoneyParser(t *testing.T) {
	scheme := NewExactEvmScheme()
	scheme.RegisterMoneyParser(func(amount float64, network t402.Network) (*t402.AssetAmount, error) {
		if amount > 100 {
			return &t402.AssetAmount{Amount: "override", Asset: "0xDAI"}, nil
		}
		return nil, nil
	})

	result, err := scheme.ParsePrice("$150.00", "eip155:8453")
	require.NoError(t, err)
	assert.Equal(t, "override", result.Amount)

	// Below the parser's threshold the default conversion applies.
	result, err = scheme.ParsePrice("$1.00", "eip155:8453")
	require.NoError(t, err)
	assert.Equal(t, "1000000", result.Amount)
}

func TestParsePriceUnsupportedNetwork(t *testing.T) {
	scheme := NewExactEvmScheme()
	_, err := scheme.ParsePrice("$1.00", "eip155:999999")
	require.Error(t, err)

	var paymentErr *t402.PaymentError
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, t402.ReasonNoDefaultAsset, paymentErr.Code)
}

func TestParsePriceInvalidFormatCode(t *testing.T) {
	scheme := NewExactEvmScheme()

	var paymentErr *t402.PaymentError

	_, err := scheme.ParsePrice("one dollar", "eip155:8453")
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, t402.ReasonInvalidPriceFormat, paymentErr.Code)

	_, err = scheme.ParsePrice([]string{"$1"}, "eip155:8453")
	require.ErrorAs(t, err, &paymentErr)
	assert.Equal(t, t402.ReasonInvalidPriceFormat, paymentErr.Code)
}

func TestEnhancePaymentRequirements(t *testing.T) {
	scheme := NewExactEvmScheme()
	usdc := defaultAsset(t, "eip155:8453")

	t.Run("fills default asset and EIP-712 metadata", func(t *testing.T) {
		enhanced, err := scheme.EnhancePaymentRequirements(context.Background(), types.PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:8453",
			Amount:  "10000",
			PayTo:   "0x1111111111111111111111111111111111111111",
		}, types.SupportedKind{}, nil)
		require.NoError(t, err)
		assert.Equal(t, usdc.Address, enhanced.Asset)
		assert.Equal(t, usdc.Name, enhanced.Extra["name"])
		assert.Equal(t, usdc.Version, enhanced.Extra["version"])
	})

	t.Run("converts decimal amounts to smallest unit", func(t *testing.T) {
		enhanced, err := scheme.EnhancePaymentRequirements(context.Background(), types.PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:8453",
			Amount:  "1.50",
			PayTo:   "0x1111111111111111111111111111111111111111",
		}, types.SupportedKind{}, nil)
		require.NoError(t, err)
		assert.Equal(t, "1500000", enhanced.Amount)
	})

	t.Run("keeps caller-specified extra values", func(t *testing.T) {
		enhanced, err := scheme.EnhancePaymentRequirements(context.Background(), types.PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:8453",
			Amount:  "10000",
			PayTo:   "0x1111111111111111111111111111111111111111",
			Extra:   map[string]interface{}{"name": "Custom Token"},
		}, types.SupportedKind{}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Custom Token", enhanced.Extra["name"])
	})

	t.Run("copies extension keys from the supported kind", func(t *testing.T) {
		enhanced, err := scheme.EnhancePaymentRequirements(context.Background(), types.PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:8453",
			Amount:  "10000",
			PayTo:   "0x1111111111111111111111111111111111111111",
		}, types.SupportedKind{
			Extra: map[string]interface{}{"feePayer": "0xFacilitator", "unrelated": true},
		}, []string{"feePayer"})
		require.NoError(t, err)
		assert.Equal(t, "0xFacilitator", enhanced.Extra["feePayer"])
		assert.NotContains(t, enhanced.Extra, "unrelated")
	})
}

func TestValidatePaymentRequirements(t *testing.T) {
	scheme := NewExactEvmScheme()

	valid := t402.PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:8453",
		Asset:   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Amount:  "10000",
		PayTo:   "0x1111111111111111111111111111111111111111",
	}
	assert.NoError(t, scheme.ValidatePaymentRequirements(valid))

	t.Run("bad network", func(t *testing.T) {
		r := valid
		r.Network = "eip155:999999"
		assert.Error(t, scheme.ValidatePaymentRequirements(r))
	})

	t.Run("bad payTo", func(t *testing.T) {
		r := valid
		r.PayTo = "not an address"
		assert.Error(t, scheme.ValidatePaymentRequirements(r))
	})

	t.Run("zero amount", func(t *testing.T) {
		r := valid
		r.Amount = "0"
		assert.Error(t, scheme.ValidatePaymentRequirements(r))
	})

	t.Run("symbol asset is accepted", func(t *testing.T) {
		r := valid
		r.Asset = "USDC"
		assert.NoError(t, scheme.ValidatePaymentRequirements(r))
	})

	t.Run("unknown symbol asset fails", func(t *testing.T) {
		r := valid
		r.Asset = "NOTATOKEN"
		assert.Error(t, scheme.ValidatePaymentRequirements(r))
	})
}

func TestTokenAmountConversions(t *testing.T) {
	scheme := NewExactEvmScheme()

	smallest, err := scheme.ConvertToTokenAmount("1.50", "eip155:8453")
	require.NoError(t, err)
	assert.Equal(t, "1500000", smallest)

	display, err := scheme.ConvertFromTokenAmount("1500000", "eip155:8453")
	require.NoError(t, err)
	assert.Equal(t, "1.5", display)

	formatted, err := scheme.GetDisplayAmount("100000", "eip155:8453", "")
	require.NoError(t, err)
	assert.Equal(t, "$0.1 USDC", formatted)
}
