package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/types"
)

type stubSchemeClient struct {
	calls int
}

func (s *stubSchemeClient) Scheme() string { return "exact" }

func (s *stubSchemeClient) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error) {
	s.calls++
	return types.PaymentPayload{
		T402Version: t402.ProtocolVersion,
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}, nil
}

func newPayingClient(t *testing.T) (*t402HTTPClient, *stubSchemeClient) {
	t.Helper()
	stub := &stubSchemeClient{}
	core := t402.Newt402Client()
	core.Register("eip155:8453", stub)
	return Newt402HTTPClient(core), stub
}

func paymentRequiredFixture() t402.PaymentRequired {
	return t402.PaymentRequired{
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
}

func TestEncodePaymentSignatureHeader(t *testing.T) {
	client, _ := newPayingClient(t)

	t.Run("v2 payload uses the signature header", func(t *testing.T) {
		headers, err := client.EncodePaymentSignatureHeader([]byte(`{"t402Version":2,"payload":{}}`))
		require.NoError(t, err)
		require.Contains(t, headers, HeaderPaymentSignature)

		decoded, err := base64.StdEncoding.DecodeString(headers[HeaderPaymentSignature])
		require.NoError(t, err)
		assert.JSONEq(t, `{"t402Version":2,"payload":{}}`, string(decoded))
	})

	t.Run("v1 payload uses the legacy header", func(t *testing.T) {
		headers, err := client.EncodePaymentSignatureHeader([]byte(`{"t402Version":1,"scheme":"exact","payload":{}}`))
		require.NoError(t, err)
		assert.Contains(t, headers, HeaderLegacyPayment)
	})
}

func TestGetPaymentRequiredResponse(t *testing.T) {
	client, _ := newPayingClient(t)

	t.Run("from header", func(t *testing.T) {
		header := EncodePaymentRequiredHeader(paymentRequiredFixture())

		required, err := client.GetPaymentRequiredResponse(map[string]string{
			// Lowercase on purpose, lookup must be case-insensitive.
			"payment-required": header,
		}, nil)
		require.NoError(t, err)
		require.Len(t, required.Accepts, 1)
		assert.Equal(t, "eip155:8453", required.Accepts[0].Network)
	})

	t.Run("from v1 body", func(t *testing.T) {
		body, err := json.Marshal(t402.PaymentRequired{
			T402Version: t402.ProtocolVersionV1,
			Accepts:     paymentRequiredFixture().Accepts,
		})
		require.NoError(t, err)

		required, err := client.GetPaymentRequiredResponse(nil, body)
		require.NoError(t, err)
		assert.Equal(t, t402.ProtocolVersionV1, required.T402Version)
	})

	t.Run("nothing found", func(t *testing.T) {
		_, err := client.GetPaymentRequiredResponse(map[string]string{}, nil)
		assert.Error(t, err)
	})
}

func TestRoundTripperPaysAndRetries(t *testing.T) {
	var requests int
	var settledHeader string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++

		signature := r.Header.Get(HeaderPaymentSignature)
		if signature == "" {
			w.Header().Set(HeaderPaymentRequired, EncodePaymentRequiredHeader(paymentRequiredFixture()))
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}

		payload, err := ValidateAndDecodePaymentHeader(signature)
		require.NoError(t, err)
		assert.Equal(t, "0xsig", payload.Payload["signature"])
		assert.Equal(t, "eip155:8453", payload.Accepted.Network)

		w.Header().Set(HeaderPaymentResponse, EncodePaymentResponseHeader(t402.SettleResponse{
			Success:     true,
			Transaction: "0xTx",
			Network:     "eip155:8453",
		}))
		w.Write([]byte(`{"data":"premium"}`))
		settledHeader = HeaderPaymentResponse
	}))
	defer ts.Close()

	client, stub := newPayingClient(t)

	resp, err := client.GetWithPayment(context.Background(), ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, requests)
	assert.Equal(t, 1, stub.calls)
	assert.NotEmpty(t, settledHeader)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":"premium"}`, string(body))

	settle, err := client.GetPaymentSettleResponse(map[string]string{
		HeaderPaymentResponse: resp.Header.Get(HeaderPaymentResponse),
	})
	require.NoError(t, err)
	assert.True(t, settle.Success)
	assert.Equal(t, "0xTx", settle.Transaction)
}

func TestRoundTripperPassesThroughNon402(t *testing.T) {
	var requests int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("free"))
	}))
	defer ts.Close()

	client, stub := newPayingClient(t)

	resp, err := client.GetWithPayment(context.Background(), ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, requests)
	assert.Equal(t, 0, stub.calls)
}

func TestRoundTripperCannotFulfill(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required := paymentRequiredFixture()
		required.Accepts[0].Network = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
		w.Header().Set(HeaderPaymentRequired, EncodePaymentRequiredHeader(required))
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer ts.Close()

	client, _ := newPayingClient(t)

	_, err := client.GetWithPayment(context.Background(), ts.URL) //nolint:bodyclose // error path
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot fulfill")
}

func TestWrapClientPreservesTransport(t *testing.T) {
	client, _ := newPayingClient(t)

	base := &http.Client{}
	wrapped := WrapHTTPClientWithPayment(base, client)

	rt, ok := wrapped.Transport.(*PaymentRoundTripper)
	require.True(t, ok)
	assert.Equal(t, http.DefaultTransport, rt.Transport)
}
