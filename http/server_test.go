package http

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/types"
)

// stubAdapter is a header-map backed HTTPAdapter
type stubAdapter struct {
	headers map[string]string
	method  string
	path    string
}

func (a *stubAdapter) GetHeader(name string) string { return a.headers[name] }
func (a *stubAdapter) GetMethod() string            { return a.method }
func (a *stubAdapter) GetPath() string              { return a.path }
func (a *stubAdapter) GetURL() string               { return "https://api.example.com" + a.path }
func (a *stubAdapter) GetAcceptHeader() string      { return "application/json" }
func (a *stubAdapter) GetUserAgent() string         { return "curl/8.0" }

// stubFacilitatorClient records the wire bytes it receives
type stubFacilitatorClient struct {
	supported    t402.SupportedResponse
	settleResult *t402.SettleResponse
	verifyCalls  int
	settleCalls  int
	lastPayload  []byte
}

func (f *stubFacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*t402.VerifyResponse, error) {
	f.verifyCalls++
	f.lastPayload = payloadBytes
	return &t402.VerifyResponse{IsValid: true, Payer: "0xPayer"}, nil
}

func (f *stubFacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*t402.SettleResponse, error) {
	f.settleCalls++
	if f.settleResult != nil {
		return f.settleResult, nil
	}
	return &t402.SettleResponse{Success: true, Transaction: "0xTx", Payer: "0xPayer", Network: "eip155:84532"}, nil
}

func (f *stubFacilitatorClient) GetSupported(ctx context.Context) (t402.SupportedResponse, error) {
	return f.supported, nil
}

type stubSchemeServer struct{}

func (s *stubSchemeServer) Scheme() string { return "exact" }

func (s *stubSchemeServer) ParsePrice(price t402.Price, network t402.Network) (t402.AssetAmount, error) {
	return t402.AssetAmount{
		Asset:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount: "100000",
	}, nil
}

func (s *stubSchemeServer) EnhancePaymentRequirements(
	ctx context.Context,
	requirements types.PaymentRequirements,
	supportedKind types.SupportedKind,
	extensions []string,
) (types.PaymentRequirements, error) {
	return requirements, nil
}

func newTestHTTPServer(t *testing.T, facilitator *stubFacilitatorClient) *t402HTTPResourceServer {
	t.Helper()
	routes := RoutesConfig{
		"GET /premium": {
			Accepts: PaymentOptions{
				{Scheme: "exact", PayTo: "0xRecipient", Price: "$0.10", Network: "eip155:84532"},
			},
			Description: "Premium data",
		},
	}
	server := Newt402HTTPResourceServer(routes,
		t402.WithFacilitatorClient(facilitator),
		t402.WithSchemeServer("eip155:84532", &stubSchemeServer{}),
	)
	require.NoError(t, server.Initialize(context.Background()))
	return server
}

func premiumRequest(headers map[string]string) HTTPRequestContext {
	if headers == nil {
		headers = map[string]string{}
	}
	adapter := &stubAdapter{headers: headers, method: "GET", path: "/premium"}
	return HTTPRequestContext{Adapter: adapter, Path: "/premium", Method: "GET"}
}

func supportedExact(network string) t402.SupportedResponse {
	return t402.SupportedResponse{
		Kinds: []t402.SupportedKind{
			{T402Version: t402.ProtocolVersion, Scheme: "exact", Network: network},
		},
	}
}

func TestProcessHTTPRequestLegacyPaymentHeader(t *testing.T) {
	facilitator := &stubFacilitatorClient{supported: supportedExact("eip155:84532")}
	server := newTestHTTPServer(t, facilitator)

	// A v1 client sends X-PAYMENT with a network nickname and no accepted
	// entry beyond scheme and network.
	raw := `{"t402Version":1,"scheme":"exact","network":"base-sepolia","payload":{"signature":"0xsig"}}`
	reqCtx := premiumRequest(map[string]string{
		HeaderLegacyPayment: encodeHeader(t, raw),
	})

	result := server.ProcessHTTPRequest(context.Background(), reqCtx, nil)
	require.Equal(t, ResultPaymentVerified, result.Type)
	assert.Equal(t, 1, facilitator.verifyCalls)

	// The matched offer supplies amount and recipient.
	require.NotNil(t, result.PaymentRequirements)
	assert.Equal(t, "100000", result.PaymentRequirements.Amount)
	assert.Equal(t, "0xRecipient", result.PaymentRequirements.PayTo)

	// The facilitator sees the v1 wire shape with a CAIP-2 network.
	var sent types.PaymentPayloadV1
	require.NoError(t, json.Unmarshal(facilitator.lastPayload, &sent))
	assert.Equal(t, "exact", sent.Scheme)
	assert.Equal(t, "eip155:84532", sent.Network)
}

func TestProcessHTTPRequestNoHeaderStill402(t *testing.T) {
	facilitator := &stubFacilitatorClient{supported: supportedExact("eip155:84532")}
	server := newTestHTTPServer(t, facilitator)

	result := server.ProcessHTTPRequest(context.Background(), premiumRequest(nil), nil)
	require.Equal(t, ResultPaymentError, result.Type)
	require.NotNil(t, result.Response)
	assert.Equal(t, 402, result.Response.Status)
	assert.NotEmpty(t, result.Response.Headers[HeaderPaymentRequired])
}

func verifiedPayment(t *testing.T, server *t402HTTPResourceServer) (types.PaymentPayload, types.PaymentRequirements) {
	t.Helper()
	requirements, err := server.BuildPaymentRequirementsFromOptions(context.Background(),
		PaymentOptions{{Scheme: "exact", PayTo: "0xRecipient", Price: "$0.10", Network: "eip155:84532"}},
		premiumRequest(nil))
	require.NoError(t, err)
	require.Len(t, requirements, 1)

	payload := types.PaymentPayload{
		T402Version: t402.ProtocolVersion,
		Accepted:    requirements[0],
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}
	return payload, requirements[0]
}

func TestProcessSettlementDeduplicates(t *testing.T) {
	facilitator := &stubFacilitatorClient{supported: supportedExact("eip155:84532")}
	server := newTestHTTPServer(t, facilitator)
	payload, requirements := verifiedPayment(t, server)

	first := server.ProcessSettlement(context.Background(), payload, requirements)
	require.True(t, first.Success)
	assert.Equal(t, "0xTx", first.Transaction)
	assert.NotEmpty(t, first.Headers[HeaderPaymentResponse])
	assert.Equal(t, 1, facilitator.settleCalls)

	// A retried request with the same signed payload replays the cached
	// settlement instead of broadcasting again.
	second := server.ProcessSettlement(context.Background(), payload, requirements)
	require.True(t, second.Success)
	assert.Equal(t, "0xTx", second.Transaction)
	assert.Equal(t, first.Headers[HeaderPaymentResponse], second.Headers[HeaderPaymentResponse])
	assert.Equal(t, 1, facilitator.settleCalls)
}

func TestProcessSettlementFailureNotCached(t *testing.T) {
	facilitator := &stubFacilitatorClient{
		supported:    supportedExact("eip155:84532"),
		settleResult: &t402.SettleResponse{Success: false, ErrorReason: t402.ReasonTransactionFailed},
	}
	server := newTestHTTPServer(t, facilitator)
	payload, requirements := verifiedPayment(t, server)

	first := server.ProcessSettlement(context.Background(), payload, requirements)
	require.False(t, first.Success)
	assert.Equal(t, t402.ReasonTransactionFailed, first.ErrorReason)

	// The failure is not remembered, so the retry reaches the facilitator
	// and can now succeed.
	facilitator.settleResult = nil
	second := server.ProcessSettlement(context.Background(), payload, requirements)
	require.True(t, second.Success)
	assert.Equal(t, 2, facilitator.settleCalls)
}

func TestCreateSettleFailureResponse(t *testing.T) {
	facilitator := &stubFacilitatorClient{supported: supportedExact("eip155:84532")}
	server := newTestHTTPServer(t, facilitator)

	t.Run("rebuilds the accepts list for the route", func(t *testing.T) {
		response := server.CreateSettleFailureResponse(context.Background(), premiumRequest(nil), t402.ReasonTransactionFailed)
		require.NotNil(t, response)
		assert.Equal(t, 402, response.Status)

		header := response.Headers[HeaderPaymentRequired]
		require.NotEmpty(t, header)
		required, err := DecodePaymentRequiredHeader(header)
		require.NoError(t, err)
		require.Len(t, required.Accepts, 1)
		assert.Equal(t, "100000", required.Accepts[0].Amount)
		assert.Equal(t, t402.ReasonTransactionFailed, required.Error)

		body, ok := response.Body.(types.PaymentRequired)
		require.True(t, ok)
		assert.Len(t, body.Accepts, 1)
	})

	t.Run("falls back to a bare 402 without a matching route", func(t *testing.T) {
		adapter := &stubAdapter{headers: map[string]string{}, method: "GET", path: "/free"}
		reqCtx := HTTPRequestContext{Adapter: adapter, Path: "/free", Method: "GET"}

		response := server.CreateSettleFailureResponse(context.Background(), reqCtx, "settlement failed")
		require.NotNil(t, response)
		assert.Equal(t, 402, response.Status)
		assert.Empty(t, response.Headers[HeaderPaymentRequired])
	})
}
