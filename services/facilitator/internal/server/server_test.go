package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t402 "github.com/t402-io/t402"
	"github.com/t402-io/t402/services/facilitator/internal/config"
)

type stubFacilitator struct {
	verifyResult *t402.VerifyResponse
	verifyErr    error
	settleResult *t402.SettleResponse
	settleErr    error
	supported    t402.SupportedResponse
}

func (f *stubFacilitator) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*t402.VerifyResponse, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifyResult, nil
}

func (f *stubFacilitator) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*t402.SettleResponse, error) {
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	return f.settleResult, nil
}

func (f *stubFacilitator) GetSupported() t402.SupportedResponse {
	return f.supported
}

func testConfig() *config.Config {
	return &config.Config{
		Port:               8080,
		Environment:        "development",
		RateLimitRequests:  1000,
		RateLimitWindow:    time.Minute,
		SettlementCacheTTL: 10 * time.Minute,
	}
}

func newTestServer(facilitator *stubFacilitator) *Server {
	return New(facilitator, nil, testConfig(), zerolog.Nop())
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func verifyBody() map[string]interface{} {
	return map[string]interface{}{
		"paymentPayload": map[string]interface{}{
			"t402Version": 2,
			"payload":     map[string]interface{}{"signature": "0xsig"},
			"accepted":    map[string]interface{}{"scheme": "exact", "network": "eip155:8453"},
		},
		"paymentRequirements": map[string]interface{}{
			"scheme":  "exact",
			"network": "eip155:8453",
			"amount":  "10000",
		},
	}
}

func TestHandleVerifySuccess(t *testing.T) {
	srv := newTestServer(&stubFacilitator{
		verifyResult: &t402.VerifyResponse{IsValid: true, Payer: "0xPayer"},
	})

	rec := postJSON(t, srv.Handler(), "/verify", verifyBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var result t402.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.IsValid)
	assert.Equal(t, "0xPayer", result.Payer)
}

func TestHandleVerifyInvalidPaymentIs200(t *testing.T) {
	srv := newTestServer(&stubFacilitator{
		verifyErr: &t402.VerifyError{
			Reason: t402.ReasonInsufficientBalance,
			Payer:  "0xPayer",
		},
	})

	rec := postJSON(t, srv.Handler(), "/verify", verifyBody())
	require.Equal(t, http.StatusOK, rec.Code, "a completed evaluation is not a transport error")

	var result t402.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.IsValid)
	assert.Equal(t, t402.ReasonInsufficientBalance, result.InvalidReason)
}

func TestHandleVerifyInternalErrorIs500(t *testing.T) {
	srv := newTestServer(&stubFacilitator{
		verifyErr: fmt.Errorf("rpc connection refused"),
	})

	rec := postJSON(t, srv.Handler(), "/verify", verifyBody())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleVerifyBadRequestBody(t *testing.T) {
	srv := newTestServer(&stubFacilitator{})

	req := httptest.NewRequest("POST", "/verify", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, srv.Handler(), "/verify", map[string]interface{}{
		"paymentPayload": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing paymentRequirements must be rejected")
}

func TestHandleSettleSuccess(t *testing.T) {
	srv := newTestServer(&stubFacilitator{
		settleResult: &t402.SettleResponse{
			Success:     true,
			Transaction: "0xTx",
			Network:     "eip155:8453",
			Payer:       "0xPayer",
		},
	})

	rec := postJSON(t, srv.Handler(), "/settle", verifyBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var result t402.SettleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "0xTx", result.Transaction)
}

func TestHandleSettleFailureCarriesTransaction(t *testing.T) {
	srv := newTestServer(&stubFacilitator{
		settleErr: &t402.SettleError{
			Reason:      "settlement_failed",
			Payer:       "0xPayer",
			Network:     "eip155:8453",
			Transaction: "0xBroadcastButReverted",
		},
	})

	rec := postJSON(t, srv.Handler(), "/settle", verifyBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var result t402.SettleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, "settlement_failed", result.ErrorReason)
	assert.Equal(t, "0xBroadcastButReverted", result.Transaction)
}

func TestHandleSupported(t *testing.T) {
	srv := newTestServer(&stubFacilitator{
		supported: t402.SupportedResponse{
			Kinds: []t402.SupportedKind{
				{T402Version: 2, Scheme: "exact", Network: "eip155:8453"},
			},
			Extensions: []string{"bazaar"},
		},
	})

	req := httptest.NewRequest("GET", "/supported", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var supported t402.SupportedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &supported))
	require.Len(t, supported.Kinds, 1)
	assert.Equal(t, "exact", supported.Kinds[0].Scheme)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(&stubFacilitator{})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Without redis the service is degraded but still ready.
	req = httptest.NewRequest("GET", "/ready", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestRequestIDPropagation(t *testing.T) {
	srv := newTestServer(&stubFacilitator{})

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "test-request-id", rec.Header().Get("X-Request-ID"))

	// Generated when absent.
	req = httptest.NewRequest("GET", "/health", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRateLimitEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRequests = 2
	srv := New(&stubFacilitator{supported: t402.SupportedResponse{}}, nil, cfg, zerolog.Nop())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/supported", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	req := httptest.NewRequest("GET", "/supported", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Health endpoints are exempt.
	req = httptest.NewRequest("GET", "/health", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&stubFacilitator{
		verifyResult: &t402.VerifyResponse{IsValid: true},
	})

	rec := postJSON(t, srv.Handler(), "/verify", verifyBody())
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "facilitator_verify_total")
}
