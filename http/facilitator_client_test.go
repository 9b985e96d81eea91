package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t402 "github.com/t402-io/t402"
)

type staticAuthProvider struct {
	headers AuthHeaders
}

func (p *staticAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	return p.headers, nil
}

func facilitatorBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestHTTPFacilitatorClientVerify(t *testing.T) {
	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/verify", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotBody = facilitatorBody(t, r)
		json.NewEncoder(w).Encode(t402.VerifyResponse{IsValid: true, Payer: "0xPayer"})
	}))
	defer ts.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: ts.URL})

	payload := []byte(`{"t402Version":2,"payload":{"signature":"0xsig"},"accepted":{"scheme":"exact","network":"eip155:8453"}}`)
	requirements := []byte(`{"scheme":"exact","network":"eip155:8453","amount":"10000"}`)

	result, err := client.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, "0xPayer", result.Payer)

	// The request carries both documents plus the detected version.
	assert.Equal(t, float64(2), gotBody["t402Version"])
	assert.NotNil(t, gotBody["paymentPayload"])
	assert.NotNil(t, gotBody["paymentRequirements"])
}

func TestHTTPFacilitatorClientVerifyV1Version(t *testing.T) {
	var gotVersion float64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = facilitatorBody(t, r)["t402Version"].(float64)
		json.NewEncoder(w).Encode(t402.VerifyResponse{IsValid: true})
	}))
	defer ts.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: ts.URL})

	// No t402Version field means a v1 peer.
	payload := []byte(`{"scheme":"exact","network":"base","payload":{"signature":"0xsig"}}`)
	requirements := []byte(`{"scheme":"exact","network":"base","maxAmountRequired":"10000"}`)

	_, err := client.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.Equal(t, float64(1), gotVersion)
}

func TestHTTPFacilitatorClientSettle(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settle", r.URL.Path)
		json.NewEncoder(w).Encode(t402.SettleResponse{
			Success:     true,
			Transaction: "0xTx",
			Network:     "eip155:8453",
		})
	}))
	defer ts.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: ts.URL})

	payload := []byte(`{"t402Version":2,"payload":{},"accepted":{"scheme":"exact","network":"eip155:8453"}}`)
	requirements := []byte(`{"scheme":"exact","network":"eip155:8453"}`)

	result, err := client.Settle(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "0xTx", result.Transaction)
}

func TestHTTPFacilitatorClientNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: ts.URL})

	payload := []byte(`{"t402Version":2,"payload":{},"accepted":{}}`)
	requirements := []byte(`{"scheme":"exact"}`)

	_, err := client.Verify(context.Background(), payload, requirements)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPFacilitatorClientGetSupported(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/supported", r.URL.Path)
		require.Equal(t, "GET", r.Method)
		json.NewEncoder(w).Encode(t402.SupportedResponse{
			Kinds: []t402.SupportedKind{
				{T402Version: 2, Scheme: "exact", Network: "eip155:8453"},
			},
			Extensions: []string{"bazaar"},
		})
	}))
	defer ts.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: ts.URL})

	supported, err := client.GetSupported(context.Background())
	require.NoError(t, err)
	require.Len(t, supported.Kinds, 1)
	assert.Equal(t, "exact", supported.Kinds[0].Scheme)
	assert.Equal(t, []string{"bazaar"}, supported.Extensions)
}

func TestHTTPFacilitatorClientAuthHeaders(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(t402.VerifyResponse{IsValid: true})
	}))
	defer ts.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{
		URL: ts.URL,
		AuthProvider: &staticAuthProvider{headers: AuthHeaders{
			Verify: map[string]string{"Authorization": "Bearer token"},
		}},
	})

	payload := []byte(`{"t402Version":2,"payload":{},"accepted":{}}`)
	requirements := []byte(`{"scheme":"exact"}`)

	_, err := client.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.Equal(t, "Bearer token", gotAuth)
}
