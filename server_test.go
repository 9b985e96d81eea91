package t402

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/t402-io/t402/types"
)

// mockFacilitatorClient implements FacilitatorClient for resource server tests
type mockFacilitatorClient struct {
	supported            SupportedResponse
	verifyResult         *VerifyResponse
	verifyErr            error
	settleResult         *SettleResponse
	settleErr            error
	verifyCalls          int
	settleCalls          int
	lastPayloadBytes     []byte
	lastRequirementsByte []byte
}

func (m *mockFacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error) {
	m.verifyCalls++
	m.lastPayloadBytes = payloadBytes
	m.lastRequirementsByte = requirementsBytes
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	if m.verifyResult != nil {
		return m.verifyResult, nil
	}
	return &VerifyResponse{IsValid: true, Payer: "0xPayer"}, nil
}

func (m *mockFacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error) {
	m.settleCalls++
	if m.settleErr != nil {
		return nil, m.settleErr
	}
	if m.settleResult != nil {
		return m.settleResult, nil
	}
	return &SettleResponse{Success: true, Transaction: "0xTx", Payer: "0xPayer", Network: "eip155:8453"}, nil
}

func (m *mockFacilitatorClient) GetSupported(ctx context.Context) (SupportedResponse, error) {
	return m.supported, nil
}

// mockSchemeServer implements SchemeNetworkServer with a fixed asset/amount
type mockSchemeServer struct {
	scheme string
	asset  string
	amount string
}

func (m *mockSchemeServer) Scheme() string { return m.scheme }

func (m *mockSchemeServer) ParsePrice(price Price, network Network) (AssetAmount, error) {
	return AssetAmount{Asset: m.asset, Amount: m.amount}, nil
}

func (m *mockSchemeServer) EnhancePaymentRequirements(
	ctx context.Context,
	requirements types.PaymentRequirements,
	supportedKind types.SupportedKind,
	extensions []string,
) (types.PaymentRequirements, error) {
	return requirements, nil
}

func exactSupported(networks ...string) SupportedResponse {
	kinds := make([]SupportedKind, 0, len(networks))
	for _, network := range networks {
		kinds = append(kinds, SupportedKind{
			T402Version: ProtocolVersion,
			Scheme:      "exact",
			Network:     network,
		})
	}
	return SupportedResponse{Kinds: kinds, Extensions: []string{}, Signers: map[string][]string{}}
}

func newTestResourceServer(t *testing.T, facilitator FacilitatorClient) *t402ResourceServer {
	t.Helper()
	server := Newt402ResourceServer(
		WithFacilitatorClient(facilitator),
		WithSchemeServer("eip155:8453", &mockSchemeServer{
			scheme: "exact",
			asset:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			amount: "100000",
		}),
	)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return server
}

func testResourceConfig() ResourceConfig {
	return ResourceConfig{
		Scheme:  "exact",
		PayTo:   "0xRecipient",
		Price:   "$0.10",
		Network: "eip155:8453",
	}
}

func TestBuildPaymentRequirementsFromConfig(t *testing.T) {
	server := newTestResourceServer(t, &mockFacilitatorClient{supported: exactSupported("eip155:8453")})

	accepts, err := server.BuildPaymentRequirementsFromConfig(context.Background(), testResourceConfig())
	if err != nil {
		t.Fatalf("BuildPaymentRequirementsFromConfig failed: %v", err)
	}
	if len(accepts) != 1 {
		t.Fatalf("expected 1 requirement, got %d", len(accepts))
	}

	req := accepts[0]
	if req.Scheme != "exact" || req.Network != "eip155:8453" {
		t.Errorf("unexpected scheme/network: %s/%s", req.Scheme, req.Network)
	}
	if req.Amount != "100000" {
		t.Errorf("expected parsed amount 100000, got %s", req.Amount)
	}
	if req.MaxTimeoutSeconds != DefaultMaxTimeoutSeconds {
		t.Errorf("expected default timeout %d, got %d", DefaultMaxTimeoutSeconds, req.MaxTimeoutSeconds)
	}
}

func TestBuildPaymentRequirementsUnsupportedScheme(t *testing.T) {
	server := newTestResourceServer(t, &mockFacilitatorClient{supported: exactSupported("eip155:8453")})

	config := testResourceConfig()
	config.Network = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"

	_, err := server.BuildPaymentRequirementsFromConfig(context.Background(), config)
	if err == nil {
		t.Fatal("expected error for network with no scheme server")
	}
}

func TestFindMatchingRequirements(t *testing.T) {
	server := Newt402ResourceServer()

	offered := []types.PaymentRequirements{
		{Scheme: "exact", Network: "eip155:8453", Asset: "0xUSDC", Amount: "100000", PayTo: "0xRecipient"},
	}

	payload := types.PaymentPayload{
		T402Version: ProtocolVersion,
		Accepted:    offered[0],
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	if matched := server.FindMatchingRequirements(offered, payload); matched == nil {
		t.Fatal("expected a match for an echoed offer")
	}

	// A tampered amount must not match anything the server offered.
	payload.Accepted.Amount = "1"
	if matched := server.FindMatchingRequirements(offered, payload); matched != nil {
		t.Fatal("tampered requirements must not match")
	}
}

func TestFindMatchingRequirementsLegacyPayload(t *testing.T) {
	server := Newt402ResourceServer()

	offered := []types.PaymentRequirements{
		{Scheme: "exact", Network: "eip155:84532", Asset: "0xUSDC", Amount: "100000", PayTo: "0xRecipient"},
	}

	// A v1 payload only names its scheme and network, by nickname.
	payload := types.PaymentPayload{
		T402Version: ProtocolVersionV1,
		Accepted:    types.PaymentRequirements{Scheme: "exact", Network: "base-sepolia"},
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	matched := server.FindMatchingRequirements(offered, payload)
	if matched == nil {
		t.Fatal("expected a legacy payload to match on scheme and network")
	}
	if matched.Amount != "100000" || matched.PayTo != "0xRecipient" {
		t.Errorf("expected the offer to supply amount and recipient, got %+v", matched)
	}

	payload.Accepted.Network = "base"
	if matched := server.FindMatchingRequirements(offered, payload); matched != nil {
		t.Fatal("a different network must not match")
	}

	payload.Accepted.Network = "not-a-network"
	if matched := server.FindMatchingRequirements(offered, payload); matched != nil {
		t.Fatal("an unknown network nickname must not match")
	}
}

func TestVerifyPaymentLegacyDialect(t *testing.T) {
	facilitator := &mockFacilitatorClient{supported: exactSupported("eip155:8453")}
	server := newTestResourceServer(t, facilitator)

	requirements := types.PaymentRequirements{
		Scheme: "exact", Network: "eip155:8453",
		Asset: "0xUSDC", Amount: "100000", PayTo: "0xRecipient",
	}
	payload := types.PaymentPayload{
		T402Version: ProtocolVersionV1,
		Accepted:    types.PaymentRequirements{Scheme: "exact", Network: "base"},
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	result, err := server.VerifyPayment(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("VerifyPayment failed: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected valid result, got %+v", result)
	}

	// The facilitator must receive the v1 wire shape it routes on.
	var sentPayload types.PaymentPayloadV1
	if err := json.Unmarshal(facilitator.lastPayloadBytes, &sentPayload); err != nil {
		t.Fatalf("unmarshal sent payload: %v", err)
	}
	if sentPayload.Scheme != "exact" || sentPayload.Network != "eip155:8453" {
		t.Errorf("expected top-level scheme/network in CAIP-2 form, got %s/%s", sentPayload.Scheme, sentPayload.Network)
	}

	var sentRequirements types.PaymentRequirementsV1
	if err := json.Unmarshal(facilitator.lastRequirementsByte, &sentRequirements); err != nil {
		t.Fatalf("unmarshal sent requirements: %v", err)
	}
	if sentRequirements.MaxAmountRequired != "100000" {
		t.Errorf("expected maxAmountRequired 100000, got %s", sentRequirements.MaxAmountRequired)
	}
}

func TestVerifyPaymentRoutesThroughFacilitator(t *testing.T) {
	facilitator := &mockFacilitatorClient{supported: exactSupported("eip155:8453")}
	server := newTestResourceServer(t, facilitator)

	requirements := types.PaymentRequirements{
		Scheme: "exact", Network: "eip155:8453",
		Asset: "0xUSDC", Amount: "100000", PayTo: "0xRecipient",
	}
	payload := types.PaymentPayload{
		T402Version: ProtocolVersion,
		Accepted:    requirements,
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	result, err := server.VerifyPayment(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("VerifyPayment failed: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected valid result, got %+v", result)
	}
	if facilitator.verifyCalls != 1 {
		t.Errorf("expected 1 facilitator verify call, got %d", facilitator.verifyCalls)
	}
}

func TestVerifyPaymentNoFacilitator(t *testing.T) {
	server := Newt402ResourceServer()

	requirements := types.PaymentRequirements{
		Scheme: "exact", Network: "eip155:8453",
		Asset: "0xUSDC", Amount: "100000", PayTo: "0xRecipient",
	}
	payload := types.PaymentPayload{
		T402Version: ProtocolVersion,
		Accepted:    requirements,
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	_, err := server.VerifyPayment(context.Background(), payload, requirements)
	if err == nil {
		t.Fatal("expected error with no bound facilitator")
	}
}

func TestSettlePaymentRoutesThroughFacilitator(t *testing.T) {
	facilitator := &mockFacilitatorClient{supported: exactSupported("eip155:8453")}
	server := newTestResourceServer(t, facilitator)

	requirements := types.PaymentRequirements{
		Scheme: "exact", Network: "eip155:8453",
		Asset: "0xUSDC", Amount: "100000", PayTo: "0xRecipient",
	}
	payload := types.PaymentPayload{
		T402Version: ProtocolVersion,
		Accepted:    requirements,
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	result, err := server.SettlePayment(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("SettlePayment failed: %v", err)
	}
	if !result.Success || result.Transaction != "0xTx" {
		t.Fatalf("unexpected settle result: %+v", result)
	}
	if facilitator.settleCalls != 1 {
		t.Errorf("expected 1 facilitator settle call, got %d", facilitator.settleCalls)
	}
}

func TestInitializeBindsWildcardKinds(t *testing.T) {
	facilitator := &mockFacilitatorClient{supported: exactSupported("eip155:*")}
	server := Newt402ResourceServer(
		WithFacilitatorClient(facilitator),
		WithSchemeServer("eip155:*", &mockSchemeServer{
			scheme: "exact",
			asset:  "0xUSDC",
			amount: "100000",
		}),
	)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// A concrete chain should resolve through the wildcard binding.
	requirements := types.PaymentRequirements{
		Scheme: "exact", Network: "eip155:42161",
		Asset: "0xUSDC", Amount: "100000", PayTo: "0xRecipient",
	}
	payload := types.PaymentPayload{
		T402Version: ProtocolVersion,
		Accepted:    requirements,
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	if _, err := server.VerifyPayment(context.Background(), payload, requirements); err != nil {
		t.Fatalf("VerifyPayment through wildcard binding failed: %v", err)
	}
	if facilitator.verifyCalls != 1 {
		t.Errorf("expected 1 verify call, got %d", facilitator.verifyCalls)
	}
}

func TestProcessPaymentRequestNoPayload(t *testing.T) {
	server := newTestResourceServer(t, &mockFacilitatorClient{supported: exactSupported("eip155:8453")})

	result, err := server.ProcessPaymentRequest(context.Background(), testResourceConfig(),
		&types.ResourceInfo{URL: "https://api.example.com/data"}, nil)
	if err != nil {
		t.Fatalf("ProcessPaymentRequest failed: %v", err)
	}
	if result.PaymentRequired == nil {
		t.Fatal("expected a PaymentRequired response with no payload")
	}
	if result.PaymentRequired.T402Version != ProtocolVersion {
		t.Errorf("expected version %d, got %d", ProtocolVersion, result.PaymentRequired.T402Version)
	}
	if len(result.PaymentRequired.Accepts) != 1 {
		t.Errorf("expected 1 accepts entry, got %d", len(result.PaymentRequired.Accepts))
	}
	if result.PaymentRequired.Resource == nil || result.PaymentRequired.Resource.URL != "https://api.example.com/data" {
		t.Errorf("expected resource info to be carried")
	}
}

func TestProcessPaymentRequestMismatchedPayload(t *testing.T) {
	server := newTestResourceServer(t, &mockFacilitatorClient{supported: exactSupported("eip155:8453")})

	payload := &types.PaymentPayload{
		T402Version: ProtocolVersion,
		Accepted: types.PaymentRequirements{
			Scheme: "exact", Network: "eip155:8453",
			Asset: "0xUSDC", Amount: "1", PayTo: "0xAttacker",
		},
		Payload: map[string]interface{}{"signature": "0xsig"},
	}

	result, err := server.ProcessPaymentRequest(context.Background(), testResourceConfig(), nil, payload)
	if err != nil {
		t.Fatalf("ProcessPaymentRequest failed: %v", err)
	}
	if result.PaymentRequired == nil {
		t.Fatal("expected a PaymentRequired response for a mismatched payload")
	}
	if result.PaymentRequired.Error != ReasonInvalidPaymentPayload {
		t.Errorf("expected error %s, got %s", ReasonInvalidPaymentPayload, result.PaymentRequired.Error)
	}
}

func TestProcessPaymentRequestValidPayload(t *testing.T) {
	server := newTestResourceServer(t, &mockFacilitatorClient{supported: exactSupported("eip155:8453")})

	accepts, err := server.BuildPaymentRequirementsFromConfig(context.Background(), testResourceConfig())
	if err != nil {
		t.Fatalf("build accepts: %v", err)
	}

	payload := &types.PaymentPayload{
		T402Version: ProtocolVersion,
		Accepted:    accepts[0],
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	result, err := server.ProcessPaymentRequest(context.Background(), testResourceConfig(), nil, payload)
	if err != nil {
		t.Fatalf("ProcessPaymentRequest failed: %v", err)
	}
	if result.PaymentRequired != nil {
		t.Fatalf("expected verification to pass, got 402 with error %q", result.PaymentRequired.Error)
	}
	if result.Verification == nil || !result.Verification.IsValid {
		t.Fatalf("expected a valid verification, got %+v", result.Verification)
	}
	if result.Requirements == nil {
		t.Fatal("expected matched requirements for settlement")
	}
}

func TestProcessPaymentRequestInvalidPayment(t *testing.T) {
	facilitator := &mockFacilitatorClient{
		supported:    exactSupported("eip155:8453"),
		verifyResult: &VerifyResponse{IsValid: false, InvalidReason: ReasonInsufficientBalance},
	}
	server := newTestResourceServer(t, facilitator)

	accepts, err := server.BuildPaymentRequirementsFromConfig(context.Background(), testResourceConfig())
	if err != nil {
		t.Fatalf("build accepts: %v", err)
	}

	payload := &types.PaymentPayload{
		T402Version: ProtocolVersion,
		Accepted:    accepts[0],
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	result, err := server.ProcessPaymentRequest(context.Background(), testResourceConfig(), nil, payload)
	if err != nil {
		t.Fatalf("ProcessPaymentRequest failed: %v", err)
	}
	if result.PaymentRequired == nil {
		t.Fatal("expected a PaymentRequired response for an invalid payment")
	}
	if result.PaymentRequired.Error != ReasonInsufficientBalance {
		t.Errorf("expected the failure reason to be surfaced, got %q", result.PaymentRequired.Error)
	}
}

func TestServerBeforeSettleHookAbort(t *testing.T) {
	facilitator := &mockFacilitatorClient{supported: exactSupported("eip155:8453")}
	server := newTestResourceServer(t, facilitator)

	server.OnBeforeSettle(func(ctx SettleContext) (*BeforeHookResult, error) {
		return &BeforeHookResult{Abort: true, Reason: "maintenance window"}, nil
	})

	requirements := types.PaymentRequirements{
		Scheme: "exact", Network: "eip155:8453",
		Asset: "0xUSDC", Amount: "100000", PayTo: "0xRecipient",
	}
	payload := types.PaymentPayload{
		T402Version: ProtocolVersion,
		Accepted:    requirements,
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	_, err := server.SettlePayment(context.Background(), payload, requirements)
	if err == nil {
		t.Fatal("expected aborted settlement to fail")
	}
	if facilitator.settleCalls != 0 {
		t.Errorf("facilitator should not be called after abort, got %d calls", facilitator.settleCalls)
	}
}

func TestServerVerifyFailureHookRecovery(t *testing.T) {
	facilitator := &mockFacilitatorClient{
		supported: exactSupported("eip155:8453"),
		verifyErr: fmt.Errorf("facilitator unreachable"),
	}
	server := newTestResourceServer(t, facilitator)

	server.OnVerifyFailure(func(ctx VerifyFailureContext) (*VerifyFailureHookResult, error) {
		return &VerifyFailureHookResult{
			Recovered: true,
			Result:    &VerifyResponse{IsValid: false, InvalidReason: ReasonVerificationTimeout},
		}, nil
	})

	requirements := types.PaymentRequirements{
		Scheme: "exact", Network: "eip155:8453",
		Asset: "0xUSDC", Amount: "100000", PayTo: "0xRecipient",
	}
	payload := types.PaymentPayload{
		T402Version: ProtocolVersion,
		Accepted:    requirements,
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	result, err := server.VerifyPayment(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("expected recovery, got error: %v", err)
	}
	if result.IsValid || result.InvalidReason != ReasonVerificationTimeout {
		t.Errorf("unexpected recovered result: %+v", result)
	}
}
