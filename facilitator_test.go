package t402

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/t402-io/t402/types"
)

// mockSchemeFacilitator is a configurable V2 facilitator mechanism
type mockSchemeFacilitator struct {
	scheme       string
	family       string
	signers      []string
	extra        map[string]interface{}
	verifyResult *VerifyResponse
	verifyErr    error
	settleResult *SettleResponse
	settleErr    error
	verifyCalls  int
	settleCalls  int
}

func (m *mockSchemeFacilitator) Scheme() string { return m.scheme }

func (m *mockSchemeFacilitator) CaipFamily() string {
	if m.family == "" {
		return "eip155:*"
	}
	return m.family
}

func (m *mockSchemeFacilitator) GetExtra(network Network) map[string]interface{} { return m.extra }

func (m *mockSchemeFacilitator) GetSigners(network Network) []string { return m.signers }

func (m *mockSchemeFacilitator) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error) {
	m.verifyCalls++
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	if m.verifyResult != nil {
		return m.verifyResult, nil
	}
	return &VerifyResponse{IsValid: true, Payer: "0xPayer"}, nil
}

func (m *mockSchemeFacilitator) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error) {
	m.settleCalls++
	if m.settleErr != nil {
		return nil, m.settleErr
	}
	if m.settleResult != nil {
		return m.settleResult, nil
	}
	return &SettleResponse{Success: true, Transaction: "0xTx", Payer: "0xPayer", Network: Network(requirements.Network)}, nil
}

// mockSchemeFacilitatorV1 is a V1 facilitator mechanism
type mockSchemeFacilitatorV1 struct {
	scheme      string
	verifyCalls int
}

func (m *mockSchemeFacilitatorV1) Scheme() string                                  { return m.scheme }
func (m *mockSchemeFacilitatorV1) CaipFamily() string                              { return "eip155:*" }
func (m *mockSchemeFacilitatorV1) GetExtra(network Network) map[string]interface{} { return nil }
func (m *mockSchemeFacilitatorV1) GetSigners(network Network) []string             { return nil }

func (m *mockSchemeFacilitatorV1) Verify(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*VerifyResponse, error) {
	m.verifyCalls++
	return &VerifyResponse{IsValid: true, Payer: "0xLegacyPayer"}, nil
}

func (m *mockSchemeFacilitatorV1) Settle(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*SettleResponse, error) {
	return &SettleResponse{Success: true, Transaction: "0xLegacyTx", Network: Network(requirements.Network)}, nil
}

func v2PayloadBytes(t *testing.T, network string) []byte {
	t.Helper()
	payload := types.PaymentPayload{
		T402Version: 2,
		Payload:     map[string]interface{}{"signature": "0xsig"},
		Accepted: types.PaymentRequirements{
			Scheme:  "exact",
			Network: network,
			Asset:   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Amount:  "10000",
			PayTo:   "0xRecipient",
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func v2RequirementsBytes(t *testing.T, network string) []byte {
	t.Helper()
	requirements := types.PaymentRequirements{
		Scheme:  "exact",
		Network: network,
		Asset:   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Amount:  "10000",
		PayTo:   "0xRecipient",
	}
	data, err := json.Marshal(requirements)
	if err != nil {
		t.Fatalf("marshal requirements: %v", err)
	}
	return data
}

func TestFacilitatorVerifyV2(t *testing.T) {
	mock := &mockSchemeFacilitator{scheme: "exact"}
	facilitator := Newt402Facilitator()
	facilitator.Register([]Network{"eip155:8453"}, mock)

	result, err := facilitator.Verify(context.Background(), v2PayloadBytes(t, "eip155:8453"), v2RequirementsBytes(t, "eip155:8453"))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected valid result, got %+v", result)
	}
	if result.Payer != "0xPayer" {
		t.Errorf("expected payer 0xPayer, got %s", result.Payer)
	}
	if mock.verifyCalls != 1 {
		t.Errorf("expected 1 verify call, got %d", mock.verifyCalls)
	}
}

func TestFacilitatorVerifyWildcardNetwork(t *testing.T) {
	mock := &mockSchemeFacilitator{scheme: "exact"}
	facilitator := Newt402Facilitator()

	// Multiple networks in one namespace derive an eip155:* pattern, so an
	// unlisted chain in the same namespace still routes.
	facilitator.Register([]Network{"eip155:1", "eip155:8453"}, mock)

	result, err := facilitator.Verify(context.Background(), v2PayloadBytes(t, "eip155:42161"), v2RequirementsBytes(t, "eip155:42161"))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected valid result, got %+v", result)
	}
}

func TestFacilitatorVerifyUnsupportedNetwork(t *testing.T) {
	mock := &mockSchemeFacilitator{scheme: "exact"}
	facilitator := Newt402Facilitator()
	facilitator.Register([]Network{"eip155:8453"}, mock)

	_, err := facilitator.Verify(context.Background(),
		v2PayloadBytes(t, "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"),
		v2RequirementsBytes(t, "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"))
	if err == nil {
		t.Fatal("expected error for unsupported network")
	}

	var verifyErr *VerifyError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("expected *VerifyError, got %T", err)
	}
	if verifyErr.Reason != ReasonUnsupportedNetworkOrScheme {
		t.Errorf("expected reason %s, got %s", ReasonUnsupportedNetworkOrScheme, verifyErr.Reason)
	}
}

func TestFacilitatorVerifyV1Routing(t *testing.T) {
	mockV1 := &mockSchemeFacilitatorV1{scheme: "exact"}
	facilitator := Newt402Facilitator()
	facilitator.RegisterV1([]Network{"eip155:8453"}, mockV1)

	// No t402Version field means a v1 payload.
	payloadBytes := []byte(`{"scheme":"exact","network":"eip155:8453","payload":{"signature":"0xsig"}}`)
	requirementsBytes := []byte(`{"scheme":"exact","network":"eip155:8453","maxAmountRequired":"10000","resource":"https://example.com","payTo":"0xRecipient","maxTimeoutSeconds":300,"asset":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"}`)

	result, err := facilitator.Verify(context.Background(), payloadBytes, requirementsBytes)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected valid result, got %+v", result)
	}
	if result.Payer != "0xLegacyPayer" {
		t.Errorf("expected legacy payer, got %s", result.Payer)
	}
	if mockV1.verifyCalls != 1 {
		t.Errorf("expected 1 v1 verify call, got %d", mockV1.verifyCalls)
	}
}

func TestFacilitatorVerifyMalformedPayload(t *testing.T) {
	facilitator := Newt402Facilitator()

	_, err := facilitator.Verify(context.Background(), []byte("not json"), []byte("{}"))
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}

	var verifyErr *VerifyError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("expected *VerifyError, got %T", err)
	}
	if verifyErr.Reason != ReasonMalformedPaymentHeader {
		t.Errorf("expected reason %s, got %s", ReasonMalformedPaymentHeader, verifyErr.Reason)
	}
}

func TestFacilitatorSettleReverifiesByDefault(t *testing.T) {
	mock := &mockSchemeFacilitator{scheme: "exact"}
	facilitator := Newt402Facilitator()
	facilitator.Register([]Network{"eip155:8453"}, mock)

	result, err := facilitator.Settle(context.Background(), v2PayloadBytes(t, "eip155:8453"), v2RequirementsBytes(t, "eip155:8453"))
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful settlement, got %+v", result)
	}
	if mock.verifyCalls != 1 {
		t.Errorf("expected settle to re-verify once, got %d verify calls", mock.verifyCalls)
	}
	if mock.settleCalls != 1 {
		t.Errorf("expected 1 settle call, got %d", mock.settleCalls)
	}
}

func TestFacilitatorSettleReverificationBlocksInvalid(t *testing.T) {
	mock := &mockSchemeFacilitator{
		scheme:       "exact",
		verifyResult: &VerifyResponse{IsValid: false, InvalidReason: ReasonInsufficientBalance, Payer: "0xPayer"},
	}
	facilitator := Newt402Facilitator()
	facilitator.Register([]Network{"eip155:8453"}, mock)

	result, err := facilitator.Settle(context.Background(), v2PayloadBytes(t, "eip155:8453"), v2RequirementsBytes(t, "eip155:8453"))
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected settlement to be blocked by reverification")
	}
	if result.ErrorReason != ReasonInsufficientBalance {
		t.Errorf("expected reason %s, got %s", ReasonInsufficientBalance, result.ErrorReason)
	}
	if mock.settleCalls != 0 {
		t.Errorf("settle should not reach the chain after failed reverification, got %d calls", mock.settleCalls)
	}
}

func TestFacilitatorSettleWithoutReverification(t *testing.T) {
	mock := &mockSchemeFacilitator{scheme: "exact"}
	facilitator := Newt402Facilitator(WithSettleReverification(false))
	facilitator.Register([]Network{"eip155:8453"}, mock)

	result, err := facilitator.Settle(context.Background(), v2PayloadBytes(t, "eip155:8453"), v2RequirementsBytes(t, "eip155:8453"))
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful settlement, got %+v", result)
	}
	if mock.verifyCalls != 0 {
		t.Errorf("expected no verify calls with reverification disabled, got %d", mock.verifyCalls)
	}
}

func TestFacilitatorVerifyDeadlineBecomesTimeout(t *testing.T) {
	mock := &mockSchemeFacilitator{
		scheme:    "exact",
		verifyErr: NewVerifyError("rpc_error", "0xPayer", "eip155:8453", context.DeadlineExceeded),
	}
	facilitator := Newt402Facilitator()
	facilitator.Register([]Network{"eip155:8453"}, mock)

	_, err := facilitator.Verify(context.Background(), v2PayloadBytes(t, "eip155:8453"), v2RequirementsBytes(t, "eip155:8453"))
	if err == nil {
		t.Fatal("expected error")
	}

	var verifyErr *VerifyError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("expected *VerifyError, got %T", err)
	}
	if verifyErr.Reason != ReasonVerificationTimeout {
		t.Errorf("expected reason %s, got %s", ReasonVerificationTimeout, verifyErr.Reason)
	}
	if verifyErr.Payer != "0xPayer" {
		t.Errorf("expected payer to be carried, got %s", verifyErr.Payer)
	}
}

func TestFacilitatorSettleDeadlineClassification(t *testing.T) {
	t.Run("after broadcast is unconfirmed", func(t *testing.T) {
		mock := &mockSchemeFacilitator{
			scheme:    "exact",
			settleErr: NewSettleError("rpc_error", "0xPayer", "eip155:8453", "0xBroadcast", context.DeadlineExceeded),
		}
		facilitator := Newt402Facilitator(WithSettleReverification(false))
		facilitator.Register([]Network{"eip155:8453"}, mock)

		_, err := facilitator.Settle(context.Background(), v2PayloadBytes(t, "eip155:8453"), v2RequirementsBytes(t, "eip155:8453"))
		if err == nil {
			t.Fatal("expected error")
		}

		var settleErr *SettleError
		if !errors.As(err, &settleErr) {
			t.Fatalf("expected *SettleError, got %T", err)
		}
		if settleErr.Reason != ReasonSettlementUnconfirmed {
			t.Errorf("expected reason %s, got %s", ReasonSettlementUnconfirmed, settleErr.Reason)
		}
		if settleErr.Transaction != "0xBroadcast" {
			t.Errorf("expected the broadcast hash to be carried, got %s", settleErr.Transaction)
		}
	})

	t.Run("before broadcast is a timeout", func(t *testing.T) {
		mock := &mockSchemeFacilitator{
			scheme:    "exact",
			settleErr: NewSettleError("rpc_error", "0xPayer", "eip155:8453", "", context.DeadlineExceeded),
		}
		facilitator := Newt402Facilitator(WithSettleReverification(false))
		facilitator.Register([]Network{"eip155:8453"}, mock)

		_, err := facilitator.Settle(context.Background(), v2PayloadBytes(t, "eip155:8453"), v2RequirementsBytes(t, "eip155:8453"))
		if err == nil {
			t.Fatal("expected error")
		}

		var settleErr *SettleError
		if !errors.As(err, &settleErr) {
			t.Fatalf("expected *SettleError, got %T", err)
		}
		if settleErr.Reason != ReasonSettlementTimeout {
			t.Errorf("expected reason %s, got %s", ReasonSettlementTimeout, settleErr.Reason)
		}
	})

	t.Run("non-deadline errors keep their reason", func(t *testing.T) {
		mock := &mockSchemeFacilitator{
			scheme:    "exact",
			settleErr: NewSettleError(ReasonTransactionFailed, "0xPayer", "eip155:8453", "0xTx", nil),
		}
		facilitator := Newt402Facilitator(WithSettleReverification(false))
		facilitator.Register([]Network{"eip155:8453"}, mock)

		_, err := facilitator.Settle(context.Background(), v2PayloadBytes(t, "eip155:8453"), v2RequirementsBytes(t, "eip155:8453"))
		var settleErr *SettleError
		if !errors.As(err, &settleErr) {
			t.Fatalf("expected *SettleError, got %T", err)
		}
		if settleErr.Reason != ReasonTransactionFailed {
			t.Errorf("expected reason %s, got %s", ReasonTransactionFailed, settleErr.Reason)
		}
	})
}

func TestFacilitatorExportedAlias(t *testing.T) {
	var facilitator *T402Facilitator = Newt402Facilitator()
	if facilitator == nil {
		t.Fatal("expected a facilitator instance")
	}
}

func TestFacilitatorGetSupported(t *testing.T) {
	mock := &mockSchemeFacilitator{
		scheme:  "exact",
		family:  "eip155:*",
		signers: []string{"0xSigner1"},
	}
	mockV1 := &mockSchemeFacilitatorV1{scheme: "exact"}

	facilitator := Newt402Facilitator()
	facilitator.Register([]Network{"eip155:1", "eip155:8453"}, mock)
	facilitator.RegisterV1([]Network{"eip155:8453"}, mockV1)
	facilitator.RegisterExtension("bazaar")

	supported := facilitator.GetSupported()

	if len(supported.Kinds) != 3 {
		t.Fatalf("expected 3 kinds (2 v2 + 1 v1), got %d", len(supported.Kinds))
	}

	versions := map[int]int{}
	for _, kind := range supported.Kinds {
		versions[kind.T402Version]++
		if kind.Scheme != "exact" {
			t.Errorf("unexpected scheme %s", kind.Scheme)
		}
	}
	if versions[2] != 2 || versions[1] != 1 {
		t.Errorf("unexpected version distribution: %v", versions)
	}

	if len(supported.Extensions) != 1 || supported.Extensions[0] != "bazaar" {
		t.Errorf("expected extensions [bazaar], got %v", supported.Extensions)
	}

	signers, ok := supported.Signers["eip155:*"]
	if !ok {
		t.Fatalf("expected signers under eip155:*, got %v", supported.Signers)
	}
	if len(signers) != 1 || signers[0] != "0xSigner1" {
		t.Errorf("expected [0xSigner1], got %v", signers)
	}
}

func TestFacilitatorBeforeVerifyHookAbort(t *testing.T) {
	mock := &mockSchemeFacilitator{scheme: "exact"}
	facilitator := Newt402Facilitator()
	facilitator.Register([]Network{"eip155:8453"}, mock)

	facilitator.OnBeforeVerify(func(ctx FacilitatorVerifyContext) (*FacilitatorBeforeHookResult, error) {
		return &FacilitatorBeforeHookResult{Abort: true, Reason: ReasonRateLimited}, nil
	})

	_, err := facilitator.Verify(context.Background(), v2PayloadBytes(t, "eip155:8453"), v2RequirementsBytes(t, "eip155:8453"))
	if err == nil {
		t.Fatal("expected aborted verification to fail")
	}

	var verifyErr *VerifyError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("expected *VerifyError, got %T", err)
	}
	if verifyErr.Reason != ReasonRateLimited {
		t.Errorf("expected reason %s, got %s", ReasonRateLimited, verifyErr.Reason)
	}
	if mock.verifyCalls != 0 {
		t.Errorf("mechanism should not run after abort, got %d calls", mock.verifyCalls)
	}
}

func TestFacilitatorVerifyFailureHookRecovery(t *testing.T) {
	mock := &mockSchemeFacilitator{
		scheme:    "exact",
		verifyErr: NewVerifyError(ReasonVerificationTimeout, "0xPayer", "eip155:8453", fmt.Errorf("rpc timeout")),
	}
	facilitator := Newt402Facilitator()
	facilitator.Register([]Network{"eip155:8453"}, mock)

	facilitator.OnVerifyFailure(func(ctx FacilitatorVerifyFailureContext) (*FacilitatorVerifyFailureHookResult, error) {
		return &FacilitatorVerifyFailureHookResult{
			Recovered: true,
			Result:    &VerifyResponse{IsValid: false, InvalidReason: ReasonVerificationTimeout},
		}, nil
	})

	result, err := facilitator.Verify(context.Background(), v2PayloadBytes(t, "eip155:8453"), v2RequirementsBytes(t, "eip155:8453"))
	if err != nil {
		t.Fatalf("expected recovery, got error: %v", err)
	}
	if result.IsValid || result.InvalidReason != ReasonVerificationTimeout {
		t.Errorf("unexpected recovered result: %+v", result)
	}
}

func TestFacilitatorAfterSettleHookObserves(t *testing.T) {
	mock := &mockSchemeFacilitator{scheme: "exact"}
	facilitator := Newt402Facilitator(WithSettleReverification(false))
	facilitator.Register([]Network{"eip155:8453"}, mock)

	var observed *SettleResponse
	facilitator.OnAfterSettle(func(ctx FacilitatorSettleResultContext) error {
		observed = ctx.Result
		return fmt.Errorf("observer errors are ignored")
	})

	result, err := facilitator.Settle(context.Background(), v2PayloadBytes(t, "eip155:8453"), v2RequirementsBytes(t, "eip155:8453"))
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if observed == nil || observed.Transaction != result.Transaction {
		t.Errorf("after settle hook did not observe the result")
	}
}

func TestDerivePattern(t *testing.T) {
	tests := []struct {
		name     string
		networks []Network
		expected Network
	}{
		{"empty", nil, ""},
		{"single", []Network{"eip155:8453"}, "eip155:8453"},
		{"shared namespace", []Network{"eip155:1", "eip155:8453"}, "eip155:*"},
		{"mixed namespaces", []Network{"eip155:1", "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"}, "eip155:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := derivePattern(tt.networks); got != tt.expected {
				t.Errorf("derivePattern(%v) = %s, want %s", tt.networks, got, tt.expected)
			}
		})
	}
}
