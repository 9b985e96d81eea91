package t402

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/t402-io/t402/types"
)

// schemeData stores a facilitator mechanism and its registered networks
type schemeData struct {
	facilitator interface{} // SchemeNetworkFacilitator or SchemeNetworkFacilitatorV1
	networks    map[Network]bool
	pattern     Network
}

// t402Facilitator manages payment verification and settlement.
// Supports both V1 and V2 for legacy interoperability. Registration happens
// at startup; after that the registry is only read, so concurrent
// verify/settle calls share it without contention.
type t402Facilitator struct {
	mu sync.RWMutex

	// Slices support multiple facilitators with the same scheme name on
	// different network sets.
	schemesV1  []*schemeData
	schemes    []*schemeData // V2 (default)
	extensions []string

	// Settle re-runs verify before broadcasting to defend against state
	// drift between the caller's verify and settle calls.
	reverifyOnSettle bool

	// Lifecycle hooks
	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

// FacilitatorOption configures the facilitator
type FacilitatorOption func(*t402Facilitator)

// WithSettleReverification controls whether Settle re-runs Verify before
// broadcasting. Default is true; deployments with atomicity guarantees
// elsewhere can disable it to skip the duplicate chain reads.
func WithSettleReverification(enabled bool) FacilitatorOption {
	return func(f *t402Facilitator) {
		f.reverifyOnSettle = enabled
	}
}

// Newt402Facilitator creates a new facilitator engine
func Newt402Facilitator(opts ...FacilitatorOption) *t402Facilitator {
	f := &t402Facilitator{
		schemesV1:        []*schemeData{},
		schemes:          []*schemeData{},
		extensions:       []string{},
		reverifyOnSettle: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RegisterV1 registers a V1 facilitator mechanism for multiple networks (legacy).
// The networks are remembered for GetSupported().
func (f *t402Facilitator) RegisterV1(networks []Network, facilitator SchemeNetworkFacilitatorV1) *t402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	networkSet := make(map[Network]bool)
	for _, network := range networks {
		networkSet[network] = true
	}

	f.schemesV1 = append(f.schemesV1, &schemeData{
		facilitator: facilitator,
		networks:    networkSet,
		pattern:     derivePattern(networks),
	})

	return f
}

// Register registers a facilitator mechanism for multiple networks (V2, default)
func (f *t402Facilitator) Register(networks []Network, facilitator SchemeNetworkFacilitator) *t402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	networkSet := make(map[Network]bool)
	for _, network := range networks {
		networkSet[network] = true
	}

	f.schemes = append(f.schemes, &schemeData{
		facilitator: facilitator,
		networks:    networkSet,
		pattern:     derivePattern(networks),
	})

	return f
}

// RegisterExtension registers a protocol extension
func (f *t402Facilitator) RegisterExtension(extension string) *t402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ext := range f.extensions {
		if ext == extension {
			return f
		}
	}

	f.extensions = append(f.extensions, extension)
	return f
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (f *t402Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *t402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *t402Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *t402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *t402Facilitator) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *t402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *t402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *t402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *t402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *t402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *t402Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *t402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// ============================================================================
// Core Payment Methods (Network Boundary - uses bytes, routes internally)
// ============================================================================

// Verify verifies a payment. The protocol version is detected from the raw
// bytes and the call is routed to the matching dialect and mechanism.
func (f *t402Facilitator) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, NewVerifyError(ReasonMalformedPaymentHeader, "", "", err)
	}

	var hookPayload PaymentPayloadView
	var hookRequirements PaymentRequirementsView
	var run func(context.Context) (*VerifyResponse, error)

	switch version {
	case ProtocolVersionV1:
		payload, err := types.ToPaymentPayloadV1(payloadBytes)
		if err != nil {
			return nil, NewVerifyError(ReasonInvalidPaymentPayload, "", "", err)
		}
		requirements, err := types.ToPaymentRequirementsV1(requirementsBytes)
		if err != nil {
			return nil, NewVerifyError(ReasonInvalidPaymentPayload, "", "", err)
		}
		hookPayload, hookRequirements = *payload, *requirements
		run = func(ctx context.Context) (*VerifyResponse, error) {
			return f.verifyV1(ctx, *payload, *requirements)
		}

	case ProtocolVersion:
		payload, err := types.ToPaymentPayload(payloadBytes)
		if err != nil {
			return nil, NewVerifyError(ReasonInvalidPaymentPayload, "", "", err)
		}
		requirements, err := types.ToPaymentRequirements(requirementsBytes)
		if err != nil {
			return nil, NewVerifyError(ReasonInvalidPaymentPayload, "", "", err)
		}
		hookPayload, hookRequirements = *payload, *requirements
		run = func(ctx context.Context) (*VerifyResponse, error) {
			return f.verifyV2(ctx, *payload, *requirements)
		}

	default:
		return nil, NewVerifyError(fmt.Sprintf("unsupported_version_%d", version), "", "", nil)
	}

	hookCtx := FacilitatorVerifyContext{
		Ctx:               ctx,
		Payload:           hookPayload,
		Requirements:      hookRequirements,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
	}
	for _, hook := range f.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return nil, NewVerifyError(result.Reason, "", "", nil)
		}
	}

	verifyResult, verifyErr := run(ctx)

	if verifyErr != nil {
		verifyErr = classifyVerifyDeadline(verifyErr)
		failureCtx := FacilitatorVerifyFailureContext{FacilitatorVerifyContext: hookCtx, Error: verifyErr}
		for _, hook := range f.onVerifyFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return nil, verifyErr
	}

	resultCtx := FacilitatorVerifyResultContext{FacilitatorVerifyContext: hookCtx, Result: verifyResult}
	for _, hook := range f.afterVerifyHooks {
		_ = hook(resultCtx) // observer errors never affect the result
	}

	return verifyResult, nil
}

// Settle settles a payment. When reverification is enabled (the default),
// verify runs again first and an invalid payment is reported without
// touching the chain.
func (f *t402Facilitator) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, NewSettleError(ReasonMalformedPaymentHeader, "", "", "", err)
	}

	var hookPayload PaymentPayloadView
	var hookRequirements PaymentRequirementsView
	var run func(context.Context) (*SettleResponse, error)
	var network Network

	switch version {
	case ProtocolVersionV1:
		payload, err := types.ToPaymentPayloadV1(payloadBytes)
		if err != nil {
			return nil, NewSettleError(ReasonInvalidPaymentPayload, "", "", "", err)
		}
		requirements, err := types.ToPaymentRequirementsV1(requirementsBytes)
		if err != nil {
			return nil, NewSettleError(ReasonInvalidPaymentPayload, "", "", "", err)
		}
		hookPayload, hookRequirements = *payload, *requirements
		network = Network(requirements.Network)
		run = func(ctx context.Context) (*SettleResponse, error) {
			return f.settleV1(ctx, *payload, *requirements)
		}

	case ProtocolVersion:
		payload, err := types.ToPaymentPayload(payloadBytes)
		if err != nil {
			return nil, NewSettleError(ReasonInvalidPaymentPayload, "", "", "", err)
		}
		requirements, err := types.ToPaymentRequirements(requirementsBytes)
		if err != nil {
			return nil, NewSettleError(ReasonInvalidPaymentPayload, "", "", "", err)
		}
		hookPayload, hookRequirements = *payload, *requirements
		network = Network(requirements.Network)
		run = func(ctx context.Context) (*SettleResponse, error) {
			return f.settleV2(ctx, *payload, *requirements)
		}

	default:
		return nil, NewSettleError(fmt.Sprintf("unsupported_version_%d", version), "", "", "", nil)
	}

	hookCtx := FacilitatorSettleContext{
		Ctx:               ctx,
		Payload:           hookPayload,
		Requirements:      hookRequirements,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
	}
	for _, hook := range f.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return nil, NewSettleError(result.Reason, "", "", "", nil)
		}
	}

	if f.reverifyOnSettle {
		verifyResult, verifyErr := f.Verify(ctx, payloadBytes, requirementsBytes)
		if verifyErr != nil {
			return nil, NewSettleError(ReasonInvalidPaymentPayload, "", network, "", verifyErr)
		}
		if !verifyResult.IsValid {
			return &SettleResponse{
				Success:     false,
				ErrorReason: verifyResult.InvalidReason,
				Payer:       verifyResult.Payer,
				Network:     network,
			}, nil
		}
	}

	settleResult, settleErr := run(ctx)

	if settleErr != nil {
		settleErr = classifySettleDeadline(settleErr)
		failureCtx := FacilitatorSettleFailureContext{FacilitatorSettleContext: hookCtx, Error: settleErr}
		for _, hook := range f.onSettleFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return nil, settleErr
	}

	resultCtx := FacilitatorSettleResultContext{FacilitatorSettleContext: hookCtx, Result: settleResult}
	for _, hook := range f.afterSettleHooks {
		_ = hook(resultCtx) // observer errors never affect the result
	}

	return settleResult, nil
}

// classifyVerifyDeadline rewrites a deadline expiry during verification as
// verification_timeout so callers can tell a slow chain from an invalid
// payment.
func classifyVerifyDeadline(err error) error {
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var verifyErr *VerifyError
	if errors.As(err, &verifyErr) {
		return NewVerifyError(ReasonVerificationTimeout, verifyErr.Payer, verifyErr.Network, err)
	}
	return NewVerifyError(ReasonVerificationTimeout, "", "", err)
}

// classifySettleDeadline separates a deadline that expired before broadcast
// (settlement_timeout, safe to retry) from one that expired while waiting
// for confirmation (settlement_unconfirmed, the on-chain outcome is
// unknown). A populated transaction hash marks the broadcast boundary.
func classifySettleDeadline(err error) error {
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var settleErr *SettleError
	if errors.As(err, &settleErr) {
		reason := ReasonSettlementTimeout
		if settleErr.Transaction != "" {
			reason = ReasonSettlementUnconfirmed
		}
		return NewSettleError(reason, settleErr.Payer, settleErr.Network, settleErr.Transaction, err)
	}
	return NewSettleError(ReasonSettlementTimeout, "", "", "", err)
}

// ============================================================================
// Internal Typed Methods (called after version detection)
// ============================================================================

func (f *t402Facilitator) verifyV1(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*VerifyResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	scheme := requirements.Scheme
	network := Network(requirements.Network)

	for _, data := range f.schemesV1 {
		facilitator := data.facilitator.(SchemeNetworkFacilitatorV1)
		if facilitator.Scheme() != scheme {
			continue
		}
		if matchesSchemeData(data, network) {
			return facilitator.Verify(ctx, payload, requirements)
		}
	}

	return nil, NewVerifyError(ReasonUnsupportedNetworkOrScheme, "", network, fmt.Errorf("no facilitator for scheme %s on network %s", scheme, network))
}

func (f *t402Facilitator) verifyV2(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	scheme := requirements.Scheme
	network := Network(requirements.Network)

	for _, data := range f.schemes {
		facilitator := data.facilitator.(SchemeNetworkFacilitator)
		if facilitator.Scheme() != scheme {
			continue
		}
		if matchesSchemeData(data, network) {
			return facilitator.Verify(ctx, payload, requirements)
		}
	}

	return nil, NewVerifyError(ReasonUnsupportedNetworkOrScheme, "", network, fmt.Errorf("no facilitator for scheme %s on network %s", scheme, network))
}

func (f *t402Facilitator) settleV1(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*SettleResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	scheme := requirements.Scheme
	network := Network(requirements.Network)

	for _, data := range f.schemesV1 {
		facilitator := data.facilitator.(SchemeNetworkFacilitatorV1)
		if facilitator.Scheme() != scheme {
			continue
		}
		if matchesSchemeData(data, network) {
			return facilitator.Settle(ctx, payload, requirements)
		}
	}

	return nil, NewSettleError(ReasonUnsupportedNetworkOrScheme, "", network, "", fmt.Errorf("no facilitator for scheme %s on network %s", scheme, network))
}

func (f *t402Facilitator) settleV2(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	scheme := requirements.Scheme
	network := Network(requirements.Network)

	for _, data := range f.schemes {
		facilitator := data.facilitator.(SchemeNetworkFacilitator)
		if facilitator.Scheme() != scheme {
			continue
		}
		if matchesSchemeData(data, network) {
			return facilitator.Settle(ctx, payload, requirements)
		}
	}

	return nil, NewSettleError(ReasonUnsupportedNetworkOrScheme, "", network, "", fmt.Errorf("no facilitator for scheme %s on network %s", scheme, network))
}

// GetSupported returns supported payment kinds, declared extensions, and
// signer addresses grouped by CAIP family. Uses the networks remembered at
// registration time.
func (f *t402Facilitator) GetSupported() SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := []SupportedKind{}
	signersByFamily := make(map[string]map[string]bool)

	collect := func(version int, scheme, family string, network Network, extra map[string]interface{}, signerList []string) {
		kind := SupportedKind{
			T402Version: version,
			Scheme:      scheme,
			Network:     string(network),
		}
		if extra != nil {
			kind.Extra = extra
		}
		kinds = append(kinds, kind)

		if signersByFamily[family] == nil {
			signersByFamily[family] = make(map[string]bool)
		}
		for _, signer := range signerList {
			signersByFamily[family][signer] = true
		}
	}

	for _, data := range f.schemesV1 {
		facilitator := data.facilitator.(SchemeNetworkFacilitatorV1)
		for network := range data.networks {
			collect(ProtocolVersionV1, facilitator.Scheme(), facilitator.CaipFamily(), network,
				facilitator.GetExtra(network), facilitator.GetSigners(network))
		}
	}

	for _, data := range f.schemes {
		facilitator := data.facilitator.(SchemeNetworkFacilitator)
		for network := range data.networks {
			collect(ProtocolVersion, facilitator.Scheme(), facilitator.CaipFamily(), network,
				facilitator.GetExtra(network), facilitator.GetSigners(network))
		}
	}

	signers := make(map[string][]string)
	for family, signerSet := range signersByFamily {
		signerList := make([]string, 0, len(signerSet))
		for signer := range signerSet {
			signerList = append(signerList, signer)
		}
		signers[family] = signerList
	}

	return SupportedResponse{
		Kinds:      kinds,
		Extensions: f.extensions,
		Signers:    signers,
	}
}

// derivePattern creates a wildcard pattern from a set of networks. If every
// network shares one namespace the pattern is "namespace:*"; otherwise the
// first network is used for exact matching only.
func derivePattern(networks []Network) Network {
	if len(networks) == 0 {
		return ""
	}
	if len(networks) == 1 {
		return networks[0]
	}

	namespaces := make(map[string]bool)
	for _, network := range networks {
		parts := strings.Split(string(network), ":")
		if len(parts) == 2 {
			namespaces[parts[0]] = true
		}
	}

	if len(namespaces) == 1 {
		for namespace := range namespaces {
			return Network(namespace + ":*")
		}
	}

	return networks[0]
}

// matchesSchemeData checks exact registered networks before the derived pattern
func matchesSchemeData(data *schemeData, network Network) bool {
	if data.networks[network] {
		return true
	}
	return network.Match(data.pattern)
}
