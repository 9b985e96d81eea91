package t402

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/t402-io/t402/types"
)

// t402ResourceServer manages payment requirements and verification for
// protected resources. V2 only: the server produces and accepts V2 payments;
// v1 interoperability lives at the codec boundary.
type t402ResourceServer struct {
	mu sync.RWMutex

	schemes map[Network]map[string]SchemeNetworkServer

	// Facilitator clients by network/scheme, populated in Initialize from
	// each facilitator's /supported response.
	facilitatorClients     map[Network]map[string]FacilitatorClient
	tempFacilitatorClients []FacilitatorClient

	registeredExtensions map[string]types.ResourceServerExtension
	supportedCache       *SupportedCache

	// Lifecycle hooks
	beforeVerifyHooks    []BeforeVerifyHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// SupportedCache caches facilitator capabilities with a TTL
type SupportedCache struct {
	mu     sync.RWMutex
	data   map[string]SupportedResponse // key is facilitator identifier
	expiry map[string]time.Time
	ttl    time.Duration
}

// Set stores a supported response in the cache
func (c *SupportedCache) Set(key string, response SupportedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = response
	c.expiry[key] = time.Now().Add(c.ttl)
}

// Get retrieves a supported response from the cache
func (c *SupportedCache) Get(key string) (SupportedResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	response, exists := c.data[key]
	if !exists {
		return SupportedResponse{}, false
	}

	if time.Now().After(c.expiry[key]) {
		return SupportedResponse{}, false
	}

	return response, true
}

// ResourceServerOption configures the server
type ResourceServerOption func(*t402ResourceServer)

// WithFacilitatorClient adds a facilitator client. The client is bound to
// network/scheme pairs in Initialize once its capabilities are known.
func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *t402ResourceServer) {
		s.tempFacilitatorClients = append(s.tempFacilitatorClients, client)
	}
}

// WithSchemeServer registers a scheme server implementation (V2, default)
func WithSchemeServer(network Network, schemeServer SchemeNetworkServer) ResourceServerOption {
	return func(s *t402ResourceServer) {
		s.Register(network, schemeServer)
	}
}

// WithCacheTTL sets the cache TTL for supported kinds
func WithCacheTTL(ttl time.Duration) ResourceServerOption {
	return func(s *t402ResourceServer) {
		s.supportedCache.ttl = ttl
	}
}

// Newt402ResourceServer creates a new resource server
func Newt402ResourceServer(opts ...ResourceServerOption) *t402ResourceServer {
	s := &t402ResourceServer{
		schemes:              make(map[Network]map[string]SchemeNetworkServer),
		facilitatorClients:   make(map[Network]map[string]FacilitatorClient),
		registeredExtensions: make(map[string]types.ResourceServerExtension),
		supportedCache: &SupportedCache{
			data:   make(map[string]SupportedResponse),
			expiry: make(map[string]time.Time),
			ttl:    5 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Initialize queries each facilitator's supported kinds and binds the
// clients to the network/scheme pairs they can serve. Must run before the
// server handles requests.
func (s *t402ResourceServer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, client := range s.tempFacilitatorClients {
		supported, err := client.GetSupported(ctx)
		if err != nil {
			return fmt.Errorf("failed to get supported from facilitator: %w", err)
		}

		for _, kind := range supported.Kinds {
			network := Network(kind.Network)
			scheme := kind.Scheme

			if s.facilitatorClients[network] == nil {
				s.facilitatorClients[network] = make(map[string]FacilitatorClient)
			}

			// Earlier clients take precedence for shared kinds
			if s.facilitatorClients[network][scheme] == nil {
				s.facilitatorClients[network][scheme] = client
			}
		}

		s.supportedCache.Set(fmt.Sprintf("facilitator_%d", i), supported)
	}

	return nil
}

// Register registers a payment mechanism (V2, default)
func (s *t402ResourceServer) Register(network Network, schemeServer SchemeNetworkServer) *t402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schemes[network] == nil {
		s.schemes[network] = make(map[string]SchemeNetworkServer)
	}

	s.schemes[network][schemeServer.Scheme()] = schemeServer
	return s
}

// RegisterExtension registers a resource server extension
func (s *t402ResourceServer) RegisterExtension(extension types.ResourceServerExtension) *t402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registeredExtensions[extension.Key()] = extension
	return s
}

// ============================================================================
// Hook Registration Methods (Chainable)
// ============================================================================

func (s *t402ResourceServer) OnBeforeVerify(hook BeforeVerifyHook) *t402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	return s
}

func (s *t402ResourceServer) OnAfterVerify(hook AfterVerifyHook) *t402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	return s
}

func (s *t402ResourceServer) OnVerifyFailure(hook OnVerifyFailureHook) *t402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	return s
}

func (s *t402ResourceServer) OnBeforeSettle(hook BeforeSettleHook) *t402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	return s
}

func (s *t402ResourceServer) OnAfterSettle(hook AfterSettleHook) *t402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSettleHooks = append(s.afterSettleHooks, hook)
	return s
}

func (s *t402ResourceServer) OnSettleFailure(hook OnSettleFailureHook) *t402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	return s
}

// ============================================================================
// Core Payment Methods (V2 Only)
// ============================================================================

// BuildPaymentRequirements creates payment requirements for a resource:
// resolve the scheme server, parse the price into asset/amount, apply the
// default timeout, then let the scheme merge facilitator-provided extras.
func (s *t402ResourceServer) BuildPaymentRequirements(
	ctx context.Context,
	config ResourceConfig,
	supportedKind types.SupportedKind,
	extensions []string,
) (types.PaymentRequirements, error) {
	s.mu.RLock()
	schemeServer := findByNetworkAndScheme(s.schemes, config.Scheme, config.Network)
	s.mu.RUnlock()

	if schemeServer == nil {
		return types.PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no scheme server for %s on %s", config.Scheme, config.Network),
		}
	}

	assetAmount, err := schemeServer.ParsePrice(config.Price, config.Network)
	if err != nil {
		return types.PaymentRequirements{}, err
	}

	maxTimeout := config.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = DefaultMaxTimeoutSeconds
	}

	requirements := types.PaymentRequirements{
		Scheme:            config.Scheme,
		Network:           string(config.Network),
		Asset:             assetAmount.Asset,
		Amount:            assetAmount.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: maxTimeout,
		Extra:             assetAmount.Extra,
	}

	enhanced, err := schemeServer.EnhancePaymentRequirements(ctx, requirements, supportedKind, extensions)
	if err != nil {
		return types.PaymentRequirements{}, err
	}

	return enhanced, nil
}

// BuildPaymentRequirementsFromConfig builds the accepts list for a resource,
// using the supported kinds discovered from facilitators during Initialize.
func (s *t402ResourceServer) BuildPaymentRequirementsFromConfig(ctx context.Context, config ResourceConfig) ([]types.PaymentRequirements, error) {
	s.mu.RLock()
	schemeServer := findByNetworkAndScheme(s.schemes, config.Scheme, config.Network)
	s.mu.RUnlock()

	if schemeServer == nil {
		return nil, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no scheme server for %s on %s", config.Scheme, config.Network),
		}
	}

	supportedKind, extensions, found := s.findSupportedKind(config.Scheme, config.Network)
	if !found {
		// No facilitator advertised this kind; build a bare one so servers
		// without a facilitator can still produce requirements.
		supportedKind = types.SupportedKind{
			T402Version: ProtocolVersion,
			Scheme:      config.Scheme,
			Network:     string(config.Network),
			Extra:       make(map[string]interface{}),
		}
	}

	requirement, err := s.BuildPaymentRequirements(ctx, config, supportedKind, extensions)
	if err != nil {
		return nil, err
	}

	return []types.PaymentRequirements{requirement}, nil
}

// findSupportedKind scans the cached facilitator responses for a V2 kind
// matching the scheme/network pair, honoring wildcard networks.
func (s *t402ResourceServer) findSupportedKind(scheme string, network Network) (types.SupportedKind, []string, bool) {
	s.supportedCache.mu.RLock()
	defer s.supportedCache.mu.RUnlock()

	for _, cachedResponse := range s.supportedCache.data {
		for _, kind := range cachedResponse.Kinds {
			if kind.T402Version != ProtocolVersion || kind.Scheme != scheme {
				continue
			}
			if Network(kind.Network) == network || network.Match(Network(kind.Network)) {
				return kind, cachedResponse.Extensions, true
			}
		}
	}
	return types.SupportedKind{}, nil, false
}

// FindMatchingRequirements finds the offered requirements entry a payment
// payload claims to have accepted. The client's echoed entry is never
// trusted directly; it must match something the server offered. Legacy v1
// payloads only carry scheme and network, so they match on those alone and
// the offer supplies the amount, asset and recipient.
func (s *t402ResourceServer) FindMatchingRequirements(available []types.PaymentRequirements, payload types.PaymentPayload) *types.PaymentRequirements {
	if payload.T402Version == ProtocolVersionV1 {
		payloadNetwork, err := NormalizeNetwork(payload.Accepted.Network)
		if err != nil {
			return nil
		}
		for i := range available {
			req := available[i]
			offerNetwork, err := NormalizeNetwork(req.Network)
			if err != nil {
				continue
			}
			if payload.Accepted.Scheme == req.Scheme && payloadNetwork == offerNetwork {
				return &req
			}
		}
		return nil
	}

	for i := range available {
		req := available[i]
		if payload.Accepted.Scheme == req.Scheme &&
			payload.Accepted.Network == req.Network &&
			payload.Accepted.Amount == req.Amount &&
			payload.Accepted.Asset == req.Asset &&
			payload.Accepted.PayTo == req.PayTo {
			return &req
		}
	}
	return nil
}

// wirePayment serializes a payload and its matched requirements in the
// dialect the payload arrived in, so legacy v1 payments reach the
// facilitator in the v1 wire shape it routes on.
func wirePayment(payload types.PaymentPayload, requirements types.PaymentRequirements) (payloadBytes, requirementsBytes []byte, err error) {
	if payload.T402Version == ProtocolVersionV1 {
		v1Payload := types.PayloadV2ToV1(payload)
		if network, nerr := NormalizeNetwork(v1Payload.Network); nerr == nil {
			v1Payload.Network = string(network)
		}
		payloadBytes, err = json.Marshal(v1Payload)
		if err != nil {
			return nil, nil, err
		}
		requirementsBytes, err = json.Marshal(types.RequirementsV2ToV1(requirements, nil))
		if err != nil {
			return nil, nil, err
		}
		return payloadBytes, requirementsBytes, nil
	}

	payloadBytes, err = json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	requirementsBytes, err = json.Marshal(requirements)
	if err != nil {
		return nil, nil, err
	}
	return payloadBytes, requirementsBytes, nil
}

// VerifyPayment verifies a payment through the bound facilitator
func (s *t402ResourceServer) VerifyPayment(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error) {
	payloadBytes, requirementsBytes, err := wirePayment(payload, requirements)
	if err != nil {
		return nil, NewVerifyError(ReasonInvalidPaymentPayload, "", Network(requirements.Network), err)
	}

	hookCtx := VerifyContext{
		Ctx:               ctx,
		Payload:           payload,
		Requirements:      requirements,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
	}

	for _, hook := range s.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return nil, NewVerifyError(result.Reason, "", Network(requirements.Network), nil)
		}
	}

	facilitator := s.facilitatorFor(requirements.Scheme, Network(requirements.Network))
	if facilitator == nil {
		return nil, NewVerifyError(ReasonUnsupportedNetworkOrScheme, "", Network(requirements.Network),
			fmt.Errorf("no facilitator for %s on %s", requirements.Scheme, requirements.Network))
	}

	verifyResult, verifyErr := facilitator.Verify(ctx, payloadBytes, requirementsBytes)

	if verifyErr != nil {
		failureCtx := VerifyFailureContext{VerifyContext: hookCtx, Error: verifyErr}
		for _, hook := range s.onVerifyFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return verifyResult, verifyErr
	}

	resultCtx := VerifyResultContext{VerifyContext: hookCtx, Result: verifyResult}
	for _, hook := range s.afterVerifyHooks {
		_ = hook(resultCtx) // observer errors never affect the result
	}

	return verifyResult, nil
}

// SettlePayment settles a payment through the bound facilitator
func (s *t402ResourceServer) SettlePayment(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error) {
	payloadBytes, requirementsBytes, err := wirePayment(payload, requirements)
	if err != nil {
		return nil, NewSettleError(ReasonInvalidPaymentPayload, "", Network(requirements.Network), "", err)
	}

	hookCtx := SettleContext{
		Ctx:               ctx,
		Payload:           payload,
		Requirements:      requirements,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
	}

	for _, hook := range s.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return nil, NewSettleError(result.Reason, "", Network(requirements.Network), "", nil)
		}
	}

	facilitator := s.facilitatorFor(requirements.Scheme, Network(requirements.Network))
	if facilitator == nil {
		return nil, NewSettleError(ReasonUnsupportedNetworkOrScheme, "", Network(requirements.Network), "",
			fmt.Errorf("no facilitator for %s on %s", requirements.Scheme, requirements.Network))
	}

	settleResult, settleErr := facilitator.Settle(ctx, payloadBytes, requirementsBytes)

	if settleErr != nil {
		failureCtx := SettleFailureContext{SettleContext: hookCtx, Error: settleErr}
		for _, hook := range s.onSettleFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return settleResult, settleErr
	}

	resultCtx := SettleResultContext{SettleContext: hookCtx, Result: settleResult}
	for _, hook := range s.afterSettleHooks {
		_ = hook(resultCtx) // observer errors never affect the result
	}

	return settleResult, nil
}

// facilitatorFor resolves the facilitator client bound to a scheme/network,
// honoring wildcard registrations.
func (s *t402ResourceServer) facilitatorFor(scheme string, network Network) FacilitatorClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByNetworkAndScheme(s.facilitatorClients, scheme, network)
}

// CreatePaymentRequiredResponse creates a V2 PaymentRequired response
func (s *t402ResourceServer) CreatePaymentRequiredResponse(
	requirements []types.PaymentRequirements,
	resourceInfo *types.ResourceInfo,
	errorMsg string,
	extensions map[string]interface{},
) types.PaymentRequired {
	return types.PaymentRequired{
		T402Version: ProtocolVersion,
		Error:       errorMsg,
		Resource:    resourceInfo,
		Accepts:     requirements,
		Extensions:  extensions,
	}
}

// ProcessResult is the outcome of processing one payment request.
// Exactly one of PaymentRequired or Verification is set: PaymentRequired
// means respond 402; Verification means the payment checked out and the
// protected handler may run, settling afterwards against Requirements.
type ProcessResult struct {
	PaymentRequired *types.PaymentRequired
	Verification    *VerifyResponse
	Requirements    *types.PaymentRequirements
	Payload         *types.PaymentPayload
}

// ProcessPaymentRequest drives the negotiation for one request to a
// protected resource: no payload yields a PaymentRequired; an invalid or
// unverifiable payload yields a PaymentRequired carrying the failure reason
// and the original accepts list so the client can retry.
func (s *t402ResourceServer) ProcessPaymentRequest(
	ctx context.Context,
	config ResourceConfig,
	resourceInfo *types.ResourceInfo,
	payload *types.PaymentPayload,
) (*ProcessResult, error) {
	accepts, err := s.BuildPaymentRequirementsFromConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if payload == nil {
		required := s.CreatePaymentRequiredResponse(accepts, resourceInfo, "", nil)
		return &ProcessResult{PaymentRequired: &required}, nil
	}

	matched := s.FindMatchingRequirements(accepts, *payload)
	if matched == nil {
		required := s.CreatePaymentRequiredResponse(accepts, resourceInfo, ReasonInvalidPaymentPayload, nil)
		return &ProcessResult{PaymentRequired: &required}, nil
	}

	verification, err := s.VerifyPayment(ctx, *payload, *matched)
	if err != nil {
		required := s.CreatePaymentRequiredResponse(accepts, resourceInfo, ReasonInvalidPaymentPayload, nil)
		return &ProcessResult{PaymentRequired: &required}, nil
	}
	if !verification.IsValid {
		required := s.CreatePaymentRequiredResponse(accepts, resourceInfo, verification.InvalidReason, nil)
		return &ProcessResult{PaymentRequired: &required}, nil
	}

	return &ProcessResult{
		Verification: verification,
		Requirements: matched,
		Payload:      payload,
	}, nil
}
