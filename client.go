package t402

import (
	"context"
	"fmt"
	"sync"

	"github.com/t402-io/t402/types"
)

// t402Client manages payment mechanisms and creates payment payloads.
// It is used by applications that make payments (hold wallets/signers).
type t402Client struct {
	mu sync.RWMutex

	// Separate maps for V1 and V2 (V2 uses the default name, no suffix)
	schemesV1 map[Network]map[string]SchemeNetworkClientV1
	schemes   map[Network]map[string]SchemeNetworkClient

	// Selector and policies operate on the unified view across dialects
	requirementsSelector PaymentRequirementsSelector
	policies             []PaymentPolicy

	// Lifecycle hooks
	beforePaymentCreationHooks    []BeforePaymentCreationHook
	afterPaymentCreationHooks     []AfterPaymentCreationHook
	onPaymentCreationFailureHooks []OnPaymentCreationFailureHook
}

// ClientOption configures the client
type ClientOption func(*t402Client)

// WithPaymentSelector sets a custom payment requirements selector
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *t402Client) {
		c.requirementsSelector = selector
	}
}

// WithPolicy registers a payment policy at creation time
func WithPolicy(policy PaymentPolicy) ClientOption {
	return func(c *t402Client) {
		c.policies = append(c.policies, policy)
	}
}

// Newt402Client creates a new t402 client
func Newt402Client(opts ...ClientOption) *t402Client {
	c := &t402Client{
		schemesV1:            make(map[Network]map[string]SchemeNetworkClientV1),
		schemes:              make(map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: DefaultPaymentSelector,
		policies:             []PaymentPolicy{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RegisterV1 registers a V1 payment mechanism
func (c *t402Client) RegisterV1(network Network, client SchemeNetworkClientV1) *t402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemesV1[network] == nil {
		c.schemesV1[network] = make(map[string]SchemeNetworkClientV1)
	}
	c.schemesV1[network][client.Scheme()] = client
	return c
}

// Register registers a payment mechanism (V2, default)
func (c *t402Client) Register(network Network, client SchemeNetworkClient) *t402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[network] == nil {
		c.schemes[network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[network][client.Scheme()] = client
	return c
}

// RegisterPolicy registers a policy to filter or transform payment requirements
func (c *t402Client) RegisterPolicy(policy PaymentPolicy) *t402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies = append(c.policies, policy)
	return c
}

// OnBeforePaymentCreation registers a hook to execute before payment payload creation
func (c *t402Client) OnBeforePaymentCreation(hook BeforePaymentCreationHook) *t402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforePaymentCreationHooks = append(c.beforePaymentCreationHooks, hook)
	return c
}

// OnAfterPaymentCreation registers a hook to execute after successful payment payload creation
func (c *t402Client) OnAfterPaymentCreation(hook AfterPaymentCreationHook) *t402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterPaymentCreationHooks = append(c.afterPaymentCreationHooks, hook)
	return c
}

// OnPaymentCreationFailure registers a hook to execute when payment payload creation fails
func (c *t402Client) OnPaymentCreationFailure(hook OnPaymentCreationFailureHook) *t402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPaymentCreationFailureHooks = append(c.onPaymentCreationFailureHooks, hook)
	return c
}

// SelectPaymentRequirementsV1 selects a V1 payment requirement
func (c *t402Client) SelectPaymentRequirementsV1(requirements []types.PaymentRequirementsV1) (types.PaymentRequirementsV1, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var supported []types.PaymentRequirementsV1
	for _, req := range requirements {
		network := Network(req.Network)
		schemes := findSchemesByNetwork(c.schemesV1, network)
		if schemes != nil {
			if _, ok := schemes[req.Scheme]; ok {
				supported = append(supported, req)
			}
		}
	}

	if len(supported) == 0 {
		return types.PaymentRequirementsV1{}, &PaymentError{
			Code:    ErrCodeNoMatchingScheme,
			Message: "no supported payment schemes available",
		}
	}

	views := toViews(supported)
	filtered := views
	for _, policy := range c.policies {
		filtered = policy(filtered)
		if len(filtered) == 0 {
			return types.PaymentRequirementsV1{}, &PaymentError{
				Code:    ErrCodeNoMatchingScheme,
				Message: "all payment requirements were filtered out by policies",
			}
		}
	}

	selected := c.requirementsSelector(filtered)
	return fromView[types.PaymentRequirementsV1](selected), nil
}

// SelectPaymentRequirements selects a payment requirement (V2, default).
// Requirements whose network/scheme pair has no registered client are
// filtered out before policies and the selector run.
func (c *t402Client) SelectPaymentRequirements(requirements []types.PaymentRequirements) (types.PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var supported []types.PaymentRequirements
	for _, req := range requirements {
		network := Network(req.Network)
		schemes := findSchemesByNetwork(c.schemes, network)
		if schemes != nil {
			if _, ok := schemes[req.Scheme]; ok {
				supported = append(supported, req)
			}
		}
	}

	if len(supported) == 0 {
		return types.PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeNoMatchingScheme,
			Message: "no supported payment schemes available",
		}
	}

	views := toViews(supported)
	filtered := views
	for _, policy := range c.policies {
		filtered = policy(filtered)
		if len(filtered) == 0 {
			return types.PaymentRequirements{}, &PaymentError{
				Code:    ErrCodeNoMatchingScheme,
				Message: "all payment requirements were filtered out by policies",
			}
		}
	}

	selected := c.requirementsSelector(filtered)
	return fromView[types.PaymentRequirements](selected), nil
}

// CreatePaymentPayloadV1 creates a V1 payment payload
func (c *t402Client) CreatePaymentPayloadV1(
	ctx context.Context,
	requirements types.PaymentRequirementsV1,
) (types.PaymentPayloadV1, error) {
	c.mu.RLock()
	client := findByNetworkAndScheme(c.schemesV1, requirements.Scheme, Network(requirements.Network))
	c.mu.RUnlock()

	if client == nil {
		return types.PaymentPayloadV1{}, &PaymentError{
			Code:    ErrCodeNoMatchingScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s", requirements.Scheme, requirements.Network),
		}
	}

	creationCtx := PaymentCreationContext{
		Ctx:                  ctx,
		Version:              ProtocolVersionV1,
		SelectedRequirements: requirements,
	}
	if err := c.runBeforePaymentCreationHooks(creationCtx); err != nil {
		return types.PaymentPayloadV1{}, err
	}

	payload, err := client.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		if recovered, ok := c.runPaymentCreationFailureHooks(creationCtx, err); ok {
			if v1, isV1 := recovered.(types.PaymentPayloadV1); isV1 {
				return v1, nil
			}
		}
		return types.PaymentPayloadV1{}, err
	}

	c.runAfterPaymentCreationHooks(creationCtx, payload)
	return payload, nil
}

// CreatePaymentPayload creates a payment payload (V2, default). The
// mechanism returns a partial payload (version + payload); the client wraps
// it with the accepted requirements, resource, and extensions.
func (c *t402Client) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
	resource *types.ResourceInfo,
	extensions map[string]interface{},
) (types.PaymentPayload, error) {
	if err := ValidatePaymentRequirements(requirements); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	c.mu.RLock()
	client := findByNetworkAndScheme(c.schemes, requirements.Scheme, Network(requirements.Network))
	c.mu.RUnlock()

	if client == nil {
		return types.PaymentPayload{}, &PaymentError{
			Code:    ErrCodeNoMatchingScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s", requirements.Scheme, requirements.Network),
		}
	}

	creationCtx := PaymentCreationContext{
		Ctx:                  ctx,
		Version:              ProtocolVersion,
		SelectedRequirements: requirements,
	}
	if err := c.runBeforePaymentCreationHooks(creationCtx); err != nil {
		return types.PaymentPayload{}, err
	}

	partial, err := client.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		if recovered, ok := c.runPaymentCreationFailureHooks(creationCtx, err); ok {
			if v2, isV2 := recovered.(types.PaymentPayload); isV2 {
				return v2, nil
			}
		}
		return types.PaymentPayload{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	partial.Accepted = requirements
	partial.Resource = resource
	partial.Extensions = extensions

	if err := ValidatePaymentPayload(partial); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid payment payload created: %w", err)
	}

	c.runAfterPaymentCreationHooks(creationCtx, partial)
	return partial, nil
}

// CreatePaymentForRequired selects an option from a PaymentRequired response
// and creates the matching payload, echoing resource and extensions.
func (c *t402Client) CreatePaymentForRequired(ctx context.Context, required types.PaymentRequired) (types.PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.Accepts)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	return c.CreatePaymentPayload(ctx, selected, required.Resource, required.Extensions)
}

// GetRegisteredSchemes returns the registered schemes per version for debugging
func (c *t402Client) GetRegisteredSchemes() map[int][]struct {
	Network Network
	Scheme  string
} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[int][]struct {
		Network Network
		Scheme  string
	})

	for network, schemes := range c.schemesV1 {
		for scheme := range schemes {
			result[ProtocolVersionV1] = append(result[ProtocolVersionV1], struct {
				Network Network
				Scheme  string
			}{Network: network, Scheme: scheme})
		}
	}

	for network, schemeMap := range c.schemes {
		for scheme := range schemeMap {
			result[ProtocolVersion] = append(result[ProtocolVersion], struct {
				Network Network
				Scheme  string
			}{Network: network, Scheme: scheme})
		}
	}

	return result
}

// CanPay checks whether any of the given requirements can be fulfilled
func (c *t402Client) CanPay(requirements []types.PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(requirements)
	return err == nil
}

// runBeforePaymentCreationHooks runs the before hooks; an Abort result stops
// payload creation.
func (c *t402Client) runBeforePaymentCreationHooks(creationCtx PaymentCreationContext) error {
	c.mu.RLock()
	hooks := c.beforePaymentCreationHooks
	c.mu.RUnlock()

	for _, hook := range hooks {
		result, err := hook(creationCtx)
		if err != nil {
			return fmt.Errorf("before payment creation hook failed: %w", err)
		}
		if result != nil && result.Abort {
			return &PaymentError{
				Code:    ErrCodePaymentRequired,
				Message: fmt.Sprintf("payment creation aborted: %s", result.Reason),
			}
		}
	}
	return nil
}

// runAfterPaymentCreationHooks runs the after hooks; errors are ignored so a
// misbehaving observer cannot invalidate a created payment.
func (c *t402Client) runAfterPaymentCreationHooks(creationCtx PaymentCreationContext, payload PaymentPayloadView) {
	c.mu.RLock()
	hooks := c.afterPaymentCreationHooks
	c.mu.RUnlock()

	for _, hook := range hooks {
		_ = hook(PaymentCreatedContext{
			PaymentCreationContext: creationCtx,
			Payload:                payload,
		})
	}
}

// runPaymentCreationFailureHooks gives failure hooks a chance to recover with
// a replacement payload. The first recovery wins.
func (c *t402Client) runPaymentCreationFailureHooks(creationCtx PaymentCreationContext, failure error) (PaymentPayloadView, bool) {
	c.mu.RLock()
	hooks := c.onPaymentCreationFailureHooks
	c.mu.RUnlock()

	for _, hook := range hooks {
		result, err := hook(PaymentCreationFailureContext{
			PaymentCreationContext: creationCtx,
			Error:                  failure,
		})
		if err != nil {
			continue
		}
		if result != nil && result.Recovered && result.Payload != nil {
			return result.Payload, true
		}
	}
	return nil, false
}
