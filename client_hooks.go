package t402

import (
	"context"
)

// ============================================================================
// Client Hook Context Types
// ============================================================================

// PaymentCreationContext contains information passed to payment creation hooks.
// Uses view interfaces so one hook serves both dialects.
type PaymentCreationContext struct {
	Ctx                  context.Context
	Version              int // V1 or V2
	SelectedRequirements PaymentRequirementsView
}

// PaymentCreatedContext contains payment creation result and context
type PaymentCreatedContext struct {
	PaymentCreationContext
	Payload PaymentPayloadView
}

// PaymentCreationFailureContext contains payment creation failure and context
type PaymentCreationFailureContext struct {
	PaymentCreationContext
	Error error
}

// ============================================================================
// Client Hook Result Types
// ============================================================================

// BeforePaymentCreationHookResult aborts payment creation when Abort is set,
// reporting Reason to the caller.
type BeforePaymentCreationHookResult struct {
	Abort  bool
	Reason string
}

// PaymentCreationFailureHookResult recovers from a creation failure with a
// replacement payload when Recovered is set.
type PaymentCreationFailureHookResult struct {
	Recovered bool
	Payload   PaymentPayloadView
}

// ============================================================================
// Client Hook Function Types
// ============================================================================

// BeforePaymentCreationHook is called before payment payload creation.
// A result with Abort=true stops creation with the provided reason.
type BeforePaymentCreationHook func(PaymentCreationContext) (*BeforePaymentCreationHookResult, error)

// AfterPaymentCreationHook is called after successful payment payload
// creation. Errors are logged and never affect the result.
type AfterPaymentCreationHook func(PaymentCreatedContext) error

// OnPaymentCreationFailureHook is called when payment payload creation
// fails. A result with Recovered=true substitutes the provided payload for
// the error.
type OnPaymentCreationFailureHook func(PaymentCreationFailureContext) (*PaymentCreationFailureHookResult, error)

// ============================================================================
// Client Hook Registration Options
// ============================================================================

// WithBeforePaymentCreationHook registers a hook to execute before payment creation
func WithBeforePaymentCreationHook(hook BeforePaymentCreationHook) ClientOption {
	return func(c *t402Client) {
		c.beforePaymentCreationHooks = append(c.beforePaymentCreationHooks, hook)
	}
}

// WithAfterPaymentCreationHook registers a hook to execute after successful payment creation
func WithAfterPaymentCreationHook(hook AfterPaymentCreationHook) ClientOption {
	return func(c *t402Client) {
		c.afterPaymentCreationHooks = append(c.afterPaymentCreationHooks, hook)
	}
}

// WithOnPaymentCreationFailureHook registers a hook to execute when payment creation fails
func WithOnPaymentCreationFailureHook(hook OnPaymentCreationFailureHook) ClientOption {
	return func(c *t402Client) {
		c.onPaymentCreationFailureHooks = append(c.onPaymentCreationFailureHooks, hook)
	}
}
