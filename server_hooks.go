package t402

import (
	"context"
)

// ============================================================================
// Resource Server Hook Context Types
// ============================================================================

// VerifyContext contains information passed to verify hooks. Views keep
// hooks version-agnostic; the raw bytes are an escape hatch for extensions
// that need the exact wire form.
type VerifyContext struct {
	Ctx               context.Context
	Payload           PaymentPayloadView
	Requirements      PaymentRequirementsView
	PayloadBytes      []byte
	RequirementsBytes []byte
}

// VerifyResultContext contains verify operation result and context
type VerifyResultContext struct {
	VerifyContext
	Result *VerifyResponse
}

// VerifyFailureContext contains verify operation failure and context
type VerifyFailureContext struct {
	VerifyContext
	Error error
}

// SettleContext contains information passed to settle hooks
type SettleContext struct {
	Ctx               context.Context
	Payload           PaymentPayloadView
	Requirements      PaymentRequirementsView
	PayloadBytes      []byte
	RequirementsBytes []byte
}

// SettleResultContext contains settle operation result and context
type SettleResultContext struct {
	SettleContext
	Result *SettleResponse
}

// SettleFailureContext contains settle operation failure and context
type SettleFailureContext struct {
	SettleContext
	Error error
}

// ============================================================================
// Resource Server Hook Result Types
// ============================================================================

// BeforeHookResult aborts the operation when Abort is set
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// VerifyFailureHookResult substitutes Result for the error when Recovered is set
type VerifyFailureHookResult struct {
	Recovered bool
	Result    *VerifyResponse
}

// SettleFailureHookResult substitutes Result for the error when Recovered is set
type SettleFailureHookResult struct {
	Recovered bool
	Result    *SettleResponse
}

// ============================================================================
// Resource Server Hook Function Types
// ============================================================================

// BeforeVerifyHook is called before payment verification.
// A result with Abort=true stops verification with the provided reason.
type BeforeVerifyHook func(VerifyContext) (*BeforeHookResult, error)

// AfterVerifyHook is called after successful payment verification.
// Errors are logged and never affect the verification result.
type AfterVerifyHook func(VerifyResultContext) error

// OnVerifyFailureHook is called when payment verification fails.
// A result with Recovered=true substitutes the provided VerifyResponse.
type OnVerifyFailureHook func(VerifyFailureContext) (*VerifyFailureHookResult, error)

// BeforeSettleHook is called before payment settlement.
// A result with Abort=true stops settlement with the provided reason.
type BeforeSettleHook func(SettleContext) (*BeforeHookResult, error)

// AfterSettleHook is called after successful payment settlement.
// Errors are logged and never affect the settlement result.
type AfterSettleHook func(SettleResultContext) error

// OnSettleFailureHook is called when payment settlement fails.
// A result with Recovered=true substitutes the provided SettleResponse.
type OnSettleFailureHook func(SettleFailureContext) (*SettleFailureHookResult, error)

// ============================================================================
// Resource Server Hook Registration Options
// ============================================================================

// WithBeforeVerifyHook registers a hook to execute before payment verification
func WithBeforeVerifyHook(hook BeforeVerifyHook) ResourceServerOption {
	return func(s *t402ResourceServer) {
		s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	}
}

// WithAfterVerifyHook registers a hook to execute after successful payment verification
func WithAfterVerifyHook(hook AfterVerifyHook) ResourceServerOption {
	return func(s *t402ResourceServer) {
		s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	}
}

// WithOnVerifyFailureHook registers a hook to execute when payment verification fails
func WithOnVerifyFailureHook(hook OnVerifyFailureHook) ResourceServerOption {
	return func(s *t402ResourceServer) {
		s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	}
}

// WithBeforeSettleHook registers a hook to execute before payment settlement
func WithBeforeSettleHook(hook BeforeSettleHook) ResourceServerOption {
	return func(s *t402ResourceServer) {
		s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	}
}

// WithAfterSettleHook registers a hook to execute after successful payment settlement
func WithAfterSettleHook(hook AfterSettleHook) ResourceServerOption {
	return func(s *t402ResourceServer) {
		s.afterSettleHooks = append(s.afterSettleHooks, hook)
	}
}

// WithOnSettleFailureHook registers a hook to execute when payment settlement fails
func WithOnSettleFailureHook(hook OnSettleFailureHook) ResourceServerOption {
	return func(s *t402ResourceServer) {
		s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	}
}
