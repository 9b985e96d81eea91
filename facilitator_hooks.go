package t402

import (
	"context"
)

// ============================================================================
// Facilitator Hook Context Types
// ============================================================================

// FacilitatorVerifyContext contains information passed to facilitator verify
// hooks. Payload and Requirements are version-agnostic views; the raw bytes
// are included for hooks that need the exact wire form (dedup keys, audit).
type FacilitatorVerifyContext struct {
	Ctx               context.Context
	Payload           PaymentPayloadView
	Requirements      PaymentRequirementsView
	PayloadBytes      []byte
	RequirementsBytes []byte
}

// FacilitatorVerifyResultContext contains a verify result and its context
type FacilitatorVerifyResultContext struct {
	FacilitatorVerifyContext
	Result *VerifyResponse
}

// FacilitatorVerifyFailureContext contains a verify failure and its context
type FacilitatorVerifyFailureContext struct {
	FacilitatorVerifyContext
	Error error
}

// FacilitatorSettleContext contains information passed to facilitator settle hooks
type FacilitatorSettleContext struct {
	Ctx               context.Context
	Payload           PaymentPayloadView
	Requirements      PaymentRequirementsView
	PayloadBytes      []byte
	RequirementsBytes []byte
}

// FacilitatorSettleResultContext contains a settle result and its context
type FacilitatorSettleResultContext struct {
	FacilitatorSettleContext
	Result *SettleResponse
}

// FacilitatorSettleFailureContext contains a settle failure and its context
type FacilitatorSettleFailureContext struct {
	FacilitatorSettleContext
	Error error
}

// ============================================================================
// Facilitator Hook Result Types
// ============================================================================

// FacilitatorBeforeHookResult aborts the operation when Abort is set,
// reporting Reason to the caller.
type FacilitatorBeforeHookResult struct {
	Abort  bool
	Reason string
}

// FacilitatorVerifyFailureHookResult substitutes Result for the error when
// Recovered is set.
type FacilitatorVerifyFailureHookResult struct {
	Recovered bool
	Result    *VerifyResponse
}

// FacilitatorSettleFailureHookResult substitutes Result for the error when
// Recovered is set.
type FacilitatorSettleFailureHookResult struct {
	Recovered bool
	Result    *SettleResponse
}

// ============================================================================
// Facilitator Hook Function Types
// ============================================================================

// FacilitatorBeforeVerifyHook is called before payment verification.
// A result with Abort=true stops verification with the provided reason.
type FacilitatorBeforeVerifyHook func(FacilitatorVerifyContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterVerifyHook is called after successful payment verification.
// Errors are logged and never affect the verification result.
type FacilitatorAfterVerifyHook func(FacilitatorVerifyResultContext) error

// FacilitatorOnVerifyFailureHook is called when payment verification fails.
// A result with Recovered=true substitutes the provided VerifyResponse for
// the error.
type FacilitatorOnVerifyFailureHook func(FacilitatorVerifyFailureContext) (*FacilitatorVerifyFailureHookResult, error)

// FacilitatorBeforeSettleHook is called before payment settlement.
// A result with Abort=true stops settlement with the provided reason.
type FacilitatorBeforeSettleHook func(FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterSettleHook is called after successful payment settlement.
// Errors are logged and never affect the settlement result.
type FacilitatorAfterSettleHook func(FacilitatorSettleResultContext) error

// FacilitatorOnSettleFailureHook is called when payment settlement fails.
// A result with Recovered=true substitutes the provided SettleResponse for
// the error.
type FacilitatorOnSettleFailureHook func(FacilitatorSettleFailureContext) (*FacilitatorSettleFailureHookResult, error)
