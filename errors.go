package t402

import "fmt"

// Reason codes shared across the protocol. Scheme implementations return
// these through VerifyResponse.InvalidReason / SettleResponse.ErrorReason;
// transports map them onto HTTP statuses.
const (
	ReasonMalformedPaymentHeader      = "malformed_payment_header"
	ReasonInvalidPaymentPayload       = "invalid_payment_payload"
	ReasonUnsupportedNetworkOrScheme  = "unsupported_network_or_scheme"
	ReasonUnsupportedScheme           = "unsupported_scheme"
	ReasonNetworkMismatch             = "network_mismatch"
	ReasonInvalidSpender              = "invalid_spender"
	ReasonInvalidSignature            = "invalid_signature"
	ReasonRecipientMismatch           = "recipient_mismatch"
	ReasonAuthorizationExpired        = "authorization_expired"
	ReasonAuthorizationNotYetValid    = "authorization_not_yet_valid"
	ReasonInsufficientBalance         = "insufficient_balance"
	ReasonInsufficientAllowance       = "insufficient_allowance"
	ReasonInsufficientAmount          = "insufficient_amount"
	ReasonTransactionFailed           = "transaction_failed"
	ReasonSettlementUnconfirmed       = "settlement_unconfirmed"
	ReasonRateLimited                 = "rate_limited"
	ReasonVerificationTimeout         = "verification_timeout"
	ReasonSettlementTimeout           = "settlement_timeout"
	ReasonInvalidPriceFormat          = "invalid_price_format"
	ReasonNoDefaultAsset              = "no_default_asset"
	ReasonNoMatchingScheme            = "no_matching_scheme"
	ReasonNonceAlreadyUsed            = "nonce_already_used"
)

// Common error codes for PaymentError
const (
	ErrCodeInvalidPayment     = ReasonInvalidPaymentPayload
	ErrCodePaymentRequired    = "payment_required"
	ErrCodeUnsupportedScheme  = ReasonUnsupportedNetworkOrScheme
	ErrCodeNoMatchingScheme   = ReasonNoMatchingScheme
	ErrCodeSettlementFailed   = "settlement_failed"
	ErrCodeInvalidPrice       = ReasonInvalidPriceFormat
	ErrCodeUnsupportedNetwork = "unsupported_network"
)

// PaymentError represents a protocol-level payment error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// VerifyError is returned by facilitator internals when verification cannot
// even produce a VerifyResponse (routing failures, malformed bytes). Scheme
// check failures are reported through VerifyResponse, not this type.
type VerifyError struct {
	Reason  string
	Payer   string
	Network Network
	Err     error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("verify failed (%s)", e.Reason)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// NewVerifyError creates a VerifyError
func NewVerifyError(reason, payer string, network Network, err error) *VerifyError {
	return &VerifyError{Reason: reason, Payer: payer, Network: network, Err: err}
}

// SettleError is the settlement counterpart of VerifyError. Transaction is
// populated when a transaction was broadcast before the failure, so callers
// can distinguish ambiguous outcomes from definite ones.
type SettleError struct {
	Reason      string
	Payer       string
	Network     Network
	Transaction string
	Err         error
}

func (e *SettleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("settle failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("settle failed (%s)", e.Reason)
}

func (e *SettleError) Unwrap() error { return e.Err }

// NewSettleError creates a SettleError
func NewSettleError(reason, payer string, network Network, transaction string, err error) *SettleError {
	return &SettleError{Reason: reason, Payer: payer, Network: network, Transaction: transaction, Err: err}
}
