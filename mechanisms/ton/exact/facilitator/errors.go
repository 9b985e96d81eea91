package facilitator

// Facilitator error constants for the exact TON scheme
const (
	ErrUnsupportedScheme         = "unsupported_scheme"
	ErrNetworkMismatch           = "network_mismatch"
	ErrUnsupportedNetwork        = "unsupported_network"
	ErrInvalidPayload            = "invalid_payload"
	ErrInvalidBocFormat          = "invalid_boc_format"
	ErrMessageVerificationFailed = "message_verification_failed"
	ErrAuthorizationExpired      = "authorization_expired"
	ErrBalanceCheckFailed        = "balance_check_failed"
	ErrInvalidRequiredAmount     = "invalid_required_amount"
	ErrInvalidBalanceFormat      = "invalid_balance_format"
	ErrInsufficientJettonBalance = "insufficient_jetton_balance"
	ErrInvalidPayloadAmount      = "invalid_payload_amount"
	ErrInsufficientAmount        = "insufficient_amount"
	ErrRecipientMismatch         = "recipient_mismatch"
	ErrAssetMismatch             = "asset_mismatch"
	ErrSeqnoCheckFailed          = "seqno_check_failed"
	ErrSeqnoAlreadyUsed          = "seqno_already_used"
	ErrSeqnoTooHigh              = "seqno_too_high"
	ErrDeploymentCheckFailed     = "deployment_check_failed"
	ErrWalletNotDeployed         = "wallet_not_deployed"
	ErrTransactionFailed         = "transaction_failed"
	ErrConfirmationFailed        = "transaction_confirmation_failed"
)
