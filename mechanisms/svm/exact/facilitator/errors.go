package facilitator

// Facilitator error constants for the exact SVM scheme
const (
	ErrUnsupportedScheme              = "unsupported_scheme"
	ErrNetworkMismatch                = "network_mismatch"
	ErrMissingFeePayer                = "invalid_exact_solana_payload_missing_fee_payer"
	ErrFeePayerNotManaged             = "fee_payer_not_managed_by_facilitator"
	ErrInvalidFeePayer                = "invalid_fee_payer"
	ErrFeePayerMismatch               = "fee_payer_mismatch"
	ErrInvalidTransaction             = "invalid_exact_solana_payload_transaction"
	ErrTransactionNotDecodable        = "invalid_exact_solana_payload_transaction_could_not_be_decoded"
	ErrTransactionInstructionsLength  = "invalid_exact_solana_payload_transaction_instructions_length"
	ErrInvalidComputeLimitInstruction = "invalid_exact_solana_payload_transaction_instructions_compute_limit_instruction"
	ErrInvalidComputePriceInstruction = "invalid_exact_solana_payload_transaction_instructions_compute_price_instruction"
	ErrComputePriceTooHigh            = "invalid_exact_solana_payload_transaction_instructions_compute_price_instruction_too_high"
	ErrUnexpectedInstruction          = "invalid_exact_solana_payload_transaction_instructions_unexpected_instruction"
	ErrNoTransferInstruction          = "invalid_exact_solana_payload_no_transfer_instruction"
	ErrFeePayerTransferringFunds      = "invalid_exact_solana_payload_transaction_fee_payer_transferring_funds"
	ErrMintMismatch                   = "invalid_exact_solana_payload_mint_mismatch"
	ErrRecipientMismatch              = "invalid_exact_solana_payload_recipient_mismatch"
	ErrAmountInsufficient             = "invalid_exact_solana_payload_amount_insufficient"
	ErrTransactionSigningFailed       = "transaction_signing_failed"
	ErrTransactionSimulationFailed    = "transaction_simulation_failed"
	ErrTransactionFailed              = "transaction_failed"
	ErrTransactionConfirmationFailed  = "transaction_confirmation_failed"
)
