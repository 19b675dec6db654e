package domain

import "errors"

var (
	// Input validation.
	ErrRequiredParameter = errors.New("required_parameter_is_not_included")
	ErrInvalidPayload    = errors.New("invalid_payload")
	ErrInvalidDirection  = errors.New("invalid_direction")

	// Callback rejection, all raised before any ledger side effect.
	ErrWrongSignature = errors.New("wrong_signature")
	ErrWrongStatus    = errors.New("wrong_status")

	// Business rules, evaluated in fixed order by the validation layer.
	ErrWageringNotMet        = errors.New("wagering_not_met")
	ErrBonusWithdrawalLocked = errors.New("bonus_withdrawal_locked")
	ErrAmountBelowMin        = errors.New("amount_below_min")
	ErrAmountAboveMax        = errors.New("amount_above_max")
	ErrDailyLimitExceeded    = errors.New("daily_limit_exceeded")
	ErrWithdrawalPending     = errors.New("withdrawal_already_pending")

	// Ledger state.
	ErrNotEnoughBalance  = errors.New("not_enough_balance")
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrPaymentNotFound   = errors.New("payment_not_found")
	ErrInvoiceNotPending = errors.New("invoice_not_pending")
	ErrUserNotFound      = errors.New("user_not_found")

	// Provider resolution.
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
)
