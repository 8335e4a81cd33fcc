package domain

import "errors"

// Validation errors: rejected before any gateway call.
var (
	ErrInvalidParent   = errors.New("invalid_parent")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidType     = errors.New("invalid_payment_type")
	ErrInvalidMethod   = errors.New("invalid_payment_method")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrInvalidItems    = errors.New("invalid_items")
	ErrItemSumMismatch = errors.New("item_sum_mismatch")
	ErrRefundExceeds   = errors.New("refund_exceeds_amount")
)

// Lookup and state-conflict errors.
var (
	ErrPaymentNotFound = errors.New("payment_not_found")
	ErrNotRefundable   = errors.New("payment_not_refundable")
	ErrNotCancellable  = errors.New("payment_not_cancellable")
)

// ErrReferenceExhausted is returned when reference generation keeps
// colliding with the store's uniqueness constraint.
var ErrReferenceExhausted = errors.New("reference_generation_exhausted")
