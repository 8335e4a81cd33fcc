package domain

import "errors"

var (
	ErrWalletNotFound    = errors.New("wallet_not_found")
	ErrInvalidAmount     = errors.New("invalid_wallet_amount")
	ErrInvalidReference  = errors.New("invalid_wallet_reference")
	ErrInsufficientFunds = errors.New("insufficient_funds")
)
