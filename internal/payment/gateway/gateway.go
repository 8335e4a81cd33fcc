package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// VerifyStatus is the gateway's settled view of a transaction.
type VerifyStatus string

const (
	VerifySuccess   VerifyStatus = "success"
	VerifyFailed    VerifyStatus = "failed"
	VerifyAbandoned VerifyStatus = "abandoned"
)

// InitializeRequest asks the gateway to open a charge. Amount is in
// integer minor units.
type InitializeRequest struct {
	Email       string
	Amount      int64
	Reference   string
	CallbackURL string
	Metadata    map[string]string
	Channels    []string
}

// InitializeResult is the gateway-issued checkout access data.
type InitializeResult struct {
	AccessCode       string
	AuthorizationURL string
}

// VerifyResult is the fixed result variant decoded once at the gateway
// boundary; nothing of the raw response shape leaks past it.
type VerifyResult struct {
	Status        VerifyStatus
	TransactionID string
	Channel       string
	CardType      string
	CardLast4     string
	Bank          string
	Amount        int64
	PaidAt        time.Time
}

// RefundResult carries the gateway's refund reference.
type RefundResult struct {
	RefundReference string
}

// Client is the contract the orchestrator requires of the external
// payment processor. Implementations classify every failure as either
// retryable or fatal via Error; they never return raw transport errors.
type Client interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error)
	Refund(ctx context.Context, reference string, amount int64, reason string) (*RefundResult, error)
}

// Error is a classified gateway failure. Retryable failures (timeouts,
// 5xx) leave payment state untouched; fatal failures (4xx validation,
// unknown reference) are final for the operation that hit them.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("gateway %s error [%s]: %s", kind, e.Code, e.Message)
}

// NewRetryableError wraps a transient gateway failure.
func NewRetryableError(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

// NewFatalError wraps a permanent gateway rejection.
func NewFatalError(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: false}
}

// IsRetryable reports whether err is a retryable gateway error.
func IsRetryable(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return false
}

// IsFatal reports whether err is a fatal gateway error.
func IsFatal(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return !gwErr.Retryable
	}
	return false
}
