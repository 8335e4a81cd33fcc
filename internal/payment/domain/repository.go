package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// GatewayMeta is the settlement metadata stored on the completed
// transition, decoded from the gateway's verify result.
type GatewayMeta struct {
	TransactionID string
	Channel       string
	CardType      string
	CardLast4     string
	Bank          string
}

// ListFilter narrows payment listings.
type ListFilter struct {
	Status      Status
	PaymentType Type
	From        *time.Time
	To          *time.Time
}

// Statistics aggregates completed payments.
type Statistics struct {
	TotalPayments int64                     `json:"total_payments"`
	TotalRevenue  int64                     `json:"total_revenue"`
	ByType        map[string]StatisticsCell `json:"by_type"`
	ByMonth       map[string]StatisticsCell `json:"by_month"`
}

type StatisticsCell struct {
	Count  int64 `json:"count"`
	Amount int64 `json:"amount"`
}

// Repository persists payment records. Every state transition is a
// conditional write: the Mark* methods report false when the record was
// not in an eligible source state, which callers treat as the idempotent
// already-done path, never as a failure.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *PaymentRecord) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentRecord, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*PaymentRecord, error)

	// ListOpenIntents returns the pending/processing records matching a
	// checkout's (parent, student, type, amount, currency), newest first.
	// The caller narrows further by line items so a retried initialize
	// reuses its own record instead of minting a duplicate reference.
	ListOpenIntents(ctx context.Context, db *gorm.DB, parentID snowflake.ID, studentID *snowflake.ID, paymentType Type, amount int64, currency string) ([]PaymentRecord, error)

	// MarkProcessing stores the gateway access data and moves
	// pending|processing → processing.
	MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, accessCode, authorizationURL string) (bool, error)

	// MarkCompleted moves pending|processing → completed, stamping
	// paid_at exactly once together with the gateway metadata.
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time, meta GatewayMeta) (bool, error)

	// MarkFailed moves pending|processing → failed.
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)

	// MarkCancelled moves pending|processing → cancelled.
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)

	// MarkRefunded moves completed → refunded and attaches the refund
	// sub-record in the same write.
	MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, refund Refund) (bool, error)

	ListByParent(ctx context.Context, db *gorm.DB, parentID snowflake.ID, filter ListFilter) ([]PaymentRecord, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]PaymentRecord, error)
	ListCompleted(ctx context.Context, db *gorm.DB, from, to *time.Time) ([]PaymentRecord, error)
}
