package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// InitializeRequest carries one user checkout action.
type InitializeRequest struct {
	ParentID      snowflake.ID
	StudentID     *snowflake.ID
	Amount        int64
	Currency      string
	PaymentType   Type
	PaymentMethod Method
	Items         []LineItem
	Email         string
}

// InitializeResult is what the checkout UI needs to continue.
type InitializeResult struct {
	Payment          *PaymentRecord `json:"payment"`
	Reference        string         `json:"reference"`
	AuthorizationURL string         `json:"authorization_url"`
	AccessCode       string         `json:"access_code"`
}

// Service is the reconciliation orchestrator. Verify, Refund and Cancel
// are idempotent: repeated or concurrent calls for one reference all
// observe the same terminal result, with at most one gateway round-trip
// and at most one wallet mutation.
type Service interface {
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	Verify(ctx context.Context, reference string) (*PaymentRecord, error)
	Refund(ctx context.Context, id snowflake.ID, amount *int64, reason string) (*PaymentRecord, error)
	Cancel(ctx context.Context, id snowflake.ID) (*PaymentRecord, error)

	GetByID(ctx context.Context, id snowflake.ID) (*PaymentRecord, error)
	ListByParent(ctx context.Context, parentID snowflake.ID, filter ListFilter) ([]PaymentRecord, error)
	List(ctx context.Context, filter ListFilter) ([]PaymentRecord, error)
	Statistics(ctx context.Context, filter ListFilter) (*Statistics, error)
}
