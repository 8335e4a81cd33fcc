package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the payment state machine enumeration. Legal transitions:
//
//	pending → processing → {completed | failed | cancelled}
//	completed → refunded
//
// Terminal states never transition again; every transition is applied as
// a conditional write against the store.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// Type classifies what a payment is for.
type Type string

const (
	TypeRegistration Type = "registration"
	TypeSubjectFee   Type = "subject-fee"
	TypePackageFee   Type = "package-fee"
	TypeMaterialFee  Type = "material-fee"
	TypeExamFee      Type = "exam-fee"
	TypeWalletTopup  Type = "wallet-topup"
)

// ValidType reports whether t is a known payment type.
func ValidType(t Type) bool {
	switch t {
	case TypeRegistration, TypeSubjectFee, TypePackageFee, TypeMaterialFee, TypeExamFee, TypeWalletTopup:
		return true
	default:
		return false
	}
}

// Method is how the parent pays.
type Method string

const (
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank-transfer"
	MethodUSSD         Method = "ussd"
	MethodMobileMoney  Method = "mobile-money"
	MethodWallet       Method = "wallet"
)

// ValidMethod reports whether m is a known payment method.
func ValidMethod(m Method) bool {
	switch m {
	case MethodCard, MethodBankTransfer, MethodUSSD, MethodMobileMoney, MethodWallet:
		return true
	default:
		return false
	}
}

// LineItem is one priced line of a payment. TotalPrice must equal
// Quantity * UnitPrice and the line totals must sum to the payment
// amount. All amounts are integer minor units.
type LineItem struct {
	Description string        `json:"description"`
	SubjectID   *snowflake.ID `json:"subject_id,omitempty"`
	ClassID     *snowflake.ID `json:"class_id,omitempty"`
	Quantity    int64         `json:"quantity"`
	UnitPrice   int64         `json:"unit_price"`
	TotalPrice  int64         `json:"total_price"`
}

// Refund is the at-most-one refund sub-record of a completed payment.
type Refund struct {
	Amount     int64     `json:"amount"`
	Reason     string    `json:"reason"`
	Reference  string    `json:"reference"`
	RefundedAt time.Time `json:"refunded_at"`
}

// PaymentRecord is one attempted charge. The reference is immutable once
// assigned and unique across all records; paid_at is stamped exactly once
// on the transition to completed.
type PaymentRecord struct {
	ID            snowflake.ID   `json:"id" gorm:"primaryKey"`
	PaymentCode   string         `json:"payment_code" gorm:"type:text;not null;uniqueIndex:ux_payments_code"`
	ParentID      snowflake.ID   `json:"parent_id" gorm:"not null;index"`
	StudentID     *snowflake.ID  `json:"student_id" gorm:"index"`
	Amount        int64          `json:"amount" gorm:"not null"`
	Currency      string         `json:"currency" gorm:"type:text;not null"`
	PaymentType   Type           `json:"payment_type" gorm:"type:text;not null;index"`
	PaymentMethod Method         `json:"payment_method" gorm:"type:text;not null"`
	Items         datatypes.JSON `json:"items" gorm:"type:jsonb"`

	Reference        string `json:"reference" gorm:"type:text;not null;uniqueIndex:ux_payments_reference"`
	AccessCode       string `json:"access_code" gorm:"type:text"`
	AuthorizationURL string `json:"authorization_url" gorm:"type:text"`
	TransactionID    string `json:"transaction_id" gorm:"type:text"`
	Channel          string `json:"channel" gorm:"type:text"`
	CardType         string `json:"card_type" gorm:"type:text"`
	CardLast4        string `json:"card_last4" gorm:"type:text"`
	Bank             string `json:"bank" gorm:"type:text"`

	Status Status     `json:"status" gorm:"type:text;not null;index"`
	PaidAt *time.Time `json:"paid_at"`

	RefundAmount    *int64     `json:"refund_amount"`
	RefundReason    *string    `json:"refund_reason"`
	RefundReference *string    `json:"refund_reference"`
	RefundedAt      *time.Time `json:"refunded_at"`

	InvoiceNumber string    `json:"invoice_number" gorm:"type:text;not null"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"not null"`
}

func (PaymentRecord) TableName() string { return "payments" }

// RefundRecord returns the refund sub-record, or nil if the payment has
// never been refunded.
func (p *PaymentRecord) RefundRecord() *Refund {
	if p.RefundReference == nil || p.RefundedAt == nil || p.RefundAmount == nil {
		return nil
	}
	refund := Refund{
		Amount:     *p.RefundAmount,
		Reference:  *p.RefundReference,
		RefundedAt: *p.RefundedAt,
	}
	if p.RefundReason != nil {
		refund.Reason = *p.RefundReason
	}
	return &refund
}

// LineItems decodes the stored items payload.
func (p *PaymentRecord) LineItems() ([]LineItem, error) {
	if len(p.Items) == 0 {
		return nil, nil
	}
	var items []LineItem
	if err := json.Unmarshal(p.Items, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// EncodeItems serializes line items for storage.
func EncodeItems(items []LineItem) (datatypes.JSON, error) {
	if len(items) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(payload), nil
}
