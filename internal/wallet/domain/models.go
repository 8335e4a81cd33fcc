package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Direction represents credit or debit postings.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Wallet is one parent's balance. The stored balance always equals
// Σ(credits) − Σ(debits) over the transaction log: both are mutated in
// one database transaction, never independently.
type Wallet struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	ParentID  snowflake.ID `json:"parent_id" gorm:"not null;uniqueIndex:ux_wallets_parent"`
	Balance   int64        `json:"balance" gorm:"not null;default:0"`
	Currency  string       `json:"currency" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

// Transaction is one immutable ledger line. The (wallet_id, reference)
// pair is unique: the reference is the idempotency key that makes
// duplicate credits and debits collapse into no-ops.
type Transaction struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	WalletID    snowflake.ID `json:"wallet_id" gorm:"not null;index;uniqueIndex:ux_wallet_transactions_ref,priority:1"`
	Direction   Direction    `json:"direction" gorm:"type:text;not null"`
	Amount      int64        `json:"amount" gorm:"not null"`
	Description string       `json:"description" gorm:"type:text;not null"`
	Reference   string       `json:"reference" gorm:"type:text;not null;uniqueIndex:ux_wallet_transactions_ref,priority:2"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

func (Transaction) TableName() string { return "wallet_transactions" }
