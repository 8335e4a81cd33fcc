package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service is the wallet ledger. Credit and Debit are deduplicated by
// reference: a repeated call with a reference the wallet has already
// seen returns the existing transaction without touching the balance.
//
// The *Tx variants run against a caller-owned transaction so the
// orchestrator can settle a payment transition and its wallet effect
// atomically; the plain variants open their own transaction.
type Service interface {
	Credit(ctx context.Context, parentID snowflake.ID, amount int64, description, reference string) (*Transaction, error)
	CreditTx(ctx context.Context, tx *gorm.DB, parentID snowflake.ID, amount int64, description, reference string) (*Transaction, error)

	Debit(ctx context.Context, parentID snowflake.ID, amount int64, description, reference string) (*Transaction, error)
	DebitTx(ctx context.Context, tx *gorm.DB, parentID snowflake.ID, amount int64, description, reference string) (*Transaction, error)

	Balance(ctx context.Context, parentID snowflake.ID) (int64, error)
	Get(ctx context.Context, parentID snowflake.ID) (*Wallet, []Transaction, error)

	// RecomputeBalance derives the balance from the transaction log.
	// It must always agree with the stored balance; the reconciler
	// compares the two.
	RecomputeBalance(ctx context.Context, walletID snowflake.ID) (int64, error)
}

// Repository persists wallets and their append-only transaction log.
type Repository interface {
	// EnsureWallet creates the parent's wallet if missing and returns it.
	EnsureWallet(ctx context.Context, db *gorm.DB, parentID snowflake.ID, currency string) (*Wallet, error)
	FindByParent(ctx context.Context, db *gorm.DB, parentID snowflake.ID) (*Wallet, error)

	// InsertTransaction appends a ledger line unless one with the same
	// (wallet_id, reference) already exists; the bool reports whether
	// the insert landed.
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) (bool, error)
	FindTransaction(ctx context.Context, db *gorm.DB, walletID snowflake.ID, reference string) (*Transaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, walletID snowflake.ID) ([]Transaction, error)

	// AddBalance adjusts the stored balance by delta. When guard is
	// non-nil the update only applies while balance >= *guard; the bool
	// reports whether a row was updated.
	AddBalance(ctx context.Context, db *gorm.DB, walletID snowflake.ID, delta int64, guard *int64) (bool, error)

	SumTransactions(ctx context.Context, db *gorm.DB, walletID snowflake.ID) (int64, error)
	ListWallets(ctx context.Context, db *gorm.DB) ([]Wallet, error)
}
