package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/classsphere/classsphere/internal/config"
	"github.com/classsphere/classsphere/internal/notification"
	"github.com/classsphere/classsphere/internal/wallet/domain"
	walletrepo "github.com/classsphere/classsphere/internal/wallet/repository"
	walletservice "github.com/classsphere/classsphere/internal/wallet/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE wallets (
			id BIGINT PRIMARY KEY,
			parent_id BIGINT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_wallets_parent ON wallets(parent_id)`,
		`CREATE TABLE wallet_transactions (
			id BIGINT PRIMARY KEY,
			wallet_id BIGINT NOT NULL,
			direction TEXT NOT NULL,
			amount BIGINT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reference TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_wallet_transactions_ref ON wallet_transactions(wallet_id, reference)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newWalletService(t *testing.T) (domain.Service, *snowflake.Node, *gorm.DB) {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	svc := walletservice.NewService(walletservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     walletrepo.Provide(node),
		Notifier: notification.NewLogNotifier(zap.NewNop()),
		Cfg:      config.Config{DefaultCurrency: "NGN"},
	})
	return svc, node, db
}

func TestCreditCreatesWalletOnFirstUse(t *testing.T) {
	ctx := context.Background()
	svc, node, _ := newWalletService(t)
	parentID := node.Generate()

	txn, err := svc.Credit(ctx, parentID, 5000, "Wallet top-up", "CS_REF1")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if txn.Direction != domain.DirectionCredit || txn.Amount != 5000 {
		t.Fatalf("transaction = %+v", txn)
	}

	balance, err := svc.Balance(ctx, parentID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 5000 {
		t.Fatalf("balance = %d, want 5000", balance)
	}
}

func TestCreditDeduplicatesByReference(t *testing.T) {
	ctx := context.Background()
	svc, node, db := newWalletService(t)
	parentID := node.Generate()

	first, err := svc.Credit(ctx, parentID, 5000, "Wallet top-up", "CS_REF1")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}

	second, err := svc.Credit(ctx, parentID, 5000, "Wallet top-up", "CS_REF1")
	if err != nil {
		t.Fatalf("duplicate credit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate credit created a new transaction")
	}

	balance, _ := svc.Balance(ctx, parentID)
	if balance != 5000 {
		t.Fatalf("balance = %d, want 5000", balance)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(1) FROM wallet_transactions`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("transactions = %d, want 1", count)
	}
}

func TestDebitGuardsBalance(t *testing.T) {
	ctx := context.Background()
	svc, node, _ := newWalletService(t)
	parentID := node.Generate()

	if _, err := svc.Credit(ctx, parentID, 5000, "Wallet top-up", "CS_REF1"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if _, err := svc.Debit(ctx, parentID, 8000, "Subject fee", "CS_REF2"); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}

	// The failed debit must not leave a ledger line behind.
	balance, _ := svc.Balance(ctx, parentID)
	if balance != 5000 {
		t.Fatalf("balance = %d, want 5000", balance)
	}

	wallet, txns, err := svc.Get(ctx, parentID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("transactions = %d, want 1", len(txns))
	}

	derived, err := svc.RecomputeBalance(ctx, wallet.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if derived != wallet.Balance {
		t.Fatalf("derived = %d, stored = %d", derived, wallet.Balance)
	}
}

func TestDebitDeduplicatesByReference(t *testing.T) {
	ctx := context.Background()
	svc, node, _ := newWalletService(t)
	parentID := node.Generate()

	if _, err := svc.Credit(ctx, parentID, 10000, "Wallet top-up", "CS_REF1"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if _, err := svc.Debit(ctx, parentID, 4000, "Subject fee", "CS_REF2"); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := svc.Debit(ctx, parentID, 4000, "Subject fee", "CS_REF2"); err != nil {
		t.Fatalf("duplicate debit: %v", err)
	}

	balance, _ := svc.Balance(ctx, parentID)
	if balance != 6000 {
		t.Fatalf("balance = %d, want 6000", balance)
	}
}

func TestLedgerInvariantAfterMixedActivity(t *testing.T) {
	ctx := context.Background()
	svc, node, _ := newWalletService(t)
	parentID := node.Generate()

	ops := []struct {
		credit bool
		amount int64
		ref    string
	}{
		{true, 10000, "CS_A"},
		{false, 2500, "CS_B"},
		{true, 3000, "CS_C"},
		{false, 4500, "CS_D"},
		{false, 2500, "CS_B"}, // duplicate, must collapse
	}
	for _, op := range ops {
		var err error
		if op.credit {
			_, err = svc.Credit(ctx, parentID, op.amount, "op", op.ref)
		} else {
			_, err = svc.Debit(ctx, parentID, op.amount, "op", op.ref)
		}
		if err != nil {
			t.Fatalf("op %s: %v", op.ref, err)
		}
	}

	wallet, _, err := svc.Get(ctx, parentID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if wallet.Balance != 6000 {
		t.Fatalf("balance = %d, want 6000", wallet.Balance)
	}

	derived, err := svc.RecomputeBalance(ctx, wallet.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if derived != wallet.Balance {
		t.Fatalf("derived = %d, stored = %d", derived, wallet.Balance)
	}
}

func TestValidationRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc, node, _ := newWalletService(t)
	parentID := node.Generate()

	if _, err := svc.Credit(ctx, parentID, 0, "op", "CS_A"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("got %v, want ErrInvalidAmount", err)
	}
	if _, err := svc.Credit(ctx, parentID, -5, "op", "CS_A"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("got %v, want ErrInvalidAmount", err)
	}
	if _, err := svc.Credit(ctx, parentID, 500, "op", "  "); !errors.Is(err, domain.ErrInvalidReference) {
		t.Fatalf("got %v, want ErrInvalidReference", err)
	}
}

func TestBalanceForUnknownParentIsZero(t *testing.T) {
	ctx := context.Background()
	svc, node, _ := newWalletService(t)

	balance, err := svc.Balance(ctx, node.Generate())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
}
