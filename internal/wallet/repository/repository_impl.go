package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/classsphere/classsphere/internal/wallet/domain"
	"gorm.io/gorm"
)

type repo struct {
	genID *snowflake.Node
}

func Provide(genID *snowflake.Node) domain.Repository {
	return &repo{genID: genID}
}

func (r *repo) EnsureWallet(ctx context.Context, db *gorm.DB, parentID snowflake.ID, currency string) (*domain.Wallet, error) {
	now := time.Now().UTC()
	if err := db.WithContext(ctx).Exec(
		`INSERT INTO wallets (id, parent_id, balance, currency, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?, ?)
		 ON CONFLICT (parent_id) DO NOTHING`,
		r.genID.Generate(),
		parentID,
		currency,
		now,
		now,
	).Error; err != nil {
		return nil, err
	}
	return r.FindByParent(ctx, db, parentID)
}

func (r *repo) FindByParent(ctx context.Context, db *gorm.DB, parentID snowflake.ID) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := db.WithContext(ctx).Raw(
		`SELECT id, parent_id, balance, currency, created_at, updated_at
		 FROM wallets
		 WHERE parent_id = ?
		 LIMIT 1`,
		parentID,
	).Scan(&wallet).Error
	if err != nil {
		return nil, err
	}
	if wallet.ID == 0 {
		return nil, nil
	}
	return &wallet, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO wallet_transactions (id, wallet_id, direction, amount, description, reference, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (wallet_id, reference) DO NOTHING`,
		txn.ID,
		txn.WalletID,
		string(txn.Direction),
		txn.Amount,
		txn.Description,
		txn.Reference,
		txn.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, walletID snowflake.ID, reference string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, wallet_id, direction, amount, description, reference, created_at
		 FROM wallet_transactions
		 WHERE wallet_id = ? AND reference = ?
		 LIMIT 1`,
		walletID,
		reference,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, walletID snowflake.ID) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, wallet_id, direction, amount, description, reference, created_at
		 FROM wallet_transactions
		 WHERE wallet_id = ?
		 ORDER BY created_at DESC, id DESC`,
		walletID,
	).Scan(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repo) AddBalance(ctx context.Context, db *gorm.DB, walletID snowflake.ID, delta int64, guard *int64) (bool, error) {
	now := time.Now().UTC()

	var res *gorm.DB
	if guard != nil {
		res = db.WithContext(ctx).Exec(
			`UPDATE wallets
			 SET balance = balance + ?, updated_at = ?
			 WHERE id = ? AND balance >= ?`,
			delta,
			now,
			walletID,
			*guard,
		)
	} else {
		res = db.WithContext(ctx).Exec(
			`UPDATE wallets
			 SET balance = balance + ?, updated_at = ?
			 WHERE id = ?`,
			delta,
			now,
			walletID,
		)
	}
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SumTransactions(ctx context.Context, db *gorm.DB, walletID snowflake.ID) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(
			SUM(CASE direction WHEN 'credit' THEN amount ELSE -amount END),
			0
		) AS balance
		FROM wallet_transactions
		WHERE wallet_id = ?`,
		walletID,
	).Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return sum, nil
}

func (r *repo) ListWallets(ctx context.Context, db *gorm.DB) ([]domain.Wallet, error) {
	var wallets []domain.Wallet
	err := db.WithContext(ctx).Raw(
		`SELECT id, parent_id, balance, currency, created_at, updated_at
		 FROM wallets
		 ORDER BY id`,
	).Scan(&wallets).Error
	if err != nil {
		return nil, err
	}
	return wallets, nil
}
