package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/classsphere/classsphere/internal/config"
	"github.com/classsphere/classsphere/internal/notification"
	obsmetrics "github.com/classsphere/classsphere/internal/observability/metrics"
	"github.com/classsphere/classsphere/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Notifier   notification.Notifier
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	notifier   notification.Notifier
	currency   string
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("wallet.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		notifier:   p.Notifier,
		currency:   p.Cfg.DefaultCurrency,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Credit(ctx context.Context, parentID snowflake.ID, amount int64, description, reference string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.CreditTx(ctx, tx, parentID, amount, description, reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, notification.Event{
			Type:      notification.EventWalletCredited,
			ParentID:  parentID,
			Reference: reference,
			Amount:    amount,
			Currency:  s.currency,
		})
	}
	return txn, nil
}

// CreditTx appends a credit line and increments the balance inside the
// caller's transaction. A reference the wallet has already seen returns
// the stored line untouched; the balance moves only when the insert
// lands, which is what keeps balance == Σcredits − Σdebits under
// concurrent duplicate calls.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, parentID snowflake.ID, amount int64, description, reference string) (*domain.Transaction, error) {
	wallet, txn, err := s.prepare(ctx, tx, parentID, domain.DirectionCredit, amount, description, reference)
	if err != nil {
		return nil, err
	}

	inserted, err := s.repo.InsertTransaction(ctx, tx, txn)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return s.existing(ctx, tx, wallet.ID, txn.Reference)
	}

	if _, err := s.repo.AddBalance(ctx, tx, wallet.ID, amount, nil); err != nil {
		return nil, err
	}
	s.obsMetrics.RecordWalletCredit(ctx)
	return txn, nil
}

func (s *Service) Debit(ctx context.Context, parentID snowflake.ID, amount int64, description, reference string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.DebitTx(ctx, tx, parentID, amount, description, reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, notification.Event{
			Type:      notification.EventWalletDebited,
			ParentID:  parentID,
			Reference: reference,
			Amount:    amount,
			Currency:  s.currency,
		})
	}
	return txn, nil
}

// DebitTx appends a debit line under the same dedup contract as
// CreditTx, and additionally fails with ErrInsufficientFunds when the
// balance cannot cover the amount. The balance decrement is guarded
// (balance >= amount) so concurrent debits can never drive the wallet
// negative; an error aborts the caller's transaction, which also
// discards the inserted line.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, parentID snowflake.ID, amount int64, description, reference string) (*domain.Transaction, error) {
	wallet, txn, err := s.prepare(ctx, tx, parentID, domain.DirectionDebit, amount, description, reference)
	if err != nil {
		return nil, err
	}

	inserted, err := s.repo.InsertTransaction(ctx, tx, txn)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return s.existing(ctx, tx, wallet.ID, txn.Reference)
	}

	guard := amount
	ok, err := s.repo.AddBalance(ctx, tx, wallet.ID, -amount, &guard)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInsufficientFunds
	}
	s.obsMetrics.RecordWalletDebit(ctx)
	return txn, nil
}

func (s *Service) Balance(ctx context.Context, parentID snowflake.ID) (int64, error) {
	wallet, err := s.repo.FindByParent(ctx, s.db, parentID)
	if err != nil {
		return 0, err
	}
	if wallet == nil {
		return 0, nil
	}
	return wallet.Balance, nil
}

func (s *Service) Get(ctx context.Context, parentID snowflake.ID) (*domain.Wallet, []domain.Transaction, error) {
	wallet, err := s.repo.EnsureWallet(ctx, s.db, parentID, s.currency)
	if err != nil {
		return nil, nil, err
	}
	if wallet == nil {
		return nil, nil, domain.ErrWalletNotFound
	}
	txns, err := s.repo.ListTransactions(ctx, s.db, wallet.ID)
	if err != nil {
		return nil, nil, err
	}
	return wallet, txns, nil
}

func (s *Service) RecomputeBalance(ctx context.Context, walletID snowflake.ID) (int64, error) {
	return s.repo.SumTransactions(ctx, s.db, walletID)
}

func (s *Service) prepare(ctx context.Context, tx *gorm.DB, parentID snowflake.ID, direction domain.Direction, amount int64, description, reference string) (*domain.Wallet, *domain.Transaction, error) {
	if parentID == 0 {
		return nil, nil, domain.ErrWalletNotFound
	}
	if amount <= 0 {
		return nil, nil, domain.ErrInvalidAmount
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil, domain.ErrInvalidReference
	}

	wallet, err := s.repo.EnsureWallet(ctx, tx, parentID, s.currency)
	if err != nil {
		return nil, nil, err
	}
	if wallet == nil {
		return nil, nil, domain.ErrWalletNotFound
	}

	return wallet, &domain.Transaction{
		ID:          s.genID.Generate(),
		WalletID:    wallet.ID,
		Direction:   direction,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		Reference:   reference,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *Service) existing(ctx context.Context, tx *gorm.DB, walletID snowflake.ID, reference string) (*domain.Transaction, error) {
	txn, err := s.repo.FindTransaction(ctx, tx, walletID, reference)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, domain.ErrWalletNotFound
	}
	s.log.Debug("wallet transaction deduplicated",
		zap.String("wallet_id", walletID.String()),
		zap.String("reference", reference),
	)
	return txn, nil
}
