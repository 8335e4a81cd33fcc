package service

import (
	"bytes"
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/classsphere/classsphere/internal/clock"
	"github.com/classsphere/classsphere/internal/config"
	"github.com/classsphere/classsphere/internal/notification"
	obsmetrics "github.com/classsphere/classsphere/internal/observability/metrics"
	"github.com/classsphere/classsphere/internal/payment/domain"
	"github.com/classsphere/classsphere/internal/payment/gateway"
	walletdomain "github.com/classsphere/classsphere/internal/wallet/domain"
	"github.com/classsphere/classsphere/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxReferenceAttempts bounds retries when a freshly minted reference or
// payment code collides with the store's uniqueness constraints.
const maxReferenceAttempts = 5

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       domain.Repository
	Wallet     walletdomain.Service
	Gateway    gateway.Client
	Notifier   notification.Notifier
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	repo     domain.Repository
	wallet   walletdomain.Service
	gateway  gateway.Client
	notifier notification.Notifier
	metrics  *obsmetrics.Metrics

	callbackURL       string
	defaultCurrency   string
	refundTopupDebits bool
}

func NewService(p Params) domain.Service {
	return &Service{
		db:                p.DB,
		log:               p.Log.Named("payment.service"),
		clock:             p.Clock,
		genID:             p.GenID,
		repo:              p.Repo,
		wallet:            p.Wallet,
		gateway:           p.Gateway,
		notifier:          p.Notifier,
		metrics:           p.ObsMetrics,
		callbackURL:       p.Cfg.Paystack.CallbackURL,
		defaultCurrency:   p.Cfg.DefaultCurrency,
		refundTopupDebits: p.Cfg.RefundTopupDebitsWallet,
	}
}

func (s *Service) Initialize(ctx context.Context, req domain.InitializeRequest) (*domain.InitializeResult, error) {
	if err := s.validateInitialize(&req); err != nil {
		return nil, err
	}

	if req.PaymentMethod == domain.MethodWallet {
		return s.initializeFromWallet(ctx, req)
	}

	items, err := domain.EncodeItems(req.Items)
	if err != nil {
		return nil, err
	}

	// A retried checkout for the same open intent reuses the existing
	// record instead of minting a second reference. Two checkouts that
	// happen to share a total are told apart by their line items.
	open, err := s.repo.ListOpenIntents(ctx, s.db, req.ParentID, req.StudentID, req.PaymentType, req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	var payment *domain.PaymentRecord
	for i := range open {
		if bytes.Equal(open[i].Items, items) {
			payment = &open[i]
			break
		}
	}
	if payment == nil {
		payment, err = s.insertNewRecord(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	if payment.AccessCode != "" {
		return &domain.InitializeResult{
			Payment:          payment,
			Reference:        payment.Reference,
			AuthorizationURL: payment.AuthorizationURL,
			AccessCode:       payment.AccessCode,
		}, nil
	}

	// Gateway call happens outside any transaction or lock.
	initRes, err := s.gateway.InitializeTransaction(ctx, gateway.InitializeRequest{
		Email:       req.Email,
		Amount:      payment.Amount,
		Reference:   payment.Reference,
		CallbackURL: s.callbackURL,
		Metadata: map[string]string{
			"payment_code": payment.PaymentCode,
			"payment_type": string(payment.PaymentType),
		},
	})
	if err != nil {
		// The record stays pending whatever the error class; a retried
		// initialize finds it again and reuses the same reference.
		return nil, err
	}

	if _, err := s.repo.MarkProcessing(ctx, s.db, payment.ID, initRes.AccessCode, initRes.AuthorizationURL); err != nil {
		return nil, err
	}
	payment, err = s.reload(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPaymentInitialized(ctx, string(payment.PaymentType))
	s.log.Info("payment initialized",
		zap.String("reference", payment.Reference),
		zap.String("payment_code", payment.PaymentCode),
		zap.String("type", string(payment.PaymentType)),
		zap.Int64("amount", payment.Amount),
	)

	return &domain.InitializeResult{
		Payment:          payment,
		Reference:        payment.Reference,
		AuthorizationURL: payment.AuthorizationURL,
		AccessCode:       payment.AccessCode,
	}, nil
}

// initializeFromWallet settles a fee payment against the parent's wallet
// balance. The record insert, the ledger debit and the completed
// transition commit in one transaction; no gateway is involved.
func (s *Service) initializeFromWallet(ctx context.Context, req domain.InitializeRequest) (*domain.InitializeResult, error) {
	payment, err := s.insertNewRecord(ctx, req)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.wallet.DebitTx(ctx, tx, req.ParentID, req.Amount, walletDebitDescription(req.PaymentType), payment.Reference); err != nil {
			return err
		}
		ok, err := s.repo.MarkCompleted(ctx, tx, payment.ID, s.clock.Now(), domain.GatewayMeta{Channel: "wallet"})
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrPaymentNotFound
		}
		return nil
	})
	if err != nil {
		if _, markErr := s.repo.MarkFailed(ctx, s.db, payment.ID); markErr != nil {
			s.log.Error("mark failed after wallet debit error",
				zap.String("reference", payment.Reference),
				zap.Error(markErr),
			)
		}
		return nil, err
	}

	payment, err = s.reload(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPaymentInitialized(ctx, string(payment.PaymentType))
	s.notifier.Notify(ctx, notification.Event{
		Type:      notification.EventPaymentCompleted,
		ParentID:  payment.ParentID,
		Reference: payment.Reference,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
	})

	return &domain.InitializeResult{
		Payment:   payment,
		Reference: payment.Reference,
	}, nil
}

// Verify reconciles a payment against the gateway's settled view. A
// record already in a terminal state is returned as-is without a gateway
// call; otherwise the gateway decides, and the resulting transition is a
// conditional write so concurrent verifies settle exactly once.
func (s *Service) Verify(ctx context.Context, reference string) (*domain.PaymentRecord, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, domain.ErrPaymentNotFound
	}

	payment, err := s.repo.FindByReference(ctx, s.db, reference)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	if payment.Status.Terminal() {
		return payment, nil
	}

	result, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		if gateway.IsRetryable(err) {
			// Transient gateway trouble leaves the record untouched so a
			// later verify can settle it.
			return nil, err
		}
		return s.settleFailed(ctx, payment)
	}

	switch result.Status {
	case gateway.VerifySuccess:
		if result.Amount != payment.Amount {
			s.log.Warn("gateway amount mismatch",
				zap.String("reference", reference),
				zap.Int64("expected", payment.Amount),
				zap.Int64("reported", result.Amount),
			)
			return s.settleFailed(ctx, payment)
		}
		return s.settleCompleted(ctx, payment, result)
	default:
		return s.settleFailed(ctx, payment)
	}
}

// settleCompleted applies the completed transition and, for a wallet
// top-up, the ledger credit in one transaction. Losing the conditional
// write means a concurrent verify already settled the record; the loser
// just reloads.
func (s *Service) settleCompleted(ctx context.Context, payment *domain.PaymentRecord, result *gateway.VerifyResult) (*domain.PaymentRecord, error) {
	paidAt := result.PaidAt
	if paidAt.IsZero() {
		paidAt = s.clock.Now()
	}

	var won bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.MarkCompleted(ctx, tx, payment.ID, paidAt, domain.GatewayMeta{
			TransactionID: result.TransactionID,
			Channel:       result.Channel,
			CardType:      result.CardType,
			CardLast4:     result.CardLast4,
			Bank:          result.Bank,
		})
		if err != nil {
			return err
		}
		won = ok
		if !ok {
			return nil
		}
		if payment.PaymentType == domain.TypeWalletTopup {
			if _, err := s.wallet.CreditTx(ctx, tx, payment.ParentID, payment.Amount, "Wallet top-up", payment.Reference); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payment, err = s.reload(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	if won {
		s.metrics.RecordPaymentVerified(ctx, string(domain.StatusCompleted))
		s.notifier.Notify(ctx, notification.Event{
			Type:      notification.EventPaymentCompleted,
			ParentID:  payment.ParentID,
			Reference: payment.Reference,
			Amount:    payment.Amount,
			Currency:  payment.Currency,
		})
		s.log.Info("payment completed",
			zap.String("reference", payment.Reference),
			zap.String("channel", payment.Channel),
			zap.Int64("amount", payment.Amount),
		)
	}
	return payment, nil
}

func (s *Service) settleFailed(ctx context.Context, payment *domain.PaymentRecord) (*domain.PaymentRecord, error) {
	won, err := s.repo.MarkFailed(ctx, s.db, payment.ID)
	if err != nil {
		return nil, err
	}

	payment, err = s.reload(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	if won {
		s.metrics.RecordPaymentVerified(ctx, string(domain.StatusFailed))
		s.notifier.Notify(ctx, notification.Event{
			Type:      notification.EventPaymentFailed,
			ParentID:  payment.ParentID,
			Reference: payment.Reference,
			Amount:    payment.Amount,
			Currency:  payment.Currency,
		})
		s.log.Info("payment failed", zap.String("reference", payment.Reference))
	}
	return payment, nil
}

// Refund refunds a completed payment, fully or partially. A record
// already refunded is returned as-is; a gateway failure of either class
// leaves the record completed so the caller can retry or investigate.
// Payments settled from the wallet are refunded by crediting the wallet
// back, with no gateway involvement.
func (s *Service) Refund(ctx context.Context, id snowflake.ID, amount *int64, reason string) (*domain.PaymentRecord, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	if payment.Status == domain.StatusRefunded {
		return payment, nil
	}
	if payment.Status != domain.StatusCompleted {
		return nil, domain.ErrNotRefundable
	}

	refundAmount := payment.Amount
	if amount != nil {
		refundAmount = *amount
	}
	if refundAmount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if refundAmount > payment.Amount {
		return nil, domain.ErrRefundExceeds
	}

	debitsWallet := s.refundTopupDebits && payment.PaymentType == domain.TypeWalletTopup
	if debitsWallet {
		// Check the balance before committing money at the gateway. The
		// guarded debit below still decides, this just rejects the
		// obvious case without a gateway round-trip.
		balance, err := s.wallet.Balance(ctx, payment.ParentID)
		if err != nil {
			return nil, err
		}
		if balance < refundAmount {
			return nil, walletdomain.ErrInsufficientFunds
		}
	}

	refund := domain.Refund{
		Amount:     refundAmount,
		Reason:     reason,
		RefundedAt: s.clock.Now(),
	}
	// A wallet-settled payment never reached the gateway; the money goes
	// back onto the wallet ledger, not through a gateway refund.
	refundsToWallet := payment.PaymentMethod == domain.MethodWallet
	if refundsToWallet {
		refund.Reference = "refund:" + payment.Reference
	} else {
		target := payment.TransactionID
		if target == "" {
			target = payment.Reference
		}
		refundRes, err := s.gateway.Refund(ctx, target, refundAmount, reason)
		if err != nil {
			return nil, err
		}
		refund.Reference = refundRes.RefundReference
	}

	var won bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.MarkRefunded(ctx, tx, payment.ID, refund)
		if err != nil {
			return err
		}
		won = ok
		if !ok {
			return nil
		}
		if debitsWallet {
			if _, err := s.wallet.DebitTx(ctx, tx, payment.ParentID, refundAmount, "Top-up refund", "refund:"+payment.Reference); err != nil {
				return err
			}
		}
		if refundsToWallet {
			if _, err := s.wallet.CreditTx(ctx, tx, payment.ParentID, refundAmount, walletDebitDescription(payment.PaymentType)+" refund", refund.Reference); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payment, err = s.reload(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	if won {
		s.metrics.RecordPaymentRefunded(ctx)
		s.notifier.Notify(ctx, notification.Event{
			Type:      notification.EventPaymentRefunded,
			ParentID:  payment.ParentID,
			Reference: payment.Reference,
			Amount:    refundAmount,
			Currency:  payment.Currency,
		})
		s.log.Info("payment refunded",
			zap.String("reference", payment.Reference),
			zap.String("refund_reference", refund.Reference),
			zap.Int64("amount", refundAmount),
		)
	}
	return payment, nil
}

// Cancel abandons a payment that has not settled. Repeating a cancel is
// a no-op; cancelling a record in any other terminal state conflicts.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (*domain.PaymentRecord, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	if payment.Status == domain.StatusCancelled {
		return payment, nil
	}
	if payment.Status.Terminal() {
		return nil, domain.ErrNotCancellable
	}

	won, err := s.repo.MarkCancelled(ctx, s.db, payment.ID)
	if err != nil {
		return nil, err
	}

	payment, err = s.reload(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the race to a concurrent transition.
		if payment.Status == domain.StatusCancelled {
			return payment, nil
		}
		return nil, domain.ErrNotCancellable
	}

	s.log.Info("payment cancelled", zap.String("reference", payment.Reference))
	return payment, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.PaymentRecord, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) ListByParent(ctx context.Context, parentID snowflake.ID, filter domain.ListFilter) ([]domain.PaymentRecord, error) {
	return s.repo.ListByParent(ctx, s.db, parentID, filter)
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.PaymentRecord, error) {
	return s.repo.List(ctx, s.db, filter)
}

// Statistics aggregates settled payments in memory so the shape stays
// identical across database dialects.
func (s *Service) Statistics(ctx context.Context, filter domain.ListFilter) (*domain.Statistics, error) {
	payments, err := s.repo.ListCompleted(ctx, s.db, filter.From, filter.To)
	if err != nil {
		return nil, err
	}

	stats := &domain.Statistics{
		ByType:  make(map[string]domain.StatisticsCell),
		ByMonth: make(map[string]domain.StatisticsCell),
	}
	for i := range payments {
		p := &payments[i]
		revenue := p.Amount
		if p.Status == domain.StatusRefunded && p.RefundAmount != nil {
			revenue -= *p.RefundAmount
		}

		stats.TotalPayments++
		stats.TotalRevenue += revenue

		byType := stats.ByType[string(p.PaymentType)]
		byType.Count++
		byType.Amount += revenue
		stats.ByType[string(p.PaymentType)] = byType

		if p.PaidAt != nil {
			month := p.PaidAt.UTC().Format("2006-01")
			byMonth := stats.ByMonth[month]
			byMonth.Count++
			byMonth.Amount += revenue
			stats.ByMonth[month] = byMonth
		}
	}
	return stats, nil
}

func (s *Service) validateInitialize(req *domain.InitializeRequest) error {
	if req.ParentID == 0 {
		return domain.ErrInvalidParent
	}
	if req.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if !domain.ValidType(req.PaymentType) {
		return domain.ErrInvalidType
	}
	if !domain.ValidMethod(req.PaymentMethod) {
		return domain.ErrInvalidMethod
	}
	// Topping up a wallet from the wallet itself is meaningless.
	if req.PaymentMethod == domain.MethodWallet && req.PaymentType == domain.TypeWalletTopup {
		return domain.ErrInvalidMethod
	}
	if req.PaymentMethod != domain.MethodWallet {
		email := strings.TrimSpace(req.Email)
		if email == "" || !strings.Contains(email, "@") {
			return domain.ErrInvalidEmail
		}
		req.Email = email
	}
	if req.Currency == "" {
		req.Currency = s.defaultCurrency
	}

	if req.PaymentType != domain.TypeWalletTopup && len(req.Items) == 0 {
		return domain.ErrInvalidItems
	}
	var sum int64
	for i := range req.Items {
		item := &req.Items[i]
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			return domain.ErrInvalidItems
		}
		if item.TotalPrice != item.Quantity*item.UnitPrice {
			return domain.ErrInvalidItems
		}
		sum += item.TotalPrice
	}
	if len(req.Items) > 0 && sum != req.Amount {
		return domain.ErrItemSumMismatch
	}
	return nil
}

// insertNewRecord persists a fresh pending record, retrying with new
// identifiers while the insert trips a uniqueness constraint.
func (s *Service) insertNewRecord(ctx context.Context, req domain.InitializeRequest) (*domain.PaymentRecord, error) {
	items, err := domain.EncodeItems(req.Items)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		now := s.clock.Now()
		payment := &domain.PaymentRecord{
			ID:            s.genID.Generate(),
			PaymentCode:   newPaymentCode(now),
			ParentID:      req.ParentID,
			StudentID:     req.StudentID,
			Amount:        req.Amount,
			Currency:      req.Currency,
			PaymentType:   req.PaymentType,
			PaymentMethod: req.PaymentMethod,
			Items:         items,
			Reference:     newReference(),
			Status:        domain.StatusPending,
			InvoiceNumber: newInvoiceNumber(now),
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		err := s.repo.Insert(ctx, s.db, payment)
		if err == nil {
			return payment, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		s.log.Warn("payment identifier collision, retrying",
			zap.String("reference", payment.Reference),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, domain.ErrReferenceExhausted
}

func (s *Service) reload(ctx context.Context, id snowflake.ID) (*domain.PaymentRecord, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func walletDebitDescription(t domain.Type) string {
	switch t {
	case domain.TypeRegistration:
		return "Registration fee"
	case domain.TypeSubjectFee:
		return "Subject fee"
	case domain.TypePackageFee:
		return "Package fee"
	case domain.TypeMaterialFee:
		return "Material fee"
	case domain.TypeExamFee:
		return "Exam fee"
	default:
		return "Fee payment"
	}
}
