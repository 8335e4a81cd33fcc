package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/classsphere/classsphere/internal/clock"
	"github.com/classsphere/classsphere/internal/config"
	"github.com/classsphere/classsphere/internal/notification"
	paymentdomain "github.com/classsphere/classsphere/internal/payment/domain"
	"github.com/classsphere/classsphere/internal/payment/gateway"
	paymentrepo "github.com/classsphere/classsphere/internal/payment/repository"
	paymentservice "github.com/classsphere/classsphere/internal/payment/service"
	walletdomain "github.com/classsphere/classsphere/internal/wallet/domain"
	walletrepo "github.com/classsphere/classsphere/internal/wallet/repository"
	walletservice "github.com/classsphere/classsphere/internal/wallet/service"
	"github.com/classsphere/classsphere/pkg/db"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeGateway struct {
	initCalls   int
	verifyCalls int
	refundCalls int

	initErr      error
	verifyErr    error
	refundErr    error
	verifyResult gateway.VerifyResult
	refundRef    string

	// onVerify runs inside VerifyTransaction, in the window between the
	// caller's read of the record and its conditional transition.
	onVerify func()
}

func (g *fakeGateway) InitializeTransaction(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	g.initCalls++
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &gateway.InitializeResult{
		AccessCode:       "AC_" + req.Reference,
		AuthorizationURL: "https://checkout.example/" + req.Reference,
	}, nil
}

func (g *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*gateway.VerifyResult, error) {
	g.verifyCalls++
	if g.onVerify != nil {
		g.onVerify()
	}
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	result := g.verifyResult
	return &result, nil
}

func (g *fakeGateway) Refund(ctx context.Context, reference string, amount int64, reason string) (*gateway.RefundResult, error) {
	g.refundCalls++
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	ref := g.refundRef
	if ref == "" {
		ref = "RF_1"
	}
	return &gateway.RefundResult{RefundReference: ref}, nil
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	gw       *fakeGateway
	clk      *clock.FakeClock
	payments paymentdomain.Service
	wallets  walletdomain.Service
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	db := setupTestDB(t)

	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	cfg := config.Config{DefaultCurrency: "NGN"}
	if mutate != nil {
		mutate(&cfg)
	}

	notifier := notification.NewLogNotifier(zap.NewNop())
	walletSvc := walletservice.NewService(walletservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     walletrepo.Provide(node),
		Notifier: notifier,
		Cfg:      cfg,
	})

	gw := &fakeGateway{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clk,
		GenID:    node,
		Repo:     paymentrepo.Provide(),
		Wallet:   walletSvc,
		Gateway:  gw,
		Notifier: notifier,
		Cfg:      cfg,
	})

	return &fixture{
		db:       db,
		node:     node,
		gw:       gw,
		clk:      clk,
		payments: paymentSvc,
		wallets:  walletSvc,
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			payment_code TEXT NOT NULL,
			parent_id BIGINT NOT NULL,
			student_id BIGINT,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			payment_type TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			items TEXT,
			reference TEXT NOT NULL,
			access_code TEXT NOT NULL DEFAULT '',
			authorization_url TEXT NOT NULL DEFAULT '',
			transaction_id TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			card_type TEXT NOT NULL DEFAULT '',
			card_last4 TEXT NOT NULL DEFAULT '',
			bank TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			paid_at DATETIME,
			refund_amount BIGINT,
			refund_reason TEXT,
			refund_reference TEXT,
			refunded_at DATETIME,
			invoice_number TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payments_reference ON payments(reference)`,
		`CREATE UNIQUE INDEX ux_payments_code ON payments(payment_code)`,
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

func topupRequest(parentID snowflake.ID, amount int64) paymentdomain.InitializeRequest {
	return paymentdomain.InitializeRequest{
		ParentID:      parentID,
		Amount:        amount,
		PaymentType:   paymentdomain.TypeWalletTopup,
		PaymentMethod: paymentdomain.MethodCard,
		Email:         "parent@example.com",
	}
}

func feeRequest(parentID, studentID snowflake.ID, amount int64, method paymentdomain.Method) paymentdomain.InitializeRequest {
	return paymentdomain.InitializeRequest{
		ParentID:      parentID,
		StudentID:     &studentID,
		Amount:        amount,
		PaymentType:   paymentdomain.TypeSubjectFee,
		PaymentMethod: method,
		Email:         "parent@example.com",
		Items: []paymentdomain.LineItem{
			{Description: "Mathematics", Quantity: 2, UnitPrice: amount / 2, TotalPrice: amount},
		},
	}
}

func TestInitializeValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()

	cases := []struct {
		name string
		req  paymentdomain.InitializeRequest
		want error
	}{
		{
			name: "missing parent",
			req:  topupRequest(0, 5000),
			want: paymentdomain.ErrInvalidParent,
		},
		{
			name: "zero amount",
			req:  topupRequest(parentID, 0),
			want: paymentdomain.ErrInvalidAmount,
		},
		{
			name: "unknown type",
			req: paymentdomain.InitializeRequest{
				ParentID:      parentID,
				Amount:        5000,
				PaymentType:   "tuition",
				PaymentMethod: paymentdomain.MethodCard,
				Email:         "parent@example.com",
			},
			want: paymentdomain.ErrInvalidType,
		},
		{
			name: "unknown method",
			req: paymentdomain.InitializeRequest{
				ParentID:      parentID,
				Amount:        5000,
				PaymentType:   paymentdomain.TypeExamFee,
				PaymentMethod: "crypto",
				Email:         "parent@example.com",
			},
			want: paymentdomain.ErrInvalidMethod,
		},
		{
			name: "wallet method cannot top up wallet",
			req: paymentdomain.InitializeRequest{
				ParentID:      parentID,
				Amount:        5000,
				PaymentType:   paymentdomain.TypeWalletTopup,
				PaymentMethod: paymentdomain.MethodWallet,
			},
			want: paymentdomain.ErrInvalidMethod,
		},
		{
			name: "bad email",
			req: paymentdomain.InitializeRequest{
				ParentID:      parentID,
				Amount:        5000,
				PaymentType:   paymentdomain.TypeWalletTopup,
				PaymentMethod: paymentdomain.MethodCard,
				Email:         "not-an-email",
			},
			want: paymentdomain.ErrInvalidEmail,
		},
		{
			name: "fee without items",
			req: paymentdomain.InitializeRequest{
				ParentID:      parentID,
				Amount:        5000,
				PaymentType:   paymentdomain.TypeExamFee,
				PaymentMethod: paymentdomain.MethodCard,
				Email:         "parent@example.com",
			},
			want: paymentdomain.ErrInvalidItems,
		},
		{
			name: "line total mismatch",
			req: paymentdomain.InitializeRequest{
				ParentID:      parentID,
				Amount:        5000,
				PaymentType:   paymentdomain.TypeExamFee,
				PaymentMethod: paymentdomain.MethodCard,
				Email:         "parent@example.com",
				Items: []paymentdomain.LineItem{
					{Description: "Exam", Quantity: 2, UnitPrice: 2500, TotalPrice: 4000},
				},
			},
			want: paymentdomain.ErrInvalidItems,
		},
		{
			name: "item sum mismatch",
			req: paymentdomain.InitializeRequest{
				ParentID:      parentID,
				Amount:        5000,
				PaymentType:   paymentdomain.TypeExamFee,
				PaymentMethod: paymentdomain.MethodCard,
				Email:         "parent@example.com",
				Items: []paymentdomain.LineItem{
					{Description: "Exam", Quantity: 1, UnitPrice: 4000, TotalPrice: 4000},
				},
			},
			want: paymentdomain.ErrItemSumMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.payments.Initialize(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	if f.gw.initCalls != 0 {
		t.Fatalf("gateway called %d times for rejected requests", f.gw.initCalls)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM payments", 0)
}

func TestInitializeMovesToProcessing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()

	result, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if result.Payment.Status != paymentdomain.StatusProcessing {
		t.Fatalf("status = %s, want processing", result.Payment.Status)
	}
	if result.Reference == "" || result.AccessCode == "" || result.AuthorizationURL == "" {
		t.Fatalf("incomplete result: %+v", result)
	}
	if result.Payment.PaymentCode == "" || result.Payment.InvoiceNumber == "" {
		t.Fatalf("missing identifiers: %+v", result.Payment)
	}
	if f.gw.initCalls != 1 {
		t.Fatalf("gateway init calls = %d, want 1", f.gw.initCalls)
	}
}

func TestInitializeReusesOpenIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()

	first, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if err != nil {
		t.Fatalf("first initialize: %v", err)
	}

	second, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if err != nil {
		t.Fatalf("second initialize: %v", err)
	}

	if first.Reference != second.Reference {
		t.Fatalf("minted a second reference: %s vs %s", first.Reference, second.Reference)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM payments", 1)
	// The reused record already carries an access code, so no second
	// gateway round-trip happens.
	if f.gw.initCalls != 1 {
		t.Fatalf("gateway init calls = %d, want 1", f.gw.initCalls)
	}
}

func TestInitializeGatewayRetryableLeavesPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.gw.initErr = gateway.NewRetryableError("http_503", "upstream down")
	parentID := f.node.Generate()

	_, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if !gateway.IsRetryable(err) {
		t.Fatalf("got %v, want retryable gateway error", err)
	}

	var status string
	if err := f.db.Raw(`SELECT status FROM payments`).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != string(paymentdomain.StatusPending) {
		t.Fatalf("status = %s, want pending", status)
	}
}

func TestInitializeGatewayFatalLeavesPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.gw.initErr = gateway.NewFatalError("http_400", "invalid email")
	parentID := f.node.Generate()

	_, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if !gateway.IsFatal(err) {
		t.Fatalf("got %v, want fatal gateway error", err)
	}

	var record struct {
		Status    string
		Reference string
	}
	if err := f.db.Raw(`SELECT status, reference FROM payments`).Scan(&record).Error; err != nil {
		t.Fatalf("read record: %v", err)
	}
	if record.Status != string(paymentdomain.StatusPending) {
		t.Fatalf("status = %s, want pending", record.Status)
	}

	// The stranded record is still the open intent: retrying the same
	// checkout reuses it instead of minting a second reference.
	f.gw.initErr = nil
	result, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if err != nil {
		t.Fatalf("retry initialize: %v", err)
	}
	if result.Reference != record.Reference {
		t.Fatalf("retry minted %s, want %s", result.Reference, record.Reference)
	}
	if result.Payment.Status != paymentdomain.StatusProcessing {
		t.Fatalf("retry status = %s, want processing", result.Payment.Status)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM payments", 1)
}

func TestInitializeDistinctItemsDoNotMerge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()
	studentID := f.node.Generate()

	first := feeRequest(parentID, studentID, 8000, paymentdomain.MethodCard)
	second := feeRequest(parentID, studentID, 8000, paymentdomain.MethodCard)
	second.Items = []paymentdomain.LineItem{
		{Description: "Physics", Quantity: 1, UnitPrice: 8000, TotalPrice: 8000},
	}

	a, err := f.payments.Initialize(ctx, first)
	if err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	b, err := f.payments.Initialize(ctx, second)
	if err != nil {
		t.Fatalf("second initialize: %v", err)
	}

	// Same parent, student, type and total, but different line items:
	// these are two checkouts, not one retried.
	if a.Reference == b.Reference {
		t.Fatalf("distinct checkouts merged into %s", a.Reference)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM payments", 2)

	// Retrying the first checkout still finds its own record.
	again, err := f.payments.Initialize(ctx, first)
	if err != nil {
		t.Fatalf("retry initialize: %v", err)
	}
	if again.Reference != a.Reference {
		t.Fatalf("retry picked %s, want %s", again.Reference, a.Reference)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM payments", 2)
	if f.gw.initCalls != 2 {
		t.Fatalf("gateway init calls = %d, want 2", f.gw.initCalls)
	}
}

func TestVerifyTopupCreditsWalletExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()

	result, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	paidAt := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	f.gw.verifyResult = gateway.VerifyResult{
		Status:        gateway.VerifySuccess,
		TransactionID: "trx_1",
		Channel:       "card",
		CardType:      "visa",
		CardLast4:     "4081",
		Bank:          "Test Bank",
		Amount:        10000,
		PaidAt:        paidAt,
	}

	payment, err := f.payments.Verify(ctx, result.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if payment.Status != paymentdomain.StatusCompleted {
		t.Fatalf("status = %s, want completed", payment.Status)
	}
	if payment.PaidAt == nil || !payment.PaidAt.Equal(paidAt) {
		t.Fatalf("paid_at = %v, want %v", payment.PaidAt, paidAt)
	}
	if payment.TransactionID != "trx_1" || payment.CardLast4 != "4081" {
		t.Fatalf("missing gateway metadata: %+v", payment)
	}

	balance, err := f.wallets.Balance(ctx, parentID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10000 {
		t.Fatalf("balance = %d, want 10000", balance)
	}

	// Second verify short-circuits on the terminal record: no gateway
	// call, no second credit.
	again, err := f.payments.Verify(ctx, result.Reference)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if again.Status != paymentdomain.StatusCompleted {
		t.Fatalf("second verify status = %s", again.Status)
	}
	if f.gw.verifyCalls != 1 {
		t.Fatalf("gateway verify calls = %d, want 1", f.gw.verifyCalls)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM wallet_transactions", 1)

	balance, _ = f.wallets.Balance(ctx, parentID)
	if balance != 10000 {
		t.Fatalf("balance after repeat verify = %d, want 10000", balance)
	}
}

func TestVerifyConcurrentLoserDoesNotDoubleCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()

	result, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	f.gw.verifyResult = gateway.VerifyResult{
		Status:        gateway.VerifySuccess,
		TransactionID: "trx_loser",
		Amount:        10000,
	}

	// A concurrent verify settles the record in the window between this
	// verify's read and its conditional write.
	repo := paymentrepo.Provide()
	f.gw.onVerify = func() {
		err := f.db.Transaction(func(tx *gorm.DB) error {
			ok, err := repo.MarkCompleted(ctx, tx, result.Payment.ID, f.clk.Now(), paymentdomain.GatewayMeta{TransactionID: "trx_winner"})
			if err != nil {
				return err
			}
			if !ok {
				t.Fatal("concurrent settle lost the transition")
			}
			_, err = f.wallets.CreditTx(ctx, tx, parentID, 10000, "Wallet top-up", result.Reference)
			return err
		})
		if err != nil {
			t.Fatalf("concurrent settle: %v", err)
		}
	}

	payment, err := f.payments.Verify(ctx, result.Reference)
	if err != nil {
		t.Fatalf("losing verify: %v", err)
	}
	if payment.Status != paymentdomain.StatusCompleted {
		t.Fatalf("status = %s, want completed", payment.Status)
	}
	// The loser reloads the winner's settlement instead of re-applying
	// its own.
	if payment.TransactionID != "trx_winner" {
		t.Fatalf("transaction_id = %s, want trx_winner", payment.TransactionID)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM wallet_transactions", 1)

	balance, err := f.wallets.Balance(ctx, parentID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10000 {
		t.Fatalf("balance = %d, want 10000", balance)
	}
}

func TestVerifyFailedLeavesWalletUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()

	result, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	f.gw.verifyResult = gateway.VerifyResult{Status: gateway.VerifyFailed, Amount: 10000}

	payment, err := f.payments.Verify(ctx, result.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if payment.Status != paymentdomain.StatusFailed {
		t.Fatalf("status = %s, want failed", payment.Status)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM wallet_transactions", 0)

	// A failed record is terminal: verifying again does not resurrect it.
	again, err := f.payments.Verify(ctx, result.Reference)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if again.Status != paymentdomain.StatusFailed {
		t.Fatalf("second verify status = %s, want failed", again.Status)
	}
	if f.gw.verifyCalls != 1 {
		t.Fatalf("gateway verify calls = %d, want 1", f.gw.verifyCalls)
	}
}

func TestVerifyAmountMismatchFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()

	result, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	f.gw.verifyResult = gateway.VerifyResult{Status: gateway.VerifySuccess, Amount: 9000}

	payment, err := f.payments.Verify(ctx, result.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if payment.Status != paymentdomain.StatusFailed {
		t.Fatalf("status = %s, want failed", payment.Status)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM wallet_transactions", 0)
}

func TestVerifyRetryableLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()

	result, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	f.gw.verifyErr = gateway.NewRetryableError("transport", "timeout")
	if _, err := f.payments.Verify(ctx, result.Reference); !gateway.IsRetryable(err) {
		t.Fatalf("got %v, want retryable gateway error", err)
	}

	payment, err := f.payments.GetByID(ctx, result.Payment.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if payment.Status != paymentdomain.StatusProcessing {
		t.Fatalf("status = %s, want processing", payment.Status)
	}

	// The next verify settles it.
	f.gw.verifyErr = nil
	f.gw.verifyResult = gateway.VerifyResult{Status: gateway.VerifySuccess, Amount: 10000}
	payment, err = f.payments.Verify(ctx, result.Reference)
	if err != nil {
		t.Fatalf("retry verify: %v", err)
	}
	if payment.Status != paymentdomain.StatusCompleted {
		t.Fatalf("status = %s, want completed", payment.Status)
	}
}

func TestVerifyUnknownReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if _, err := f.payments.Verify(ctx, "CS_UNKNOWN"); !errors.Is(err, paymentdomain.ErrPaymentNotFound) {
		t.Fatalf("got %v, want ErrPaymentNotFound", err)
	}
	if f.gw.verifyCalls != 0 {
		t.Fatalf("gateway called for unknown reference")
	}
}

func completeTopup(t *testing.T, f *fixture, parentID snowflake.ID, amount int64) *paymentdomain.PaymentRecord {
	t.Helper()
	ctx := context.Background()

	result, err := f.payments.Initialize(ctx, topupRequest(parentID, amount))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.gw.verifyResult = gateway.VerifyResult{
		Status:        gateway.VerifySuccess,
		TransactionID: "trx_" + result.Reference,
		Amount:        amount,
	}
	payment, err := f.payments.Verify(ctx, result.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if payment.Status != paymentdomain.StatusCompleted {
		t.Fatalf("status = %s, want completed", payment.Status)
	}
	return payment
}

func TestRefundFullAndIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()
	payment := completeTopup(t, f, parentID, 10000)

	refunded, err := f.payments.Refund(ctx, payment.ID, nil, "duplicate charge")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != paymentdomain.StatusRefunded {
		t.Fatalf("status = %s, want refunded", refunded.Status)
	}
	refund := refunded.RefundRecord()
	if refund == nil || refund.Amount != 10000 || refund.Reference == "" {
		t.Fatalf("refund record = %+v", refund)
	}

	// Refunding again returns the stored record without another gateway
	// call.
	again, err := f.payments.Refund(ctx, payment.ID, nil, "duplicate charge")
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if again.Status != paymentdomain.StatusRefunded {
		t.Fatalf("second refund status = %s", again.Status)
	}
	if f.gw.refundCalls != 1 {
		t.Fatalf("gateway refund calls = %d, want 1", f.gw.refundCalls)
	}
}

func TestRefundBounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()
	payment := completeTopup(t, f, parentID, 10000)

	over := int64(10001)
	if _, err := f.payments.Refund(ctx, payment.ID, &over, ""); !errors.Is(err, paymentdomain.ErrRefundExceeds) {
		t.Fatalf("got %v, want ErrRefundExceeds", err)
	}

	zero := int64(0)
	if _, err := f.payments.Refund(ctx, payment.ID, &zero, ""); !errors.Is(err, paymentdomain.ErrInvalidAmount) {
		t.Fatalf("got %v, want ErrInvalidAmount", err)
	}

	if f.gw.refundCalls != 0 {
		t.Fatalf("gateway refund called for rejected amounts")
	}

	partial := int64(4000)
	refunded, err := f.payments.Refund(ctx, payment.ID, &partial, "partial")
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if refund := refunded.RefundRecord(); refund == nil || refund.Amount != 4000 {
		t.Fatalf("refund record = %+v", refund)
	}
}

func TestRefundRequiresCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()

	result, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, err := f.payments.Refund(ctx, result.Payment.ID, nil, ""); !errors.Is(err, paymentdomain.ErrNotRefundable) {
		t.Fatalf("got %v, want ErrNotRefundable", err)
	}
	if f.gw.refundCalls != 0 {
		t.Fatalf("gateway refund called for processing payment")
	}
}

func TestRefundTopupDebitsWalletWhenConfigured(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) {
		cfg.RefundTopupDebitsWallet = true
	})
	parentID := f.node.Generate()
	payment := completeTopup(t, f, parentID, 10000)

	refunded, err := f.payments.Refund(ctx, payment.ID, nil, "requested")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != paymentdomain.StatusRefunded {
		t.Fatalf("status = %s, want refunded", refunded.Status)
	}

	balance, err := f.wallets.Balance(ctx, parentID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM wallet_transactions", 2)
}

func TestRefundTopupRejectedWhenBalanceSpent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) {
		cfg.RefundTopupDebitsWallet = true
	})
	parentID := f.node.Generate()
	payment := completeTopup(t, f, parentID, 10000)

	// Spend most of the top-up before the refund attempt.
	if _, err := f.wallets.Debit(ctx, parentID, 8000, "Subject fee", "spend-1"); err != nil {
		t.Fatalf("debit: %v", err)
	}

	_, err := f.payments.Refund(ctx, payment.ID, nil, "requested")
	if !errors.Is(err, walletdomain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	// Rejected before committing money at the gateway.
	if f.gw.refundCalls != 0 {
		t.Fatalf("gateway refund calls = %d, want 0", f.gw.refundCalls)
	}

	reloaded, err := f.payments.GetByID(ctx, payment.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != paymentdomain.StatusCompleted {
		t.Fatalf("status = %s, want completed", reloaded.Status)
	}
}

func TestRefundWalletSettledCreditsWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()
	studentID := f.node.Generate()

	completeTopup(t, f, parentID, 20000)
	result, err := f.payments.Initialize(ctx, feeRequest(parentID, studentID, 8000, paymentdomain.MethodWallet))
	if err != nil {
		t.Fatalf("wallet payment: %v", err)
	}

	refunded, err := f.payments.Refund(ctx, result.Payment.ID, nil, "class cancelled")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != paymentdomain.StatusRefunded {
		t.Fatalf("status = %s, want refunded", refunded.Status)
	}
	// The money never left the platform, so there is nothing for the
	// gateway to refund.
	if f.gw.refundCalls != 0 {
		t.Fatalf("gateway refund calls = %d, want 0", f.gw.refundCalls)
	}
	refund := refunded.RefundRecord()
	if refund == nil || refund.Amount != 8000 || refund.Reference != "refund:"+result.Reference {
		t.Fatalf("refund record = %+v", refund)
	}

	balance, err := f.wallets.Balance(ctx, parentID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 20000 {
		t.Fatalf("balance = %d, want 20000", balance)
	}
	// Top-up credit, fee debit, refund credit.
	assertCount(t, f.db, "SELECT COUNT(1) FROM wallet_transactions", 3)

	// Refunding again is a no-op on the ledger too.
	again, err := f.payments.Refund(ctx, result.Payment.ID, nil, "class cancelled")
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if again.Status != paymentdomain.StatusRefunded {
		t.Fatalf("second refund status = %s", again.Status)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM wallet_transactions", 3)
}

func TestCancelPendingAndConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()

	result, err := f.payments.Initialize(ctx, topupRequest(parentID, 10000))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	cancelled, err := f.payments.Cancel(ctx, result.Payment.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != paymentdomain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}

	// Cancelling again is a no-op.
	again, err := f.payments.Cancel(ctx, result.Payment.ID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.Status != paymentdomain.StatusCancelled {
		t.Fatalf("second cancel status = %s", again.Status)
	}

	// A settled payment cannot be cancelled.
	completed := completeTopup(t, f, parentID, 20000)
	if _, err := f.payments.Cancel(ctx, completed.ID); !errors.Is(err, paymentdomain.ErrNotCancellable) {
		t.Fatalf("got %v, want ErrNotCancellable", err)
	}

	reloaded, _ := f.payments.GetByID(ctx, completed.ID)
	if reloaded.Status != paymentdomain.StatusCompleted {
		t.Fatalf("completed payment mutated to %s", reloaded.Status)
	}
}

func TestWalletMethodSettlesSynchronously(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()
	studentID := f.node.Generate()

	completeTopup(t, f, parentID, 20000)

	result, err := f.payments.Initialize(ctx, feeRequest(parentID, studentID, 8000, paymentdomain.MethodWallet))
	if err != nil {
		t.Fatalf("wallet payment: %v", err)
	}
	if result.Payment.Status != paymentdomain.StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Payment.Status)
	}
	if result.AuthorizationURL != "" {
		t.Fatalf("wallet payment produced an authorization URL")
	}

	balance, err := f.wallets.Balance(ctx, parentID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 12000 {
		t.Fatalf("balance = %d, want 12000", balance)
	}
	if f.gw.initCalls != 1 {
		t.Fatalf("gateway init calls = %d, want 1 (top-up only)", f.gw.initCalls)
	}
}

func TestWalletMethodInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()
	studentID := f.node.Generate()

	completeTopup(t, f, parentID, 5000)

	_, err := f.payments.Initialize(ctx, feeRequest(parentID, studentID, 8000, paymentdomain.MethodWallet))
	if !errors.Is(err, walletdomain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}

	balance, _ := f.wallets.Balance(ctx, parentID)
	if balance != 5000 {
		t.Fatalf("balance = %d, want 5000", balance)
	}

	var status string
	if err := f.db.Raw(
		`SELECT status FROM payments WHERE payment_method = 'wallet'`,
	).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != string(paymentdomain.StatusFailed) {
		t.Fatalf("wallet payment status = %s, want failed", status)
	}
}

func TestStatisticsAggregatesSettledPayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	parentID := f.node.Generate()

	first := completeTopup(t, f, parentID, 10000)
	completeTopup(t, f, parentID, 25000)

	partial := int64(4000)
	if _, err := f.payments.Refund(ctx, first.ID, &partial, "partial"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	stats, err := f.payments.Statistics(ctx, paymentdomain.ListFilter{})
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalPayments != 2 {
		t.Fatalf("total payments = %d, want 2", stats.TotalPayments)
	}
	if stats.TotalRevenue != 31000 {
		t.Fatalf("total revenue = %d, want 31000", stats.TotalRevenue)
	}
	cell, ok := stats.ByType[string(paymentdomain.TypeWalletTopup)]
	if !ok || cell.Count != 2 || cell.Amount != 31000 {
		t.Fatalf("by type cell = %+v", cell)
	}
}

func TestDuplicateReferenceIsDetectable(t *testing.T) {
	// The generator leans on the store's unique index and retries on a
	// duplicate-key error; this pins down that the sqlite test dialect
	// reports such collisions the way pkg/db expects.
	ctx := context.Background()
	f := newFixture(t, nil)
	repo := paymentrepo.Provide()

	record := &paymentdomain.PaymentRecord{
		ID:            f.node.Generate(),
		PaymentCode:   "PAY20260300001",
		ParentID:      f.node.Generate(),
		Amount:        1000,
		Currency:      "NGN",
		PaymentType:   paymentdomain.TypeWalletTopup,
		PaymentMethod: paymentdomain.MethodCard,
		Reference:     "CS_FIXED",
		Status:        paymentdomain.StatusPending,
		InvoiceNumber: "INV202603001",
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := repo.Insert(ctx, f.db, record); err != nil {
		t.Fatalf("insert: %v", err)
	}

	clone := *record
	clone.ID = f.node.Generate()
	clone.PaymentCode = "PAY20260300002"
	clone.InvoiceNumber = "INV202603002"
	err := repo.Insert(ctx, f.db, &clone)
	if err == nil {
		t.Fatalf("expected duplicate-key error")
	}
	if !db.IsDuplicateKeyErr(err) {
		t.Fatalf("IsDuplicateKeyErr(%v) = false", err)
	}
}

func assertCount(t *testing.T, db *gorm.DB, query string, expected int64) {
	t.Helper()
	var count int64
	if err := db.Raw(query).Scan(&count).Error; err != nil {
		t.Fatalf("count query %q: %v", query, err)
	}
	if count != expected {
		t.Fatalf("count %q = %d, want %d", query, count, expected)
	}
}
