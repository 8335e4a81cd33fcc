package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/classsphere/classsphere/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, payment_code, parent_id, student_id, amount, currency,
	payment_type, payment_method, items, reference, access_code,
	authorization_url, transaction_id, channel, card_type, card_last4, bank,
	status, paid_at, refund_amount, refund_reason, refund_reference,
	refunded_at, invoice_number, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.PaymentRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.PaymentCode,
		payment.ParentID,
		payment.StudentID,
		payment.Amount,
		payment.Currency,
		string(payment.PaymentType),
		string(payment.PaymentMethod),
		payment.Items,
		payment.Reference,
		payment.AccessCode,
		payment.AuthorizationURL,
		payment.TransactionID,
		payment.Channel,
		payment.CardType,
		payment.CardLast4,
		payment.Bank,
		string(payment.Status),
		payment.PaidAt,
		payment.RefundAmount,
		payment.RefundReason,
		payment.RefundReference,
		payment.RefundedAt,
		payment.InvoiceNumber,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentRecord, error) {
	var payment domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE id = ? LIMIT 1`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.PaymentRecord, error) {
	var payment domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE reference = ? LIMIT 1`,
		reference,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) ListOpenIntents(ctx context.Context, db *gorm.DB, parentID snowflake.ID, studentID *snowflake.ID, paymentType domain.Type, amount int64, currency string) ([]domain.PaymentRecord, error) {
	query := db.WithContext(ctx)

	var payments []domain.PaymentRecord
	var err error
	if studentID != nil {
		err = query.Raw(
			`SELECT `+paymentColumns+` FROM payments
			 WHERE parent_id = ? AND student_id = ? AND payment_type = ? AND amount = ? AND currency = ?
			   AND status IN ('pending', 'processing')
			 ORDER BY created_at DESC, id DESC`,
			parentID, *studentID, string(paymentType), amount, currency,
		).Scan(&payments).Error
	} else {
		err = query.Raw(
			`SELECT `+paymentColumns+` FROM payments
			 WHERE parent_id = ? AND student_id IS NULL AND payment_type = ? AND amount = ? AND currency = ?
			   AND status IN ('pending', 'processing')
			 ORDER BY created_at DESC, id DESC`,
			parentID, string(paymentType), amount, currency,
		).Scan(&payments).Error
	}
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, accessCode, authorizationURL string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = 'processing', access_code = ?, authorization_url = ?, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing')`,
		accessCode,
		authorizationURL,
		time.Now().UTC(),
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time, meta domain.GatewayMeta) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = 'completed', paid_at = ?, transaction_id = ?, channel = ?,
		     card_type = ?, card_last4 = ?, bank = ?, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing')`,
		paidAt,
		meta.TransactionID,
		meta.Channel,
		meta.CardType,
		meta.CardLast4,
		meta.Bank,
		time.Now().UTC(),
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = 'failed', updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing')`,
		time.Now().UTC(),
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = 'cancelled', updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing')`,
		time.Now().UTC(),
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, refund domain.Refund) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = 'refunded', refund_amount = ?, refund_reason = ?,
		     refund_reference = ?, refunded_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'completed'`,
		refund.Amount,
		refund.Reason,
		refund.Reference,
		refund.RefundedAt,
		time.Now().UTC(),
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListByParent(ctx context.Context, db *gorm.DB, parentID snowflake.ID, filter domain.ListFilter) ([]domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE parent_id = ?`
	args := []interface{}{parentID}
	query, args = applyFilter(query, args, filter)
	query += ` ORDER BY created_at DESC, id DESC`

	var payments []domain.PaymentRecord
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE 1 = 1`
	args := []interface{}{}
	query, args = applyFilter(query, args, filter)
	query += ` ORDER BY created_at DESC, id DESC`

	var payments []domain.PaymentRecord
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) ListCompleted(ctx context.Context, db *gorm.DB, from, to *time.Time) ([]domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE status IN ('completed', 'refunded')`
	args := []interface{}{}
	if from != nil {
		query += ` AND paid_at >= ?`
		args = append(args, *from)
	}
	if to != nil {
		query += ` AND paid_at < ?`
		args = append(args, *to)
	}
	query += ` ORDER BY paid_at DESC, id DESC`

	var payments []domain.PaymentRecord
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func applyFilter(query string, args []interface{}, filter domain.ListFilter) (string, []interface{}) {
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.PaymentType != "" {
		query += ` AND payment_type = ?`
		args = append(args, string(filter.PaymentType))
	}
	if filter.From != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		query += ` AND created_at < ?`
		args = append(args, *filter.To)
	}
	return query, args
}
