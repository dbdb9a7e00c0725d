package postgres

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iglaboq/shop/internal/domain"
)

const paymentColumns = `payment_id, tg_user_id, chat_id, username, journal_id, quantity,
	amount, currency, status, processed, notification_sent,
	full_name, city, postcode, phone, email, created_at, updated_at`

// PaymentRepository persists payment records keyed by the gateway payment id.
type PaymentRepository struct {
	store *Store
}

// Payments returns the payment repository bound to the store.
func (s *Store) Payments() *PaymentRepository {
	return &PaymentRepository{store: s}
}

// Insert stores a freshly created payment record.
func (r *PaymentRepository) Insert(ctx context.Context, record domain.PaymentRecord) error {
	now := r.store.now()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO payments (payment_id, tg_user_id, chat_id, username, journal_id, quantity,
			amount, currency, status, processed, notification_sent,
			full_name, city, postcode, phone, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)`,
		strings.TrimSpace(record.PaymentID), record.TGUserID, record.ChatID, record.Username,
		record.JournalID, record.Quantity, record.Amount.StringFixed(2), record.Currency,
		string(record.Status), record.Processed, record.NotificationSent,
		record.Delivery.FullName, record.Delivery.City, record.Delivery.Postcode,
		record.Delivery.Phone, record.Delivery.Email, now,
	)
	if err != nil {
		return translateError("payments.insert", err)
	}
	return nil
}

// FindByID loads a payment record without locking it.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.PaymentRecord, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1`, strings.TrimSpace(paymentID))
	record, err := scanPayment(row)
	if err != nil {
		return domain.PaymentRecord{}, translateError("payments.find", err)
	}
	return record, nil
}

func scanPayment(row rowScanner) (domain.PaymentRecord, error) {
	var (
		record domain.PaymentRecord
		amount string
		status string
	)
	if err := row.Scan(
		&record.PaymentID, &record.TGUserID, &record.ChatID, &record.Username,
		&record.JournalID, &record.Quantity, &amount, &record.Currency,
		&status, &record.Processed, &record.NotificationSent,
		&record.Delivery.FullName, &record.Delivery.City, &record.Delivery.Postcode,
		&record.Delivery.Phone, &record.Delivery.Email, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return domain.PaymentRecord{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	record.Amount = parsed
	record.Status = domain.PaymentStatus(status)
	return record, nil
}
