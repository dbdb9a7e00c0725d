package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/repositories"
)

// UnitOfWork groups settlement mutations in a single database transaction.
type UnitOfWork struct {
	store *Store
}

// Txns returns the unit of work bound to the store.
func (s *Store) Txns() *UnitOfWork {
	return &UnitOfWork{store: s}
}

// WithinTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise; row locks taken through the Tx are
// held until then.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	sqlTx, err := u.store.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError("tx.begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(ctx, &settlementTx{tx: sqlTx, store: u.store}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return translateError("tx.commit", err)
	}
	committed = true
	return nil
}

type settlementTx struct {
	tx    *sql.Tx
	store *Store
}

// LockPayment takes an exclusive row lock on the payment record. Concurrent
// deliveries of the same callback queue behind this lock.
func (t *settlementTx) LockPayment(ctx context.Context, paymentID string) (domain.PaymentRecord, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1 FOR UPDATE`,
		strings.TrimSpace(paymentID))
	record, err := scanPayment(row)
	if err != nil {
		return domain.PaymentRecord{}, translateError("tx.lock_payment", err)
	}
	return record, nil
}

// UpdatePaymentStatus records a status transition and the processed guard.
func (t *settlementTx) UpdatePaymentStatus(ctx context.Context, paymentID string, status domain.PaymentStatus, processed bool) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, processed = $3, updated_at = $4
		WHERE payment_id = $1`,
		strings.TrimSpace(paymentID), string(status), processed, t.store.now(),
	)
	if err != nil {
		return translateError("tx.update_payment", err)
	}
	return requireAffected("tx.update_payment", res)
}

// MarkNotificationSent flips the notification guard for the payment.
func (t *settlementTx) MarkNotificationSent(ctx context.Context, paymentID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE payments
		SET notification_sent = TRUE, updated_at = $2
		WHERE payment_id = $1`,
		strings.TrimSpace(paymentID), t.store.now(),
	)
	if err != nil {
		return translateError("tx.mark_notification", err)
	}
	return requireAffected("tx.mark_notification", res)
}

// InsertOrder settles an order for a succeeded payment. The UNIQUE constraint
// on payment_id backs up the processed guard against double settlement.
func (t *settlementTx) InsertOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	now := t.store.now()
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO orders (payment_id, tg_user_id, chat_id, username, journal_id, quantity,
			amount, currency, status, full_name, city, postcode, phone, email, track_number,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		RETURNING `+orderColumns,
		strings.TrimSpace(order.PaymentID), order.TGUserID, order.ChatID, order.Username,
		order.JournalID, order.Quantity, order.Amount.StringFixed(2), order.Currency,
		string(order.Status), order.Delivery.FullName, order.Delivery.City,
		order.Delivery.Postcode, order.Delivery.Phone, order.Delivery.Email,
		order.TrackNumber, now,
	)
	saved, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, translateError("tx.insert_order", err)
	}
	return saved, nil
}

// ReleaseStock returns reserved copies to the catalog inside the transaction.
func (t *settlementTx) ReleaseStock(ctx context.Context, journalID int64, quantity int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE journals
		SET quantity = quantity + $2, updated_at = $3
		WHERE id = $1`,
		journalID, quantity, t.store.now(),
	)
	if err != nil {
		return translateError("tx.release_stock", err)
	}
	return requireAffected("tx.release_stock", res)
}

// LockOrder takes an exclusive row lock on the order.
func (t *settlementTx) LockOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, translateError("tx.lock_order", err)
	}
	return order, nil
}

// UpdateOrderStatus records a fulfillment status transition.
func (t *settlementTx) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1`,
		orderID, string(status), t.store.now(),
	)
	if err != nil {
		return translateError("tx.update_order", err)
	}
	return requireAffected("tx.update_order", res)
}

// SetOrderTracking stores the carrier tracking number.
func (t *settlementTx) SetOrderTracking(ctx context.Context, orderID int64, trackNumber string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET track_number = $2, updated_at = $3
		WHERE id = $1`,
		orderID, strings.TrimSpace(trackNumber), t.store.now(),
	)
	if err != nil {
		return translateError("tx.set_tracking", err)
	}
	return requireAffected("tx.set_tracking", res)
}

// UpdateOrderDelivery replaces the postal details on the order.
func (t *settlementTx) UpdateOrderDelivery(ctx context.Context, orderID int64, delivery domain.DeliveryInfo) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET full_name = $2, city = $3, postcode = $4, phone = $5, email = $6, updated_at = $7
		WHERE id = $1`,
		orderID, delivery.FullName, delivery.City, delivery.Postcode,
		delivery.Phone, delivery.Email, t.store.now(),
	)
	if err != nil {
		return translateError("tx.update_delivery", err)
	}
	return requireAffected("tx.update_delivery", res)
}

func requireAffected(op string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return translateError(op, err)
	}
	if affected == 0 {
		return translateError(op, sql.ErrNoRows)
	}
	return nil
}

var _ repositories.Tx = (*settlementTx)(nil)
