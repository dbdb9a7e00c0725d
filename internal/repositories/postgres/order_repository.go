package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/repositories"
)

const orderColumns = `id, payment_id, tg_user_id, chat_id, username, journal_id, quantity,
	amount, currency, status, full_name, city, postcode, phone, email,
	track_number, created_at, updated_at`

// OrderRepository provides settled-order queries for the back office.
type OrderRepository struct {
	store *Store
}

// Orders returns the order repository bound to the store.
func (s *Store) Orders() *OrderRepository {
	return &OrderRepository{store: s}
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID int64) (domain.Order, error) {
	row := r.store.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, translateError("orders.find", err)
	}
	return order, nil
}

// FindByPaymentID loads the order settled for a payment, if any.
func (r *OrderRepository) FindByPaymentID(ctx context.Context, paymentID string) (domain.Order, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_id = $1`, strings.TrimSpace(paymentID))
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, translateError("orders.find_by_payment", err)
	}
	return order, nil
}

// List returns orders newest first, optionally narrowed by status and buyer.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var (
		conditions []string
		args       []any
	)
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.TGUserID != 0 {
		args = append(args, filter.TGUserID)
		conditions = append(conditions, fmt.Sprintf("tg_user_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError("orders.list", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, translateError("orders.list", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("orders.list", err)
	}
	return orders, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		amount string
		status string
	)
	if err := row.Scan(
		&order.ID, &order.PaymentID, &order.TGUserID, &order.ChatID, &order.Username,
		&order.JournalID, &order.Quantity, &amount, &order.Currency, &status,
		&order.Delivery.FullName, &order.Delivery.City, &order.Delivery.Postcode,
		&order.Delivery.Phone, &order.Delivery.Email,
		&order.TrackNumber, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Order{}, err
	}
	order.Amount = parsed
	order.Status = domain.OrderStatus(status)
	return order, nil
}
