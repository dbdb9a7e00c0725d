package repositories

import (
	"context"

	"github.com/iglaboq/shop/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// JournalRepository manages the back-issue catalog and its stock counters.
type JournalRepository interface {
	Insert(ctx context.Context, journal domain.Journal) (domain.Journal, error)
	Update(ctx context.Context, journal domain.Journal) (domain.Journal, error)
	Delete(ctx context.Context, journalID int64) error
	FindByID(ctx context.Context, journalID int64) (domain.Journal, error)
	List(ctx context.Context) ([]domain.Journal, error)

	// Reserve atomically decrements stock when at least quantity copies remain.
	// It reports false, without error, when stock is insufficient.
	Reserve(ctx context.Context, journalID int64, quantity int) (bool, error)
	// Release returns previously reserved copies to stock.
	Release(ctx context.Context, journalID int64, quantity int) error
}

// PaymentRepository persists payment records keyed by the gateway payment id.
type PaymentRepository interface {
	Insert(ctx context.Context, record domain.PaymentRecord) error
	FindByID(ctx context.Context, paymentID string) (domain.PaymentRecord, error)
}

// OrderRepository provides settled-order queries for the back office.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (domain.Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// OrderListFilter narrows order listings for the back office.
type OrderListFilter struct {
	Status   []domain.OrderStatus
	TGUserID int64
	Limit    int
}

// Tx groups the row-locked mutations available inside a settlement transaction.
// LockPayment and LockOrder take exclusive row locks held until the
// transaction finishes, serialising concurrent deliveries for the same row.
type Tx interface {
	LockPayment(ctx context.Context, paymentID string) (domain.PaymentRecord, error)
	UpdatePaymentStatus(ctx context.Context, paymentID string, status domain.PaymentStatus, processed bool) error
	MarkNotificationSent(ctx context.Context, paymentID string) error
	InsertOrder(ctx context.Context, order domain.Order) (domain.Order, error)
	ReleaseStock(ctx context.Context, journalID int64, quantity int) error

	LockOrder(ctx context.Context, orderID int64) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error
	SetOrderTracking(ctx context.Context, orderID int64, trackNumber string) error
	UpdateOrderDelivery(ctx context.Context, orderID int64, delivery domain.DeliveryInfo) error
}

// UnitOfWork runs a function inside a database transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
