package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/iglaboq/shop/internal/domain"
)

// CheckoutService opens gateway payment sessions for storefront purchases.
type CheckoutService interface {
	StartCheckout(ctx context.Context, cmd StartCheckoutCommand) (CheckoutSession, error)
}

// StartCheckoutCommand carries buyer, item, and delivery details for checkout.
type StartCheckoutCommand struct {
	TGUserID       int64
	ChatID         int64
	Username       string
	JournalID      int64
	Quantity       int
	Delivery       domain.DeliveryInfo
	ReturnURL      string
	IdempotencyKey string
}

// CheckoutSession is the gateway session handed back to the storefront.
type CheckoutSession struct {
	PaymentID       string
	ConfirmationURL string
	Amount          decimal.Decimal
	Currency        string
}

// WebhookOutcome describes how a gateway callback was settled.
type WebhookOutcome string

const (
	// WebhookOutcomeOK indicates the payment settled into an order.
	WebhookOutcomeOK WebhookOutcome = "ok"
	// WebhookOutcomeCanceled indicates the payment was cancelled and stock released.
	WebhookOutcomeCanceled WebhookOutcome = "canceled"
	// WebhookOutcomeAlreadyProcessed indicates an earlier delivery already settled the payment.
	WebhookOutcomeAlreadyProcessed WebhookOutcome = "already_processed"
	// WebhookOutcomeAlreadyFinalized indicates the record already carried a
	// terminal status without the processed guard; only the guard was flipped.
	WebhookOutcomeAlreadyFinalized WebhookOutcome = "already_finalized"
	// WebhookOutcomeIgnored indicates the callback required no state change.
	WebhookOutcomeIgnored WebhookOutcome = "ignored"
	// WebhookOutcomeCaptureFailed indicates the capture attempt failed terminally.
	WebhookOutcomeCaptureFailed WebhookOutcome = "capture_failed"
)

// WebhookResult reports the settlement outcome for a gateway callback.
type WebhookResult struct {
	Outcome   WebhookOutcome
	PaymentID string
	Order     *domain.Order
}

// WebhookService reconciles gateway callbacks against the payment ledger.
type WebhookService interface {
	HandleCallback(ctx context.Context, body []byte) (WebhookResult, error)
}

// OrderService exposes back-office operations over settled orders.
type OrderService interface {
	ListOrders(ctx context.Context, query OrderListQuery) ([]domain.Order, error)
	GetOrder(ctx context.Context, orderID int64) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (domain.Order, error)
	Ship(ctx context.Context, orderID int64, trackNumber string) (domain.Order, error)
	UpdateDelivery(ctx context.Context, orderID int64, delivery domain.DeliveryInfo) (domain.Order, error)
	UpdateTracking(ctx context.Context, orderID int64, trackNumber string) (domain.Order, error)
}

// OrderListQuery narrows back-office order listings.
type OrderListQuery struct {
	Status   []domain.OrderStatus
	TGUserID int64
	Limit    int
}

// CatalogService manages the back-issue catalog.
type CatalogService interface {
	ListJournals(ctx context.Context) ([]domain.Journal, error)
	GetJournal(ctx context.Context, journalID int64) (domain.Journal, error)
	CreateJournal(ctx context.Context, cmd JournalCommand) (domain.Journal, error)
	UpdateJournal(ctx context.Context, journalID int64, cmd JournalCommand) (domain.Journal, error)
	DeleteJournal(ctx context.Context, journalID int64) error
}

// JournalCommand carries catalog fields for create and update operations.
type JournalCommand struct {
	Title       string
	Description string
	Price       decimal.Decimal
	Quantity    int
	CoverURL    string
}

// Notifier delivers buyer-facing notifications. Implementations treat their
// channels independently; a returned error means the primary chat channel did
// not get the message through. OrderPaid additionally reports which channels
// accepted the message, so callers can record that the buyer was told.
type Notifier interface {
	OrderPaid(ctx context.Context, order domain.Order, journal domain.Journal) (domain.NotificationDelivery, error)
	OrderShipped(ctx context.Context, order domain.Order, journal domain.Journal) error
	DeliveryUpdated(ctx context.Context, order domain.Order) error
	TrackingUpdated(ctx context.Context, order domain.Order) error
}
