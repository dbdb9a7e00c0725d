package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Journal is a single magazine back-issue offered in the storefront.
// Quantity is the number of physical copies still on hand.
type Journal struct {
	ID          int64
	Title       string
	Description string
	Price       decimal.Decimal
	Quantity    int
	CoverURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeliveryInfo carries the postal details a buyer submits at checkout.
type DeliveryInfo struct {
	FullName string
	City     string
	Postcode string
	Phone    string
	Email    string
}

// PaymentStatus describes lifecycle states of a payment record.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the gateway session was created and the
	// buyer has not completed payment yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusWaitingForCapture indicates the buyer authorized the
	// payment and the funds await capture.
	PaymentStatusWaitingForCapture PaymentStatus = "waiting_for_capture"
	// PaymentStatusSucceeded indicates the funds were captured.
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	// PaymentStatusCanceled indicates the buyer or the gateway canceled the
	// payment before capture.
	PaymentStatusCanceled PaymentStatus = "canceled"
	// PaymentStatusFailed indicates a capture attempt failed terminally.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Terminal reports whether the status is an end state for the payment. A
// terminal record must never run settlement again.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusCanceled, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// NotificationDelivery reports which buyer channels accepted a message.
type NotificationDelivery struct {
	ChatSent  bool
	EmailSent bool
}

// Delivered reports whether at least one channel accepted the message.
func (d NotificationDelivery) Delivered() bool {
	return d.ChatSent || d.EmailSent
}

// PaymentRecord is the durable record of one checkout attempt, keyed by the
// gateway payment id. Processed and NotificationSent are the idempotence
// guards consulted under row lock while handling gateway callbacks.
type PaymentRecord struct {
	PaymentID        string
	TGUserID         int64
	ChatID           int64
	Username         string
	JournalID        int64
	Quantity         int
	Amount           decimal.Decimal
	Currency         string
	Status           PaymentStatus
	Processed        bool
	NotificationSent bool
	Delivery         DeliveryInfo
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderStatus describes fulfillment states of a settled order.
type OrderStatus string

const (
	// OrderStatusPaid indicates payment settled and fulfillment has not started.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusProcessing indicates the order is being prepared for dispatch.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel was handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCancelled indicates the order was cancelled after settlement.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a settled purchase created exactly once per succeeded payment.
type Order struct {
	ID          int64
	PaymentID   string
	TGUserID    int64
	ChatID      int64
	Username    string
	JournalID   int64
	Quantity    int
	Amount      decimal.Decimal
	Currency    string
	Status      OrderStatus
	Delivery    DeliveryInfo
	TrackNumber string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
