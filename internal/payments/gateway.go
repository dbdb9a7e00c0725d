package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Status enumerates the normalised payment states reported by the gateway.
type Status string

const (
	// StatusPending indicates the buyer has not completed the payment form yet.
	StatusPending Status = "pending"
	// StatusWaitingForCapture indicates the payment is authorised and the
	// funds are held until captured or the hold expires.
	StatusWaitingForCapture Status = "waiting_for_capture"
	// StatusSucceeded indicates the funds were captured.
	StatusSucceeded Status = "succeeded"
	// StatusCanceled indicates the payment was cancelled by the buyer, the
	// gateway, or an expired hold.
	StatusCanceled Status = "canceled"
	// StatusFailed indicates the gateway rejected the payment without taking
	// the funds.
	StatusFailed Status = "failed"
)

// ParseStatus maps a raw gateway status string onto a normalised Status.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, true
	case StatusWaitingForCapture:
		return StatusWaitingForCapture, true
	case StatusSucceeded:
		return StatusSucceeded, true
	case StatusCanceled:
		return StatusCanceled, true
	case StatusFailed:
		return StatusFailed, true
	default:
		return "", false
	}
}

// ErrPaymentNotFound is returned when the gateway has no payment for the id.
var ErrPaymentNotFound = errors.New("payments: payment not found")

// CreatePaymentRequest captures the payload required to open a gateway payment.
type CreatePaymentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Description    string
	ReturnURL      string
	Capture        bool
	IdempotencyKey string
	Metadata       map[string]string
}

// CaptureRequest defines a capture attempt for an authorised payment.
type CaptureRequest struct {
	PaymentID      string
	Amount         *decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// CancelRequest releases the hold on an authorised payment.
type CancelRequest struct {
	PaymentID      string
	IdempotencyKey string
}

// Payment normalises gateway payment details for storage and reconciliation.
type Payment struct {
	ID              string
	Status          Status
	Paid            bool
	Amount          decimal.Decimal
	Currency        string
	ConfirmationURL string
	Metadata        map[string]string
	Raw             map[string]any
}

// Gateway defines the contract payment gateway adapters implement.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (Payment, error)
	CapturePayment(ctx context.Context, req CaptureRequest) (Payment, error)
	CancelPayment(ctx context.Context, req CancelRequest) (Payment, error)
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
}
