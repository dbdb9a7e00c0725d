package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/payments"
	"github.com/iglaboq/shop/internal/platform/textutil"
	"github.com/iglaboq/shop/internal/repositories"
)

const defaultCheckoutCurrency = "RUB"

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutJournalNotFound indicates the requested journal does not exist.
	ErrCheckoutJournalNotFound = errors.New("checkout: journal not found")
	// ErrCheckoutInsufficientStock indicates stock could not be reserved for the purchase.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutPaymentFailed indicates the gateway session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// InsufficientStockError reports how many copies remain so the storefront can
// offer the buyer a smaller quantity. It matches ErrCheckoutInsufficientStock.
type InsufficientStockError struct {
	JournalID int64
	Requested int
	Available int
}

// Error implements the error interface.
func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("checkout: insufficient stock for journal %d: requested %d, available %d",
		e.JournalID, e.Requested, e.Available)
}

// Is matches the checkout insufficient stock sentinel.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrCheckoutInsufficientStock
}

// checkoutGateway abstracts payments.Gateway for easier testing.
type checkoutGateway interface {
	CreatePayment(ctx context.Context, req payments.CreatePaymentRequest) (payments.Payment, error)
	CancelPayment(ctx context.Context, req payments.CancelRequest) (payments.Payment, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Journals    repositories.JournalRepository
	Payments    repositories.PaymentRepository
	Gateway     checkoutGateway
	ReturnURL   string
	Currency    string
	AutoCapture bool
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	journals    repositories.JournalRepository
	payments    repositories.PaymentRepository
	gateway     checkoutGateway
	returnURL   string
	currency    string
	autoCapture bool
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Journals == nil {
		return nil, errors.New("checkout service: journal repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}

	return &checkoutService{
		journals:    deps.Journals,
		payments:    deps.Payments,
		gateway:     deps.Gateway,
		returnURL:   strings.TrimSpace(deps.ReturnURL),
		currency:    currency,
		autoCapture: deps.AutoCapture,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// StartCheckout validates the purchase, reserves stock, opens a gateway
// payment, and records the pending payment. The stock reservation is released
// when any later step fails.
func (s *checkoutService) StartCheckout(ctx context.Context, cmd StartCheckoutCommand) (CheckoutSession, error) {
	if s == nil || s.journals == nil || s.gateway == nil {
		return CheckoutSession{}, ErrCheckoutUnavailable
	}

	cmd = normalizeCheckoutCommand(cmd)
	if err := validateCheckoutCommand(cmd); err != nil {
		return CheckoutSession{}, err
	}

	journal, err := s.journals.FindByID(ctx, cmd.JournalID)
	if err != nil {
		return CheckoutSession{}, s.translateStoreError(err, ErrCheckoutJournalNotFound)
	}

	reserved, err := s.journals.Reserve(ctx, cmd.JournalID, cmd.Quantity)
	if err != nil {
		return CheckoutSession{}, s.translateStoreError(err, ErrCheckoutJournalNotFound)
	}
	if !reserved {
		available := journal.Quantity
		if fresh, err := s.journals.FindByID(ctx, cmd.JournalID); err == nil {
			available = fresh.Quantity
		}
		return CheckoutSession{}, &InsufficientStockError{
			JournalID: cmd.JournalID,
			Requested: cmd.Quantity,
			Available: available,
		}
	}

	amount := journal.Price.Mul(decimal.NewFromInt(int64(cmd.Quantity)))
	idempotencyKey := cmd.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = ulid.Make().String()
	}

	payment, err := s.gateway.CreatePayment(ctx, payments.CreatePaymentRequest{
		Amount:         amount,
		Currency:       s.currency,
		Description:    fmt.Sprintf("%s x%d", journal.Title, cmd.Quantity),
		ReturnURL:      s.returnURL,
		Capture:        s.autoCapture,
		IdempotencyKey: idempotencyKey,
		Metadata:       buildPaymentMetadata(cmd),
	})
	if err != nil {
		s.releaseStock(ctx, cmd.JournalID, cmd.Quantity, "payment_create_failed")
		s.logger(ctx, "checkout.payment_failed", map[string]any{
			"journalId": cmd.JournalID,
			"tgUserId":  cmd.TGUserID,
			"error":     err.Error(),
		})
		return CheckoutSession{}, ErrCheckoutPaymentFailed
	}

	record := domain.PaymentRecord{
		PaymentID: payment.ID,
		TGUserID:  cmd.TGUserID,
		ChatID:    cmd.ChatID,
		Username:  cmd.Username,
		JournalID: cmd.JournalID,
		Quantity:  cmd.Quantity,
		Amount:    amount,
		Currency:  s.currency,
		Status:    domain.PaymentStatusPending,
		Delivery:  cmd.Delivery,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	if err := s.payments.Insert(ctx, record); err != nil {
		s.releaseStock(ctx, cmd.JournalID, cmd.Quantity, "persist_failed")
		s.cancelPayment(ctx, payment.ID)
		s.logger(ctx, "checkout.persist_failed", map[string]any{
			"paymentId": payment.ID,
			"error":     err.Error(),
		})
		return CheckoutSession{}, ErrCheckoutUnavailable
	}

	s.logger(ctx, "checkout.started", map[string]any{
		"paymentId": payment.ID,
		"journalId": cmd.JournalID,
		"quantity":  cmd.Quantity,
		"amount":    amount.StringFixed(2),
	})

	return CheckoutSession{
		PaymentID:       payment.ID,
		ConfirmationURL: payment.ConfirmationURL,
		Amount:          amount,
		Currency:        s.currency,
	}, nil
}

func (s *checkoutService) releaseStock(ctx context.Context, journalID int64, quantity int, reason string) {
	if err := s.journals.Release(ctx, journalID, quantity); err != nil {
		s.logger(ctx, "checkout.release_failed", map[string]any{
			"journalId": journalID,
			"quantity":  quantity,
			"reason":    reason,
			"error":     err.Error(),
		})
	}
}

func (s *checkoutService) cancelPayment(ctx context.Context, paymentID string) {
	if _, err := s.gateway.CancelPayment(ctx, payments.CancelRequest{PaymentID: paymentID}); err != nil {
		s.logger(ctx, "checkout.cancel_failed", map[string]any{
			"paymentId": paymentID,
			"error":     err.Error(),
		})
	}
}

func (s *checkoutService) translateStoreError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return notFound
	}
	return ErrCheckoutUnavailable
}

func normalizeCheckoutCommand(cmd StartCheckoutCommand) StartCheckoutCommand {
	cmd.Username = strings.TrimSpace(cmd.Username)
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	cmd.Delivery.FullName = strings.TrimSpace(cmd.Delivery.FullName)
	cmd.Delivery.City = strings.TrimSpace(cmd.Delivery.City)
	cmd.Delivery.Postcode = strings.TrimSpace(cmd.Delivery.Postcode)
	cmd.Delivery.Phone = strings.TrimSpace(cmd.Delivery.Phone)
	cmd.Delivery.Email = strings.TrimSpace(strings.ToLower(cmd.Delivery.Email))
	return cmd
}

func validateCheckoutCommand(cmd StartCheckoutCommand) error {
	if cmd.TGUserID <= 0 || cmd.JournalID <= 0 || cmd.Quantity <= 0 {
		return ErrCheckoutInvalidInput
	}
	if cmd.Delivery.FullName == "" || cmd.Delivery.City == "" || cmd.Delivery.Postcode == "" {
		return ErrCheckoutInvalidInput
	}
	return nil
}

func buildPaymentMetadata(cmd StartCheckoutCommand) map[string]string {
	meta := map[string]string{
		"tg_user_id": strconv.FormatInt(cmd.TGUserID, 10),
		"chat_id":    strconv.FormatInt(cmd.ChatID, 10),
		"journal_id": strconv.FormatInt(cmd.JournalID, 10),
		"quantity":   strconv.Itoa(cmd.Quantity),
		"full_name":  cmd.Delivery.FullName,
		"city":       cmd.Delivery.City,
		"postcode":   cmd.Delivery.Postcode,
	}
	if cmd.Username != "" {
		meta["username"] = cmd.Username
	}
	if cmd.Delivery.Phone != "" {
		meta["phone"] = cmd.Delivery.Phone
	}
	if cmd.Delivery.Email != "" {
		meta["email"] = cmd.Delivery.Email
	}
	return textutil.NormalizeStringMap(meta)
}
