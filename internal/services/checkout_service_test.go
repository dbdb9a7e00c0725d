package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/payments"
)

func testJournal() domain.Journal {
	return domain.Journal{
		ID:       7,
		Title:    "Archive Issue 12",
		Price:    decimal.RequireFromString("150.00"),
		Quantity: 5,
		CoverURL: "https://cdn.example/7.jpg",
	}
}

func testCheckoutCommand() StartCheckoutCommand {
	return StartCheckoutCommand{
		TGUserID:  100,
		ChatID:    100,
		Username:  "reader",
		JournalID: 7,
		Quantity:  2,
		Delivery: domain.DeliveryInfo{
			FullName: "Ivan Petrov",
			City:     "Kazan",
			Postcode: "420000",
			Phone:    "+79990000000",
			Email:    "Ivan@Example.com",
		},
	}
}

func TestStartCheckoutSuccess(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var reservedQty int
	journals := &stubJournalRepository{
		findFunc: func(context.Context, int64) (domain.Journal, error) {
			return testJournal(), nil
		},
		reserveFunc: func(ctx context.Context, journalID int64, quantity int) (bool, error) {
			if journalID != 7 {
				t.Fatalf("unexpected journal id %d", journalID)
			}
			reservedQty = quantity
			return true, nil
		},
	}

	var saved domain.PaymentRecord
	paymentRepo := &stubPaymentRepository{
		insertFunc: func(ctx context.Context, record domain.PaymentRecord) error {
			saved = record
			return nil
		},
	}

	var gatewayReq payments.CreatePaymentRequest
	gateway := &stubGateway{
		createFunc: func(ctx context.Context, req payments.CreatePaymentRequest) (payments.Payment, error) {
			gatewayReq = req
			return payments.Payment{
				ID:              "pay-123",
				Status:          payments.StatusPending,
				Amount:          req.Amount,
				Currency:        req.Currency,
				ConfirmationURL: "https://pay.example/redirect",
			}, nil
		},
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Journals:  journals,
		Payments:  paymentRepo,
		Gateway:   gateway,
		ReturnURL: "https://t.me/archive_shop_bot",
		Clock:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	session, err := service.StartCheckout(ctx, testCheckoutCommand())
	if err != nil {
		t.Fatalf("StartCheckout returned error: %v", err)
	}

	if reservedQty != 2 {
		t.Fatalf("expected 2 copies reserved, got %d", reservedQty)
	}
	if !gatewayReq.Amount.Equal(decimal.RequireFromString("300.00")) {
		t.Fatalf("expected gateway amount 300.00, got %s", gatewayReq.Amount)
	}
	if gatewayReq.ReturnURL != "https://t.me/archive_shop_bot" {
		t.Fatalf("unexpected return url %q", gatewayReq.ReturnURL)
	}
	if gatewayReq.IdempotencyKey == "" {
		t.Fatal("expected a generated idempotency key")
	}
	if gatewayReq.Metadata["journal_id"] != "7" || gatewayReq.Metadata["quantity"] != "2" {
		t.Fatalf("unexpected metadata %#v", gatewayReq.Metadata)
	}
	if gatewayReq.Metadata["email"] != "ivan@example.com" {
		t.Fatalf("expected normalised email, got %q", gatewayReq.Metadata["email"])
	}

	if saved.PaymentID != "pay-123" {
		t.Fatalf("expected payment record for pay-123, got %q", saved.PaymentID)
	}
	if saved.Status != domain.PaymentStatusPending {
		t.Fatalf("expected pending record, got %q", saved.Status)
	}
	if saved.Processed || saved.NotificationSent {
		t.Fatalf("guards must start unset: %+v", saved)
	}

	if session.PaymentID != "pay-123" || session.ConfirmationURL != "https://pay.example/redirect" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.Amount.Equal(decimal.RequireFromString("300.00")) {
		t.Fatalf("unexpected session amount %s", session.Amount)
	}
}

func TestStartCheckoutInsufficientStock(t *testing.T) {
	journals := &stubJournalRepository{
		findFunc: func(context.Context, int64) (domain.Journal, error) {
			journal := testJournal()
			journal.Quantity = 1
			return journal, nil
		},
		reserveFunc: func(context.Context, int64, int) (bool, error) {
			return false, nil
		},
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Journals: journals,
		Payments: &stubPaymentRepository{},
		Gateway:  &stubGateway{},
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	_, err = service.StartCheckout(context.Background(), testCheckoutCommand())
	if !errors.Is(err, ErrCheckoutInsufficientStock) {
		t.Fatalf("expected ErrCheckoutInsufficientStock, got %v", err)
	}

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if stockErr.Available != 1 || stockErr.Requested != 2 {
		t.Fatalf("unexpected stock error %+v", stockErr)
	}
}

func TestStartCheckoutReleasesStockWhenGatewayFails(t *testing.T) {
	var released bool
	journals := &stubJournalRepository{
		findFunc: func(context.Context, int64) (domain.Journal, error) {
			return testJournal(), nil
		},
		reserveFunc: func(context.Context, int64, int) (bool, error) {
			return true, nil
		},
		releaseFunc: func(ctx context.Context, journalID int64, quantity int) error {
			if journalID != 7 || quantity != 2 {
				t.Fatalf("unexpected release %d x%d", journalID, quantity)
			}
			released = true
			return nil
		},
	}

	gateway := &stubGateway{
		createFunc: func(context.Context, payments.CreatePaymentRequest) (payments.Payment, error) {
			return payments.Payment{}, errors.New("gateway down")
		},
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Journals: journals,
		Payments: &stubPaymentRepository{},
		Gateway:  gateway,
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	_, err = service.StartCheckout(context.Background(), testCheckoutCommand())
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected ErrCheckoutPaymentFailed, got %v", err)
	}
	if !released {
		t.Fatal("expected reserved stock to be released")
	}
}

func TestStartCheckoutCompensatesWhenPersistFails(t *testing.T) {
	var released, cancelled bool
	journals := &stubJournalRepository{
		findFunc: func(context.Context, int64) (domain.Journal, error) {
			return testJournal(), nil
		},
		reserveFunc: func(context.Context, int64, int) (bool, error) {
			return true, nil
		},
		releaseFunc: func(context.Context, int64, int) error {
			released = true
			return nil
		},
	}
	gateway := &stubGateway{
		createFunc: func(context.Context, payments.CreatePaymentRequest) (payments.Payment, error) {
			return payments.Payment{ID: "pay-1", Status: payments.StatusPending}, nil
		},
		cancelFunc: func(ctx context.Context, req payments.CancelRequest) (payments.Payment, error) {
			if req.PaymentID != "pay-1" {
				t.Fatalf("unexpected cancel target %q", req.PaymentID)
			}
			cancelled = true
			return payments.Payment{}, nil
		},
	}
	paymentRepo := &stubPaymentRepository{
		insertFunc: func(context.Context, domain.PaymentRecord) error {
			return errors.New("db down")
		},
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Journals: journals,
		Payments: paymentRepo,
		Gateway:  gateway,
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	_, err = service.StartCheckout(context.Background(), testCheckoutCommand())
	if !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected ErrCheckoutUnavailable, got %v", err)
	}
	if !released || !cancelled {
		t.Fatalf("expected compensation, released=%v cancelled=%v", released, cancelled)
	}
}

func TestStartCheckoutValidatesInput(t *testing.T) {
	service, err := NewCheckoutService(CheckoutServiceDeps{
		Journals: &stubJournalRepository{},
		Payments: &stubPaymentRepository{},
		Gateway:  &stubGateway{},
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	cases := map[string]func(*StartCheckoutCommand){
		"zero quantity":    func(cmd *StartCheckoutCommand) { cmd.Quantity = 0 },
		"missing journal":  func(cmd *StartCheckoutCommand) { cmd.JournalID = 0 },
		"missing user":     func(cmd *StartCheckoutCommand) { cmd.TGUserID = 0 },
		"missing name":     func(cmd *StartCheckoutCommand) { cmd.Delivery.FullName = "  " },
		"missing city":     func(cmd *StartCheckoutCommand) { cmd.Delivery.City = "" },
		"missing postcode": func(cmd *StartCheckoutCommand) { cmd.Delivery.Postcode = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := testCheckoutCommand()
			mutate(&cmd)
			if _, err := service.StartCheckout(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
			}
		})
	}
}

func TestStartCheckoutUnknownJournal(t *testing.T) {
	service, err := NewCheckoutService(CheckoutServiceDeps{
		Journals: &stubJournalRepository{},
		Payments: &stubPaymentRepository{},
		Gateway:  &stubGateway{},
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	if _, err := service.StartCheckout(context.Background(), testCheckoutCommand()); !errors.Is(err, ErrCheckoutJournalNotFound) {
		t.Fatalf("expected ErrCheckoutJournalNotFound, got %v", err)
	}
}
