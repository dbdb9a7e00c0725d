package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/iglaboq/shop/internal/services"
)

type stubCheckoutService struct {
	startFn func(ctx context.Context, cmd services.StartCheckoutCommand) (services.CheckoutSession, error)
}

func (s *stubCheckoutService) StartCheckout(ctx context.Context, cmd services.StartCheckoutCommand) (services.CheckoutSession, error) {
	if s.startFn != nil {
		return s.startFn(ctx, cmd)
	}
	return services.CheckoutSession{}, errors.New("unexpected StartCheckout call")
}

type stubWebhookService struct {
	handleFn func(ctx context.Context, body []byte) (services.WebhookResult, error)
}

func (s *stubWebhookService) HandleCallback(ctx context.Context, body []byte) (services.WebhookResult, error) {
	if s.handleFn != nil {
		return s.handleFn(ctx, body)
	}
	return services.WebhookResult{}, errors.New("unexpected HandleCallback call")
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string) bool { return true }

type denyAllLimiter struct{ keys []string }

func (l *denyAllLimiter) Allow(key string) bool {
	l.keys = append(l.keys, key)
	return false
}

type errorEnvelope struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func decodeErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var envelope errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope
}

func checkoutBody() string {
	return `{
		"tg_user_id": 42,
		"chat_id": 1001,
		"username": "anna",
		"journal_id": 3,
		"quantity": 2,
		"delivery": {"full_name": "Anna K", "city": "Moscow", "postcode": "101000", "email": "anna@example.com"},
		"return_url": "https://t.me/shopbot"
	}`
}

func TestCreatePaymentReturnsSession(t *testing.T) {
	var got services.StartCheckoutCommand
	checkout := &stubCheckoutService{
		startFn: func(_ context.Context, cmd services.StartCheckoutCommand) (services.CheckoutSession, error) {
			got = cmd
			return services.CheckoutSession{
				PaymentID:       "pay_123",
				ConfirmationURL: "https://yookassa.test/confirm/pay_123",
				Amount:          decimal.RequireFromString("1800.00"),
				Currency:        "RUB",
			}, nil
		},
	}

	handlers, err := NewPaymentHandlers(PaymentHandlersDeps{Checkout: checkout, Webhook: &stubWebhookService{}, Limiter: allowAllLimiter{}})
	if err != nil {
		t.Fatalf("NewPaymentHandlers returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/create_payment", strings.NewReader(checkoutBody()))
	req.Header.Set("Idempotency-Key", "idem-1")
	rec := httptest.NewRecorder()
	handlers.CreatePayment(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp createPaymentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success flag in response")
	}
	if resp.PaymentID != "pay_123" {
		t.Fatalf("expected payment id pay_123, got %q", resp.PaymentID)
	}
	if resp.ConfirmationURL != "https://yookassa.test/confirm/pay_123" {
		t.Fatalf("unexpected confirmation url %q", resp.ConfirmationURL)
	}
	if resp.Amount != "1800.00" || resp.Currency != "RUB" {
		t.Fatalf("unexpected amount %q %q", resp.Amount, resp.Currency)
	}

	if got.TGUserID != 42 || got.ChatID != 1001 || got.JournalID != 3 || got.Quantity != 2 {
		t.Fatalf("unexpected checkout command: %+v", got)
	}
	if got.Delivery.FullName != "Anna K" || got.Delivery.Email != "anna@example.com" {
		t.Fatalf("delivery not forwarded: %+v", got.Delivery)
	}
	if got.IdempotencyKey != "idem-1" {
		t.Fatalf("expected idempotency key forwarded, got %q", got.IdempotencyKey)
	}
}

func TestCreatePaymentRejectsMalformedBody(t *testing.T) {
	handlers, err := NewPaymentHandlers(PaymentHandlersDeps{Checkout: &stubCheckoutService{}, Webhook: &stubWebhookService{}})
	if err != nil {
		t.Fatalf("NewPaymentHandlers returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/create_payment", strings.NewReader(`{"journal_id": "three"}`))
	rec := httptest.NewRecorder()
	handlers.CreatePayment(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if envelope := decodeErrorEnvelope(t, rec); envelope.Code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %q", envelope.Code)
	}
}

func TestCreatePaymentRateLimitsPerBuyer(t *testing.T) {
	limiter := &denyAllLimiter{}
	handlers, err := NewPaymentHandlers(PaymentHandlersDeps{Checkout: &stubCheckoutService{}, Webhook: &stubWebhookService{}, Limiter: limiter})
	if err != nil {
		t.Fatalf("NewPaymentHandlers returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/create_payment", strings.NewReader(checkoutBody()))
	rec := httptest.NewRecorder()
	handlers.CreatePayment(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if envelope := decodeErrorEnvelope(t, rec); envelope.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %q", envelope.Code)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "42" {
		t.Fatalf("expected limiter keyed by buyer id, got %v", limiter.keys)
	}
}

func TestCreatePaymentMapsCheckoutErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"insufficient stock": {
			err:    &services.InsufficientStockError{JournalID: 3, Requested: 2, Available: 1},
			status: http.StatusConflict,
			code:   "insufficient_stock",
		},
		"journal not found": {
			err:    services.ErrCheckoutJournalNotFound,
			status: http.StatusNotFound,
			code:   "journal_not_found",
		},
		"invalid input": {
			err:    services.ErrCheckoutInvalidInput,
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		"gateway failure": {
			err:    services.ErrCheckoutPaymentFailed,
			status: http.StatusBadGateway,
			code:   "payment_gateway_error",
		},
		"storage failure": {
			err:    errors.New("connection reset"),
			status: http.StatusServiceUnavailable,
			code:   "checkout_unavailable",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			checkout := &stubCheckoutService{
				startFn: func(context.Context, services.StartCheckoutCommand) (services.CheckoutSession, error) {
					return services.CheckoutSession{}, tc.err
				},
			}
			handlers, err := NewPaymentHandlers(PaymentHandlersDeps{Checkout: checkout, Webhook: &stubWebhookService{}})
			if err != nil {
				t.Fatalf("NewPaymentHandlers returned error: %v", err)
			}

			req := httptest.NewRequest(http.MethodPost, "/create_payment", strings.NewReader(checkoutBody()))
			rec := httptest.NewRecorder()
			handlers.CreatePayment(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if envelope := decodeErrorEnvelope(t, rec); envelope.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, envelope.Code)
			}
		})
	}
}

func TestCreatePaymentStockDetailsIncluded(t *testing.T) {
	checkout := &stubCheckoutService{
		startFn: func(context.Context, services.StartCheckoutCommand) (services.CheckoutSession, error) {
			return services.CheckoutSession{}, &services.InsufficientStockError{JournalID: 3, Requested: 5, Available: 2}
		},
	}
	handlers, err := NewPaymentHandlers(PaymentHandlersDeps{Checkout: checkout, Webhook: &stubWebhookService{}})
	if err != nil {
		t.Fatalf("NewPaymentHandlers returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/create_payment", strings.NewReader(checkoutBody()))
	rec := httptest.NewRecorder()
	handlers.CreatePayment(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["journal_id"] != float64(3) || payload["requested"] != float64(5) || payload["available"] != float64(2) {
		t.Fatalf("unexpected stock details: %v", payload)
	}
}

func TestPaymentWebhookAcknowledgesOutcome(t *testing.T) {
	var gotBody []byte
	webhook := &stubWebhookService{
		handleFn: func(_ context.Context, body []byte) (services.WebhookResult, error) {
			gotBody = body
			return services.WebhookResult{Outcome: services.WebhookOutcomeOK, PaymentID: "pay_123"}, nil
		},
	}
	handlers, err := NewPaymentHandlers(PaymentHandlersDeps{Checkout: &stubCheckoutService{}, Webhook: webhook})
	if err != nil {
		t.Fatalf("NewPaymentHandlers returned error: %v", err)
	}

	payload := `{"event":"payment.succeeded","object":{"id":"pay_123"}}`
	req := httptest.NewRequest(http.MethodPost, "/payment_webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	handlers.PaymentWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if string(gotBody) != payload {
		t.Fatalf("raw body not forwarded, got %q", gotBody)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %q", resp["status"])
	}
}

func TestPaymentWebhookRejectsMalformedNotification(t *testing.T) {
	webhook := &stubWebhookService{
		handleFn: func(context.Context, []byte) (services.WebhookResult, error) {
			return services.WebhookResult{}, services.ErrWebhookMalformed
		},
	}
	handlers, err := NewPaymentHandlers(PaymentHandlersDeps{Checkout: &stubCheckoutService{}, Webhook: webhook})
	if err != nil {
		t.Fatalf("NewPaymentHandlers returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/payment_webhook", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	handlers.PaymentWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if envelope := decodeErrorEnvelope(t, rec); envelope.Code != "malformed_notification" {
		t.Fatalf("expected malformed_notification, got %q", envelope.Code)
	}
}

func TestPaymentWebhookSignalsRetryOnStorageFailure(t *testing.T) {
	webhook := &stubWebhookService{
		handleFn: func(context.Context, []byte) (services.WebhookResult, error) {
			return services.WebhookResult{}, errors.New("tx deadlock")
		},
	}
	handlers, err := NewPaymentHandlers(PaymentHandlersDeps{Checkout: &stubCheckoutService{}, Webhook: webhook})
	if err != nil {
		t.Fatalf("NewPaymentHandlers returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/payment_webhook", strings.NewReader(`{"event":"payment.succeeded"}`))
	rec := httptest.NewRecorder()
	handlers.PaymentWebhook(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the gateway retries, got %d", rec.Code)
	}
	if envelope := decodeErrorEnvelope(t, rec); envelope.Code != "settlement_failed" {
		t.Fatalf("expected settlement_failed, got %q", envelope.Code)
	}
}

func TestNewPaymentHandlersValidatesDeps(t *testing.T) {
	if _, err := NewPaymentHandlers(PaymentHandlersDeps{Webhook: &stubWebhookService{}}); err == nil {
		t.Fatal("expected error when checkout service missing")
	}
	if _, err := NewPaymentHandlers(PaymentHandlersDeps{Checkout: &stubCheckoutService{}}); err == nil {
		t.Fatal("expected error when webhook service missing")
	}
}
