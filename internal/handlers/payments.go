package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/platform/httpx"
	"github.com/iglaboq/shop/internal/services"
)

const (
	maxCreatePaymentBodySize = 16 * 1024
	maxWebhookBodySize       = 64 * 1024

	defaultCheckoutRateLimit  = 10
	defaultCheckoutRateWindow = time.Minute
)

type deliveryPayload struct {
	FullName string `json:"full_name"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
}

type createPaymentRequest struct {
	TGUserID  int64           `json:"tg_user_id"`
	ChatID    int64           `json:"chat_id"`
	Username  string          `json:"username"`
	JournalID int64           `json:"journal_id"`
	Quantity  int             `json:"quantity"`
	Delivery  deliveryPayload `json:"delivery"`
	ReturnURL string          `json:"return_url"`
}

type createPaymentResponse struct {
	Success         bool   `json:"success"`
	PaymentID       string `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
}

// PaymentHandlers exposes the storefront checkout and gateway callback endpoints.
type PaymentHandlers struct {
	checkout services.CheckoutService
	webhook  services.WebhookService
	limiter  rateLimiter
}

// PaymentHandlersDeps wires the dependencies for PaymentHandlers.
type PaymentHandlersDeps struct {
	Checkout services.CheckoutService
	Webhook  services.WebhookService
	Limiter  rateLimiter
}

// NewPaymentHandlers constructs a PaymentHandlers instance validating required dependencies.
func NewPaymentHandlers(deps PaymentHandlersDeps) (*PaymentHandlers, error) {
	if deps.Checkout == nil {
		return nil, errors.New("payment handlers: checkout service is required")
	}
	if deps.Webhook == nil {
		return nil, errors.New("payment handlers: webhook service is required")
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = newCheckoutLimiter(defaultCheckoutRateLimit, defaultCheckoutRateWindow, nil)
	}
	return &PaymentHandlers{
		checkout: deps.Checkout,
		webhook:  deps.Webhook,
		limiter:  limiter,
	}, nil
}

// CreatePayment opens a gateway payment session for a storefront purchase.
func (h *PaymentHandlers) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createPaymentRequest
	body := http.MaxBytesReader(w, r.Body, maxCreatePaymentBodySize)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(strconv.FormatInt(req.TGUserID, 10)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts, slow down", http.StatusTooManyRequests))
		return
	}

	session, err := h.checkout.StartCheckout(ctx, services.StartCheckoutCommand{
		TGUserID:  req.TGUserID,
		ChatID:    req.ChatID,
		Username:  req.Username,
		JournalID: req.JournalID,
		Quantity:  req.Quantity,
		Delivery: domain.DeliveryInfo{
			FullName: req.Delivery.FullName,
			City:     req.Delivery.City,
			Postcode: req.Delivery.Postcode,
			Phone:    req.Delivery.Phone,
			Email:    req.Delivery.Email,
		},
		ReturnURL:      req.ReturnURL,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createPaymentResponse{
		Success:         true,
		PaymentID:       session.PaymentID,
		ConfirmationURL: session.ConfirmationURL,
		Amount:          session.Amount.StringFixed(2),
		Currency:        session.Currency,
	})
}

// PaymentWebhook settles gateway callbacks. The gateway retries on any
// non-2xx response, so only transient storage failures return one.
func (h *PaymentHandlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read callback body", http.StatusBadRequest))
		return
	}

	result, err := h.webhook.HandleCallback(ctx, body)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrWebhookMalformed):
			httpx.WriteError(ctx, w, httpx.NewError("malformed_notification", "callback body is not a recognisable payment notification", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("settlement_failed", "unable to settle the callback, retry later", http.StatusInternalServerError))
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(result.Outcome)})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var stockErr *services.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "not enough copies left for this order", http.StatusConflict).WithDetails(map[string]any{
			"journal_id": stockErr.JournalID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}))
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "not enough copies left for this order", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutJournalNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("journal_not_found", "the requested journal does not exist", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout fields are missing or invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "the payment gateway rejected the request", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is temporarily unavailable", http.StatusServiceUnavailable))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
