package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultYooKassaBaseURL = "https://api.yookassa.ru/v3"

// YooKassaLogger defines the logging contract for gateway operations.
type YooKassaLogger func(ctx context.Context, event string, fields map[string]any)

// YooKassaConfig configures the YooKassa gateway client.
type YooKassaConfig struct {
	ShopID     string
	SecretKey  string
	BaseURL    string
	HTTPClient *http.Client
	Logger     YooKassaLogger
}

// YooKassaGateway implements Gateway against the YooKassa REST API.
type YooKassaGateway struct {
	shopID    string
	secretKey string
	baseURL   string
	client    *http.Client
	logger    YooKassaLogger
}

// NewYooKassaGateway constructs a YooKassa client using the given configuration.
func NewYooKassaGateway(cfg YooKassaConfig) (*YooKassaGateway, error) {
	shopID := strings.TrimSpace(cfg.ShopID)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if shopID == "" || secretKey == "" {
		return nil, errors.New("yookassa: shop id and secret key are required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultYooKassaBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &YooKassaGateway{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   baseURL,
		client:    client,
		logger:    logger,
	}, nil
}

type yooKassaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooKassaConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type yooKassaPayment struct {
	ID           string                `json:"id"`
	Status       string                `json:"status"`
	Paid         bool                  `json:"paid"`
	Amount       yooKassaAmount        `json:"amount"`
	Confirmation *yooKassaConfirmation `json:"confirmation,omitempty"`
	Metadata     map[string]string     `json:"metadata,omitempty"`
}

type yooKassaError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// CreatePayment opens a payment session with a redirect confirmation.
func (g *YooKassaGateway) CreatePayment(ctx context.Context, req CreatePaymentRequest) (Payment, error) {
	if g == nil {
		return Payment{}, errors.New("yookassa: gateway is nil")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "RUB"
	}
	body := map[string]any{
		"amount": yooKassaAmount{
			Value:    req.Amount.StringFixed(2),
			Currency: currency,
		},
		"confirmation": yooKassaConfirmation{
			Type:      "redirect",
			ReturnURL: req.ReturnURL,
		},
		"capture":     req.Capture,
		"description": req.Description,
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var payment yooKassaPayment
	if err := g.do(ctx, http.MethodPost, "/payments", req.IdempotencyKey, body, &payment); err != nil {
		return Payment{}, fmt.Errorf("yookassa: create payment: %w", err)
	}

	g.logger(ctx, "payments.yookassa.created", map[string]any{
		"paymentId": payment.ID,
		"status":    payment.Status,
		"amount":    payment.Amount.Value,
		"currency":  payment.Amount.Currency,
	})

	return normalizeYooKassaPayment(payment)
}

// CapturePayment captures an authorised payment, optionally for a lower amount.
func (g *YooKassaGateway) CapturePayment(ctx context.Context, req CaptureRequest) (Payment, error) {
	if g == nil {
		return Payment{}, errors.New("yookassa: gateway is nil")
	}
	body := map[string]any{}
	if req.Amount != nil {
		currency := strings.ToUpper(strings.TrimSpace(req.Currency))
		if currency == "" {
			currency = "RUB"
		}
		body["amount"] = yooKassaAmount{
			Value:    req.Amount.StringFixed(2),
			Currency: currency,
		}
	}

	var payment yooKassaPayment
	path := fmt.Sprintf("/payments/%s/capture", strings.TrimSpace(req.PaymentID))
	if err := g.do(ctx, http.MethodPost, path, req.IdempotencyKey, body, &payment); err != nil {
		return Payment{}, fmt.Errorf("yookassa: capture payment: %w", err)
	}

	g.logger(ctx, "payments.yookassa.captured", map[string]any{
		"paymentId": payment.ID,
		"status":    payment.Status,
	})

	return normalizeYooKassaPayment(payment)
}

// CancelPayment releases the hold on an authorised payment.
func (g *YooKassaGateway) CancelPayment(ctx context.Context, req CancelRequest) (Payment, error) {
	if g == nil {
		return Payment{}, errors.New("yookassa: gateway is nil")
	}
	var payment yooKassaPayment
	path := fmt.Sprintf("/payments/%s/cancel", strings.TrimSpace(req.PaymentID))
	if err := g.do(ctx, http.MethodPost, path, req.IdempotencyKey, map[string]any{}, &payment); err != nil {
		return Payment{}, fmt.Errorf("yookassa: cancel payment: %w", err)
	}

	g.logger(ctx, "payments.yookassa.canceled", map[string]any{
		"paymentId": payment.ID,
		"status":    payment.Status,
	})

	return normalizeYooKassaPayment(payment)
}

// GetPayment retrieves the current gateway state of a payment.
func (g *YooKassaGateway) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	if g == nil {
		return Payment{}, errors.New("yookassa: gateway is nil")
	}
	var payment yooKassaPayment
	path := fmt.Sprintf("/payments/%s", strings.TrimSpace(paymentID))
	if err := g.do(ctx, http.MethodGet, path, "", nil, &payment); err != nil {
		return Payment{}, fmt.Errorf("yookassa: get payment: %w", err)
	}
	return normalizeYooKassaPayment(payment)
}

func (g *YooKassaGateway) do(ctx context.Context, method, path, idempotencyKey string, body any, out *yooKassaPayment) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(g.shopID, g.secretKey)
	req.Header.Set("Content-Type", "application/json")
	if method != http.MethodGet {
		key := strings.TrimSpace(idempotencyKey)
		if key == "" {
			key = uuid.NewString()
		}
		req.Header.Set("Idempotence-Key", key)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrPaymentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr yooKassaError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Code != "" {
			return fmt.Errorf("gateway %s (%s): %s", apiErr.Code, strings.ToLower(resp.Status), apiErr.Description)
		}
		return fmt.Errorf("unexpected status %s", strings.ToLower(resp.Status))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func normalizeYooKassaPayment(payment yooKassaPayment) (Payment, error) {
	status, ok := ParseStatus(payment.Status)
	if !ok {
		return Payment{}, fmt.Errorf("yookassa: unknown payment status %q", payment.Status)
	}

	amount := decimal.Zero
	if payment.Amount.Value != "" {
		parsed, err := decimal.NewFromString(payment.Amount.Value)
		if err != nil {
			return Payment{}, fmt.Errorf("yookassa: parse amount %q: %w", payment.Amount.Value, err)
		}
		amount = parsed
	}

	confirmationURL := ""
	if payment.Confirmation != nil {
		confirmationURL = payment.Confirmation.ConfirmationURL
	}

	raw := map[string]any{}
	if data, err := json.Marshal(payment); err == nil {
		_ = json.Unmarshal(data, &raw)
	}

	return Payment{
		ID:              payment.ID,
		Status:          status,
		Paid:            payment.Paid,
		Amount:          amount,
		Currency:        strings.ToUpper(payment.Amount.Currency),
		ConfirmationURL: confirmationURL,
		Metadata:        payment.Metadata,
		Raw:             raw,
	}, nil
}
