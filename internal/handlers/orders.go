package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/platform/httpx"
	"github.com/iglaboq/shop/internal/services"
)

const (
	defaultOrderListLimit = 50
	maxOrderListLimit     = 200
	maxOrderBodySize      = 8 * 1024
)

type orderPayload struct {
	ID          int64           `json:"id"`
	PaymentID   string          `json:"payment_id"`
	TGUserID    int64           `json:"tg_user_id"`
	ChatID      int64           `json:"chat_id"`
	Username    string          `json:"username,omitempty"`
	JournalID   int64           `json:"journal_id"`
	Quantity    int             `json:"quantity"`
	Amount      string          `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Delivery    deliveryPayload `json:"delivery"`
	TrackNumber string          `json:"track_number,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// OrderHandlers exposes back-office endpoints over settled orders.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs an OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) (*OrderHandlers, error) {
	if orders == nil {
		return nil, errors.New("order handlers: order service is required")
	}
	return &OrderHandlers{orders: orders}, nil
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}/ship", h.ship)
	r.Put("/{orderID}/delivery", h.updateDelivery)
	r.Put("/{orderID}/tracking", h.updateTracking)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, value := range strings.Split(raw, ",") {
			value = strings.TrimSpace(value)
			if value != "" {
				statuses = append(statuses, domain.OrderStatus(value))
			}
		}
	}

	var tgUserID int64
	if raw := strings.TrimSpace(query.Get("tg_user_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "tg_user_id must be an integer", http.StatusBadRequest))
			return
		}
		tgUserID = parsed
	}

	limit := defaultOrderListLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case parsed <= 0:
			limit = defaultOrderListLimit
		case parsed > maxOrderListLimit:
			limit = maxOrderListLimit
		default:
			limit = parsed
		}
	}

	orders, err := h.orders.ListOrders(ctx, services.OrderListQuery{
		Status:   statuses,
		TGUserID: tgUserID,
		Limit:    limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, orderToPayload(order))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToPayload(order))
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.UpdateStatus(ctx, orderID, domain.OrderStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToPayload(order))
}

func (h *OrderHandlers) ship(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	var req struct {
		TrackNumber string `json:"track_number"`
	}
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.Ship(ctx, orderID, req.TrackNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToPayload(order))
}

func (h *OrderHandlers) updateDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	var req deliveryPayload
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.UpdateDelivery(ctx, orderID, domain.DeliveryInfo{
		FullName: req.FullName,
		City:     req.City,
		Postcode: req.Postcode,
		Phone:    req.Phone,
		Email:    req.Email,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToPayload(order))
}

func (h *OrderHandlers) updateTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	var req struct {
		TrackNumber string `json:"track_number"`
	}
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.UpdateTracking(ctx, orderID, req.TrackNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToPayload(order))
}

func orderIDFromRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderID"))
	orderID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || orderID <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id must be a positive integer", http.StatusBadRequest))
		return 0, false
	}
	return orderID, true
}

func decodeOrderBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "the requested order does not exist", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", "the order cannot transition to the requested state", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order fields are missing or invalid", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order storage is temporarily unavailable", http.StatusServiceUnavailable))
	}
}

func orderToPayload(order domain.Order) orderPayload {
	return orderPayload{
		ID:        order.ID,
		PaymentID: order.PaymentID,
		TGUserID:  order.TGUserID,
		ChatID:    order.ChatID,
		Username:  order.Username,
		JournalID: order.JournalID,
		Quantity:  order.Quantity,
		Amount:    order.Amount.StringFixed(2),
		Currency:  order.Currency,
		Status:    string(order.Status),
		Delivery: deliveryPayload{
			FullName: order.Delivery.FullName,
			City:     order.Delivery.City,
			Postcode: order.Delivery.Postcode,
			Phone:    order.Delivery.Phone,
			Email:    order.Delivery.Email,
		},
		TrackNumber: order.TrackNumber,
		CreatedAt:   order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   order.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
