package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input parameters.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("orders: not found")
	// ErrOrderInvalidState indicates the order status forbids the transition.
	ErrOrderInvalidState = errors.New("orders: invalid state")
	// ErrOrderUnavailable indicates order dependencies are currently unavailable.
	ErrOrderUnavailable = errors.New("orders: unavailable")
)

// Fulfillment transitions allowed from each status.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPaid:       {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusCancelled:  {},
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Journals repositories.JournalRepository
	Txns     repositories.UnitOfWork
	Notifier Notifier
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	journals repositories.JournalRepository
	txns     repositories.UnitOfWork
	notifier Notifier
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Txns == nil {
		return nil, errors.New("order service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		journals: deps.Journals,
		txns:     deps.Txns,
		notifier: deps.Notifier,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ListOrders returns orders for the back office, newest first.
func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) ([]domain.Order, error) {
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status:   query.Status,
		TGUserID: query.TGUserID,
		Limit:    query.Limit,
	})
	if err != nil {
		return nil, s.translateStoreError(err)
	}
	return orders, nil
}

// GetOrder loads a single order.
func (s *orderService) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	if orderID <= 0 {
		return domain.Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.translateStoreError(err)
	}
	return order, nil
}

// UpdateStatus applies a fulfillment transition under a row lock.
func (s *orderService) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (domain.Order, error) {
	if orderID <= 0 || !validOrderStatus(status) {
		return domain.Order{}, ErrOrderInvalidInput
	}

	var updated domain.Order
	err := s.txns.WithinTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !transitionAllowed(order.Status, status) {
			return ErrOrderInvalidState
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, status); err != nil {
			return err
		}
		order.Status = status
		order.UpdatedAt = s.now()
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, s.translateStoreError(err)
	}

	s.logger(ctx, "orders.status_updated", map[string]any{
		"orderId": orderID,
		"status":  string(status),
	})
	return updated, nil
}

// Ship marks the order shipped with a tracking number and notifies the buyer.
func (s *orderService) Ship(ctx context.Context, orderID int64, trackNumber string) (domain.Order, error) {
	trackNumber = strings.TrimSpace(trackNumber)
	if orderID <= 0 || trackNumber == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}

	var shipped domain.Order
	err := s.txns.WithinTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !transitionAllowed(order.Status, domain.OrderStatusShipped) {
			return ErrOrderInvalidState
		}
		if err := tx.SetOrderTracking(ctx, orderID, trackNumber); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, domain.OrderStatusShipped); err != nil {
			return err
		}
		order.Status = domain.OrderStatusShipped
		order.TrackNumber = trackNumber
		order.UpdatedAt = s.now()
		shipped = order
		return nil
	})
	if err != nil {
		return domain.Order{}, s.translateStoreError(err)
	}

	s.logger(ctx, "orders.shipped", map[string]any{
		"orderId":     orderID,
		"trackNumber": trackNumber,
	})
	s.notifyShipped(ctx, shipped)
	return shipped, nil
}

// UpdateDelivery replaces the postal details and notifies the buyer.
func (s *orderService) UpdateDelivery(ctx context.Context, orderID int64, delivery domain.DeliveryInfo) (domain.Order, error) {
	delivery = normalizeDelivery(delivery)
	if orderID <= 0 || delivery.FullName == "" || delivery.City == "" || delivery.Postcode == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}

	var updated domain.Order
	err := s.txns.WithinTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrderDelivery(ctx, orderID, delivery); err != nil {
			return err
		}
		order.Delivery = delivery
		order.UpdatedAt = s.now()
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, s.translateStoreError(err)
	}

	s.logger(ctx, "orders.delivery_updated", map[string]any{"orderId": orderID})
	if s.notifier != nil {
		if err := s.notifier.DeliveryUpdated(ctx, updated); err != nil {
			s.logger(ctx, "orders.notify_failed", map[string]any{
				"orderId": orderID,
				"event":   "delivery_updated",
				"error":   err.Error(),
			})
		}
	}
	return updated, nil
}

// UpdateTracking corrects the tracking number on a shipped order.
func (s *orderService) UpdateTracking(ctx context.Context, orderID int64, trackNumber string) (domain.Order, error) {
	trackNumber = strings.TrimSpace(trackNumber)
	if orderID <= 0 || trackNumber == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}

	var updated domain.Order
	err := s.txns.WithinTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusShipped {
			return ErrOrderInvalidState
		}
		if err := tx.SetOrderTracking(ctx, orderID, trackNumber); err != nil {
			return err
		}
		order.TrackNumber = trackNumber
		order.UpdatedAt = s.now()
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, s.translateStoreError(err)
	}

	s.logger(ctx, "orders.tracking_updated", map[string]any{
		"orderId":     orderID,
		"trackNumber": trackNumber,
	})
	if s.notifier != nil {
		if err := s.notifier.TrackingUpdated(ctx, updated); err != nil {
			s.logger(ctx, "orders.notify_failed", map[string]any{
				"orderId": orderID,
				"event":   "tracking_updated",
				"error":   err.Error(),
			})
		}
	}
	return updated, nil
}

func (s *orderService) notifyShipped(ctx context.Context, order domain.Order) {
	if s.notifier == nil {
		return
	}
	var journal domain.Journal
	if s.journals != nil {
		if found, err := s.journals.FindByID(ctx, order.JournalID); err == nil {
			journal = found
		}
	}
	if err := s.notifier.OrderShipped(ctx, order, journal); err != nil {
		s.logger(ctx, "orders.notify_failed", map[string]any{
			"orderId": order.ID,
			"event":   "shipped",
			"error":   err.Error(),
		})
	}
}

func (s *orderService) translateStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderInvalidState) {
		return ErrOrderInvalidState
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrOrderNotFound
		}
		return ErrOrderUnavailable
	}
	return ErrOrderUnavailable
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func validOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPaid, domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func normalizeDelivery(delivery domain.DeliveryInfo) domain.DeliveryInfo {
	delivery.FullName = strings.TrimSpace(delivery.FullName)
	delivery.City = strings.TrimSpace(delivery.City)
	delivery.Postcode = strings.TrimSpace(delivery.Postcode)
	delivery.Phone = strings.TrimSpace(delivery.Phone)
	delivery.Email = strings.TrimSpace(strings.ToLower(delivery.Email))
	return delivery
}
