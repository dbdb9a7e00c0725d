package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/payments"
	"github.com/iglaboq/shop/internal/repositories"
)

func notFoundErr(op string) error {
	return repositories.NewStoreError(op, repositories.StoreErrorNotFound, "row not found", sql.ErrNoRows)
}

type stubJournalRepository struct {
	insertFunc  func(ctx context.Context, journal domain.Journal) (domain.Journal, error)
	updateFunc  func(ctx context.Context, journal domain.Journal) (domain.Journal, error)
	deleteFunc  func(ctx context.Context, journalID int64) error
	findFunc    func(ctx context.Context, journalID int64) (domain.Journal, error)
	listFunc    func(ctx context.Context) ([]domain.Journal, error)
	reserveFunc func(ctx context.Context, journalID int64, quantity int) (bool, error)
	releaseFunc func(ctx context.Context, journalID int64, quantity int) error
}

func (s *stubJournalRepository) Insert(ctx context.Context, journal domain.Journal) (domain.Journal, error) {
	if s.insertFunc == nil {
		return journal, nil
	}
	return s.insertFunc(ctx, journal)
}

func (s *stubJournalRepository) Update(ctx context.Context, journal domain.Journal) (domain.Journal, error) {
	if s.updateFunc == nil {
		return journal, nil
	}
	return s.updateFunc(ctx, journal)
}

func (s *stubJournalRepository) Delete(ctx context.Context, journalID int64) error {
	if s.deleteFunc == nil {
		return nil
	}
	return s.deleteFunc(ctx, journalID)
}

func (s *stubJournalRepository) FindByID(ctx context.Context, journalID int64) (domain.Journal, error) {
	if s.findFunc == nil {
		return domain.Journal{}, notFoundErr("journals.find")
	}
	return s.findFunc(ctx, journalID)
}

func (s *stubJournalRepository) List(ctx context.Context) ([]domain.Journal, error) {
	if s.listFunc == nil {
		return nil, nil
	}
	return s.listFunc(ctx)
}

func (s *stubJournalRepository) Reserve(ctx context.Context, journalID int64, quantity int) (bool, error) {
	if s.reserveFunc == nil {
		return true, nil
	}
	return s.reserveFunc(ctx, journalID, quantity)
}

func (s *stubJournalRepository) Release(ctx context.Context, journalID int64, quantity int) error {
	if s.releaseFunc == nil {
		return nil
	}
	return s.releaseFunc(ctx, journalID, quantity)
}

type stubPaymentRepository struct {
	insertFunc func(ctx context.Context, record domain.PaymentRecord) error
	findFunc   func(ctx context.Context, paymentID string) (domain.PaymentRecord, error)
}

func (s *stubPaymentRepository) Insert(ctx context.Context, record domain.PaymentRecord) error {
	if s.insertFunc == nil {
		return nil
	}
	return s.insertFunc(ctx, record)
}

func (s *stubPaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.PaymentRecord, error) {
	if s.findFunc == nil {
		return domain.PaymentRecord{}, notFoundErr("payments.find")
	}
	return s.findFunc(ctx, paymentID)
}

type stubOrderRepository struct {
	findFunc          func(ctx context.Context, orderID int64) (domain.Order, error)
	findByPaymentFunc func(ctx context.Context, paymentID string) (domain.Order, error)
	listFunc          func(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID int64) (domain.Order, error) {
	if s.findFunc == nil {
		return domain.Order{}, notFoundErr("orders.find")
	}
	return s.findFunc(ctx, orderID)
}

func (s *stubOrderRepository) FindByPaymentID(ctx context.Context, paymentID string) (domain.Order, error) {
	if s.findByPaymentFunc == nil {
		return domain.Order{}, notFoundErr("orders.find_by_payment")
	}
	return s.findByPaymentFunc(ctx, paymentID)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if s.listFunc == nil {
		return nil, nil
	}
	return s.listFunc(ctx, filter)
}

type stubGateway struct {
	createFunc  func(ctx context.Context, req payments.CreatePaymentRequest) (payments.Payment, error)
	captureFunc func(ctx context.Context, req payments.CaptureRequest) (payments.Payment, error)
	cancelFunc  func(ctx context.Context, req payments.CancelRequest) (payments.Payment, error)
}

func (s *stubGateway) CreatePayment(ctx context.Context, req payments.CreatePaymentRequest) (payments.Payment, error) {
	if s.createFunc == nil {
		return payments.Payment{}, errors.New("unexpected CreatePayment call")
	}
	return s.createFunc(ctx, req)
}

func (s *stubGateway) CapturePayment(ctx context.Context, req payments.CaptureRequest) (payments.Payment, error) {
	if s.captureFunc == nil {
		return payments.Payment{}, errors.New("unexpected CapturePayment call")
	}
	return s.captureFunc(ctx, req)
}

func (s *stubGateway) CancelPayment(ctx context.Context, req payments.CancelRequest) (payments.Payment, error) {
	if s.cancelFunc == nil {
		return payments.Payment{}, nil
	}
	return s.cancelFunc(ctx, req)
}

// stubTx records settlement mutations for assertions.
type stubTx struct {
	lockPaymentFunc    func(ctx context.Context, paymentID string) (domain.PaymentRecord, error)
	updatePaymentFunc  func(ctx context.Context, paymentID string, status domain.PaymentStatus, processed bool) error
	markNotifiedFunc   func(ctx context.Context, paymentID string) error
	insertOrderFunc    func(ctx context.Context, order domain.Order) (domain.Order, error)
	releaseStockFunc   func(ctx context.Context, journalID int64, quantity int) error
	lockOrderFunc      func(ctx context.Context, orderID int64) (domain.Order, error)
	updateOrderFunc    func(ctx context.Context, orderID int64, status domain.OrderStatus) error
	setTrackingFunc    func(ctx context.Context, orderID int64, trackNumber string) error
	updateDeliveryFunc func(ctx context.Context, orderID int64, delivery domain.DeliveryInfo) error
}

func (s *stubTx) LockPayment(ctx context.Context, paymentID string) (domain.PaymentRecord, error) {
	if s.lockPaymentFunc == nil {
		return domain.PaymentRecord{}, notFoundErr("tx.lock_payment")
	}
	return s.lockPaymentFunc(ctx, paymentID)
}

func (s *stubTx) UpdatePaymentStatus(ctx context.Context, paymentID string, status domain.PaymentStatus, processed bool) error {
	if s.updatePaymentFunc == nil {
		return nil
	}
	return s.updatePaymentFunc(ctx, paymentID, status, processed)
}

func (s *stubTx) MarkNotificationSent(ctx context.Context, paymentID string) error {
	if s.markNotifiedFunc == nil {
		return nil
	}
	return s.markNotifiedFunc(ctx, paymentID)
}

func (s *stubTx) InsertOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if s.insertOrderFunc == nil {
		order.ID = 1
		return order, nil
	}
	return s.insertOrderFunc(ctx, order)
}

func (s *stubTx) ReleaseStock(ctx context.Context, journalID int64, quantity int) error {
	if s.releaseStockFunc == nil {
		return nil
	}
	return s.releaseStockFunc(ctx, journalID, quantity)
}

func (s *stubTx) LockOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	if s.lockOrderFunc == nil {
		return domain.Order{}, notFoundErr("tx.lock_order")
	}
	return s.lockOrderFunc(ctx, orderID)
}

func (s *stubTx) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	if s.updateOrderFunc == nil {
		return nil
	}
	return s.updateOrderFunc(ctx, orderID, status)
}

func (s *stubTx) SetOrderTracking(ctx context.Context, orderID int64, trackNumber string) error {
	if s.setTrackingFunc == nil {
		return nil
	}
	return s.setTrackingFunc(ctx, orderID, trackNumber)
}

func (s *stubTx) UpdateOrderDelivery(ctx context.Context, orderID int64, delivery domain.DeliveryInfo) error {
	if s.updateDeliveryFunc == nil {
		return nil
	}
	return s.updateDeliveryFunc(ctx, orderID, delivery)
}

// stubUnitOfWork passes the stub transaction straight through to fn.
type stubUnitOfWork struct {
	tx       *stubTx
	beginErr error
}

func (s *stubUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	if s.beginErr != nil {
		return s.beginErr
	}
	tx := s.tx
	if tx == nil {
		tx = &stubTx{}
	}
	return fn(ctx, tx)
}

type stubNotifier struct {
	orderPaidFunc       func(ctx context.Context, order domain.Order, journal domain.Journal) (domain.NotificationDelivery, error)
	orderShippedFunc    func(ctx context.Context, order domain.Order, journal domain.Journal) error
	deliveryUpdatedFunc func(ctx context.Context, order domain.Order) error
	trackingUpdatedFunc func(ctx context.Context, order domain.Order) error
}

func (s *stubNotifier) OrderPaid(ctx context.Context, order domain.Order, journal domain.Journal) (domain.NotificationDelivery, error) {
	if s.orderPaidFunc == nil {
		return domain.NotificationDelivery{ChatSent: true}, nil
	}
	return s.orderPaidFunc(ctx, order, journal)
}

func (s *stubNotifier) OrderShipped(ctx context.Context, order domain.Order, journal domain.Journal) error {
	if s.orderShippedFunc == nil {
		return nil
	}
	return s.orderShippedFunc(ctx, order, journal)
}

func (s *stubNotifier) DeliveryUpdated(ctx context.Context, order domain.Order) error {
	if s.deliveryUpdatedFunc == nil {
		return nil
	}
	return s.deliveryUpdatedFunc(ctx, order)
}

func (s *stubNotifier) TrackingUpdated(ctx context.Context, order domain.Order) error {
	if s.trackingUpdatedFunc == nil {
		return nil
	}
	return s.trackingUpdatedFunc(ctx, order)
}
