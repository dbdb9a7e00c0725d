package services

import (
	"context"
	"errors"
	"time"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/payments"
	"github.com/iglaboq/shop/internal/repositories"
)

var (
	// ErrWebhookMalformed indicates the callback body could not be parsed.
	ErrWebhookMalformed = errors.New("webhook: malformed notification")
	// ErrWebhookUnavailable indicates the settlement could not be durably
	// recorded; the gateway should redeliver the callback.
	ErrWebhookUnavailable = errors.New("webhook: unavailable")
)

// webhookGateway abstracts the capture call used while settling a hold.
type webhookGateway interface {
	CapturePayment(ctx context.Context, req payments.CaptureRequest) (payments.Payment, error)
}

// WebhookServiceDeps wires the dependencies required by the webhook service.
type WebhookServiceDeps struct {
	Txns     repositories.UnitOfWork
	Journals repositories.JournalRepository
	Orders   repositories.OrderRepository
	Gateway  webhookGateway
	Notifier Notifier
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type webhookService struct {
	txns     repositories.UnitOfWork
	journals repositories.JournalRepository
	orders   repositories.OrderRepository
	gateway  webhookGateway
	notifier Notifier
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookService constructs a WebhookService validating required dependencies.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Txns == nil {
		return nil, errors.New("webhook service: unit of work is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("webhook service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &webhookService{
		txns:     deps.Txns,
		journals: deps.Journals,
		orders:   deps.Orders,
		gateway:  deps.Gateway,
		notifier: deps.Notifier,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandleCallback settles one gateway callback. The payment row stays locked
// for the whole decision, including the buyer notification, so concurrent
// deliveries of the same callback serialise and every delivery after the
// first sees both guards.
func (s *webhookService) HandleCallback(ctx context.Context, body []byte) (WebhookResult, error) {
	notification, err := payments.ParseNotification(body)
	if err != nil {
		return WebhookResult{}, ErrWebhookMalformed
	}
	paymentID := notification.Payment.ID

	result := WebhookResult{PaymentID: paymentID}

	txErr := s.txns.WithinTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		locked, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				// Callback for a payment this store never opened. Ack it so
				// the gateway stops redelivering.
				result.Outcome = WebhookOutcomeIgnored
				return nil
			}
			return err
		}
		record := locked
		var needNotify bool

		switch {
		case record.Processed:
			result.Outcome = WebhookOutcomeAlreadyProcessed
			needNotify = record.Status == domain.PaymentStatusSucceeded && !record.NotificationSent
		case record.Status.Terminal():
			// Terminal status without the processed guard, written by an
			// out-of-band fix-up. Flip the guard; never settle again.
			if err := tx.UpdatePaymentStatus(ctx, paymentID, record.Status, true); err != nil {
				return err
			}
			record.Processed = true
			result.Outcome = WebhookOutcomeAlreadyFinalized
			needNotify = record.Status == domain.PaymentStatusSucceeded && !record.NotificationSent
		default:
			if err := s.settle(ctx, tx, notification, &record, &result, &needNotify); err != nil {
				return err
			}
		}

		if needNotify {
			return s.notifySettled(ctx, tx, record, result)
		}
		return nil
	})
	if txErr != nil {
		s.logger(ctx, "webhook.settle_failed", map[string]any{
			"paymentId": paymentID,
			"error":     txErr.Error(),
		})
		return WebhookResult{}, ErrWebhookUnavailable
	}

	s.logger(ctx, "webhook.settled", map[string]any{
		"paymentId": paymentID,
		"outcome":   string(result.Outcome),
	})
	return result, nil
}

// settle applies the callback status to an unprocessed payment record.
func (s *webhookService) settle(ctx context.Context, tx repositories.Tx, notification payments.Notification, record *domain.PaymentRecord, result *WebhookResult, needNotify *bool) error {
	switch notification.Payment.Status {
	case payments.StatusWaitingForCapture:
		return s.settleCapture(ctx, tx, record, result, needNotify)
	case payments.StatusSucceeded:
		return s.settleOrder(ctx, tx, record, result, needNotify)
	case payments.StatusCanceled, payments.StatusFailed:
		status := domain.PaymentStatusCanceled
		if notification.Payment.Status == payments.StatusFailed {
			status = domain.PaymentStatusFailed
		}
		if err := tx.UpdatePaymentStatus(ctx, record.PaymentID, status, true); err != nil {
			return err
		}
		if err := tx.ReleaseStock(ctx, record.JournalID, record.Quantity); err != nil {
			return err
		}
		record.Status = status
		result.Outcome = WebhookOutcomeCanceled
		return nil
	default:
		// A pending echo carries no transition; leave the record as is.
		result.Outcome = WebhookOutcomeIgnored
		return nil
	}
}

// settleCapture captures an authorised hold. The capture call runs inside the
// transaction closure so a concurrent delivery cannot race it; a capture
// failure is terminal and still commits the processed guard.
func (s *webhookService) settleCapture(ctx context.Context, tx repositories.Tx, record *domain.PaymentRecord, result *WebhookResult, needNotify *bool) error {
	captured, err := s.gateway.CapturePayment(ctx, payments.CaptureRequest{
		PaymentID: record.PaymentID,
		Currency:  record.Currency,
	})
	if err != nil {
		s.logger(ctx, "webhook.capture_failed", map[string]any{
			"paymentId": record.PaymentID,
			"error":     err.Error(),
		})
		if err := tx.UpdatePaymentStatus(ctx, record.PaymentID, domain.PaymentStatusFailed, true); err != nil {
			return err
		}
		if err := tx.ReleaseStock(ctx, record.JournalID, record.Quantity); err != nil {
			return err
		}
		record.Status = domain.PaymentStatusFailed
		result.Outcome = WebhookOutcomeCaptureFailed
		return nil
	}
	if captured.Status != payments.StatusSucceeded {
		// The gateway accepted the capture but reports a non-final state;
		// keep the record pending and wait for the follow-up callback.
		result.Outcome = WebhookOutcomeIgnored
		return nil
	}
	return s.settleOrder(ctx, tx, record, result, needNotify)
}

func (s *webhookService) settleOrder(ctx context.Context, tx repositories.Tx, record *domain.PaymentRecord, result *WebhookResult, needNotify *bool) error {
	if err := tx.UpdatePaymentStatus(ctx, record.PaymentID, domain.PaymentStatusSucceeded, true); err != nil {
		return err
	}
	order, err := tx.InsertOrder(ctx, domain.Order{
		PaymentID: record.PaymentID,
		TGUserID:  record.TGUserID,
		ChatID:    record.ChatID,
		Username:  record.Username,
		JournalID: record.JournalID,
		Quantity:  record.Quantity,
		Amount:    record.Amount,
		Currency:  record.Currency,
		Status:    domain.OrderStatusPaid,
		Delivery:  record.Delivery,
	})
	if err != nil {
		return err
	}
	record.Status = domain.PaymentStatusSucceeded
	result.Outcome = WebhookOutcomeOK
	result.Order = &order
	*needNotify = true
	return nil
}

// notifySettled runs inside the settlement transaction while the payment row
// lock is held, so a concurrent delivery cannot observe the committed record
// before the guard reflects the send. The guard flips once any channel got
// the message through; a send that reaches no channel stays retriable on the
// next delivery and never fails the commit.
func (s *webhookService) notifySettled(ctx context.Context, tx repositories.Tx, record domain.PaymentRecord, result WebhookResult) error {
	if s.notifier == nil {
		return nil
	}

	var order domain.Order
	if result.Order != nil {
		order = *result.Order
	} else {
		if s.orders == nil {
			return nil
		}
		found, err := s.orders.FindByPaymentID(ctx, record.PaymentID)
		if err != nil {
			s.logger(ctx, "webhook.notify_order_lookup_failed", map[string]any{
				"paymentId": record.PaymentID,
				"error":     err.Error(),
			})
			return nil
		}
		order = found
	}

	var journal domain.Journal
	if s.journals != nil {
		if found, err := s.journals.FindByID(ctx, record.JournalID); err == nil {
			journal = found
		}
	}

	delivery, err := s.notifier.OrderPaid(ctx, order, journal)
	if err != nil {
		s.logger(ctx, "webhook.notify_failed", map[string]any{
			"paymentId": record.PaymentID,
			"error":     err.Error(),
		})
	}
	if !delivery.Delivered() {
		return nil
	}
	if err := tx.MarkNotificationSent(ctx, record.PaymentID); err != nil {
		s.logger(ctx, "webhook.notify_guard_failed", map[string]any{
			"paymentId": record.PaymentID,
			"error":     err.Error(),
		})
		return err
	}
	return nil
}
