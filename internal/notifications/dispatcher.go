// Package notifications delivers buyer-facing order updates over Telegram
// chat and email. The chat channel is primary: dispatcher methods report its
// failures to callers while email failures are only logged.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iglaboq/shop/internal/domain"
)

const trackingBaseURL = "https://www.pochta.ru/tracking?barcode="

// ChatSender pushes messages into a buyer's Telegram chat.
type ChatSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error
}

// EmailSender delivers a rendered HTML message to one recipient.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// CoverSource resolves the cover image URL for a journal.
type CoverSource interface {
	CoverURL(ctx context.Context, journalID int64) (string, error)
}

// DispatcherDeps wires the channels used by the notification dispatcher.
// Chat is required; Email and Covers are optional channels that degrade to
// no-ops when absent.
type DispatcherDeps struct {
	Chat   ChatSender
	Email  EmailSender
	Covers CoverSource
	Logger func(ctx context.Context, event string, fields map[string]any)

	// RetryAttempts and RetryBackoff bound the resend loop used for
	// delivery-info updates. Defaults: 3 attempts, 2s apart.
	RetryAttempts int
	RetryBackoff  time.Duration
	Sleep         func(d time.Duration)
}

// Dispatcher fans order events out to the configured channels.
type Dispatcher struct {
	chat    ChatSender
	email   EmailSender
	covers  CoverSource
	logger  func(ctx context.Context, event string, fields map[string]any)
	retries int
	backoff time.Duration
	sleep   func(d time.Duration)
}

// NewDispatcher constructs a Dispatcher validating required dependencies.
func NewDispatcher(deps DispatcherDeps) (*Dispatcher, error) {
	if deps.Chat == nil {
		return nil, errors.New("notifications: chat sender is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	retries := deps.RetryAttempts
	if retries <= 0 {
		retries = 3
	}
	backoff := deps.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	return &Dispatcher{
		chat:    deps.Chat,
		email:   deps.Email,
		covers:  deps.Covers,
		logger:  logger,
		retries: retries,
		backoff: backoff,
		sleep:   sleep,
	}, nil
}

// OrderPaid confirms a settled payment to the buyer. The returned delivery
// report says which channels accepted the confirmation; the error carries the
// chat failure, if any, while email stays best-effort.
func (d *Dispatcher) OrderPaid(ctx context.Context, order domain.Order, journal domain.Journal) (domain.NotificationDelivery, error) {
	var delivery domain.NotificationDelivery
	delivery.EmailSent = d.sendEmail(ctx, order, "Order confirmed", "order_paid", emailData{Order: order, Journal: journal})

	text := fmt.Sprintf(
		"Payment received. Order #%d is confirmed.\n\n%s x%d\nTotal: %s %s\n\nWe will message you here once the parcel ships.",
		order.ID, journal.Title, order.Quantity, order.Amount.StringFixed(2), order.Currency,
	)
	if err := d.chat.SendMessage(ctx, order.ChatID, text); err != nil {
		d.logger(ctx, "notify.chat_failed", map[string]any{
			"orderId": order.ID,
			"event":   "order_paid",
			"error":   err.Error(),
		})
		return delivery, err
	}
	delivery.ChatSent = true
	d.logger(ctx, "notify.order_paid", map[string]any{"orderId": order.ID})
	return delivery, nil
}

// OrderShipped announces dispatch, attaching the cover photo when one is
// known and falling back to plain text if the photo send is rejected.
func (d *Dispatcher) OrderShipped(ctx context.Context, order domain.Order, journal domain.Journal) error {
	d.sendEmail(ctx, order, "Your order is on its way", "order_shipped", emailData{
		Order:       order,
		Journal:     journal,
		TrackingURL: trackingURL(order.TrackNumber),
	})

	caption := fmt.Sprintf(
		"Order #%d has shipped.\n\nTracking number: %s\n%s",
		order.ID, order.TrackNumber, trackingURL(order.TrackNumber),
	)

	cover := d.coverFor(ctx, order.JournalID, journal)
	if cover != "" {
		err := d.chat.SendPhoto(ctx, order.ChatID, cover, caption)
		if err == nil {
			d.logger(ctx, "notify.order_shipped", map[string]any{"orderId": order.ID, "photo": true})
			return nil
		}
		d.logger(ctx, "notify.photo_fallback", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	if err := d.chat.SendMessage(ctx, order.ChatID, caption); err != nil {
		d.logger(ctx, "notify.chat_failed", map[string]any{
			"orderId": order.ID,
			"event":   "order_shipped",
			"error":   err.Error(),
		})
		return err
	}
	d.logger(ctx, "notify.order_shipped", map[string]any{"orderId": order.ID, "photo": false})
	return nil
}

// DeliveryUpdated tells the buyer their delivery details were changed. The
// chat send is retried because back-office edits have no later settlement
// step to re-trigger the notification.
func (d *Dispatcher) DeliveryUpdated(ctx context.Context, order domain.Order) error {
	d.sendEmail(ctx, order, "Delivery details updated", "delivery_updated", emailData{Order: order})

	text := fmt.Sprintf(
		"Delivery details for order #%d were updated:\n\n%s\n%s, %s\nPhone: %s",
		order.ID, order.Delivery.FullName, order.Delivery.City, order.Delivery.Postcode, order.Delivery.Phone,
	)

	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		lastErr = d.chat.SendMessage(ctx, order.ChatID, text)
		if lastErr == nil {
			d.logger(ctx, "notify.delivery_updated", map[string]any{
				"orderId": order.ID,
				"attempt": attempt,
			})
			return nil
		}
		if attempt < d.retries {
			d.sleep(d.backoff)
		}
	}

	d.logger(ctx, "notify.chat_failed", map[string]any{
		"orderId":  order.ID,
		"event":    "delivery_updated",
		"attempts": d.retries,
		"error":    lastErr.Error(),
	})
	return lastErr
}

// TrackingUpdated sends the buyer a corrected tracking number.
func (d *Dispatcher) TrackingUpdated(ctx context.Context, order domain.Order) error {
	d.sendEmail(ctx, order, "Tracking number updated", "tracking_updated", emailData{
		Order:       order,
		TrackingURL: trackingURL(order.TrackNumber),
	})

	text := fmt.Sprintf(
		"Tracking number for order #%d was updated: %s\n%s",
		order.ID, order.TrackNumber, trackingURL(order.TrackNumber),
	)
	if err := d.chat.SendMessage(ctx, order.ChatID, text); err != nil {
		d.logger(ctx, "notify.chat_failed", map[string]any{
			"orderId": order.ID,
			"event":   "tracking_updated",
			"error":   err.Error(),
		})
		return err
	}
	d.logger(ctx, "notify.tracking_updated", map[string]any{"orderId": order.ID})
	return nil
}

// sendEmail reports whether the message was accepted for delivery. Failures
// are logged, never surfaced.
func (d *Dispatcher) sendEmail(ctx context.Context, order domain.Order, subject, tmpl string, data emailData) bool {
	if d.email == nil || order.Delivery.Email == "" {
		return false
	}
	body, err := renderEmail(tmpl, data)
	if err != nil {
		d.logger(ctx, "notify.email_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return false
	}
	if err := d.email.Send(ctx, order.Delivery.Email, subject, body); err != nil {
		d.logger(ctx, "notify.email_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return false
	}
	return true
}

func (d *Dispatcher) coverFor(ctx context.Context, journalID int64, journal domain.Journal) string {
	if d.covers != nil {
		cover, err := d.covers.CoverURL(ctx, journalID)
		if err == nil && cover != "" {
			return cover
		}
		if err != nil {
			d.logger(ctx, "notify.cover_lookup_failed", map[string]any{
				"journalId": journalID,
				"error":     err.Error(),
			})
		}
	}
	return journal.CoverURL
}

func trackingURL(trackNumber string) string {
	return trackingBaseURL + trackNumber
}
