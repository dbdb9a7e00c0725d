package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedNotification is returned when a webhook payload cannot be parsed.
var ErrMalformedNotification = errors.New("payments: malformed notification")

// Notification is a parsed gateway callback describing a payment transition.
type Notification struct {
	Event   string
	Payment Payment
}

type rawNotification struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Object yooKassaPayment `json:"object"`
}

// ParseNotification decodes a gateway webhook body. The payment id and a
// recognised status are mandatory; everything else is carried through as-is.
func ParseNotification(body []byte) (Notification, error) {
	var raw rawNotification
	if err := json.Unmarshal(body, &raw); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if strings.TrimSpace(raw.Object.ID) == "" {
		return Notification{}, fmt.Errorf("%w: missing object id", ErrMalformedNotification)
	}
	if _, ok := ParseStatus(raw.Object.Status); !ok {
		return Notification{}, fmt.Errorf("%w: unknown status %q", ErrMalformedNotification, raw.Object.Status)
	}

	payment, err := normalizeYooKassaPayment(raw.Object)
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	return Notification{
		Event:   strings.TrimSpace(raw.Event),
		Payment: payment,
	}, nil
}
