package domain

import "time"

// Webhook event types.
const (
	EventSaleCommitted   = "sale.committed"
	EventHoldingReceived = "holding.received"
)

// Webhook is a party's subscription to one event type.
type Webhook struct {
	WebhookID string
	Party     string
	Event     string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}
