package broker

import "context"

// BillingEventType identifies which provider webhook produced an event
type BillingEventType string

// Defining the accepted webhook event types
const (
	EventCheckoutCompleted   BillingEventType = "checkout.completed"
	EventSubscriptionUpdated BillingEventType = "subscription.updated"
	EventSubscriptionDeleted BillingEventType = "subscription.deleted"
)

// BillingEvent is the durably queued unit of work between the webhook endpoint
// and the reconciliation worker. The webhook replies 200 once this is accepted
// by the broker; reconciliation happens asynchronously
type BillingEvent struct {
	Type                 BillingEventType `json:"type"`
	CompanyID            string           `json:"companyId,omitempty"`
	StripeSubscriptionID string           `json:"stripeSubscriptionId"`
}

// Producer defines a producer publishing billing events via message broker
type Producer interface {
	Close()
	PublishBillingEvent(ev *BillingEvent) error
}

// Consumer defines a consumer receiving billing events via message broker
type Consumer interface {
	Close()
	ReceiveBillingEvents(ctx context.Context) (<-chan *BillingEvent, error)
}
