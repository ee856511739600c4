package billing

import stripe "github.com/stripe/stripe-go/v82"

// EventKind is the closed set of webhook event kinds the reconciler acts
// on. Unknown provider event types map to EventKindUnknown and are a
// logged no-op, never an error.
type EventKind int

const (
	EventKindUnknown EventKind = iota
	EventKindCheckoutCompleted
	EventKindSubscriptionCreated
	EventKindSubscriptionUpdated
	EventKindSubscriptionDeleted
	EventKindInvoicePaymentSucceeded
	EventKindInvoicePaymentFailed
)

func (k EventKind) String() string {
	switch k {
	case EventKindCheckoutCompleted:
		return "checkout_completed"
	case EventKindSubscriptionCreated:
		return "subscription_created"
	case EventKindSubscriptionUpdated:
		return "subscription_updated"
	case EventKindSubscriptionDeleted:
		return "subscription_deleted"
	case EventKindInvoicePaymentSucceeded:
		return "invoice_payment_succeeded"
	case EventKindInvoicePaymentFailed:
		return "invoice_payment_failed"
	default:
		return "unknown"
	}
}

// KindForEventType maps a provider event type to its EventKind.
func KindForEventType(t stripe.EventType) EventKind {
	switch t {
	case "checkout.session.completed":
		return EventKindCheckoutCompleted
	case "customer.subscription.created":
		return EventKindSubscriptionCreated
	case "customer.subscription.updated":
		return EventKindSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventKindSubscriptionDeleted
	case "invoice.payment_succeeded":
		return EventKindInvoicePaymentSucceeded
	case "invoice.payment_failed":
		return EventKindInvoicePaymentFailed
	default:
		return EventKindUnknown
	}
}
