package billing

import "time"

// SessionData is the provider-agnostic snapshot of a hosted checkout
// session used by success confirmation and webhook handling.
type SessionData struct {
	SessionID         string
	ClientReferenceID string
	PaymentStatus     string
	AmountTotal       int64 // minor units (cents)
	Currency          string
	SuccessToken      string
	URL               string
	CustomerID        string
	SubscriptionID    string
}

// Paid reports whether the provider confirmed payment for the session.
func (s *SessionData) Paid() bool {
	return s.PaymentStatus == "paid"
}

// ProviderSubscription is the normalized shape of a provider-side
// subscription as seen by cancellation and the info read model.
type ProviderSubscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	UnitAmount        int64 // minor units (cents)
	Currency          string
	Interval          string
	CurrentPeriodEnd  time.Time // zero when the provider omits it
	Created           time.Time
}

// CheckoutInput carries everything the provider needs to open a hosted
// checkout session bound to a local user.
type CheckoutInput struct {
	UserID       uint
	Email        string
	PriceID      string
	SuccessToken string
	SuccessURL   string
	CancelURL    string
}

// ProcessResult reports the outcome of applying a confirmed payment.
// AlreadyProcessed marks the idempotent re-entry path (double click or a
// webhook racing the redirect), which is a success, not a failure.
type ProcessResult struct {
	Applied          bool
	AlreadyProcessed bool
	Message          string
	PaymentID        uint
}

// CancelResult carries the user-facing outcome of a cancellation.
type CancelResult struct {
	Message   string
	AccessEnd string
}

// WebhookResult describes how an inbound webhook event was handled.
type WebhookResult struct {
	Processed bool
	Duplicate bool
	Ignored   bool
	EventType string
}

// SubscriptionInfo is the read model served to account pages. When the
// provider is unreachable it is synthesized from the latest completed
// local payment and Estimated is set; estimates are a display nicety,
// never a billing source of truth.
type SubscriptionInfo struct {
	SubscriptionID    string    `json:"subscription_id"`
	Status            string    `json:"status"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	Interval          string    `json:"interval"`
	NextBillingDate   time.Time `json:"next_billing_date"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	Estimated         bool      `json:"estimated"`
}
