package billing

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/MarioFuchs/StreamVault/internal/pkg/env"
)

// Provider is the payment provider seam. The Stripe implementation below
// is the only production one; tests substitute fakes.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*SessionData, error)
	GetCheckoutSession(ctx context.Context, id string) (*SessionData, error)
	GetCustomerEmail(ctx context.Context, customerID string) (string, error)
	FindCustomerIDByEmail(ctx context.Context, email string) (string, error)
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]ProviderSubscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
}

// Provider calls carry their own timeout, separate from the inbound
// request's; a slow provider must not pin a worker indefinitely.
const providerHTTPTimeout = 60 * time.Second

type stripeProvider struct {
	client *client.API
}

// NewStripeProviderFromEnv builds the Stripe-backed provider using
// STRIPE_SECRET_KEY.
func NewStripeProviderFromEnv() Provider {
	return NewStripeProvider(env.GetEnv("STRIPE_SECRET_KEY", ""))
}

func NewStripeProvider(apiKey string) Provider {
	httpClient := &http.Client{Timeout: providerHTTPTimeout}
	return &stripeProvider{
		client: client.New(apiKey, stripe.NewBackends(httpClient)),
	}
}

func (p *stripeProvider) CreateCheckoutSession(_ context.Context, in CheckoutInput) (*SessionData, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail:     stripe.String(in.Email),
		ClientReferenceID: stripe.String(strconv.FormatUint(uint64(in.UserID), 10)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:               stripe.String(in.SuccessURL),
		CancelURL:                stripe.String(in.CancelURL),
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String("required"),
		PaymentMethodTypes:       stripe.StringSlice([]string{"card"}),
	}
	params.AddMetadata("user_id", strconv.FormatUint(uint64(in.UserID), 10))
	params.AddMetadata("user_email", in.Email)
	params.AddMetadata("success_token", in.SuccessToken)

	sess, err := p.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, providerErr("checkout session create", err)
	}
	return sessionDataFrom(sess), nil
}

func (p *stripeProvider) GetCheckoutSession(_ context.Context, id string) (*SessionData, error) {
	sess, err := p.client.CheckoutSessions.Get(id, nil)
	if err != nil {
		return nil, providerErr("checkout session retrieve", err)
	}
	return sessionDataFrom(sess), nil
}

func (p *stripeProvider) GetCustomerEmail(_ context.Context, customerID string) (string, error) {
	cust, err := p.client.Customers.Get(customerID, nil)
	if err != nil {
		return "", providerErr("customer retrieve", err)
	}
	return cust.Email, nil
}

func (p *stripeProvider) FindCustomerIDByEmail(_ context.Context, email string) (string, error) {
	iter := p.client.Customers.Search(&stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query: fmt.Sprintf("email:'%s'", email),
		},
	})
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", providerErr("customer search", err)
	}
	return "", nil
}

func (p *stripeProvider) ListActiveSubscriptions(_ context.Context, customerID string) ([]ProviderSubscription, error) {
	iter := p.client.Subscriptions.List(&stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	})

	var subs []ProviderSubscription
	for iter.Next() {
		subs = append(subs, normalizeSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, providerErr("subscription list", err)
	}
	return subs, nil
}

func (p *stripeProvider) CancelAtPeriodEnd(_ context.Context, subscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.AddMetadata("cancelled_by_user", "true")
	params.AddMetadata("cancelled_at", time.Now().UTC().Format(time.RFC3339))

	sub, err := p.client.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, providerErr("subscription cancel", err)
	}
	normalized := normalizeSubscription(sub)
	return &normalized, nil
}

func sessionDataFrom(sess *stripe.CheckoutSession) *SessionData {
	data := &SessionData{
		SessionID:         sess.ID,
		ClientReferenceID: sess.ClientReferenceID,
		PaymentStatus:     string(sess.PaymentStatus),
		AmountTotal:       sess.AmountTotal,
		Currency:          string(sess.Currency),
		URL:               sess.URL,
	}
	if sess.Metadata != nil {
		data.SuccessToken = sess.Metadata["success_token"]
	}
	if sess.Customer != nil {
		data.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		data.SubscriptionID = sess.Subscription.ID
	}
	return data
}

func normalizeSubscription(sub *stripe.Subscription) ProviderSubscription {
	out := ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Interval:          "month",
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Created > 0 {
		out.Created = time.Unix(sub.Created, 0)
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodEnd > 0 {
			out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0)
		}
		if item.Price != nil {
			out.UnitAmount = item.Price.UnitAmount
			out.Currency = string(item.Price.Currency)
			if item.Price.Recurring != nil && item.Price.Recurring.Interval != "" {
				out.Interval = string(item.Price.Recurring.Interval)
			}
		}
	}
	return out
}
