package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"

	"github.com/MarioFuchs/StreamVault/app/models"
	"github.com/MarioFuchs/StreamVault/internal/pkg/entitlements"
)

// HandleWebhookEvent verifies, records and applies one provider webhook
// delivery. Redeliveries of an already-processed event are acknowledged
// without side effects; a handler error leaves the event unprocessed so
// the provider's retry can pick it up again.
func (s *Service) HandleWebhookEvent(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.webhookSecret)
	if err != nil {
		log.Warnf("[Billing] webhook signature verification failed: %v", err)
		return nil, ErrSignatureInvalid
	}

	record := &models.PaymentEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	}
	created, stored, err := s.repo.CreatePaymentEventIfNotExists(record)
	if err != nil {
		return nil, fmt.Errorf("record webhook event %s: %w", event.ID, err)
	}
	if !created && stored.ProcessedAt != nil {
		log.Infof("[Billing] duplicate webhook event %s (%s), skipping", event.ID, event.Type)
		return &WebhookResult{Duplicate: true, EventType: string(event.Type)}, nil
	}

	result := &WebhookResult{EventType: string(event.Type)}
	kind := KindForEventType(event.Type)

	var handleErr error
	switch kind {
	case EventKindCheckoutCompleted:
		handleErr = s.handleCheckoutCompleted(ctx, &event)
	case EventKindSubscriptionCreated, EventKindSubscriptionUpdated, EventKindSubscriptionDeleted:
		handleErr = s.handleSubscriptionChange(ctx, kind, &event)
	case EventKindInvoicePaymentSucceeded:
		handleErr = s.handleInvoicePaid(ctx, &event)
	case EventKindInvoicePaymentFailed:
		handleErr = s.handleInvoiceFailed(ctx, &event)
	default:
		log.Infof("[Billing] ignoring webhook event type %s", event.Type)
		result.Ignored = true
	}

	if handleErr != nil {
		if recErr := s.repo.RecordPaymentEventError(stored.ID, handleErr.Error()); recErr != nil {
			log.Errorf("[Billing] recording error for event %s failed: %v", event.ID, recErr)
		}
		return nil, handleErr
	}

	if err := s.repo.MarkPaymentEventProcessed(stored.ID, ""); err != nil {
		return nil, fmt.Errorf("mark webhook event %s processed: %w", event.ID, err)
	}
	result.Processed = !result.Ignored
	return result, nil
}

// handleCheckoutCompleted applies a paid checkout session delivered via
// webhook. It shares the charge-id derivation with the redirect path, so
// whichever arrives first wins and the other becomes a no-op.
func (s *Service) handleCheckoutCompleted(_ context.Context, event *stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}
	data := sessionDataFrom(&sess)
	if !data.Paid() {
		log.Infof("[Billing] checkout session %s completed but unpaid, skipping", data.SessionID)
		return nil
	}

	userID, err := strconv.ParseUint(data.ClientReferenceID, 10, 32)
	if err != nil {
		// A session not tagged with a local user id cannot be
		// reconciled; retrying will not change that.
		log.Warnf("[Billing] checkout session %s has no usable client reference %q, skipping", data.SessionID, data.ClientReferenceID)
		return nil
	}

	if _, err := s.applyConfirmedSession(uint(userID), data); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.Warnf("[Billing] no local user %d for checkout session %s, skipping", userID, data.SessionID)
			return nil
		}
		return err
	}
	return nil
}

// handleSubscriptionChange reconciles subscription lifecycle events into
// the local role. The charge id encodes event identity: created and
// deleted events are unique per subscription, updates are unique per
// (subscription, status) so repeated updates to the same status converge.
func (s *Service) handleSubscriptionChange(ctx context.Context, kind EventKind, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return fmt.Errorf("subscription %s has no customer", sub.ID)
	}

	status := string(sub.Status)
	var chargeID string
	switch kind {
	case EventKindSubscriptionCreated:
		chargeID = "subscription_" + sub.ID
	case EventKindSubscriptionDeleted:
		chargeID = "subscription_deleted_" + sub.ID
		status = "canceled"
	default:
		chargeID = "subscription_updated_" + sub.ID + "_" + status
	}

	user, err := s.userForCustomer(ctx, sub.Customer.ID)
	if err != nil {
		return err
	}
	if user == nil {
		// Customer exists at the provider but not locally. Nothing to
		// reconcile; retrying will not change that.
		log.Warnf("[Billing] no local user for customer %s, skipping %s", sub.Customer.ID, event.Type)
		return nil
	}

	normalized := normalizeSubscription(&sub)
	amount := float64(normalized.UnitAmount) / 100.0
	if amount <= 0 {
		amount = models.NominalAmount
	}
	currency := normalized.Currency
	if currency == "" {
		currency = models.CurrencyUSD
	}

	paymentStatus := models.PaymentStatusCompleted
	if kind == EventKindSubscriptionDeleted {
		paymentStatus = models.PaymentStatusCancelled
	}

	err = s.repo.Transaction(func(tx Repository) error {
		if _, err := tx.FindPaymentByChargeID(chargeID); err == nil {
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		payment := &models.Payment{
			UserID:         user.ID,
			Amount:         amount,
			Currency:       currency,
			Status:         paymentStatus,
			StripeChargeID: chargeID,
			Metadata:       fmt.Sprintf(`{"subscription_id":%q,"status":%q}`, sub.ID, status),
		}
		if paymentStatus == models.PaymentStatusCompleted {
			payment.MarkCompleted()
		}
		if err := tx.CreatePayment(payment); err != nil {
			return err
		}

		if next, changed := entitlements.NextRole(user.Role, status); changed {
			if err := tx.UpdateUserRole(user.ID, string(next)); err != nil {
				return err
			}
			log.Infof("[Billing] user %d role %s -> %s (subscription %s %s)", user.ID, user.Role, next, sub.ID, status)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateUserCaches(user.ID)
	return nil
}

// invoicePayload is the slice of an invoice event this service needs.
// The subscription reference moved between API versions, so both the
// legacy top-level field and the current nested location are read.
type invoicePayload struct {
	ID         string `json:"id"`
	Customer   string `json:"customer"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`

	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (p *invoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return p.Subscription
	}
	return p.Parent.SubscriptionDetails.Subscription
}

// handleInvoicePaid records a renewal charge and keeps the user
// entitled. This is the event that sustains pro access month over month.
func (s *Service) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}
	if inv.Customer == "" {
		return fmt.Errorf("invoice %s has no customer", inv.ID)
	}

	user, err := s.userForCustomer(ctx, inv.Customer)
	if err != nil {
		return err
	}
	if user == nil {
		log.Warnf("[Billing] no local user for customer %s, skipping invoice %s", inv.Customer, inv.ID)
		return nil
	}

	amount := float64(inv.AmountPaid) / 100.0
	if amount <= 0 {
		amount = models.NominalAmount
	}
	currency := inv.Currency
	if currency == "" {
		currency = models.CurrencyUSD
	}
	chargeID := "invoice_" + inv.ID

	err = s.repo.Transaction(func(tx Repository) error {
		if _, err := tx.FindPaymentByChargeID(chargeID); err == nil {
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		payment := &models.Payment{
			UserID:         user.ID,
			Amount:         amount,
			Currency:       currency,
			Status:         models.PaymentStatusPending,
			StripeChargeID: chargeID,
			Metadata:       fmt.Sprintf(`{"invoice_id":%q,"subscription_id":%q}`, inv.ID, inv.subscriptionID()),
		}
		payment.MarkCompleted()
		if err := tx.CreatePayment(payment); err != nil {
			return err
		}

		if next, changed := entitlements.NextRole(user.Role, "active"); changed {
			if err := tx.UpdateUserRole(user.ID, string(next)); err != nil {
				return err
			}
			log.Infof("[Billing] user %d role %s -> %s (invoice %s)", user.ID, user.Role, next, inv.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateUserCaches(user.ID)
	return nil
}

// handleInvoiceFailed records the failed charge for the audit trail. The
// role is left alone; the downgrade, if any, arrives as a subscription
// status change from the provider's dunning flow.
func (s *Service) handleInvoiceFailed(ctx context.Context, event *stripe.Event) error {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}
	if inv.Customer == "" {
		return fmt.Errorf("invoice %s has no customer", inv.ID)
	}

	user, err := s.userForCustomer(ctx, inv.Customer)
	if err != nil {
		return err
	}
	if user == nil {
		log.Warnf("[Billing] no local user for customer %s, skipping failed invoice %s", inv.Customer, inv.ID)
		return nil
	}

	amount := float64(inv.AmountDue) / 100.0
	if amount <= 0 {
		amount = models.NominalAmount
	}
	currency := inv.Currency
	if currency == "" {
		currency = models.CurrencyUSD
	}
	chargeID := "invoice_failed_" + inv.ID

	return s.repo.Transaction(func(tx Repository) error {
		if _, err := tx.FindPaymentByChargeID(chargeID); err == nil {
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		payment := &models.Payment{
			UserID:         user.ID,
			Amount:         amount,
			Currency:       currency,
			StripeChargeID: chargeID,
			Metadata:       fmt.Sprintf(`{"invoice_id":%q}`, inv.ID),
		}
		payment.MarkFailed("invoice payment failed")
		return tx.CreatePayment(payment)
	})
}

// userForCustomer maps a provider customer to a local user via the
// customer's email. A nil user with nil error means the customer has no
// local account.
func (s *Service) userForCustomer(ctx context.Context, customerID string) (*models.User, error) {
	email, err := s.provider.GetCustomerEmail(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if email == "" {
		return nil, nil
	}

	user, err := s.repo.FindUserByEmail(email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
