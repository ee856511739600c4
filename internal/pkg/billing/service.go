package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MarioFuchs/StreamVault/app/models"
	"github.com/MarioFuchs/StreamVault/internal/pkg/entitlements"
	"github.com/MarioFuchs/StreamVault/internal/pkg/env"
)

// Cache keys and TTLs for derived billing state. All of these entries are
// advisory; the database and the provider stay the sources of truth.
const (
	subscriptionInfoKeyPrefix = "subscription_info:"
	subscriptionInfoTTL       = 15 * time.Minute

	customerIDKeyPrefix = "stripe_customer:"
	customerIDTTL       = time.Hour

	paymentStatsKey = "payment_statistics"
	paymentStatsTTL = 5 * time.Minute
)

var priceIDPattern = regexp.MustCompile(`^price_[A-Za-z0-9]+$`)

// Notifier delivers user-facing billing notifications. Delivery is
// best-effort and asynchronous; billing state never depends on it.
type Notifier interface {
	PaymentConfirmed(user *models.User, payment *models.Payment)
	SubscriptionCancelled(user *models.User, accessEnd string)
}

type noopNotifier struct{}

func (noopNotifier) PaymentConfirmed(*models.User, *models.Payment) {}
func (noopNotifier) SubscriptionCancelled(*models.User, string)     {}

// Service is the billing reconciler. It owns checkout, success
// confirmation, webhook processing, cancellation and the subscription
// read model.
type Service struct {
	repo          Repository
	provider      Provider
	kv            KV
	notifier      Notifier
	webhookSecret string
	publicDomain  string
}

func NewService(repo Repository, provider Provider, kv KV, notifier Notifier) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		repo:          repo,
		provider:      provider,
		kv:            kv,
		notifier:      notifier,
		webhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		publicDomain:  strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:8080"), "/"),
	}
}

// SetWebhookSecret overrides the env-derived webhook secret (tests).
func (s *Service) SetWebhookSecret(secret string) {
	s.webhookSecret = secret
}

// CreateCheckoutSession opens a hosted checkout session for the user and
// returns the provider URL to redirect to. The success URL carries a
// single-use token so only this browser flow can confirm the session.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID uint, priceID string) (*SessionData, error) {
	if !priceIDPattern.MatchString(priceID) {
		return nil, ErrInvalidPriceFormat
	}

	user, err := s.repo.FindUserByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	token, err := generateSuccessToken()
	if err != nil {
		return nil, err
	}
	if err := s.storeSuccessToken(token, user.ID); err != nil {
		return nil, fmt.Errorf("store success token: %w", err)
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, CheckoutInput{
		UserID:       user.ID,
		Email:        user.Email,
		PriceID:      priceID,
		SuccessToken: token,
		SuccessURL:   s.publicDomain + "/payments/success?session_id={CHECKOUT_SESSION_ID}&token=" + token,
		CancelURL:    s.publicDomain + "/payments/cancel",
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Billing] checkout session %s created for user %d", sess.SessionID, user.ID)
	return sess, nil
}

// ProcessSuccessfulPayment confirms a checkout session after the success
// redirect. The token is consumed before any state changes, and the
// payment write is idempotent against the webhook racing this path.
func (s *Service) ProcessSuccessfulPayment(ctx context.Context, sessionID, token string) (*ProcessResult, error) {
	tokenUserID, err := s.consumeSuccessToken(token)
	if err != nil {
		return nil, err
	}

	sess, err := s.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.SuccessToken != token {
		return nil, ErrTokenMismatch
	}
	if !sess.Paid() {
		return &ProcessResult{Message: "Payment not completed yet"}, nil
	}

	userID := tokenUserID
	if sess.ClientReferenceID != "" && sess.ClientReferenceID != fmt.Sprint(tokenUserID) {
		return nil, ErrTokenMismatch
	}

	return s.applyConfirmedSession(userID, sess)
}

// applyConfirmedSession records a paid session and upgrades the user.
// The charge id is derived from the subscription so the redirect path and
// the checkout webhook converge on the same payment row.
func (s *Service) applyConfirmedSession(userID uint, sess *SessionData) (*ProcessResult, error) {
	chargeID := "session_" + sess.SessionID
	if sess.SubscriptionID != "" {
		chargeID = "subscription_" + sess.SubscriptionID
	}

	amount := float64(sess.AmountTotal) / 100.0
	if amount <= 0 {
		amount = models.NominalAmount
	}
	currency := sess.Currency
	if currency == "" {
		currency = models.CurrencyUSD
	}

	result := &ProcessResult{}
	err := s.repo.Transaction(func(tx Repository) error {
		user, err := tx.FindUserByID(userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		existing, err := tx.FindPaymentByChargeID(chargeID)
		if err == nil {
			result.AlreadyProcessed = true
			result.Message = "Payment already processed"
			result.PaymentID = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		payment := &models.Payment{
			UserID:         user.ID,
			Amount:         amount,
			Currency:       currency,
			Status:         models.PaymentStatusPending,
			StripeChargeID: chargeID,
		}
		payment.MarkCompleted()
		if err := tx.CreatePayment(payment); err != nil {
			return err
		}

		next, changed := entitlements.NextRole(user.Role, "active")
		if changed {
			if err := tx.UpdateUserRole(user.ID, string(next)); err != nil {
				return err
			}
			log.Infof("[Billing] user %d role %s -> %s", user.ID, user.Role, next)
		}

		result.Applied = true
		result.Message = "Subscription activated"
		result.PaymentID = payment.ID

		user.Role = string(next)
		go s.notifier.PaymentConfirmed(user, payment)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateUserCaches(userID)
	return result, nil
}

// CancelUserSubscription flags the user's active provider subscription to
// end at the period boundary. Access is kept until then; the role
// downgrade happens when the deletion webhook arrives.
func (s *Service) CancelUserSubscription(ctx context.Context, userID uint) (*CancelResult, error) {
	user, err := s.repo.FindUserByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.Pro() && !user.Admin() {
		return nil, ErrNoActiveSubscription
	}

	customerID, err := s.customerIDForEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return nil, ErrNoActiveSubscription
	}

	subs, err := s.provider.ListActiveSubscriptions(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNoActiveSubscription
	}

	sub, err := s.provider.CancelAtPeriodEnd(ctx, subs[0].ID)
	if err != nil {
		return nil, err
	}

	accessEnd := "the end of the current billing period"
	if !sub.CurrentPeriodEnd.IsZero() {
		accessEnd = sub.CurrentPeriodEnd.Format("January 2, 2006")
	}

	// Audit row. A redelivered cancel request reuses the same charge id
	// and becomes a no-op.
	err = s.repo.Transaction(func(tx Repository) error {
		chargeID := "cancellation_" + sub.ID
		if _, err := tx.FindPaymentByChargeID(chargeID); err == nil {
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		payment := &models.Payment{
			UserID:         user.ID,
			Amount:         models.NominalAmount,
			Currency:       models.CurrencyUSD,
			Status:         models.PaymentStatusCancelled,
			StripeChargeID: chargeID,
			ErrorMessage:   "subscription cancellation requested, access until " + accessEnd,
		}
		return tx.CreatePayment(payment)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateUserCaches(userID)
	go s.notifier.SubscriptionCancelled(user, accessEnd)

	log.Infof("[Billing] user %d cancelled subscription %s, access until %s", user.ID, sub.ID, accessEnd)
	return &CancelResult{
		Message:   "Subscription cancelled. You keep access until " + accessEnd + ".",
		AccessEnd: accessEnd,
	}, nil
}

// GetSubscriptionInfo returns the subscription read model for a user,
// serving a cached copy when fresh. When the provider is unreachable it
// falls back to an estimate from the latest completed local payment.
func (s *Service) GetSubscriptionInfo(ctx context.Context, userID uint) (*SubscriptionInfo, error) {
	cacheKey := subscriptionInfoKey(userID)
	if raw, err := s.kv.Get(cacheKey); err == nil {
		var info SubscriptionInfo
		if json.Unmarshal([]byte(raw), &info) == nil {
			return &info, nil
		}
	}

	user, err := s.repo.FindUserByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	info, err := s.providerSubscriptionInfo(ctx, user)
	if err != nil {
		if !IsProviderError(err) {
			return nil, err
		}
		log.Warnf("[Billing] provider unavailable for user %d, estimating from payments: %v", userID, err)
		return s.estimatedSubscriptionInfo(user)
	}

	if raw, err := json.Marshal(info); err == nil {
		if err := s.kv.Set(cacheKey, string(raw), subscriptionInfoTTL); err != nil {
			log.Warnf("[Billing] caching subscription info for user %d failed: %v", userID, err)
		}
	}
	return info, nil
}

func (s *Service) providerSubscriptionInfo(ctx context.Context, user *models.User) (*SubscriptionInfo, error) {
	customerID, err := s.customerIDForEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return nil, ErrNoActiveSubscription
	}

	subs, err := s.provider.ListActiveSubscriptions(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNoActiveSubscription
	}

	sub := subs[0]
	return &SubscriptionInfo{
		SubscriptionID:    sub.ID,
		Status:            sub.Status,
		Amount:            float64(sub.UnitAmount) / 100.0,
		Currency:          sub.Currency,
		Interval:          sub.Interval,
		NextBillingDate:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}, nil
}

// estimatedSubscriptionInfo synthesizes a best-effort view from the
// latest completed payment when the provider cannot be reached.
func (s *Service) estimatedSubscriptionInfo(user *models.User) (*SubscriptionInfo, error) {
	payment, err := s.repo.LatestCompletedPayment(user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}

	base := payment.CreatedAt
	if payment.CompletedAt != nil {
		base = *payment.CompletedAt
	}
	return &SubscriptionInfo{
		SubscriptionID:  payment.StripeChargeID,
		Status:          "active",
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Interval:        "month",
		NextBillingDate: base.AddDate(0, 1, 0),
		Estimated:       true,
	}, nil
}

// GetPaymentStatistics aggregates the payment audit trail, cached briefly
// since admin dashboards poll it.
func (s *Service) GetPaymentStatistics() (*PaymentStatistics, error) {
	if raw, err := s.kv.Get(paymentStatsKey); err == nil {
		var stats PaymentStatistics
		if json.Unmarshal([]byte(raw), &stats) == nil {
			return &stats, nil
		}
	}

	stats, err := s.repo.PaymentStatistics()
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(stats); err == nil {
		if err := s.kv.Set(paymentStatsKey, string(raw), paymentStatsTTL); err != nil {
			log.Warnf("[Billing] caching payment statistics failed: %v", err)
		}
	}
	return stats, nil
}

// customerIDForEmail resolves the provider customer id, caching hits for
// an hour. An empty id with nil error means no such customer exists.
func (s *Service) customerIDForEmail(ctx context.Context, email string) (string, error) {
	key := customerIDKeyPrefix + email
	if id, err := s.kv.Get(key); err == nil && id != "" {
		return id, nil
	}

	id, err := s.provider.FindCustomerIDByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if id != "" {
		if err := s.kv.Set(key, id, customerIDTTL); err != nil {
			log.Warnf("[Billing] caching customer id for %s failed: %v", email, err)
		}
	}
	return id, nil
}

func subscriptionInfoKey(userID uint) string {
	return fmt.Sprintf("%s%d", subscriptionInfoKeyPrefix, userID)
}

func (s *Service) invalidateUserCaches(userID uint) {
	if err := s.kv.Delete(subscriptionInfoKey(userID)); err != nil {
		log.Warnf("[Billing] invalidating subscription info for user %d failed: %v", userID, err)
	}
	if err := s.kv.Delete(paymentStatsKey); err != nil {
		log.Warnf("[Billing] invalidating payment statistics failed: %v", err)
	}
}
