package controllers

import (
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"

	"github.com/MarioFuchs/StreamVault/internal/pkg/billing"
	"github.com/MarioFuchs/StreamVault/internal/pkg/database"
	"github.com/MarioFuchs/StreamVault/internal/pkg/env"
	"github.com/MarioFuchs/StreamVault/internal/pkg/jobqueue"
	"github.com/MarioFuchs/StreamVault/internal/pkg/usercontext"
)

var (
	paymentSvcMu   sync.RWMutex
	paymentService *billing.Service
)

// InitPaymentService wires the billing service used by the payment
// handlers. Called once at startup; tests inject their own service.
func InitPaymentService(svc *billing.Service) {
	paymentSvcMu.Lock()
	defer paymentSvcMu.Unlock()
	paymentService = svc
}

func getPaymentService() *billing.Service {
	paymentSvcMu.RLock()
	svc := paymentService
	paymentSvcMu.RUnlock()
	if svc != nil {
		return svc
	}

	paymentSvcMu.Lock()
	defer paymentSvcMu.Unlock()
	if paymentService == nil {
		notifier := jobqueue.NewQueueNotifier(jobqueue.GetManager().GetQueue())
		paymentService = billing.NewService(
			billing.NewRepository(database.GetDB()),
			billing.NewStripeProviderFromEnv(),
			billing.NewRedisKV(),
			notifier,
		)
	}
	return paymentService
}

// HandlePaymentCheckout starts a hosted checkout session and redirects
// the browser to the provider.
func HandlePaymentCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	priceID := c.FormValue("price_id", env.GetEnv("STRIPE_PRICE_ID", ""))

	sess, err := getPaymentService().CreateCheckoutSession(c.Context(), userCtx.UserID, priceID)
	if err != nil {
		fm := fiber.Map{"type": "error"}
		if errors.Is(err, billing.ErrInvalidPriceFormat) {
			fm["message"] = "Invalid subscription plan"
		} else {
			log.Errorf("[Payment] checkout create failed for user %d: %v", userCtx.UserID, err)
			fm["message"] = "Checkout could not be started, please try again"
		}
		return flash.WithError(c, fm).Redirect("/")
	}

	return c.Redirect(sess.URL, fiber.StatusSeeOther)
}

// HandlePaymentSuccess confirms a checkout after the provider redirect.
// The token in the query string is single-use.
func HandlePaymentSuccess(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	sessionID := c.Query("session_id")
	token := c.Query("token")

	result, err := getPaymentService().ProcessSuccessfulPayment(c.Context(), sessionID, token)
	if err != nil {
		fm := fiber.Map{"type": "error"}
		switch {
		case errors.Is(err, billing.ErrTokenNotFound), errors.Is(err, billing.ErrTokenMismatch):
			fm["message"] = "This payment link is invalid or was already used"
		default:
			log.Errorf("[Payment] success confirmation failed for user %d: %v", userCtx.UserID, err)
			fm["message"] = "Payment could not be confirmed, please contact support"
		}
		return flash.WithError(c, fm).Redirect("/")
	}

	fm := fiber.Map{"type": "success"}
	switch {
	case result.AlreadyProcessed:
		fm["message"] = "Your subscription is already active"
	case result.Applied:
		fm["message"] = "Payment received, welcome to Pro!"
	default:
		fm = fiber.Map{"type": "info", "message": "Payment is still processing, check back shortly"}
	}
	return flash.WithSuccess(c, fm).Redirect("/")
}

// HandlePaymentCancel is the provider's cancel-URL target. Nothing was
// charged; just tell the user.
func HandlePaymentCancel(c *fiber.Ctx) error {
	fm := fiber.Map{
		"type":    "info",
		"message": "Checkout cancelled, you have not been charged",
	}
	return flash.WithInfo(c, fm).Redirect("/")
}

// HandleSubscriptionCancel flags the subscription to end at the period
// boundary.
func HandleSubscriptionCancel(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	result, err := getPaymentService().CancelUserSubscription(c.Context(), userCtx.UserID)
	if err != nil {
		fm := fiber.Map{"type": "error"}
		if errors.Is(err, billing.ErrNoActiveSubscription) {
			fm["message"] = "You have no active subscription to cancel"
		} else {
			log.Errorf("[Payment] cancellation failed for user %d: %v", userCtx.UserID, err)
			fm["message"] = "Cancellation failed, please try again"
		}
		return flash.WithError(c, fm).Redirect("/")
	}

	fm := fiber.Map{
		"type":    "success",
		"message": result.Message,
	}
	return flash.WithSuccess(c, fm).Redirect("/")
}

// HandleAPISubscription returns the subscription info read model.
func HandleAPISubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	info, err := getPaymentService().GetSubscriptionInfo(c.Context(), userCtx.UserID)
	if err != nil {
		if errors.Is(err, billing.ErrNoActiveSubscription) {
			return jsonError(c, fiber.StatusNotFound, "No active subscription")
		}
		log.Errorf("[Payment] subscription info failed for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Subscription info unavailable")
	}

	return c.JSON(info)
}

// HandleAPIPaymentStats returns aggregate payment statistics.
func HandleAPIPaymentStats(c *fiber.Ctx) error {
	stats, err := getPaymentService().GetPaymentStatistics()
	if err != nil {
		log.Errorf("[Payment] statistics query failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "Statistics unavailable")
	}

	return c.JSON(stats)
}

// HandleStripeWebhook is the signature-verified webhook intake. 400 means
// the delivery is broken and must not be retried; 500 asks the provider
// to redeliver.
func HandleStripeWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	sigHeader := c.Get("Stripe-Signature")

	result, err := getPaymentService().HandleWebhookEvent(c.Context(), payload, sigHeader)
	if err != nil {
		if errors.Is(err, billing.ErrSignatureInvalid) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid signature",
			})
		}
		log.Errorf("[Payment] webhook processing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "webhook processing failed",
		})
	}

	if result.Duplicate {
		log.Infof("[Payment] duplicate webhook delivery acknowledged (%s)", result.EventType)
	}
	return c.JSON(fiber.Map{"status": "success"})
}
