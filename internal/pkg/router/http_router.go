package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"

	"github.com/MarioFuchs/StreamVault/app/controllers"
	"github.com/MarioFuchs/StreamVault/internal/pkg/env"
	"github.com/MarioFuchs/StreamVault/internal/pkg/middleware"
	"github.com/MarioFuchs/StreamVault/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	if err := controllers.InitStreamResponders(); err != nil {
		log.Errorf("[Router] stream responder init failed: %v", err)
	}

	h.registerPublicRoutes(app)
	h.registerCSRFProtectedRoutes(app)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Billing provider webhooks (no CSRF, signature-verified in controller)
	app.Post("/webhooks/stripe", controllers.HandleStripeWebhook)

	// Video delivery. Range requests come from media players, not forms,
	// so the CSRF guard stays out of the way.
	app.Get("/movies/:id/stream", middleware.RequireAuth, controllers.HandleMovieStream)

	app.Post("/logout", middleware.RequireAuth, controllers.HandleAuthLogout)
}

func (h HttpRouter) registerCSRFProtectedRoutes(app *fiber.App) {
	csrfConf := csrf.Config{
		KeyLookup:      "form:_csrf",
		ContextKey:     "csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/")
		},
	}

	group := app.Group("", cors.New(), csrf.New(csrfConf))

	group.Post("/register", controllers.HandleAuthRegister)
	group.Post("/login", controllers.HandleAuthLogin)

	group.Post("/payments/checkout", middleware.RequireAuth, controllers.HandlePaymentCheckout)
	group.Get("/payments/success", middleware.RequireAuth, controllers.HandlePaymentSuccess)
	group.Get("/payments/cancel", controllers.HandlePaymentCancel)
	group.Post("/payments/subscription/cancel", middleware.RequireAuth, controllers.HandleSubscriptionCancel)
}
