package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/MarioFuchs/StreamVault/app/controllers"
	"github.com/MarioFuchs/StreamVault/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "StreamVault API",
		})
	})

	api.Get("/subscription", middleware.RequireAPISessionAuth, controllers.HandleAPISubscription)
	api.Get("/payments/stats", middleware.RequireAPIAdmin, controllers.HandleAPIPaymentStats)

	// Service-to-service endpoints guarded by the shared internal key.
	internal := api.Group("/internal", middleware.InternalAPIKeyMiddleware())
	internal.Get("/payments/stats", controllers.HandleAPIPaymentStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
