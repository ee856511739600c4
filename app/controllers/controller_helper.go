package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MarioFuchs/StreamVault/internal/pkg/usercontext"
)

// Session keys shared between auth handlers and the user context middleware.
const (
	AUTH_KEY      string = usercontext.AuthKey
	USER_ID       string = usercontext.KeyUserID
	USER_NAME     string = usercontext.KeyUsername
	USER_IS_ADMIN string = usercontext.KeyIsAdmin
)

func isLoggedIn(c *fiber.Ctx) bool {
	return usercontext.IsLoggedIn(c)
}

func jsonError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}
