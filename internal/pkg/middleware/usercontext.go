package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MarioFuchs/StreamVault/app/models"
	"github.com/MarioFuchs/StreamVault/internal/pkg/database"
	"github.com/MarioFuchs/StreamVault/internal/pkg/session"
	"github.com/MarioFuchs/StreamVault/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the complete user context for every request.
// The role is read from the database, not the session, because billing
// webhooks change roles out-of-band and a session-cached role would keep
// serving the old entitlement until re-login.
func UserContextMiddleware(c *fiber.Ctx) error {
	anonymous := func() error {
		usercontext.SetUserContext(c, usercontext.UserContext{})
		c.Locals(usercontext.KeyFromProtected, false)
		c.Locals(usercontext.KeyIsAdmin, false)
		return c.Next()
	}

	store := session.GetSessionStore()
	if store == nil {
		return anonymous()
	}
	sess, err := store.Get(c)
	if err != nil {
		return anonymous()
	}

	userID, ok := sess.Get(usercontext.KeyUserID).(uint)
	if !ok || userID == 0 {
		return anonymous()
	}

	db := database.GetDB()
	if db == nil {
		return anonymous()
	}
	var user models.User
	if err := db.First(&user, "id = ?", userID).Error; err != nil {
		return anonymous()
	}
	if user.Status != models.StatusActive {
		return anonymous()
	}

	usercontext.SetUserContext(c, usercontext.UserContext{
		UserID:     user.ID,
		Username:   user.Name,
		IsLoggedIn: true,
		IsAdmin:    user.Admin(),
		Role:       user.Role,
	})
	c.Locals(usercontext.KeyFromProtected, true)
	c.Locals(usercontext.KeyUserID, user.ID)
	c.Locals(usercontext.KeyUsername, user.Name)
	c.Locals(usercontext.KeyIsAdmin, user.Admin())

	return c.Next()
}
