package controllers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/MarioFuchs/StreamVault/app/models"
	"github.com/MarioFuchs/StreamVault/internal/pkg/database"
	"github.com/MarioFuchs/StreamVault/internal/pkg/session"
)

func HandleAuthRegister(c *fiber.Ctx) error {
	fm := fiber.Map{
		"type": "error",
	}

	name := c.FormValue("name")
	email := c.FormValue("email")
	password := c.FormValue("password")

	user, err := models.CreateUser(name, email, password)
	if err != nil {
		fm["message"] = "Please check your registration details"

		return flash.WithError(c, fm).Redirect("/register")
	}

	if err := database.GetDB().Create(user).Error; err != nil {
		// notice: do not leak whether the email is already registered
		fm["message"] = "There is a problem with the registration process"

		return flash.WithError(c, fm).Redirect("/register")
	}

	fm = fiber.Map{
		"type":    "success",
		"message": "Welcome! You can log in now.",
	}

	return flash.WithSuccess(c, fm).Redirect("/login")
}

func HandleAuthLogin(c *fiber.Ctx) error {
	fm := fiber.Map{
		"type": "error",
	}

	var user models.User

	// notice: in production you should not inform the user
	// with detailed messages about login failures
	result := database.GetDB().Where("email = ?", c.FormValue("email")).First(&user)
	if result.Error != nil {
		fm["message"] = "There is a problem with the login process"

		return flash.WithError(c, fm).Redirect("/login")
	}

	if !models.CheckPasswordHash(c.FormValue("password"), user.Password) {
		fm["message"] = "There is a problem with the login process"

		return flash.WithError(c, fm).Redirect("/login")
	}

	if user.Status != models.StatusActive {
		fm["message"] = "There is a problem with the login process"

		return flash.WithError(c, fm).Redirect("/login")
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		fm["message"] = fmt.Sprintf("something went wrong: %s", err)

		return flash.WithError(c, fm).Redirect("/login")
	}

	sess.Set(AUTH_KEY, true)
	sess.Set(USER_ID, user.ID)
	sess.Set(USER_NAME, user.Name)
	sess.Set(USER_IS_ADMIN, user.Admin())

	err = sess.Save()
	if err != nil {
		fm["message"] = fmt.Sprintf("something went wrong: %s", err)

		return flash.WithError(c, fm).Redirect("/login")
	}

	database.GetDB().Model(&user).Update("last_login_at", time.Now())

	fm = fiber.Map{
		"type":    "success",
		"message": "Welcome back! Enjoy the show.",
	}

	return flash.WithSuccess(c, fm).Redirect("/")
}

func HandleAuthLogout(c *fiber.Ctx) error {
	fm := fiber.Map{
		"type": "error",
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		fm["message"] = "logged out (no sess)"

		return flash.WithError(c, fm).Redirect("/login")
	}

	err = sess.Destroy()
	if err != nil {
		fm["message"] = fmt.Sprintf("something went wrong: %s", err)

		return flash.WithError(c, fm).Redirect("/login")
	}

	fm = fiber.Map{
		"type":    "success",
		"message": "Bye bye! See you soon.",
	}

	return flash.WithSuccess(c, fm).Redirect("/login")
}
