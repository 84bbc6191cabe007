package api

import (
	"time"

	"gotmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/nicksnyder/go-i18n/v2/i18n"
)

// Handlers groups every API handler for route registration
type Handlers struct {
	Sessions      *SessionResolver
	Auth          *AuthHandler
	Users         *UserHandler
	Labels        *LabelHandler
	Emails        *EmailHandler
	Notifications *NotificationHandler
}

// RegisterRoutes mounts the API on app
func RegisterRoutes(app *fiber.App, h *Handlers) {
	// Public routes
	auth := app.Group("/auth")
	auth.Post("/register", h.Auth.Register)
	auth.Post("/login", h.Auth.Login)
	auth.Post("/2fa_verify", h.Auth.Verify2FA)
	auth.Post("/logout", h.Auth.Logout)
	auth.Post("/validate_token", h.Auth.ValidateToken)
	auth.Post("/forget_password", h.Auth.ForgetPassword)
	auth.Post("/reset_password_confirm", h.Auth.ResetPasswordConfirm)

	// Live push, authenticated by the token query parameter
	app.Get("/ws/emails", UpgradeWebSocket, websocket.New(h.Notifications.HandleWebSocket))
	app.Get("/api/notifications/stream", h.Notifications.HandleSSE)

	// Protected routes
	authenticated := SessionMiddleware(h.Sessions)

	auth.Post("/2fa", authenticated, h.Auth.Enable2FA)
	auth.Post("/reset_password", authenticated, h.Auth.ResetPassword)
	auth.Post("/verify/start", authenticated, h.Auth.StartPhoneVerification)
	auth.Post("/verify/code", authenticated, h.Auth.CheckPhoneVerification)

	user := app.Group("/user", authenticated)
	{
		user.Get("/profile", h.Users.GetProfile)
		user.Put("/profile", h.Users.UpdateProfile)

		user.Get("/auto_rep", h.Users.GetAutoReply)
		user.Put("/auto_rep", h.Users.UpdateAutoReply)
		user.Patch("/auto_rep", h.Users.ToggleAutoReply)

		user.Get("/email_pref", h.Users.GetFontSettings)
		user.Put("/email_pref", h.Users.UpdateFontSettings)

		user.Get("/darkmode", h.Users.GetDarkMode)
		user.Patch("/darkmode", h.Users.SetDarkMode)

		user.Get("/labels", h.Labels.GetLabels)
		user.Post("/labels", h.Labels.ManageLabels)
		user.Post("/email_labels", h.Labels.LabelEmail)

		user.Get("/notifications", h.Notifications.List)
		user.Get("/notifications/unread_count", h.Notifications.UnreadCount)
		user.Post("/notifications/read_all", h.Notifications.MarkAllRead)
		user.Get("/notifications/:id", h.Notifications.Get)
		user.Patch("/notifications/:id", h.Notifications.Update)
		user.Delete("/notifications/:id", h.Notifications.Delete)
	}

	app.Get("/other/profile/:user_id", authenticated, h.Users.GetOtherProfile)

	email := app.Group("/email", authenticated)
	{
		email.Post("/send", h.Emails.Send)
		email.Post("/action", h.Emails.Action)
		email.Post("/search", h.Emails.Search)
		email.Get("/:id", h.Emails.Get)
	}
	app.Get("/email_list", authenticated, h.Emails.List)
}

// ErrorHandler renders errors as {"error": message}
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if appErr, ok := utils.AsAppError(err); ok {
		code = appErr.Code
		message = appErr.Message

		log := utils.Log
		if len(appErr.Fields) > 0 {
			log = log.WithFields(appErr.Fields)
		}
		if appErr.Server() {
			log.Error("%s %s failed: %v", c.Method(), c.Path(), appErr)
		} else {
			log.Debug("%s %s rejected: %v", c.Method(), c.Path(), appErr)
		}
	} else if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{"error": message})
}

// NotFound answers unknown routes in the request language
func NotFound(c *fiber.Ctx) error {
	localizer, ok := c.Locals("localizer").(*i18n.Localizer)
	if !ok {
		localizer = utils.GetLocalizer("en")
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": utils.T(localizer, "error_404"),
	})
}

// Health reports liveness
func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}
