package api

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"gotmail/audit"
	"gotmail/config"
	"gotmail/mailer"
	"gotmail/models"
	"gotmail/storage"
	"gotmail/utils"
	"gotmail/verify"

	"github.com/gofiber/fiber/v2"
)

var phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)

// AuthHandler handles registration, login and credential recovery
type AuthHandler struct {
	users         *storage.UserStorage
	labels        *storage.LabelStorage
	notifications *storage.NotificationStorage
	resolver      *SessionResolver
	mailer        mailer.Sender
	verifier      verify.Verifier
	recorder      *audit.Recorder
	session       config.SessionConfig
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	users *storage.UserStorage,
	labels *storage.LabelStorage,
	notifications *storage.NotificationStorage,
	resolver *SessionResolver,
	sender mailer.Sender,
	verifier verify.Verifier,
	recorder *audit.Recorder,
	session config.SessionConfig,
) *AuthHandler {
	return &AuthHandler{
		users:         users,
		labels:        labels,
		notifications: notifications,
		resolver:      resolver,
		mailer:        sender,
		verifier:      verifier,
		recorder:      recorder,
		session:       session,
	}
}

// RegisterRequest is the body of a registration
type RegisterRequest struct {
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Password2   string `json:"password2"`
}

func (r *RegisterRequest) validate() error {
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"phone_number", r.PhoneNumber},
		{"first_name", r.FirstName},
		{"last_name", r.LastName},
		{"email", r.Email},
		{"password", r.Password},
		{"password2", r.Password2},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return utils.BadRequestError("Missing required fields: "+strings.Join(missing, ", "), nil)
	}
	if r.Password != r.Password2 {
		return utils.BadRequestError("Password fields didn't match.", nil)
	}
	if !phonePattern.MatchString(r.PhoneNumber) {
		return utils.BadRequestError("Phone number must be entered in the format: '+999999999'. Up to 15 digits allowed.", nil)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return utils.BadRequestError("Enter a valid email address.", err)
	}
	return nil
}

// Register creates an account with its profile, settings and default labels
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	user := &models.User{
		PhoneNumber: req.PhoneNumber,
		Email:       req.Email,
		FirstName:   utils.PlainText(req.FirstName),
		LastName:    utils.PlainText(req.LastName),
	}
	if err := h.users.CreateUser(user, req.Password); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return utils.BadRequestError("Phone number or email is already registered.", err)
		}
		return utils.InternalServerError("Failed to create user", err)
	}

	if err := h.labels.CreateDefaultLabels(user.ID); err != nil {
		utils.Log.Error("Failed to create default labels for user %d: %v", user.ID, err)
	}

	welcome := &models.Notification{
		UserID:  user.ID,
		Type:    models.NotificationSystem,
		Message: utils.TWithData(utils.GetLocalizer(lang(c)), "notification_welcome", map[string]interface{}{"Name": user.DisplayName()}),
	}
	if err := h.notifications.CreateNotification(welcome); err != nil {
		utils.Log.Warn("Failed to create welcome notification for user %d: %v", user.ID, err)
	}

	h.recorder.Record(c.UserContext(), audit.Event{Type: audit.EventUserRegistered, UserID: user.ID})
	utils.Log.Info("User registered: %d", user.ID)

	return c.Status(fiber.StatusCreated).JSON(models.NewUserPayload(user, nil))
}

// LoginRequest is the body of a login
type LoginRequest struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

// Login checks credentials and opens a session, or mails a 2FA code when
// the account requires one
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	if req.PhoneNumber == "" || req.Password == "" {
		return utils.BadRequestError(`Must include "phone_number" and "password".`, nil)
	}

	user, err := h.users.GetUserByPhone(req.PhoneNumber)
	if err != nil || !h.users.VerifyPassword(user, req.Password) {
		return utils.BadRequestError("Unable to log in with provided credentials.", err)
	}

	profile, err := h.users.GetProfile(user.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return utils.InternalServerError("Failed to load profile", err)
	}

	if profile != nil && profile.TwoFactorEnabled {
		code, err := h.users.SetVerificationCode(user.ID, h.session.VerificationTTL.Duration)
		if err != nil {
			return utils.InternalServerError("Failed to create verification code", err)
		}
		if err := h.sendCode(c, user.Email, "mail_2fa_subject", "mail_2fa_body", code); err != nil {
			return utils.InternalServerError("Failed to send verification code", err)
		}
		return c.Status(fiber.StatusPartialContent).JSON(fiber.Map{
			"requires_2fa": true,
			"phone_number": user.PhoneNumber,
		})
	}

	return h.openSession(c, user, profile)
}

// Verify2FARequest is the body of a 2FA confirmation
type Verify2FARequest struct {
	PhoneNumber      string `json:"phone_number"`
	VerificationCode string `json:"verification_code"`
}

// Verify2FA consumes a mailed code and opens a session
func (h *AuthHandler) Verify2FA(c *fiber.Ctx) error {
	var req Verify2FARequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	user, err := h.users.GetUserByPhone(req.PhoneNumber)
	if err != nil {
		return storageError("User", err)
	}

	valid, err := h.users.CheckVerificationCode(user.ID, req.VerificationCode)
	if err != nil {
		return utils.InternalServerError("Failed to check verification code", err)
	}
	if !valid {
		return utils.BadRequestError("Invalid or expired verification code", nil)
	}

	profile, _ := h.users.GetProfile(user.ID)
	return h.openSession(c, user, profile)
}

func (h *AuthHandler) openSession(c *fiber.Ctx, user *models.User, profile *models.UserProfile) error {
	token, err := h.users.StartSession(user.ID, h.session.TTL.Duration)
	if err != nil {
		return utils.InternalServerError("Failed to start session", err)
	}

	h.recorder.Record(c.UserContext(), audit.Event{Type: audit.EventUserLogin, UserID: user.ID})

	return c.JSON(fiber.Map{
		"user":          models.NewUserPayload(user, profile),
		"session_token": token,
	})
}

// Enable2FA turns on two-factor login for the current user
func (h *AuthHandler) Enable2FA(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	profile, err := h.users.GetProfile(user.ID)
	if err != nil {
		return storageError("Profile", err)
	}
	profile.TwoFactorEnabled = true
	if err := h.users.UpdateProfile(profile); err != nil {
		return utils.InternalServerError("Failed to update profile", err)
	}

	return c.JSON(fiber.Map{"detail": "Two-factor authentication enabled."})
}

// Logout ends the session given in the body or the Authorization header.
// Unknown tokens are not an error.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var req struct {
		SessionToken string `json:"session_token"`
	}
	_ = c.BodyParser(&req)

	token := req.SessionToken
	if token == "" {
		token, _ = GetSessionToken(c)
	}

	if token != "" {
		if user, err := h.resolver.ResolveIdentity(c.UserContext(), token); err == nil {
			h.recorder.Record(c.UserContext(), audit.Event{Type: audit.EventUserLogout, UserID: user.ID})
		}
		h.resolver.Forget(token)
		if err := h.users.EndSession(token); err != nil {
			return utils.InternalServerError("Failed to end session", err)
		}
	}

	return c.JSON(fiber.Map{"message": "Successfully logged out."})
}

// ValidateToken reports whether a session token is live
func (h *AuthHandler) ValidateToken(c *fiber.Ctx) error {
	var req struct {
		SessionToken string `json:"session_token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	user, err := h.resolver.ResolveIdentity(c.UserContext(), req.SessionToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid or expired token"})
	}

	profile, _ := h.users.GetProfile(user.ID)
	return c.JSON(fiber.Map{
		"user":    models.NewUserPayload(user, profile),
		"message": "Token is valid",
	})
}

// ResetPassword mails a reset code to an account's address
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return utils.BadRequestError("email is required", err)
	}

	user, err := h.users.GetUserByEmail(req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return utils.NotFoundError("No user found with this email.", err)
		}
		return utils.InternalServerError("Failed to load user", err)
	}

	return h.mailResetCode(c, user)
}

// ForgetPassword mails a reset code when email and phone number match one account
func (h *AuthHandler) ForgetPassword(c *fiber.Ctx) error {
	var req struct {
		Email       string `json:"email"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := c.BodyParser(&req); err != nil || req.Email == "" || req.PhoneNumber == "" {
		return utils.BadRequestError("email and phone_number are required", err)
	}

	user, err := h.users.GetUserByEmail(req.Email)
	if err != nil || user.PhoneNumber != req.PhoneNumber {
		return utils.NotFoundError("No user found with the provided email and phone number.", err)
	}

	return h.mailResetCode(c, user)
}

func (h *AuthHandler) mailResetCode(c *fiber.Ctx, user *models.User) error {
	code, err := h.users.SetPasswordResetToken(user.ID, h.session.PasswordResetTTL.Duration)
	if err != nil {
		return utils.InternalServerError("Failed to create reset code", err)
	}
	if err := h.sendCode(c, user.Email, "mail_reset_subject", "mail_reset_body", code); err != nil {
		return utils.InternalServerError("Failed to send reset code", err)
	}
	return c.JSON(fiber.Map{"detail": "Password reset code sent."})
}

// ResetPasswordConfirm sets a new password when the reset code is valid
func (h *AuthHandler) ResetPasswordConfirm(c *fiber.Ctx) error {
	var req struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"new_password"`
	}
	if err := c.BodyParser(&req); err != nil || req.Email == "" || req.Code == "" || req.NewPassword == "" {
		return utils.BadRequestError("email, code and new_password are required", err)
	}

	user, err := h.users.GetUserByEmail(req.Email)
	if err != nil {
		return utils.BadRequestError("The reset code is invalid.", err)
	}
	if !h.users.ValidResetToken(user, req.Code) {
		return utils.BadRequestError("The reset code is invalid or has expired.", nil)
	}

	if err := h.users.SetPassword(user.ID, req.NewPassword); err != nil {
		return utils.InternalServerError("Failed to set password", err)
	}

	h.recorder.Record(c.UserContext(), audit.Event{Type: audit.EventPasswordReset, UserID: user.ID})

	return c.JSON(fiber.Map{"detail": "Password has been reset."})
}

// StartPhoneVerification asks the verification provider to text a code
func (h *AuthHandler) StartPhoneVerification(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req struct {
		PhoneNumber string `json:"phone_number"`
	}
	_ = c.BodyParser(&req)
	phone := req.PhoneNumber
	if phone == "" {
		phone = user.PhoneNumber
	}
	if !phonePattern.MatchString(phone) {
		return utils.BadRequestError("Invalid phone number", nil)
	}

	if err := h.verifier.SendCode(c.UserContext(), phone); err != nil {
		if errors.Is(err, verify.ErrDisabled) {
			return utils.ServiceUnavailableError("Phone verification is not available", err)
		}
		return utils.BadGatewayError("Failed to send verification code", err)
	}

	return c.JSON(fiber.Map{"detail": "Verification code sent."})
}

// CheckPhoneVerification checks a texted code and marks the phone as verified
func (h *AuthHandler) CheckPhoneVerification(c *fiber.Ctx) error {
	if _, err := currentUser(c); err != nil {
		return err
	}

	var req struct {
		PhoneNumber string `json:"phone_number"`
		Code        string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil || req.PhoneNumber == "" || req.Code == "" {
		return utils.BadRequestError("phone_number and code are required", err)
	}

	user, err := h.users.GetUserByPhone(req.PhoneNumber)
	if err != nil {
		return storageError("User", err)
	}

	ok, err := h.verifier.CheckCode(c.UserContext(), req.PhoneNumber, req.Code)
	if err != nil {
		if errors.Is(err, verify.ErrDisabled) {
			return utils.ServiceUnavailableError("Phone verification is not available", err)
		}
		return utils.BadGatewayError("Failed to check verification code", err)
	}
	if !ok {
		return utils.BadRequestError("Invalid verification code.", nil)
	}

	user.IsPhoneVerified = true
	if err := h.users.UpdateUser(user); err != nil {
		return utils.InternalServerError("Failed to update user", err)
	}

	return c.JSON(fiber.Map{"detail": "Phone number verified successfully."})
}

func (h *AuthHandler) sendCode(c *fiber.Ctx, to, subjectID, bodyID, code string) error {
	localizer := utils.GetLocalizer(lang(c))
	subject := utils.T(localizer, subjectID)
	body := utils.TWithData(localizer, bodyID, map[string]interface{}{"Code": code})
	return h.mailer.Send([]string{to}, subject, body)
}
