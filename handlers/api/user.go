package api

import (
	"errors"
	"strconv"
	"time"

	"gotmail/models"
	"gotmail/storage"
	"gotmail/utils"

	"github.com/gofiber/fiber/v2"
)

// autoReplyWindow is the default length of an auto-reply window opened by a toggle
const autoReplyWindow = 30 * 24 * time.Hour

// UserHandler handles profiles and per-user settings
type UserHandler struct {
	storage *storage.UserStorage
	now     func() time.Time
}

// NewUserHandler creates a new user handler
func NewUserHandler(userStorage *storage.UserStorage) *UserHandler {
	return &UserHandler{storage: userStorage, now: time.Now}
}

// GetProfile returns the current user with its profile
func (h *UserHandler) GetProfile(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	profile, err := h.storage.GetProfile(user.ID)
	if err != nil {
		return storageError("Profile", err)
	}

	return c.JSON(fiber.Map{
		"user":    models.NewUserPayload(user, profile),
		"profile": profile,
	})
}

// ProfileUpdate is the body of a profile update. Absent fields are kept.
type ProfileUpdate struct {
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	Email          *string `json:"email"`
	PhoneNumber    *string `json:"phone_number"`
	Bio            *string `json:"bio"`
	Birthdate      *string `json:"birthdate"` // YYYY-MM-DD
	ProfilePicture *string `json:"profile_picture"`
}

// UpdateProfile applies a partial update to the current user and its profile
func (h *UserHandler) UpdateProfile(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req ProfileUpdate
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	profile, err := h.storage.GetProfile(user.ID)
	if err != nil {
		return storageError("Profile", err)
	}

	if req.FirstName != nil {
		user.FirstName = utils.PlainText(*req.FirstName)
	}
	if req.LastName != nil {
		user.LastName = utils.PlainText(*req.LastName)
	}
	if req.Email != nil && *req.Email != "" {
		user.Email = *req.Email
	}
	if req.PhoneNumber != nil && *req.PhoneNumber != "" {
		if !phonePattern.MatchString(*req.PhoneNumber) {
			return utils.BadRequestError("Invalid phone number", nil)
		}
		if *req.PhoneNumber != user.PhoneNumber {
			user.PhoneNumber = *req.PhoneNumber
			user.IsPhoneVerified = false
		}
	}
	if req.Bio != nil {
		profile.Bio = utils.PlainText(*req.Bio)
	}
	if req.Birthdate != nil {
		if *req.Birthdate == "" {
			profile.Birthdate = nil
		} else {
			birthdate, err := time.Parse("2006-01-02", *req.Birthdate)
			if err != nil {
				return utils.BadRequestError("birthdate must be formatted YYYY-MM-DD", err)
			}
			profile.Birthdate = &birthdate
		}
	}
	if req.ProfilePicture != nil {
		profile.ProfilePicture = *req.ProfilePicture
	}

	if err := h.storage.UpdateUser(user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return utils.BadRequestError("Email or phone number is already registered.", err)
		}
		return utils.InternalServerError("Failed to update user", err)
	}
	if err := h.storage.UpdateProfile(profile); err != nil {
		return utils.InternalServerError("Failed to update profile", err)
	}

	return c.JSON(fiber.Map{
		"user":    models.NewUserPayload(user, profile),
		"profile": profile,
	})
}

// GetOtherProfile returns the public profile of any user
func (h *UserHandler) GetOtherProfile(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("user_id"), 10, 64)
	if err != nil {
		return utils.BadRequestError("Invalid user id", err)
	}

	user, err := h.storage.GetUser(id)
	if err != nil {
		return storageError("User", err)
	}
	profile, err := h.storage.GetProfile(id)
	if err != nil {
		return storageError("Profile", err)
	}

	return c.JSON(models.PublicProfile{
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		Birthdate:      profile.Birthdate,
		Bio:            profile.Bio,
		ProfilePicture: profile.PictureURL(),
	})
}

func (h *UserHandler) settings(c *fiber.Ctx) (*models.UserSettings, error) {
	user, err := currentUser(c)
	if err != nil {
		return nil, err
	}
	settings, err := h.storage.GetOrCreateSettings(user.ID)
	if err != nil {
		return nil, utils.InternalServerError("Failed to load settings", err)
	}
	return settings, nil
}

func (h *UserHandler) saveSettings(settings *models.UserSettings) error {
	if err := h.storage.UpdateSettings(settings); err != nil {
		return utils.InternalServerError("Unable to update settings", err)
	}
	return nil
}

// GetAutoReply returns the auto-reply settings
func (h *UserHandler) GetAutoReply(c *fiber.Ctx) error {
	settings, err := h.settings(c)
	if err != nil {
		return err
	}
	return c.JSON(settings.AutoReply())
}

// AutoReplyUpdate is the body of an auto-reply update. Absent fields are kept.
type AutoReplyUpdate struct {
	AutoReplyEnabled   *bool      `json:"auto_reply_enabled"`
	AutoReplyMessage   *string    `json:"auto_reply_message"`
	AutoReplyStartDate *time.Time `json:"auto_reply_start_date"`
	AutoReplyEndDate   *time.Time `json:"auto_reply_end_date"`
}

// UpdateAutoReply validates and stores auto-reply settings
func (h *UserHandler) UpdateAutoReply(c *fiber.Ctx) error {
	settings, err := h.settings(c)
	if err != nil {
		return err
	}

	var req AutoReplyUpdate
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	if req.AutoReplyMessage != nil {
		if len([]rune(*req.AutoReplyMessage)) > models.MaxAutoReplyMessage {
			return utils.BadRequestError("Auto-reply message cannot exceed 500 characters.", nil)
		}
		settings.AutoReplyMessage = *req.AutoReplyMessage
	}
	if req.AutoReplyEnabled != nil {
		if *req.AutoReplyEnabled && settings.AutoReplyMessage == "" {
			return utils.BadRequestError("Auto-reply message is required when auto-reply is enabled.", nil)
		}
		settings.AutoReplyEnabled = *req.AutoReplyEnabled
	}
	if req.AutoReplyStartDate != nil {
		settings.AutoReplyStartDate = req.AutoReplyStartDate
	}
	if req.AutoReplyEndDate != nil {
		settings.AutoReplyEndDate = req.AutoReplyEndDate
	}

	if err := h.saveSettings(settings); err != nil {
		return err
	}
	return c.JSON(settings.AutoReply())
}

// ToggleAutoReply flips auto-reply. Enabling fills a missing window with
// now and now plus thirty days.
func (h *UserHandler) ToggleAutoReply(c *fiber.Ctx) error {
	settings, err := h.settings(c)
	if err != nil {
		return err
	}

	settings.AutoReplyEnabled = !settings.AutoReplyEnabled
	if settings.AutoReplyEnabled {
		now := h.now()
		if settings.AutoReplyStartDate == nil {
			settings.AutoReplyStartDate = &now
		}
		if settings.AutoReplyEndDate == nil {
			end := now.Add(autoReplyWindow)
			settings.AutoReplyEndDate = &end
		}
	}

	if err := h.saveSettings(settings); err != nil {
		return err
	}
	return c.JSON(settings.AutoReply())
}

// GetFontSettings returns the font preferences
func (h *UserHandler) GetFontSettings(c *fiber.Ctx) error {
	settings, err := h.settings(c)
	if err != nil {
		return err
	}
	return c.JSON(settings.Font())
}

// UpdateFontSettings stores the font preferences
func (h *UserHandler) UpdateFontSettings(c *fiber.Ctx) error {
	settings, err := h.settings(c)
	if err != nil {
		return err
	}

	var req struct {
		FontSize   *int    `json:"font_size"`
		FontFamily *string `json:"font_family"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	if req.FontSize != nil {
		if !models.ValidFontSize(*req.FontSize) {
			return utils.BadRequestError("font_size must be one of 12, 14, 16", nil)
		}
		settings.FontSize = *req.FontSize
	}
	if req.FontFamily != nil {
		if !models.ValidFontFamily(*req.FontFamily) {
			return utils.BadRequestError("font_family must be one of sans-serif, serif, monospace", nil)
		}
		settings.FontFamily = *req.FontFamily
	}

	if err := h.saveSettings(settings); err != nil {
		return err
	}
	return c.JSON(settings.Font())
}

// GetDarkMode returns the dark mode preference
func (h *UserHandler) GetDarkMode(c *fiber.Ctx) error {
	settings, err := h.settings(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"dark_mode": settings.DarkMode})
}

// SetDarkMode stores the dark mode preference
func (h *UserHandler) SetDarkMode(c *fiber.Ctx) error {
	settings, err := h.settings(c)
	if err != nil {
		return err
	}

	var req struct {
		DarkMode *bool `json:"dark_mode"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	if req.DarkMode == nil {
		return utils.BadRequestError("dark_mode field is required", nil)
	}

	settings.DarkMode = *req.DarkMode
	if err := h.saveSettings(settings); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"dark_mode": settings.DarkMode})
}
