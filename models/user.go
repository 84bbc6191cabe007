package models

import (
	"strings"
	"time"
)

// DefaultProfilePicture is served when a user never uploaded one
const DefaultProfilePicture = "/user_res/profile_pictures/dog.png"

// User represents an account of the mail service
type User struct {
	ID              int64     `json:"id"`
	PhoneNumber     string    `json:"phone_number"`
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	PasswordHash    string    `json:"-"`
	IsPhoneVerified bool      `json:"is_phone_verified"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastLoginAt     time.Time `json:"last_login_at,omitempty"`

	SessionToken  string    `json:"-"`
	SessionExpiry time.Time `json:"-"`

	PasswordResetToken   string    `json:"-"`
	PasswordResetExpires time.Time `json:"-"`

	VerificationCode        string    `json:"-"`
	VerificationCodeExpires time.Time `json:"-"`
}

// DisplayName is the name shown to other users, falling back to the address
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// HasLiveSession reports whether the session token is still valid at now
func (u *User) HasLiveSession(now time.Time) bool {
	return u.SessionToken != "" && u.SessionExpiry.After(now)
}

// UserProfile holds optional presentation data of a user
type UserProfile struct {
	UserID           int64      `json:"user"`
	ProfilePicture   string     `json:"profile_picture"`
	Bio              string     `json:"bio"`
	Birthdate        *time.Time `json:"birthdate,omitempty"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
}

// PictureURL returns the profile picture or the default one
func (p *UserProfile) PictureURL() string {
	if p == nil || p.ProfilePicture == "" {
		return DefaultProfilePicture
	}
	return p.ProfilePicture
}

// Font choices accepted for UserSettings
var (
	FontSizes    = []int{12, 14, 16}
	FontFamilies = []string{"sans-serif", "serif", "monospace"}
)

// MaxAutoReplyMessage bounds the configured auto-reply text
const MaxAutoReplyMessage = 500

// UserSettings represents user-specific settings
type UserSettings struct {
	UserID               int64      `json:"user_id"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	FontSize             int        `json:"font_size"`
	FontFamily           string     `json:"font_family"`
	DarkMode             bool       `json:"dark_mode"`
	AutoReplyEnabled     bool       `json:"auto_reply_enabled"`
	AutoReplyMessage     string     `json:"auto_reply_message"`
	AutoReplyStartDate   *time.Time `json:"auto_reply_start_date"`
	AutoReplyEndDate     *time.Time `json:"auto_reply_end_date"`
}

// DefaultSettings returns the settings created at registration
func DefaultSettings(userID int64) *UserSettings {
	return &UserSettings{
		UserID:               userID,
		NotificationsEnabled: true,
		FontSize:             14,
		FontFamily:           "sans-serif",
	}
}

// ValidFontSize reports whether size is one of FontSizes
func ValidFontSize(size int) bool {
	for _, s := range FontSizes {
		if s == size {
			return true
		}
	}
	return false
}

// ValidFontFamily reports whether family is one of FontFamilies
func ValidFontFamily(family string) bool {
	for _, f := range FontFamilies {
		if f == family {
			return true
		}
	}
	return false
}
