package models

import "time"

// EventEmailNotification tags push events announcing a delivered email
const EventEmailNotification = "email_notification"

// PushEvent is the message published on a user's live channel
type PushEvent struct {
	Type         string              `json:"type"`
	Email        EmailPayload        `json:"email"`
	Notification NotificationPayload `json:"notification"`
}

// EmailPayload is the wire representation of an email
type EmailPayload struct {
	ID               int64             `json:"id"`
	Sender           string            `json:"sender"`
	SenderID         int64             `json:"sender_id"`
	SenderProfileURL string            `json:"sender_profile_url"`
	Recipients       []string          `json:"recipients"`
	Cc               []string          `json:"cc"`
	Bcc              []string          `json:"bcc"`
	Subject          string            `json:"subject"`
	Body             string            `json:"body"`
	Attachments      []Attachment      `json:"attachments"`
	SentAt           time.Time         `json:"sent_at"`
	IsRead           bool              `json:"is_read"`
	IsStarred        bool              `json:"is_starred"`
	IsDraft          bool              `json:"is_draft"`
	IsTrashed        bool              `json:"is_trashed"`
	ReplyTo          *int64            `json:"reply_to"`
	Headers          map[string]string `json:"headers"`
	Labels           []Label           `json:"labels"`
	IsReply          bool              `json:"is_reply"`
}

// EmailRef is the minimal reference to an email embedded in notifications
type EmailRef struct {
	ID int64 `json:"id"`
}

// NotificationPayload is the wire representation of a notification
type NotificationPayload struct {
	ID               int64     `json:"id"`
	Message          string    `json:"message"`
	IsRead           bool      `json:"is_read"`
	CreatedAt        time.Time `json:"created_at"`
	NotificationType string    `json:"notification_type"`
	RelatedEmail     *EmailRef `json:"related_email"`
}

// NewNotificationPayload converts a stored notification
func NewNotificationPayload(n *Notification) NotificationPayload {
	payload := NotificationPayload{
		ID:               n.ID,
		Message:          n.Message,
		IsRead:           n.IsRead,
		CreatedAt:        n.CreatedAt,
		NotificationType: n.Type,
	}
	if n.RelatedEmailID != nil {
		payload.RelatedEmail = &EmailRef{ID: *n.RelatedEmailID}
	}
	return payload
}

// UserPayload is the wire representation of an account
type UserPayload struct {
	ID              int64  `json:"id"`
	PhoneNumber     string `json:"phone_number"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	ProfilePicture  string `json:"profile_picture"`
	IsPhoneVerified bool   `json:"is_phone_verified"`
}

// NewUserPayload converts a user. profile may be nil.
func NewUserPayload(u *User, profile *UserProfile) UserPayload {
	return UserPayload{
		ID:              u.ID,
		PhoneNumber:     u.PhoneNumber,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Email:           u.Email,
		ProfilePicture:  profile.PictureURL(),
		IsPhoneVerified: u.IsPhoneVerified,
	}
}

// PublicProfile is what other users may see of an account
type PublicProfile struct {
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Birthdate      *time.Time `json:"birthdate"`
	Bio            string     `json:"bio"`
	ProfilePicture string     `json:"profile_picture"`
}

// AutoReplySettings is the auto-reply subset of UserSettings
type AutoReplySettings struct {
	AutoReplyEnabled   bool       `json:"auto_reply_enabled"`
	AutoReplyMessage   string     `json:"auto_reply_message"`
	AutoReplyStartDate *time.Time `json:"auto_reply_start_date"`
	AutoReplyEndDate   *time.Time `json:"auto_reply_end_date"`
}

// FontSettings is the display subset of UserSettings
type FontSettings struct {
	FontSize   int    `json:"font_size"`
	FontFamily string `json:"font_family"`
}

// AutoReply returns the auto-reply subset of s
func (s *UserSettings) AutoReply() AutoReplySettings {
	return AutoReplySettings{
		AutoReplyEnabled:   s.AutoReplyEnabled,
		AutoReplyMessage:   s.AutoReplyMessage,
		AutoReplyStartDate: s.AutoReplyStartDate,
		AutoReplyEndDate:   s.AutoReplyEndDate,
	}
}

// Font returns the display subset of s
func (s *UserSettings) Font() FontSettings {
	return FontSettings{FontSize: s.FontSize, FontFamily: s.FontFamily}
}
