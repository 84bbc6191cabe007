package models

import "time"

// Notification types
const (
	NotificationEmail  = "email"
	NotificationSystem = "system"
)

// Notification is the durable record of something a user should be told about
type Notification struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Message        string    `json:"message"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
	Type           string    `json:"notification_type"`
	RelatedEmailID *int64    `json:"related_email_id,omitempty"`
}
