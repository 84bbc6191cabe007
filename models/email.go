package models

import (
	"sort"
	"time"
)

// Email represents an internal message between users
type Email struct {
	ID          int64             `json:"id"`
	MessageID   string            `json:"message_id"`
	SenderID    int64             `json:"sender_id"`
	Recipients  []int64           `json:"recipients"`
	Cc          []int64           `json:"cc"`
	Bcc         []int64           `json:"bcc"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Attachments []Attachment      `json:"attachments"`
	SentAt      time.Time         `json:"sent_at"`
	IsRead      bool              `json:"is_read"`
	IsStarred   bool              `json:"is_starred"`
	IsDraft     bool              `json:"is_draft"`
	IsTrashed   bool              `json:"is_trashed"`
	AutoReplied bool              `json:"is_auto_replied"`
	ReplyTo     *int64            `json:"reply_to"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Attachment is the metadata of a file sent along an email
type Attachment struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Audience returns the distinct ids of recipients, cc and bcc in ascending order.
// The sender is not filtered out.
func (e *Email) Audience() []int64 {
	total := len(e.Recipients) + len(e.Cc) + len(e.Bcc)
	seen := make(map[int64]struct{}, total)
	audience := make([]int64, 0, total)
	for _, group := range [][]int64{e.Recipients, e.Cc, e.Bcc} {
		for _, id := range group {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			audience = append(audience, id)
		}
	}
	sort.Slice(audience, func(i, j int) bool { return audience[i] < audience[j] })
	return audience
}

// CanView reports whether the user is the sender or part of the audience
func (e *Email) CanView(userID int64) bool {
	if e.SenderID == userID {
		return true
	}
	for _, id := range e.Audience() {
		if id == userID {
			return true
		}
	}
	return false
}

// Mailbox names accepted by the email listing
const (
	MailboxInbox   = "inbox"
	MailboxSent    = "sent"
	MailboxStarred = "starred"
	MailboxAll     = "all"
	MailboxDraft   = "draft"
	MailboxTrash   = "trash"
)

// InMailbox reports whether the email belongs to mailbox from the user's point of view
func (e *Email) InMailbox(mailbox string, userID int64) bool {
	received := e.receivedBy(userID)
	switch mailbox {
	case MailboxInbox:
		return received && !e.IsTrashed
	case MailboxSent:
		return e.SenderID == userID && !e.IsTrashed
	case MailboxStarred:
		return received && e.IsStarred && !e.IsTrashed
	case MailboxAll:
		return received
	case MailboxDraft:
		return e.SenderID == userID && e.IsDraft
	case MailboxTrash:
		return (received || e.SenderID == userID) && e.IsTrashed
	}
	return false
}

func (e *Email) receivedBy(userID int64) bool {
	for _, id := range e.Audience() {
		if id == userID {
			return true
		}
	}
	return false
}
