package api

import (
	"strings"
	"time"

	"gotmail/models"
	"gotmail/utils"

	"github.com/gofiber/fiber/v2"
)

// SearchRequest represents a search over one mailbox
type SearchRequest struct {
	Query         string `json:"query"`
	Mailbox       string `json:"mailbox"`
	SearchIn      string `json:"search_in"` // "all", "from", "to", "subject", "body"
	HasAttachment bool   `json:"has_attachment"`
	DateFrom      string `json:"date_from"` // YYYY-MM-DD, inclusive
	DateTo        string `json:"date_to"`   // YYYY-MM-DD, inclusive
}

// Search filters a mailbox of the current user
func (h *EmailHandler) Search(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	if req.Mailbox == "" {
		req.Mailbox = models.MailboxAll
	}
	if !mailboxes[req.Mailbox] {
		return utils.BadRequestError("Unknown mailbox: "+req.Mailbox, nil)
	}

	var from, to time.Time
	if req.DateFrom != "" {
		if from, err = time.Parse("2006-01-02", req.DateFrom); err != nil {
			return utils.BadRequestError("date_from must be formatted YYYY-MM-DD", err)
		}
	}
	if req.DateTo != "" {
		if to, err = time.Parse("2006-01-02", req.DateTo); err != nil {
			return utils.BadRequestError("date_to must be formatted YYYY-MM-DD", err)
		}
		to = to.Add(24 * time.Hour)
	}

	emails, err := h.storage.ListMailbox(user.ID, req.Mailbox)
	if err != nil {
		return utils.InternalServerError("Failed to list emails", err)
	}
	payloads, err := h.serializer.Emails(emails, user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to render emails", err)
	}

	results := filterEmails(payloads, req, from, to)
	return c.JSON(fiber.Map{
		"query":   req.Query,
		"mailbox": req.Mailbox,
		"count":   len(results),
		"results": results,
	})
}

// filterEmails filters emails based on search criteria
func filterEmails(emails []models.EmailPayload, req SearchRequest, from, to time.Time) []models.EmailPayload {
	query := strings.ToLower(strings.TrimSpace(req.Query))
	filtered := []models.EmailPayload{}

	for _, email := range emails {
		if req.HasAttachment && len(email.Attachments) == 0 {
			continue
		}
		if !from.IsZero() && email.SentAt.Before(from) {
			continue
		}
		if !to.IsZero() && !email.SentAt.Before(to) {
			continue
		}
		if query == "" || matches(email, req.SearchIn, query) {
			filtered = append(filtered, email)
		}
	}

	return filtered
}

func matches(email models.EmailPayload, searchIn, query string) bool {
	contains := func(s string) bool { return strings.Contains(strings.ToLower(s), query) }
	to := strings.Join(append(append([]string{}, email.Recipients...), email.Cc...), " ")

	switch searchIn {
	case "from":
		return contains(email.Sender)
	case "to":
		return contains(to)
	case "subject":
		return contains(email.Subject)
	case "body":
		return contains(utils.DeltaToPlainText(email.Body))
	default: // "all"
		return contains(email.Sender) ||
			contains(to) ||
			contains(email.Subject) ||
			contains(utils.DeltaToPlainText(email.Body))
	}
}
