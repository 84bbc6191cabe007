package api

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"gotmail/audit"
	"gotmail/dispatch"
	"gotmail/models"
	"gotmail/serializer"
	"gotmail/storage"
	"gotmail/utils"

	"github.com/gofiber/fiber/v2"
)

// AddressList accepts a JSON list of addresses, a JSON-encoded list inside a
// string, or a comma separated string
type AddressList []string

// UnmarshalJSON implements json.Unmarshaler
func (l *AddressList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = cleanAddresses(list)
		return nil
	}

	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.New("addresses must be a list or a string")
	}
	if raw == nil {
		*l = nil
		return nil
	}
	if strings.HasPrefix(strings.TrimSpace(*raw), "[") {
		if err := json.Unmarshal([]byte(*raw), &list); err != nil {
			return errors.New("invalid address list")
		}
		*l = cleanAddresses(list)
		return nil
	}
	*l = cleanAddresses(strings.Split(*raw, ","))
	return nil
}

func cleanAddresses(addresses []string) []string {
	var cleaned []string
	for _, address := range addresses {
		if address = strings.TrimSpace(address); address != "" {
			cleaned = append(cleaned, address)
		}
	}
	return cleaned
}

// SendRequest is the body of a new email
type SendRequest struct {
	Recipients  AddressList         `json:"recipients"`
	Cc          AddressList         `json:"cc"`
	Bcc         AddressList         `json:"bcc"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	Attachments []models.Attachment `json:"attachments"`
	IsDraft     bool                `json:"is_draft"`
	ReplyTo     *int64              `json:"reply_to"`
	Headers     map[string]string   `json:"headers"`
}

// EmailHandler handles sending, listing and flagging emails
type EmailHandler struct {
	users      *storage.UserStorage
	storage    *storage.EmailStorage
	dispatcher *dispatch.Dispatcher
	serializer *serializer.EmailSerializer
	recorder   *audit.Recorder
}

// NewEmailHandler creates a new email handler
func NewEmailHandler(
	users *storage.UserStorage,
	emailStorage *storage.EmailStorage,
	dispatcher *dispatch.Dispatcher,
	s *serializer.EmailSerializer,
	recorder *audit.Recorder,
) *EmailHandler {
	return &EmailHandler{
		users:      users,
		storage:    emailStorage,
		dispatcher: dispatcher,
		serializer: s,
		recorder:   recorder,
	}
}

// Send stores an email from the current user and dispatches it to its audience
func (h *EmailHandler) Send(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	if len(req.Recipients) == 0 && !req.IsDraft {
		return utils.BadRequestError("At least one recipient is required.", nil)
	}

	email := &models.Email{
		SenderID:    user.ID,
		Subject:     utils.PlainText(req.Subject),
		Body:        utils.SanitizeBody(req.Body),
		Attachments: req.Attachments,
		IsDraft:     req.IsDraft,
		Headers:     req.Headers,
	}

	for _, group := range []struct {
		name      string
		addresses AddressList
		ids       *[]int64
	}{
		{"recipients", req.Recipients, &email.Recipients},
		{"cc", req.Cc, &email.Cc},
		{"bcc", req.Bcc, &email.Bcc},
	} {
		ids, err := h.users.ResolveEmails(group.addresses)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return utils.BadRequestError("Unknown address in "+group.name, err).With("sender", user.ID)
			}
			return utils.InternalServerError("Failed to resolve "+group.name, err)
		}
		*group.ids = ids
	}

	if req.ReplyTo != nil {
		parent, err := h.storage.GetEmail(*req.ReplyTo)
		if err != nil || !parent.CanView(user.ID) {
			return utils.BadRequestError("Invalid reply_to", err)
		}
		email.ReplyTo = req.ReplyTo
	}

	if err := h.storage.CreateEmail(email); err != nil {
		return utils.InternalServerError("Failed to store email", err).With("sender", user.ID)
	}

	h.recorder.Record(c.UserContext(), audit.Event{
		Type:    audit.EventEmailSent,
		UserID:  user.ID,
		EmailID: email.ID,
		Details: map[string]interface{}{"draft": email.IsDraft},
	})

	if !email.IsDraft {
		report := h.dispatcher.Dispatch(c.UserContext(), email)
		if len(report.Failed) > 0 {
			utils.Log.Warn("Email %d dispatched with %d failed members", email.ID, len(report.Failed))
		}
	}

	payload, err := h.serializer.Email(email, user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to render email", err)
	}
	return c.Status(fiber.StatusCreated).JSON(payload)
}

var mailboxes = map[string]bool{
	models.MailboxInbox:   true,
	models.MailboxSent:    true,
	models.MailboxStarred: true,
	models.MailboxAll:     true,
	models.MailboxDraft:   true,
	models.MailboxTrash:   true,
}

// List returns a mailbox of the current user, newest first
func (h *EmailHandler) List(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	mailbox := c.Query("mailbox", models.MailboxInbox)
	if !mailboxes[mailbox] {
		return utils.BadRequestError("Unknown mailbox: "+mailbox, nil)
	}

	emails, err := h.storage.ListMailbox(user.ID, mailbox)
	if err != nil {
		return utils.InternalServerError("Failed to list emails", err)
	}

	payloads, err := h.serializer.Emails(emails, user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to render emails", err)
	}
	return c.JSON(payloads)
}

// EmailActionRequest is the body of a flag change
type EmailActionRequest struct {
	MessageID int64  `json:"message_id"`
	Action    string `json:"action"` // mark_read, star or move_to_trash
	BoolState bool   `json:"bool_state"`
}

// Action sets the read, starred or trashed flag of an email
func (h *EmailHandler) Action(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req EmailActionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	var apply func(*models.Email)
	switch req.Action {
	case "mark_read":
		apply = func(e *models.Email) { e.IsRead = req.BoolState }
	case "star":
		apply = func(e *models.Email) { e.IsStarred = req.BoolState }
	case "move_to_trash":
		apply = func(e *models.Email) { e.IsTrashed = req.BoolState }
	default:
		return utils.BadRequestError("Invalid action: "+req.Action, nil)
	}

	email, err := h.viewable(user.ID, req.MessageID)
	if err != nil {
		return err
	}

	if email, err = h.storage.UpdateFlags(email.ID, apply); err != nil {
		return utils.InternalServerError("Failed to update email", err)
	}

	payload, err := h.serializer.Email(email, user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to render email", err)
	}
	return c.JSON(payload)
}

// Get returns an email with its reply tree
func (h *EmailHandler) Get(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return utils.BadRequestError("Invalid email id", err)
	}

	if _, err := h.viewable(user.ID, id); err != nil {
		return err
	}

	thread, err := h.storage.ListThread(id)
	if err != nil {
		return utils.InternalServerError("Failed to load thread", err)
	}

	tree, err := h.serializer.Thread(thread, id, user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to render thread", err)
	}
	return c.JSON(tree)
}

// viewable loads an email the user takes part in
func (h *EmailHandler) viewable(userID, emailID int64) (*models.Email, error) {
	email, err := h.storage.GetEmail(emailID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, utils.NotFoundError("Email not found", err)
		}
		return nil, utils.InternalServerError("Failed to load email", err)
	}
	if !email.CanView(userID) {
		return nil, utils.ForbiddenError("You do not have permission to view this email", nil)
	}
	return email, nil
}
