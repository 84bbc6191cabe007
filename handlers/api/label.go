package api

import (
	"errors"

	"gotmail/models"
	"gotmail/serializer"
	"gotmail/storage"
	"gotmail/utils"

	"github.com/gofiber/fiber/v2"
)

// LabelHandler handles label management requests
type LabelHandler struct {
	storage    *storage.LabelStorage
	emails     *storage.EmailStorage
	serializer *serializer.EmailSerializer
}

// NewLabelHandler creates a new label handler
func NewLabelHandler(labelStorage *storage.LabelStorage, emailStorage *storage.EmailStorage, s *serializer.EmailSerializer) *LabelHandler {
	return &LabelHandler{
		storage:    labelStorage,
		emails:     emailStorage,
		serializer: s,
	}
}

// GetLabels retrieves all labels for the current user
func (h *LabelHandler) GetLabels(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	labels, err := h.storage.GetLabelsByUser(user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to retrieve labels", err)
	}
	if labels == nil {
		labels = []models.Label{}
	}

	return c.JSON(labels)
}

// LabelAction is the body of a label management request
type LabelAction struct {
	Action   string `json:"action"` // create, edit or delete
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	NewName  string `json:"new_name"`
	NewColor string `json:"new_color"`
}

// ManageLabels creates, edits or deletes one of the current user's labels
func (h *LabelHandler) ManageLabels(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req LabelAction
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	switch req.Action {
	case "create":
		name := utils.PlainText(req.Name)
		if name == "" {
			return utils.BadRequestError("Label name required", nil)
		}
		label := &models.Label{UserID: user.ID, Name: name, Color: req.Color}
		if err := h.storage.CreateLabel(label); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return utils.BadRequestError("Label with this name already exists", err)
			}
			return utils.InternalServerError("Failed to create label", err)
		}
		label.Emails = []int64{}
		return c.Status(fiber.StatusCreated).JSON(label)

	case "edit":
		label, err := h.ownedLabel(user.ID, req.ID)
		if err != nil {
			return err
		}
		name := utils.PlainText(req.NewName)
		if name == "" && req.NewColor == "" {
			return c.SendStatus(fiber.StatusNoContent)
		}
		if name != "" {
			label.Name = name
		}
		if req.NewColor != "" {
			label.Color = req.NewColor
		}
		if err := h.storage.UpdateLabel(label); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return utils.BadRequestError("Label with this name already exists", err)
			}
			return utils.InternalServerError("Failed to update label", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(label)

	case "delete":
		if _, err := h.ownedLabel(user.ID, req.ID); err != nil {
			return err
		}
		if err := h.storage.DeleteLabel(req.ID); err != nil {
			return utils.InternalServerError("Failed to delete label", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}

	return utils.BadRequestError("Invalid action", nil)
}

// ownedLabel loads a label and hides labels of other users as not found
func (h *LabelHandler) ownedLabel(userID, labelID int64) (*models.Label, error) {
	label, err := h.storage.GetLabel(labelID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, utils.NotFoundError("Label not found.", err)
		}
		return nil, utils.InternalServerError("Failed to load label", err)
	}
	if label.UserID != userID {
		return nil, utils.NotFoundError("Label not found.", nil)
	}
	return label, nil
}

// EmailLabelAction is the body of a label assignment
type EmailLabelAction struct {
	MessageID int64  `json:"message_id"`
	LabelID   int64  `json:"label_id"`
	Action    string `json:"action"` // add_label or remove_label
}

// LabelEmail adds or removes one of the current user's labels on an email
func (h *LabelHandler) LabelEmail(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req EmailLabelAction
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	email, err := h.emails.GetEmail(req.MessageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return utils.NotFoundError("Email not found.", err)
		}
		return utils.InternalServerError("Failed to load email", err)
	}
	if !email.CanView(user.ID) {
		return utils.ForbiddenError("You do not have permission to modify this email.", nil)
	}

	if _, err := h.ownedLabel(user.ID, req.LabelID); err != nil {
		return err
	}

	switch req.Action {
	case "add_label":
		err = h.storage.AssignLabel(email.ID, req.LabelID)
	case "remove_label":
		err = h.storage.RemoveLabel(email.ID, req.LabelID)
	default:
		return utils.BadRequestError("Invalid action: "+req.Action+". Use 'add_label' or 'remove_label'.", nil)
	}
	if err != nil {
		return utils.InternalServerError("Failed to update labels", err)
	}

	payload, err := h.serializer.Email(email, user.ID)
	if err != nil {
		return utils.InternalServerError("Failed to render email", err)
	}
	return c.JSON(payload)
}
