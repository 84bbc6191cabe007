package serializer

import (
	"errors"
	"fmt"
	"gotmail/models"
	"gotmail/storage"
	"gotmail/utils"
)

// UserReader is the part of the user store the serializer reads
type UserReader interface {
	GetUser(userID int64) (*models.User, error)
	GetUsers(ids []int64) ([]*models.User, error)
	GetProfile(userID int64) (*models.UserProfile, error)
}

// LabelReader returns the labels a user put on an email
type LabelReader interface {
	GetLabelsForEmail(emailID, userID int64) ([]models.Label, error)
}

// EmailSerializer renders emails into their wire payload as seen by a viewer
type EmailSerializer struct {
	users  UserReader
	labels LabelReader
}

// New creates an email serializer
func New(users UserReader, labels LabelReader) *EmailSerializer {
	return &EmailSerializer{users: users, labels: labels}
}

// Email renders one email. Bcc addresses are only shown to the sender and
// labels are the viewer's own.
func (s *EmailSerializer) Email(email *models.Email, viewerID int64) (models.EmailPayload, error) {
	sender, err := s.users.GetUser(email.SenderID)
	if err != nil {
		return models.EmailPayload{}, fmt.Errorf("sender of email %d: %w", email.ID, err)
	}

	pictureURL := models.DefaultProfilePicture
	if profile, err := s.users.GetProfile(sender.ID); err == nil {
		pictureURL = profile.PictureURL()
	}

	recipients, err := s.addresses(email.Recipients)
	if err != nil {
		return models.EmailPayload{}, err
	}
	cc, err := s.addresses(email.Cc)
	if err != nil {
		return models.EmailPayload{}, err
	}
	bcc := []string{}
	if viewerID == email.SenderID {
		if bcc, err = s.addresses(email.Bcc); err != nil {
			return models.EmailPayload{}, err
		}
	}

	labels, err := s.labels.GetLabelsForEmail(email.ID, viewerID)
	if err != nil {
		utils.Log.Warn("Failed to load labels of email %d: %v", email.ID, err)
		labels = []models.Label{}
	}

	attachments := email.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	headers := email.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	return models.EmailPayload{
		ID:               email.ID,
		Sender:           sender.Email,
		SenderID:         sender.ID,
		SenderProfileURL: pictureURL,
		Recipients:       recipients,
		Cc:               cc,
		Bcc:              bcc,
		Subject:          email.Subject,
		Body:             email.Body,
		Attachments:      attachments,
		SentAt:           email.SentAt,
		IsRead:           email.IsRead,
		IsStarred:        email.IsStarred,
		IsDraft:          email.IsDraft,
		IsTrashed:        email.IsTrashed,
		ReplyTo:          email.ReplyTo,
		Headers:          headers,
		Labels:           labels,
		IsReply:          email.ReplyTo != nil,
	}, nil
}

// Emails renders a list of emails, skipping the ones whose sender vanished
func (s *EmailSerializer) Emails(emails []*models.Email, viewerID int64) ([]models.EmailPayload, error) {
	payloads := make([]models.EmailPayload, 0, len(emails))
	for _, email := range emails {
		payload, err := s.Email(email, viewerID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				utils.Log.Warn("Skipping email %d: %v", email.ID, err)
				continue
			}
			return nil, err
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// Thread renders the reply tree of rootID out of the given emails. Replies
// the viewer does not take part in are left out.
func (s *EmailSerializer) Thread(emails []*models.Email, rootID, viewerID int64) (*models.ThreadNode, error) {
	visible := make([]*models.Email, 0, len(emails))
	for _, email := range emails {
		if email.ID == rootID || email.CanView(viewerID) {
			visible = append(visible, email)
		}
	}

	tb := utils.NewThreadBuilder()
	tb.Add(visible...)
	return tb.Tree(rootID, func(email *models.Email) (models.EmailPayload, error) {
		return s.Email(email, viewerID)
	})
}

func (s *EmailSerializer) addresses(ids []int64) ([]string, error) {
	users, err := s.users.GetUsers(ids)
	if err != nil {
		return nil, err
	}
	addresses := make([]string, 0, len(users))
	for _, user := range users {
		addresses = append(addresses, user.Email)
	}
	return addresses, nil
}
