package storage

import (
	"errors"
	"fmt"
	"gotmail/models"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// EmailStorage manages email persistence
type EmailStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewEmailStorage creates a new email storage instance
func NewEmailStorage(db *DB) *EmailStorage {
	return &EmailStorage{db: db.bolt, now: time.Now}
}

// CreateEmail validates and persists a new email, assigning its id, message
// id and sent timestamp when unset
func (s *EmailStorage) CreateEmail(email *models.Email) error {
	if email.MessageID == "" {
		email.MessageID = uuid.New().String()
	}
	if email.SentAt.IsZero() {
		email.SentAt = s.now()
	}
	if !email.IsDraft && len(email.Audience()) == 0 {
		return errors.New("email has no recipients")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(usersBucket)
		if users.Get(itob(email.SenderID)) == nil {
			return fmt.Errorf("sender %d: %w", email.SenderID, ErrNotFound)
		}
		for _, id := range email.Audience() {
			if users.Get(itob(id)) == nil {
				return fmt.Errorf("recipient %d: %w", id, ErrNotFound)
			}
		}

		emails := tx.Bucket(emailsBucket)
		if email.ReplyTo != nil && emails.Get(itob(*email.ReplyTo)) == nil {
			return fmt.Errorf("reply_to email %d: %w", *email.ReplyTo, ErrNotFound)
		}

		byMessageID := tx.Bucket(emailsByMessageIDBucket)
		if byMessageID.Get([]byte(email.MessageID)) != nil {
			return fmt.Errorf("message id %s: %w", email.MessageID, ErrAlreadyExists)
		}

		id, err := nextID(emails)
		if err != nil {
			return err
		}
		email.ID = id

		if err := putJSON(emails, itob(id), email); err != nil {
			return err
		}
		return byMessageID.Put([]byte(email.MessageID), itob(id))
	})
}

// GetEmail retrieves an email by ID
func (s *EmailStorage) GetEmail(id int64) (*models.Email, error) {
	var email models.Email
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(emailsBucket), itob(id), &email)
	})
	if err != nil {
		return nil, fmt.Errorf("email %d: %w", id, err)
	}
	return &email, nil
}

// GetEmailByMessageID retrieves an email by its message id
func (s *EmailStorage) GetEmailByMessageID(messageID string) (*models.Email, error) {
	var email models.Email
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(emailsByMessageIDBucket).Get([]byte(messageID))
		if id == nil {
			return ErrNotFound
		}
		return getJSON(tx.Bucket(emailsBucket), id, &email)
	})
	if err != nil {
		return nil, fmt.Errorf("message id %s: %w", messageID, err)
	}
	return &email, nil
}

// UpdateFlags applies fn to the stored email and saves the result. Only the
// read, starred, draft and trashed flags are kept from fn's changes.
func (s *EmailStorage) UpdateFlags(id int64, fn func(*models.Email)) (*models.Email, error) {
	var email models.Email
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(emailsBucket)
		if err := getJSON(b, itob(id), &email); err != nil {
			return fmt.Errorf("email %d: %w", id, err)
		}

		changed := email
		fn(&changed)
		email.IsRead = changed.IsRead
		email.IsStarred = changed.IsStarred
		email.IsDraft = changed.IsDraft
		email.IsTrashed = changed.IsTrashed

		return putJSON(b, itob(id), &email)
	})
	if err != nil {
		return nil, err
	}
	return &email, nil
}

// ListMailbox returns the emails of a mailbox as seen by userID, newest first
func (s *EmailStorage) ListMailbox(userID int64, mailbox string) ([]*models.Email, error) {
	return s.list(func(e *models.Email) bool { return e.InMailbox(mailbox, userID) })
}

// ListReplies returns the direct replies of an email, oldest first
func (s *EmailStorage) ListReplies(id int64) ([]*models.Email, error) {
	replies, err := s.list(func(e *models.Email) bool { return e.ReplyTo != nil && *e.ReplyTo == id })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(replies, func(i, j int) bool { return replies[i].ID < replies[j].ID })
	return replies, nil
}

// ListThread returns the email with every transitive reply
func (s *EmailStorage) ListThread(rootID int64) ([]*models.Email, error) {
	root, err := s.GetEmail(rootID)
	if err != nil {
		return nil, err
	}

	thread := []*models.Email{root}
	for i := 0; i < len(thread); i++ {
		replies, err := s.ListReplies(thread[i].ID)
		if err != nil {
			return nil, err
		}
		thread = append(thread, replies...)
	}
	return thread, nil
}

func (s *EmailStorage) list(match func(*models.Email) bool) ([]*models.Email, error) {
	var emails []*models.Email
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(emailsBucket).ForEach(func(k, v []byte) error {
			var email models.Email
			if err := getJSON(tx.Bucket(emailsBucket), k, &email); err != nil {
				return err
			}
			if match(&email) {
				emails = append(emails, &email)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(emails, func(i, j int) bool {
		if emails[i].SentAt.Equal(emails[j].SentAt) {
			return emails[i].ID > emails[j].ID
		}
		return emails[i].SentAt.After(emails[j].SentAt)
	})
	return emails, nil
}

// DeleteEmail removes an email. Notifications pointing at it keep existing
// with their link cleared, replies lose their reply_to and label
// associations are dropped.
func (s *EmailStorage) DeleteEmail(id int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deleteEmail(tx, id)
	})
}

func deleteEmail(tx *bbolt.Tx, id int64) error {
	emails := tx.Bucket(emailsBucket)
	var email models.Email
	if err := getJSON(emails, itob(id), &email); err != nil {
		return fmt.Errorf("email %d: %w", id, err)
	}

	if err := emails.Delete(itob(id)); err != nil {
		return err
	}
	if err := tx.Bucket(emailsByMessageIDBucket).Delete([]byte(email.MessageID)); err != nil {
		return err
	}

	var orphans []models.Email
	err := emails.ForEach(func(k, v []byte) error {
		var reply models.Email
		if err := getJSON(emails, k, &reply); err != nil {
			return err
		}
		if reply.ReplyTo != nil && *reply.ReplyTo == id {
			reply.ReplyTo = nil
			orphans = append(orphans, reply)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := range orphans {
		if err := putJSON(emails, itob(orphans[i].ID), &orphans[i]); err != nil {
			return err
		}
	}

	if err := unlinkNotifications(tx, id); err != nil {
		return err
	}
	return deleteEmailLabels(tx, id)
}

// detachEmailsOf deletes the emails sent by userID and removes the user from
// the audience of the others
func detachEmailsOf(tx *bbolt.Tx, userID int64) error {
	emails := tx.Bucket(emailsBucket)

	var sent []int64
	var changed []models.Email
	err := emails.ForEach(func(k, v []byte) error {
		var email models.Email
		if err := getJSON(emails, k, &email); err != nil {
			return err
		}
		if email.SenderID == userID {
			sent = append(sent, email.ID)
			return nil
		}
		if email.CanView(userID) {
			email.Recipients = without(email.Recipients, userID)
			email.Cc = without(email.Cc, userID)
			email.Bcc = without(email.Bcc, userID)
			changed = append(changed, email)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range changed {
		if err := putJSON(emails, itob(changed[i].ID), &changed[i]); err != nil {
			return err
		}
	}
	for _, id := range sent {
		if err := deleteEmail(tx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

func without(ids []int64, id int64) []int64 {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
