package storage

import (
	"encoding/json"
	"fmt"
	"gotmail/models"
	"sort"
	"strings"

	"go.etcd.io/bbolt"
)

// LabelStorage manages label data persistence using BoltDB
type LabelStorage struct {
	db *bbolt.DB
}

// NewLabelStorage creates a new label storage instance
func NewLabelStorage(db *DB) *LabelStorage {
	return &LabelStorage{db: db.bolt}
}

func nameTaken(b *bbolt.Bucket, userID int64, name string, except int64) (bool, error) {
	taken := false
	err := b.ForEach(func(k, v []byte) error {
		var label models.Label
		if err := json.Unmarshal(v, &label); err != nil {
			return err
		}
		if label.UserID == userID && label.ID != except && strings.EqualFold(label.Name, name) {
			taken = true
		}
		return nil
	})
	return taken, err
}

// CreateLabel creates a new label. Names are unique per owner.
func (s *LabelStorage) CreateLabel(label *models.Label) error {
	if label.Color == "" {
		label.Color = models.DefaultLabelColor
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(labelBucket)

		taken, err := nameTaken(b, label.UserID, label.Name, 0)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("label %q: %w", label.Name, ErrAlreadyExists)
		}

		id, err := nextID(b)
		if err != nil {
			return err
		}
		label.ID = id
		label.Emails = nil

		return putJSON(b, itob(id), label)
	})
}

// CreateDefaultLabels creates the labels every new account starts with
func (s *LabelStorage) CreateDefaultLabels(userID int64) error {
	for _, def := range models.DefaultLabels {
		label := def
		label.UserID = userID
		if err := s.CreateLabel(&label); err != nil {
			return err
		}
	}
	return nil
}

// GetLabelsByUser retrieves all labels for a user with the emails they tag
func (s *LabelStorage) GetLabelsByUser(userID int64) ([]models.Label, error) {
	var labels []models.Label

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(labelBucket)

		err := b.ForEach(func(k, v []byte) error {
			var label models.Label
			if err := json.Unmarshal(v, &label); err != nil {
				return err
			}

			if label.UserID == userID {
				labels = append(labels, label)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for i := range labels {
			labels[i].Emails = emailsOfLabel(tx, labels[i].ID)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return labels, nil
}

// GetLabel retrieves a specific label
func (s *LabelStorage) GetLabel(id int64) (*models.Label, error) {
	var label models.Label

	err := s.db.View(func(tx *bbolt.Tx) error {
		if err := getJSON(tx.Bucket(labelBucket), itob(id), &label); err != nil {
			return err
		}
		label.Emails = emailsOfLabel(tx, id)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("label %d: %w", id, err)
	}

	return &label, nil
}

// UpdateLabel renames or recolors a label
func (s *LabelStorage) UpdateLabel(label *models.Label) error {
	if label.Color == "" {
		label.Color = models.DefaultLabelColor
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(labelBucket)

		var existing models.Label
		if err := getJSON(b, itob(label.ID), &existing); err != nil {
			return fmt.Errorf("label %d: %w", label.ID, err)
		}

		taken, err := nameTaken(b, existing.UserID, label.Name, label.ID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("label %q: %w", label.Name, ErrAlreadyExists)
		}

		existing.Name = label.Name
		existing.Color = label.Color
		if err := putJSON(b, itob(label.ID), &existing); err != nil {
			return err
		}

		*label = existing
		label.Emails = emailsOfLabel(tx, label.ID)
		return nil
	})
}

// DeleteLabel deletes a label and its email associations
func (s *LabelStorage) DeleteLabel(id int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deleteLabel(tx, id)
	})
}

func deleteLabel(tx *bbolt.Tx, id int64) error {
	b := tx.Bucket(labelBucket)
	if b.Get(itob(id)) == nil {
		return fmt.Errorf("label %d: %w", id, ErrNotFound)
	}
	if err := b.Delete(itob(id)); err != nil {
		return err
	}

	assoc := tx.Bucket(emailLabelBucket)
	var keys [][]byte
	err := assoc.ForEach(func(k, v []byte) error {
		if btoi(k[8:]) == id {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := assoc.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// AssignLabel assigns a label to an email
func (s *LabelStorage) AssignLabel(emailID, labelID int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(emailsBucket).Get(itob(emailID)) == nil {
			return fmt.Errorf("email %d: %w", emailID, ErrNotFound)
		}
		if tx.Bucket(labelBucket).Get(itob(labelID)) == nil {
			return fmt.Errorf("label %d: %w", labelID, ErrNotFound)
		}

		el := models.EmailLabel{
			EmailID: emailID,
			LabelID: labelID,
		}
		return putJSON(tx.Bucket(emailLabelBucket), pairKey(emailID, labelID), el)
	})
}

// RemoveLabel removes a label from an email
func (s *LabelStorage) RemoveLabel(emailID, labelID int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(emailLabelBucket).Delete(pairKey(emailID, labelID))
	})
}

// GetLabelsForEmail retrieves the labels userID put on an email
func (s *LabelStorage) GetLabelsForEmail(emailID, userID int64) ([]models.Label, error) {
	labels := []models.Label{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(labelBucket)
		c := tx.Bucket(emailLabelBucket).Cursor()

		prefix := itob(emailID)
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			var label models.Label
			if err := getJSON(b, k[8:], &label); err != nil {
				continue
			}
			if label.UserID == userID {
				label.Emails = emailsOfLabel(tx, label.ID)
				labels = append(labels, label)
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return labels, nil
}

func emailsOfLabel(tx *bbolt.Tx, labelID int64) []int64 {
	emails := []int64{}
	_ = tx.Bucket(emailLabelBucket).ForEach(func(k, v []byte) error {
		if btoi(k[8:]) == labelID {
			emails = append(emails, btoi(k[:8]))
		}
		return nil
	})
	sort.Slice(emails, func(i, j int) bool { return emails[i] < emails[j] })
	return emails
}

func deleteEmailLabels(tx *bbolt.Tx, emailID int64) error {
	b := tx.Bucket(emailLabelBucket)
	prefix := itob(emailID)

	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func deleteLabelsOf(tx *bbolt.Tx, userID int64) error {
	var ids []int64
	err := tx.Bucket(labelBucket).ForEach(func(k, v []byte) error {
		var label models.Label
		if err := json.Unmarshal(v, &label); err != nil {
			return err
		}
		if label.UserID == userID {
			ids = append(ids, label.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := deleteLabel(tx, id); err != nil {
			return err
		}
	}
	return nil
}
