package storage

import (
	"encoding/json"
	"fmt"
	"gotmail/models"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

// NotificationStorage manages per-user notifications. Records are keyed by
// owner then id so a user's notifications are one cursor range.
type NotificationStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewNotificationStorage creates a new notification storage instance
func NewNotificationStorage(db *DB) *NotificationStorage {
	return &NotificationStorage{db: db.bolt, now: time.Now}
}

// CreateNotification persists a notification for its owner
func (s *NotificationStorage) CreateNotification(n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.Type == "" {
		n.Type = models.NotificationSystem
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(usersBucket).Get(itob(n.UserID)) == nil {
			return fmt.Errorf("user %d: %w", n.UserID, ErrNotFound)
		}
		b := tx.Bucket(notificationsBucket)
		id, err := nextID(b)
		if err != nil {
			return err
		}
		n.ID = id
		return putJSON(b, pairKey(n.UserID, id), n)
	})
}

// ListByUser returns the user's notifications, newest first
func (s *NotificationStorage) ListByUser(userID int64) ([]*models.Notification, error) {
	var notifications []*models.Notification
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(notificationsBucket).Cursor()
		prefix := itob(userID)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var n models.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			notifications = append(notifications, &n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(notifications, func(i, j int) bool {
		if notifications[i].CreatedAt.Equal(notifications[j].CreatedAt) {
			return notifications[i].ID > notifications[j].ID
		}
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	return notifications, nil
}

// GetNotification retrieves one notification of a user
func (s *NotificationStorage) GetNotification(userID, id int64) (*models.Notification, error) {
	var n models.Notification
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(notificationsBucket), pairKey(userID, id), &n)
	})
	if err != nil {
		return nil, fmt.Errorf("notification %d: %w", id, err)
	}
	return &n, nil
}

// SetRead sets the read flag of one notification
func (s *NotificationStorage) SetRead(userID, id int64, read bool) (*models.Notification, error) {
	var n models.Notification
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(notificationsBucket)
		key := pairKey(userID, id)
		if err := getJSON(b, key, &n); err != nil {
			return fmt.Errorf("notification %d: %w", id, err)
		}
		n.IsRead = read
		return putJSON(b, key, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkAllRead marks every unread notification of the user as read and
// returns how many changed
func (s *NotificationStorage) MarkAllRead(userID int64) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(notificationsBucket)
		prefix := itob(userID)

		updates := make(map[string]*models.Notification)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var n models.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if !n.IsRead {
				n.IsRead = true
				updates[string(k)] = &n
			}
		}

		for k, n := range updates {
			if err := putJSON(b, []byte(k), n); err != nil {
				return err
			}
		}
		count = len(updates)
		return nil
	})
	return count, err
}

// UnreadCount returns the number of unread notifications of a user
func (s *NotificationStorage) UnreadCount(userID int64) (int, error) {
	notifications, err := s.ListByUser(userID)
	if err != nil {
		return 0, err
	}
	unread := 0
	for _, n := range notifications {
		if !n.IsRead {
			unread++
		}
	}
	return unread, nil
}

// DeleteNotification removes one notification of a user
func (s *NotificationStorage) DeleteNotification(userID, id int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(notificationsBucket)
		key := pairKey(userID, id)
		if b.Get(key) == nil {
			return fmt.Errorf("notification %d: %w", id, ErrNotFound)
		}
		return b.Delete(key)
	})
}

func deleteNotificationsOf(tx *bbolt.Tx, userID int64) error {
	b := tx.Bucket(notificationsBucket)
	prefix := itob(userID)

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

// unlinkNotifications clears the related email of notifications pointing at emailID
func unlinkNotifications(tx *bbolt.Tx, emailID int64) error {
	b := tx.Bucket(notificationsBucket)

	updates := make(map[string]*models.Notification)
	err := b.ForEach(func(k, v []byte) error {
		var n models.Notification
		if err := json.Unmarshal(v, &n); err != nil {
			return err
		}
		if n.RelatedEmailID != nil && *n.RelatedEmailID == emailID {
			n.RelatedEmailID = nil
			updates[string(k)] = &n
		}
		return nil
	})
	if err != nil {
		return err
	}

	for k, n := range updates {
		if err := putJSON(b, []byte(k), n); err != nil {
			return err
		}
	}
	return nil
}
