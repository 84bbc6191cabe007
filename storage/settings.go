package storage

import (
	"errors"
	"fmt"
	"gotmail/models"

	"go.etcd.io/bbolt"
)

// GetSettings retrieves the settings of a user. Users without a settings
// record yield ErrNotFound.
func (s *UserStorage) GetSettings(userID int64) (*models.UserSettings, error) {
	var settings models.UserSettings
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(settingsBucket), itob(userID), &settings)
	})
	if err != nil {
		return nil, fmt.Errorf("settings of user %d: %w", userID, err)
	}
	return &settings, nil
}

// CreateSettings stores the first settings record of a user
func (s *UserStorage) CreateSettings(settings *models.UserSettings) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := itob(settings.UserID)
		if tx.Bucket(usersBucket).Get(key) == nil {
			return fmt.Errorf("user %d: %w", settings.UserID, ErrNotFound)
		}
		b := tx.Bucket(settingsBucket)
		if b.Get(key) != nil {
			return fmt.Errorf("settings of user %d: %w", settings.UserID, ErrAlreadyExists)
		}
		return putJSON(b, key, settings)
	})
}

// GetOrCreateSettings returns the user's settings, creating the defaults when missing
func (s *UserStorage) GetOrCreateSettings(userID int64) (*models.UserSettings, error) {
	settings, err := s.GetSettings(userID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	settings = models.DefaultSettings(userID)
	if err := s.CreateSettings(settings); err != nil && !errors.Is(err, ErrAlreadyExists) {
		return nil, err
	}
	return s.GetSettings(userID)
}

// UpdateSettings overwrites an existing settings record
func (s *UserStorage) UpdateSettings(settings *models.UserSettings) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(settingsBucket)
		key := itob(settings.UserID)
		if b.Get(key) == nil {
			return fmt.Errorf("settings of user %d: %w", settings.UserID, ErrNotFound)
		}
		return putJSON(b, key, settings)
	})
}

// DeleteSettings removes the settings record of a user
func (s *UserStorage) DeleteSettings(userID int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(settingsBucket).Delete(itob(userID))
	})
}
