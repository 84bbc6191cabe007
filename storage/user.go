package storage

import (
	"crypto/rand"
	"errors"
	"fmt"
	"gotmail/models"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"
)

// ErrSessionExpired is returned when a session token exists but is no longer valid
var ErrSessionExpired = errors.New("session expired")

// userRecord is the persisted form of a user, including the secrets that
// never leave the storage layer through JSON responses
type userRecord struct {
	models.User
	PasswordHash            string    `json:"password_hash"`
	SessionToken            string    `json:"session_token"`
	SessionExpiry           time.Time `json:"session_expiry"`
	PasswordResetToken      string    `json:"password_reset_token"`
	PasswordResetExpires    time.Time `json:"password_reset_expires"`
	VerificationCode        string    `json:"verification_code"`
	VerificationCodeExpires time.Time `json:"verification_code_expires"`
}

func newUserRecord(u *models.User) *userRecord {
	return &userRecord{
		User:                    *u,
		PasswordHash:            u.PasswordHash,
		SessionToken:            u.SessionToken,
		SessionExpiry:           u.SessionExpiry,
		PasswordResetToken:      u.PasswordResetToken,
		PasswordResetExpires:    u.PasswordResetExpires,
		VerificationCode:        u.VerificationCode,
		VerificationCodeExpires: u.VerificationCodeExpires,
	}
}

func (r *userRecord) user() *models.User {
	u := r.User
	u.PasswordHash = r.PasswordHash
	u.SessionToken = r.SessionToken
	u.SessionExpiry = r.SessionExpiry
	u.PasswordResetToken = r.PasswordResetToken
	u.PasswordResetExpires = r.PasswordResetExpires
	u.VerificationCode = r.VerificationCode
	u.VerificationCodeExpires = r.VerificationCodeExpires
	return &u
}

// UserStorage manages users, their profile and settings
type UserStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewUserStorage creates a new user storage instance
func NewUserStorage(db *DB) *UserStorage {
	return &UserStorage{db: db.bolt, now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser creates a user together with its default profile and settings.
// Phone number and email address must be unused.
func (s *UserStorage) CreateUser(user *models.User, password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.Email = normalizeEmail(user.Email)
	user.PasswordHash = string(hashedPassword)

	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(usersBucket)
		byPhone := tx.Bucket(usersByPhoneBucket)
		byEmail := tx.Bucket(usersByEmailBucket)

		if byPhone.Get([]byte(user.PhoneNumber)) != nil {
			return fmt.Errorf("phone number %s: %w", user.PhoneNumber, ErrAlreadyExists)
		}
		if byEmail.Get([]byte(user.Email)) != nil {
			return fmt.Errorf("email %s: %w", user.Email, ErrAlreadyExists)
		}

		id, err := nextID(users)
		if err != nil {
			return err
		}
		user.ID = id

		if err := putJSON(users, itob(id), newUserRecord(user)); err != nil {
			return err
		}
		if err := byPhone.Put([]byte(user.PhoneNumber), itob(id)); err != nil {
			return err
		}
		if err := byEmail.Put([]byte(user.Email), itob(id)); err != nil {
			return err
		}

		profile := &models.UserProfile{UserID: id}
		if err := putJSON(tx.Bucket(profilesBucket), itob(id), profile); err != nil {
			return err
		}
		return putJSON(tx.Bucket(settingsBucket), itob(id), models.DefaultSettings(id))
	})
}

func loadUser(tx *bbolt.Tx, id int64) (*models.User, error) {
	var rec userRecord
	if err := getJSON(tx.Bucket(usersBucket), itob(id), &rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return rec.user(), nil
}

func loadUserByIndex(tx *bbolt.Tx, bucket []byte, key string) (*models.User, error) {
	id := tx.Bucket(bucket).Get([]byte(key))
	if id == nil {
		return nil, fmt.Errorf("user %q: %w", key, ErrNotFound)
	}
	return loadUser(tx, btoi(id))
}

// GetUser retrieves a user by ID
func (s *UserStorage) GetUser(userID int64) (*models.User, error) {
	var user *models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = loadUser(tx, userID)
		return err
	})
	return user, err
}

// GetUsers retrieves several users by ID, in the given order
func (s *UserStorage) GetUsers(ids []int64) ([]*models.User, error) {
	users := make([]*models.User, 0, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, id := range ids {
			user, err := loadUser(tx, id)
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	return users, err
}

// GetUserByPhone retrieves a user by phone number
func (s *UserStorage) GetUserByPhone(phone string) (*models.User, error) {
	var user *models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = loadUserByIndex(tx, usersByPhoneBucket, phone)
		return err
	})
	return user, err
}

// GetUserByEmail retrieves a user by email address
func (s *UserStorage) GetUserByEmail(email string) (*models.User, error) {
	var user *models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = loadUserByIndex(tx, usersByEmailBucket, normalizeEmail(email))
		return err
	})
	return user, err
}

// ResolveEmails maps addresses to user ids. The first unknown address fails
// the whole lookup with ErrNotFound.
func (s *UserStorage) ResolveEmails(addresses []string) ([]int64, error) {
	ids := make([]int64, 0, len(addresses))
	err := s.db.View(func(tx *bbolt.Tx) error {
		byEmail := tx.Bucket(usersByEmailBucket)
		for _, address := range addresses {
			id := byEmail.Get([]byte(normalizeEmail(address)))
			if id == nil {
				return fmt.Errorf("address %q: %w", address, ErrNotFound)
			}
			ids = append(ids, btoi(id))
		}
		return nil
	})
	return ids, err
}

// UpdateUser saves an existing user, keeping the phone, email and session
// indexes in sync
func (s *UserStorage) UpdateUser(user *models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.updateUser(tx, user)
	})
}

func (s *UserStorage) updateUser(tx *bbolt.Tx, user *models.User) error {
	existing, err := loadUser(tx, user.ID)
	if err != nil {
		return err
	}

	user.Email = normalizeEmail(user.Email)
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = s.now()

	key := itob(user.ID)
	if err := reindex(tx.Bucket(usersByPhoneBucket), existing.PhoneNumber, user.PhoneNumber, key); err != nil {
		return fmt.Errorf("phone number %s: %w", user.PhoneNumber, err)
	}
	if err := reindex(tx.Bucket(usersByEmailBucket), existing.Email, user.Email, key); err != nil {
		return fmt.Errorf("email %s: %w", user.Email, err)
	}
	if err := reindex(tx.Bucket(usersBySessionBucket), existing.SessionToken, user.SessionToken, key); err != nil {
		return err
	}

	return putJSON(tx.Bucket(usersBucket), key, newUserRecord(user))
}

// reindex moves a unique index entry from oldKey to newKey. Empty keys are not indexed.
func reindex(b *bbolt.Bucket, oldKey, newKey string, id []byte) error {
	if oldKey == newKey {
		return nil
	}
	if newKey != "" {
		if owner := b.Get([]byte(newKey)); owner != nil && string(owner) != string(id) {
			return ErrAlreadyExists
		}
	}
	if oldKey != "" {
		if err := b.Delete([]byte(oldKey)); err != nil {
			return err
		}
	}
	if newKey == "" {
		return nil
	}
	return b.Put([]byte(newKey), id)
}

// VerifyPassword checks a user's password
func (s *UserStorage) VerifyPassword(user *models.User, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	return err == nil
}

// SetPassword hashes and stores a new password, clearing any pending reset token
func (s *UserStorage) SetPassword(userID int64, password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		user.PasswordHash = string(hashedPassword)
		user.PasswordResetToken = ""
		user.PasswordResetExpires = time.Time{}
		return s.updateUser(tx, user)
	})
}

// StartSession issues a new session token valid for ttl, replacing any previous one
func (s *UserStorage) StartSession(userID int64, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		user.SessionToken = token
		user.SessionExpiry = s.now().Add(ttl)
		user.LastLoginAt = s.now()
		return s.updateUser(tx, user)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// EndSession invalidates a session token. Unknown tokens are ignored.
func (s *UserStorage) EndSession(token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		id := tx.Bucket(usersBySessionBucket).Get([]byte(token))
		if id == nil {
			return nil
		}
		user, err := loadUser(tx, btoi(id))
		if err != nil {
			return err
		}
		user.SessionToken = ""
		user.SessionExpiry = time.Time{}
		return s.updateUser(tx, user)
	})
}

// GetUserBySession resolves a session token to its user.
// Expired sessions return ErrSessionExpired.
func (s *UserStorage) GetUserBySession(token string) (*models.User, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token: %w", ErrNotFound)
	}

	var user *models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = loadUserByIndex(tx, usersBySessionBucket, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !user.HasLiveSession(s.now()) {
		return nil, ErrSessionExpired
	}
	return user, nil
}

// SetVerificationCode stores a fresh 2FA code valid for ttl and returns it
func (s *UserStorage) SetVerificationCode(userID int64, ttl time.Duration) (string, error) {
	code, err := randomCode(6)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		user.VerificationCode = code
		user.VerificationCodeExpires = s.now().Add(ttl)
		return s.updateUser(tx, user)
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// CheckVerificationCode consumes the 2FA code if it matches and has not expired
func (s *UserStorage) CheckVerificationCode(userID int64, code string) (bool, error) {
	valid := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		if user.VerificationCode == "" || user.VerificationCode != code || s.now().After(user.VerificationCodeExpires) {
			return nil
		}
		valid = true
		user.VerificationCode = ""
		user.VerificationCodeExpires = time.Time{}
		return s.updateUser(tx, user)
	})
	return valid, err
}

// SetPasswordResetToken stores a fresh reset code valid for ttl and returns it
func (s *UserStorage) SetPasswordResetToken(userID int64, ttl time.Duration) (string, error) {
	token, err := randomCode(8)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		user.PasswordResetToken = token
		user.PasswordResetExpires = s.now().Add(ttl)
		return s.updateUser(tx, user)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// ValidResetToken reports whether token is the user's current, unexpired reset token
func (s *UserStorage) ValidResetToken(user *models.User, token string) bool {
	return user.PasswordResetToken != "" &&
		user.PasswordResetToken == token &&
		s.now().Before(user.PasswordResetExpires)
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// randomCode generates a short human-typable code
func randomCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf), nil
}

// GetProfile retrieves the profile of a user
func (s *UserStorage) GetProfile(userID int64) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(profilesBucket), itob(userID), &profile)
	})
	if err != nil {
		return nil, fmt.Errorf("profile of user %d: %w", userID, err)
	}
	return &profile, nil
}

// UpdateProfile saves a user's profile
func (s *UserStorage) UpdateProfile(profile *models.UserProfile) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(usersBucket).Get(itob(profile.UserID)) == nil {
			return fmt.Errorf("user %d: %w", profile.UserID, ErrNotFound)
		}
		return putJSON(tx.Bucket(profilesBucket), itob(profile.UserID), profile)
	})
}

// DeleteUser removes a user with everything it owns: profile, settings,
// notifications, labels and sent emails. The user is also removed from the
// audience of emails it received.
func (s *UserStorage) DeleteUser(userID int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}

		key := itob(userID)
		for bucket, indexKey := range map[string]string{
			string(usersByPhoneBucket):   user.PhoneNumber,
			string(usersByEmailBucket):   user.Email,
			string(usersBySessionBucket): user.SessionToken,
		} {
			if indexKey == "" {
				continue
			}
			if err := tx.Bucket([]byte(bucket)).Delete([]byte(indexKey)); err != nil {
				return err
			}
		}
		for _, bucket := range [][]byte{usersBucket, profilesBucket, settingsBucket} {
			if err := tx.Bucket(bucket).Delete(key); err != nil {
				return err
			}
		}

		if err := deleteNotificationsOf(tx, userID); err != nil {
			return err
		}
		if err := deleteLabelsOf(tx, userID); err != nil {
			return err
		}
		return detachEmailsOf(tx, userID)
	})
}
