package storage

import (
	"errors"
	"gotmail/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := InitDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, users *UserStorage, phone, email string) *models.User {
	t.Helper()
	user := &models.User{PhoneNumber: phone, Email: email, FirstName: "Test", LastName: phone}
	require.NoError(t, users.CreateUser(user, "secret123"))
	return user
}

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStorage(db)

	alice := createUser(t, users, "+84900000001", "Alice@Example.com")
	assert.Equal(t, int64(1), alice.ID)
	assert.Equal(t, "alice@example.com", alice.Email)

	t.Run("profile and settings are created", func(t *testing.T) {
		profile, err := users.GetProfile(alice.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DefaultProfilePicture, profile.PictureURL())

		settings, err := users.GetSettings(alice.ID)
		require.NoError(t, err)
		assert.True(t, settings.NotificationsEnabled)
		assert.Equal(t, 14, settings.FontSize)
		assert.False(t, settings.AutoReplyEnabled)
	})

	t.Run("duplicate phone", func(t *testing.T) {
		err := users.CreateUser(&models.User{PhoneNumber: "+84900000001", Email: "other@example.com"}, "x")
		assert.True(t, errors.Is(err, ErrAlreadyExists))
	})

	t.Run("duplicate email", func(t *testing.T) {
		err := users.CreateUser(&models.User{PhoneNumber: "+84900000002", Email: "alice@example.com"}, "x")
		assert.True(t, errors.Is(err, ErrAlreadyExists))
	})

	t.Run("lookups", func(t *testing.T) {
		byPhone, err := users.GetUserByPhone("+84900000001")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, byPhone.ID)
		assert.True(t, users.VerifyPassword(byPhone, "secret123"))
		assert.False(t, users.VerifyPassword(byPhone, "wrong"))

		byEmail, err := users.GetUserByEmail(" ALICE@example.com")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, byEmail.ID)

		_, err = users.GetUser(99)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestResolveEmails(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStorage(db)
	a := createUser(t, users, "+100000001", "a@example.com")
	b := createUser(t, users, "+100000002", "b@example.com")

	ids, err := users.ResolveEmails([]string{"b@example.com", "A@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, a.ID}, ids)

	_, err = users.ResolveEmails([]string{"a@example.com", "ghost@example.com"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSessionLifecycle(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStorage(db)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	users.now = func() time.Time { return now }

	user := createUser(t, users, "+100000001", "a@example.com")

	token, err := users.StartSession(user.ID, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	resolved, err := users.GetUserBySession(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)

	second, err := users.StartSession(user.ID, time.Hour)
	require.NoError(t, err)
	_, err = users.GetUserBySession(token)
	assert.True(t, errors.Is(err, ErrNotFound), "previous token is replaced")

	now = now.Add(2 * time.Hour)
	_, err = users.GetUserBySession(second)
	assert.True(t, errors.Is(err, ErrSessionExpired))

	require.NoError(t, users.EndSession(second))
	_, err = users.GetUserBySession(second)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, users.EndSession("unknown"))
}

func TestVerificationCode(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStorage(db)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	users.now = func() time.Time { return now }
	user := createUser(t, users, "+100000001", "a@example.com")

	code, err := users.SetVerificationCode(user.ID, 10*time.Minute)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	ok, err := users.CheckVerificationCode(user.ID, "WRONG1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = users.CheckVerificationCode(user.ID, code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = users.CheckVerificationCode(user.ID, code)
	require.NoError(t, err)
	assert.False(t, ok, "codes are single use")

	code, err = users.SetVerificationCode(user.ID, 10*time.Minute)
	require.NoError(t, err)
	now = now.Add(11 * time.Minute)
	ok, err = users.CheckVerificationCode(user.ID, code)
	require.NoError(t, err)
	assert.False(t, ok, "expired code")
}

func TestPasswordReset(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStorage(db)
	user := createUser(t, users, "+100000001", "a@example.com")

	token, err := users.SetPasswordResetToken(user.ID, time.Hour)
	require.NoError(t, err)

	loaded, err := users.GetUser(user.ID)
	require.NoError(t, err)
	assert.True(t, users.ValidResetToken(loaded, token))
	assert.False(t, users.ValidResetToken(loaded, "nope"))

	require.NoError(t, users.SetPassword(user.ID, "newpass456"))
	loaded, err = users.GetUser(user.ID)
	require.NoError(t, err)
	assert.True(t, users.VerifyPassword(loaded, "newpass456"))
	assert.False(t, users.ValidResetToken(loaded, token))
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStorage(db)
	user := createUser(t, users, "+100000001", "a@example.com")

	err := users.CreateSettings(models.DefaultSettings(user.ID))
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	require.NoError(t, users.DeleteSettings(user.ID))
	_, err = users.GetSettings(user.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	settings, err := users.GetOrCreateSettings(user.ID)
	require.NoError(t, err)
	settings.AutoReplyEnabled = true
	settings.AutoReplyMessage = "Away"
	require.NoError(t, users.UpdateSettings(settings))

	loaded, err := users.GetSettings(user.ID)
	require.NoError(t, err)
	assert.True(t, loaded.AutoReplyEnabled)
	assert.Equal(t, "Away", loaded.AutoReplyMessage)
}

func TestCreateEmail(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStorage(db)
	emails := NewEmailStorage(db)
	a := createUser(t, users, "+100000001", "a@example.com")
	b := createUser(t, users, "+100000002", "b@example.com")

	email := &models.Email{SenderID: a.ID, Recipients: []int64{b.ID}, Subject: "Hi", Body: "Hello"}
	require.NoError(t, emails.CreateEmail(email))
	assert.NotZero(t, email.ID)
	assert.NotEmpty(t, email.MessageID)
	assert.False(t, email.SentAt.IsZero())

	t.Run("empty audience", func(t *testing.T) {
		err := emails.CreateEmail(&models.Email{SenderID: a.ID})
		assert.Error(t, err)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		err := emails.CreateEmail(&models.Email{SenderID: a.ID, Recipients: []int64{42}})
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("reply_to must exist", func(t *testing.T) {
		missing := int64(999)
		err := emails.CreateEmail(&models.Email{SenderID: b.ID, Recipients: []int64{a.ID}, ReplyTo: &missing})
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("duplicate message id", func(t *testing.T) {
		err := emails.CreateEmail(&models.Email{SenderID: a.ID, Recipients: []int64{b.ID}, MessageID: email.MessageID})
		assert.True(t, errors.Is(err, ErrAlreadyExists))
	})

	t.Run("lookup by message id", func(t *testing.T) {
		found, err := emails.GetEmailByMessageID(email.MessageID)
		require.NoError(t, err)
		assert.Equal(t, email.ID, found.ID)
		assert.Equal(t, "Hi", found.Subject)

		_, err = emails.GetEmailByMessageID("<missing@gotmail>")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("mailboxes", func(t *testing.T) {
		inbox, err := emails.ListMailbox(b.ID, models.MailboxInbox)
		require.NoError(t, err)
		require.Len(t, inbox, 1)
		assert.Equal(t, email.ID, inbox[0].ID)

		sent, err := emails.ListMailbox(a.ID, models.MailboxSent)
		require.NoError(t, err)
		assert.Len(t, sent, 1)

		_, err = emails.UpdateFlags(email.ID, func(e *models.Email) {
			e.IsTrashed = true
			e.Subject = "ignored"
		})
		require.NoError(t, err)

		inbox, err = emails.ListMailbox(b.ID, models.MailboxInbox)
		require.NoError(t, err)
		assert.Empty(t, inbox)

		loaded, err := emails.GetEmail(email.ID)
		require.NoError(t, err)
		assert.Equal(t, "Hi", loaded.Subject)
	})
}

func TestDeleteEmailUnlinks(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStorage(db)
	emails := NewEmailStorage(db)
	notifications := NewNotificationStorage(db)
	labels := NewLabelStorage(db)
	a := createUser(t, users, "+100000001", "a@example.com")
	b := createUser(t, users, "+100000002", "b@example.com")

	original := &models.Email{SenderID: a.ID, Recipients: []int64{b.ID}, Subject: "Hi"}
	require.NoError(t, emails.CreateEmail(original))
	reply := &models.Email{SenderID: b.ID, Recipients: []int64{a.ID}, Subject: "Re: Hi", ReplyTo: &original.ID}
	require.NoError(t, emails.CreateEmail(reply))

	thread, err := emails.ListThread(original.ID)
	require.NoError(t, err)
	assert.Len(t, thread, 2)

	n := &models.Notification{UserID: b.ID, Message: "new", Type: models.NotificationEmail, RelatedEmailID: &original.ID}
	require.NoError(t, notifications.CreateNotification(n))

	label := &models.Label{UserID: b.ID, Name: "Work"}
	require.NoError(t, labels.CreateLabel(label))
	require.NoError(t, labels.AssignLabel(original.ID, label.ID))

	require.NoError(t, emails.DeleteEmail(original.ID))

	stored, err := notifications.GetNotification(b.ID, n.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RelatedEmailID)

	orphan, err := emails.GetEmail(reply.ID)
	require.NoError(t, err)
	assert.Nil(t, orphan.ReplyTo)

	loaded, err := labels.GetLabel(label.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Emails)
}

func TestNotifications(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStorage(db)
	notifications := NewNotificationStorage(db)
	a := createUser(t, users, "+100000001", "a@example.com")
	b := createUser(t, users, "+100000002", "b@example.com")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, notifications.CreateNotification(&models.Notification{
			UserID: a.ID, Message: "n", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, notifications.CreateNotification(&models.Notification{UserID: b.ID, Message: "other"}))

	err := notifications.CreateNotification(&models.Notification{UserID: 77})
	assert.True(t, errors.Is(err, ErrNotFound))

	list, err := notifications.ListByUser(a.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
	assert.True(t, list[1].CreatedAt.After(list[2].CreatedAt))
	assert.Equal(t, models.NotificationSystem, list[0].Type)

	_, err = notifications.SetRead(a.ID, list[0].ID, true)
	require.NoError(t, err)
	unread, err := notifications.UnreadCount(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	changed, err := notifications.MarkAllRead(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	_, err = notifications.GetNotification(b.ID, list[0].ID)
	assert.True(t, errors.Is(err, ErrNotFound), "notifications are scoped to their owner")

	require.NoError(t, notifications.DeleteNotification(a.ID, list[0].ID))
	assert.True(t, errors.Is(notifications.DeleteNotification(a.ID, list[0].ID), ErrNotFound))

	unread, err = notifications.UnreadCount(b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestLabels(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStorage(db)
	emails := NewEmailStorage(db)
	labels := NewLabelStorage(db)
	a := createUser(t, users, "+100000001", "a@example.com")
	b := createUser(t, users, "+100000002", "b@example.com")

	require.NoError(t, labels.CreateDefaultLabels(a.ID))
	require.NoError(t, labels.CreateDefaultLabels(b.ID))

	list, err := labels.GetLabelsByUser(a.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)

	err = labels.CreateLabel(&models.Label{UserID: a.ID, Name: "work"})
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	custom := &models.Label{UserID: a.ID, Name: "Travel"}
	require.NoError(t, labels.CreateLabel(custom))
	assert.Equal(t, models.DefaultLabelColor, custom.Color)

	custom.Name = "Personal"
	assert.True(t, errors.Is(labels.UpdateLabel(custom), ErrAlreadyExists))
	custom.Name = "Trips"
	custom.Color = "#123456"
	require.NoError(t, labels.UpdateLabel(custom))
	assert.Equal(t, "Trips", custom.Name)

	email := &models.Email{SenderID: b.ID, Recipients: []int64{a.ID}}
	require.NoError(t, emails.CreateEmail(email))
	require.NoError(t, labels.AssignLabel(email.ID, custom.ID))

	onEmail, err := labels.GetLabelsForEmail(email.ID, a.ID)
	require.NoError(t, err)
	require.Len(t, onEmail, 1)
	assert.Equal(t, []int64{email.ID}, onEmail[0].Emails)

	onEmail, err = labels.GetLabelsForEmail(email.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, onEmail)

	require.NoError(t, labels.RemoveLabel(email.ID, custom.ID))
	onEmail, err = labels.GetLabelsForEmail(email.ID, a.ID)
	require.NoError(t, err)
	assert.Empty(t, onEmail)

	require.NoError(t, labels.DeleteLabel(custom.ID))
	assert.True(t, errors.Is(labels.DeleteLabel(custom.ID), ErrNotFound))
}

func TestDeleteUserCascade(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStorage(db)
	emails := NewEmailStorage(db)
	notifications := NewNotificationStorage(db)
	labels := NewLabelStorage(db)
	a := createUser(t, users, "+100000001", "a@example.com")
	b := createUser(t, users, "+100000002", "b@example.com")
	c := createUser(t, users, "+100000003", "c@example.com")

	sent := &models.Email{SenderID: a.ID, Recipients: []int64{b.ID}}
	require.NoError(t, emails.CreateEmail(sent))
	received := &models.Email{SenderID: b.ID, Recipients: []int64{a.ID, c.ID}}
	require.NoError(t, emails.CreateEmail(received))
	require.NoError(t, notifications.CreateNotification(&models.Notification{UserID: a.ID, Message: "x"}))
	require.NoError(t, notifications.CreateNotification(&models.Notification{UserID: b.ID, Message: "y", RelatedEmailID: &sent.ID}))
	require.NoError(t, labels.CreateDefaultLabels(a.ID))
	_, err := users.StartSession(a.ID, time.Hour)
	require.NoError(t, err)

	require.NoError(t, users.DeleteUser(a.ID))

	_, err = users.GetUser(a.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = users.GetUserByPhone("+100000001")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = users.GetProfile(a.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	list, err := notifications.ListByUser(a.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	owned, err := labels.GetLabelsByUser(a.ID)
	require.NoError(t, err)
	assert.Empty(t, owned)

	_, err = emails.GetEmail(sent.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	other, err := notifications.ListByUser(b.ID)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Nil(t, other[0].RelatedEmailID)

	kept, err := emails.GetEmail(received.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, kept.Recipients)

	// phone and email are free again
	createUser(t, users, "+100000001", "a@example.com")
}
