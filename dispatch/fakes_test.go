package dispatch

import (
	"context"
	"errors"
	"fmt"
	"gotmail/models"
	"gotmail/storage"
	"sync"
)

type memStore struct {
	mu            sync.Mutex
	users         map[int64]*models.User
	settings      map[int64]*models.UserSettings
	emails        []*models.Email
	notifications []*models.Notification
	failNotify    map[int64]bool
	failEmails    bool
	panicEmails   bool
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[int64]*models.User),
		settings:   make(map[int64]*models.UserSettings),
		failNotify: make(map[int64]bool),
	}
}

func (m *memStore) addUser(id int64, first, last string) *models.User {
	u := &models.User{ID: id, FirstName: first, LastName: last, Email: fmt.Sprintf("u%d@example.com", id)}
	m.users[id] = u
	m.settings[id] = models.DefaultSettings(id)
	return u
}

func (m *memStore) enableAutoReply(id int64, message string) {
	m.settings[id].AutoReplyEnabled = true
	m.settings[id].AutoReplyMessage = message
}

func (m *memStore) GetUser(id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
}

func (m *memStore) GetSettings(id int64) (*models.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, fmt.Errorf("settings of user %d: %w", id, storage.ErrNotFound)
}

func (m *memStore) CreateEmail(e *models.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEmails {
		return errors.New("disk full")
	}
	if m.panicEmails {
		panic("corrupt page")
	}
	e.ID = int64(len(m.emails) + 1)
	m.emails = append(m.emails, e)
	return nil
}

func (m *memStore) CreateNotification(n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNotify[n.UserID] {
		return errors.New("write failed")
	}
	n.ID = int64(len(m.notifications) + 1)
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *memStore) notificationsFor(userID int64) []*models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (m *memStore) autoReplies() []*models.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Email
	for _, e := range m.emails {
		if e.AutoReplied {
			out = append(out, e)
		}
	}
	return out
}

type pushed struct {
	userID int64
	event  models.PushEvent
}

type memPublisher struct {
	mu       sync.Mutex
	events   []pushed
	failFor  map[int64]bool
	notified *memStore
}

func (p *memPublisher) Publish(ctx context.Context, userID int64, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[userID] {
		return errors.New("channel layer down")
	}
	pe := event.(models.PushEvent)
	if p.notified != nil {
		// the notification must already be persisted when its push goes out
		persisted := false
		for _, n := range p.notified.notificationsFor(userID) {
			if n.ID == pe.Notification.ID {
				persisted = true
			}
		}
		if !persisted {
			return errors.New("push before notification")
		}
	}
	p.events = append(p.events, pushed{userID: userID, event: pe})
	return nil
}

func (p *memPublisher) eventsFor(userID int64) []models.PushEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.PushEvent
	for _, e := range p.events {
		if e.userID == userID {
			out = append(out, e.event)
		}
	}
	return out
}

type stubRenderer struct{}

func (stubRenderer) Email(email *models.Email, viewerID int64) (models.EmailPayload, error) {
	return models.EmailPayload{
		ID:       email.ID,
		SenderID: email.SenderID,
		Subject:  email.Subject,
		Body:     email.Body,
		ReplyTo:  email.ReplyTo,
		IsReply:  email.ReplyTo != nil,
	}, nil
}

// panicRenderer panics while rendering for the viewers in panicFor
type panicRenderer struct {
	panicFor map[int64]bool
}

func (r panicRenderer) Email(email *models.Email, viewerID int64) (models.EmailPayload, error) {
	if r.panicFor[viewerID] {
		panic(fmt.Sprintf("render email %d", email.ID))
	}
	return stubRenderer{}.Email(email, viewerID)
}
