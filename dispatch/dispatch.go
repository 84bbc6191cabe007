package dispatch

import (
	"context"
	"fmt"
	"gotmail/audit"
	"gotmail/metrics"
	"gotmail/models"
	"gotmail/utils"
	"time"

	"github.com/nicksnyder/go-i18n/v2/i18n"
)

// UserStore reads users and their settings
type UserStore interface {
	GetUser(userID int64) (*models.User, error)
	GetSettings(userID int64) (*models.UserSettings, error)
}

// EmailStore persists emails
type EmailStore interface {
	CreateEmail(email *models.Email) error
}

// NotificationStore persists notifications
type NotificationStore interface {
	CreateNotification(n *models.Notification) error
}

// Publisher pushes an event to a user's live channel
type Publisher interface {
	Publish(ctx context.Context, userID int64, event interface{}) error
}

// Renderer turns an email into its wire payload as seen by viewerID
type Renderer interface {
	Email(email *models.Email, viewerID int64) (models.EmailPayload, error)
}

// Report describes what one dispatch did. Reports of auto-replies triggered
// by the dispatch are nested in Replies.
type Report struct {
	EmailID  int64
	Depth    int
	Audience []int64
	Notified []int64
	Pushed   []int64
	Failed   map[int64]error
	Replies  []*Report
}

// Notifications returns the number of notifications created by this report
// and every nested one
func (r *Report) Notifications() int {
	if r == nil {
		return 0
	}
	total := len(r.Notified)
	for _, reply := range r.Replies {
		total += reply.Notifications()
	}
	return total
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLanguage selects the language of notification messages
func WithLanguage(lang string) Option {
	return func(d *Dispatcher) {
		d.localizer = utils.GetLocalizer(lang)
	}
}

// WithRecorder sends dispatch audit events to recorder
func WithRecorder(recorder *audit.Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = recorder
	}
}

// WithClock overrides the time source used for auto-reply timestamps
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.autoReply.now = now
	}
}

// Dispatcher turns persisted emails into notifications and live push events
// for their audience, and runs the auto-reply engine for each member.
type Dispatcher struct {
	users         UserStore
	notifications NotificationStore
	publisher     Publisher
	renderer      Renderer
	autoReply     *AutoReplyEngine
	localizer     *i18n.Localizer
	recorder      *audit.Recorder
}

// NewDispatcher creates a dispatcher
func NewDispatcher(users UserStore, emails EmailStore, notifications NotificationStore, publisher Publisher, renderer Renderer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		users:         users,
		notifications: notifications,
		publisher:     publisher,
		renderer:      renderer,
		localizer:     utils.GetLocalizer("en"),
	}
	d.autoReply = newAutoReplyEngine(users, emails, d.dispatch)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AutoReply exposes the dispatcher's auto-reply engine
func (d *Dispatcher) AutoReply() *AutoReplyEngine {
	return d.autoReply
}

// Dispatch notifies every audience member of a newly persisted email. It
// never fails: per-member problems are logged and recorded in the report.
func (d *Dispatcher) Dispatch(ctx context.Context, email *models.Email) *Report {
	return d.dispatch(ctx, email, 0)
}

func (d *Dispatcher) dispatch(ctx context.Context, email *models.Email, depth int) *Report {
	report := &Report{
		EmailID:  email.ID,
		Depth:    depth,
		Audience: email.Audience(),
		Failed:   make(map[int64]error),
	}
	if len(report.Audience) == 0 {
		utils.Log.Debug("Email %d has no audience, nothing to dispatch", email.ID)
		return report
	}
	metrics.EmailsDispatched.Inc()

	senderName := fmt.Sprintf("user %d", email.SenderID)
	if sender, err := d.users.GetUser(email.SenderID); err == nil {
		senderName = sender.DisplayName()
	} else {
		utils.Log.Warn("Sender %d of email %d not found: %v", email.SenderID, email.ID, err)
	}

	for _, memberID := range report.Audience {
		if err := d.deliverIsolated(ctx, email, senderName, memberID, depth, report); err != nil {
			report.Failed[memberID] = err
			utils.Log.Error("Failed to notify user %d of email %d: %v", memberID, email.ID, err)
		}
	}

	d.recorder.Record(ctx, audit.Event{
		Type:    audit.EventEmailDispatched,
		UserID:  email.SenderID,
		EmailID: email.ID,
		Details: map[string]interface{}{
			"depth":        depth,
			"audience":     len(report.Audience),
			"notified":     len(report.Notified),
			"failed":       len(report.Failed),
			"auto_replies": len(report.Replies),
		},
	})
	return report
}

// deliverIsolated runs deliver and turns a panic into that member's failure
func (d *Dispatcher) deliverIsolated(ctx context.Context, email *models.Email, senderName string, memberID int64, depth int, report *Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DispatchFailures.WithLabelValues("panic").Inc()
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.deliver(ctx, email, senderName, memberID, depth, report)
}

// deliver runs the per-member steps in order: persist the notification, push
// the event, then give the auto-reply engine a chance. A failed push does not
// prevent the auto-reply.
func (d *Dispatcher) deliver(ctx context.Context, email *models.Email, senderName string, memberID int64, depth int, report *Report) error {
	member, err := d.users.GetUser(memberID)
	if err != nil {
		metrics.DispatchFailures.WithLabelValues("lookup").Inc()
		return fmt.Errorf("lookup member: %w", err)
	}

	emailID := email.ID
	notification := &models.Notification{
		UserID:         memberID,
		Message:        d.message(email, senderName),
		Type:           models.NotificationEmail,
		RelatedEmailID: &emailID,
	}
	if err := d.notifications.CreateNotification(notification); err != nil {
		metrics.DispatchFailures.WithLabelValues("notification").Inc()
		return fmt.Errorf("persist notification: %w", err)
	}
	metrics.NotificationsCreated.Inc()
	report.Notified = append(report.Notified, memberID)

	if err := d.push(ctx, email, notification, memberID); err != nil {
		metrics.DispatchFailures.WithLabelValues("push").Inc()
		utils.Log.Warn("Push of email %d to user %d failed: %v", email.ID, memberID, err)
	} else {
		report.Pushed = append(report.Pushed, memberID)
	}

	if reply := d.autoReply.MaybeAutoReply(ctx, email, member, depth); reply != nil {
		report.Replies = append(report.Replies, reply)
		d.recorder.Record(ctx, audit.Event{
			Type:    audit.EventAutoReplyCreated,
			UserID:  memberID,
			EmailID: reply.EmailID,
			Details: map[string]interface{}{"reply_to": email.ID},
		})
	}
	return nil
}

func (d *Dispatcher) push(ctx context.Context, email *models.Email, notification *models.Notification, memberID int64) error {
	payload, err := d.renderer.Email(email, memberID)
	if err != nil {
		return fmt.Errorf("render email: %w", err)
	}
	event := models.PushEvent{
		Type:         models.EventEmailNotification,
		Email:        payload,
		Notification: models.NewNotificationPayload(notification),
	}
	return d.publisher.Publish(ctx, memberID, event)
}

func (d *Dispatcher) message(email *models.Email, senderName string) string {
	messageID := "notification_new_email"
	if email.AutoReplied {
		messageID = "notification_auto_reply"
	}
	return utils.TWithData(d.localizer, messageID, map[string]interface{}{"Name": senderName})
}
