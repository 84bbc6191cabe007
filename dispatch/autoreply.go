package dispatch

import (
	"context"
	"errors"
	"gotmail/metrics"
	"gotmail/models"
	"gotmail/storage"
	"gotmail/utils"
	"time"
)

// MaxAutoReplyDepth is the dispatch depth from which no auto-reply is created.
// Auto-replies are dispatched at depth 1, so they never trigger another one.
const MaxAutoReplyDepth = 1

type dispatchFunc func(ctx context.Context, email *models.Email, depth int) *Report

// AutoReplyEngine answers emails on behalf of recipients that enabled
// auto-reply in their settings
type AutoReplyEngine struct {
	users    UserStore
	emails   EmailStore
	dispatch dispatchFunc
	now      func() time.Time
}

func newAutoReplyEngine(users UserStore, emails EmailStore, dispatch dispatchFunc) *AutoReplyEngine {
	return &AutoReplyEngine{
		users:    users,
		emails:   emails,
		dispatch: dispatch,
		now:      time.Now,
	}
}

// MaybeAutoReply creates and dispatches the auto-reply of recipient to email
// when recipient has auto-reply enabled. It returns the report of the reply's
// dispatch, or nil when no reply was sent. Failures are logged only.
func (e *AutoReplyEngine) MaybeAutoReply(ctx context.Context, email *models.Email, recipient *models.User, depth int) (report *Report) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DispatchFailures.WithLabelValues("panic").Inc()
			utils.Log.Error("Auto-reply of user %d to email %d panicked: %v", recipient.ID, email.ID, r)
			report = nil
		}
	}()

	if email.AutoReplied || depth >= MaxAutoReplyDepth {
		return nil
	}

	settings, err := e.users.GetSettings(recipient.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			utils.Log.Debug("No settings for user %d, skipping auto-reply", recipient.ID)
		} else {
			utils.Log.Warn("Failed to load settings of user %d: %v", recipient.ID, err)
		}
		return nil
	}
	if !settings.AutoReplyEnabled {
		return nil
	}

	originalID := email.ID
	reply := &models.Email{
		SenderID:    recipient.ID,
		Recipients:  []int64{email.SenderID},
		Subject:     "Re: " + email.Subject,
		Body:        utils.PlainTextToDelta(settings.AutoReplyMessage),
		SentAt:      e.now(),
		AutoReplied: true,
		ReplyTo:     &originalID,
	}
	if err := e.emails.CreateEmail(reply); err != nil {
		metrics.DispatchFailures.WithLabelValues("auto_reply").Inc()
		utils.Log.Error("Failed to create auto-reply of user %d to email %d: %v", recipient.ID, email.ID, err)
		return nil
	}
	metrics.AutoReplies.Inc()
	utils.Log.Info("Auto-reply %d sent by user %d for email %d", reply.ID, recipient.ID, email.ID)

	return e.dispatch(ctx, reply, depth+1)
}
