package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	userA int64 = 1
	userB int64 = 2
	userC int64 = 3
)

type harness struct {
	store      *memStore
	publisher  *memPublisher
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWithRenderer(t, stubRenderer{}, opts...)
}

func newHarnessWithRenderer(t *testing.T, renderer Renderer, opts ...Option) *harness {
	t.Helper()
	store := newMemStore()
	store.addUser(userA, "Alice", "Anders")
	store.addUser(userB, "Bob", "Berg")
	store.addUser(userC, "Carol", "Chen")

	publisher := &memPublisher{failFor: map[int64]bool{}, notified: store}
	return &harness{
		store:      store,
		publisher:  publisher,
		dispatcher: NewDispatcher(store, store, store, publisher, renderer, opts...),
	}
}

func (h *harness) send(t *testing.T, email *emailFixture) *Report {
	t.Helper()
	e := email.build()
	require.NoError(t, h.store.CreateEmail(e))
	return h.dispatcher.Dispatch(context.Background(), e)
}

func TestDispatchToTwoRecipients(t *testing.T) {
	h := newHarness(t)

	report := h.send(t, &emailFixture{from: userA, to: []int64{userB, userC}, subject: "Hi"})

	assert.Equal(t, []int64{userB, userC}, report.Notified)
	assert.Equal(t, []int64{userB, userC}, report.Pushed)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Replies)

	for _, id := range []int64{userB, userC} {
		notifications := h.store.notificationsFor(id)
		require.Len(t, notifications, 1)
		n := notifications[0]
		assert.Equal(t, "You have a new email from Alice Anders!", n.Message)
		assert.Equal(t, "email", n.Type)
		require.NotNil(t, n.RelatedEmailID)
		assert.Equal(t, report.EmailID, *n.RelatedEmailID)

		events := h.publisher.eventsFor(id)
		require.Len(t, events, 1)
		assert.Equal(t, "email_notification", events[0].Type)
		assert.Equal(t, report.EmailID, events[0].Email.ID)
		assert.Equal(t, n.ID, events[0].Notification.ID)
		require.NotNil(t, events[0].Notification.RelatedEmail)
		assert.Equal(t, report.EmailID, events[0].Notification.RelatedEmail.ID)
	}
	assert.Empty(t, h.store.notificationsFor(userA))
	assert.Empty(t, h.store.autoReplies())
}

func TestDispatchAutoReply(t *testing.T) {
	sentAt := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	h := newHarness(t, WithClock(func() time.Time { return sentAt }))
	h.store.enableAutoReply(userB, "Away")

	report := h.send(t, &emailFixture{from: userA, to: []int64{userB}, subject: "Hi"})

	require.Len(t, h.store.notificationsFor(userB), 1)

	replies := h.store.autoReplies()
	require.Len(t, replies, 1)
	reply := replies[0]
	assert.Equal(t, userB, reply.SenderID)
	assert.Equal(t, []int64{userA}, reply.Recipients)
	assert.Empty(t, reply.Cc)
	assert.Empty(t, reply.Bcc)
	assert.Equal(t, "Re: Hi", reply.Subject)
	assert.Equal(t, `[{"insert":"Away\n"}]`, reply.Body)
	assert.True(t, reply.AutoReplied)
	assert.Equal(t, sentAt, reply.SentAt)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, report.EmailID, *reply.ReplyTo)

	senderNotifications := h.store.notificationsFor(userA)
	require.Len(t, senderNotifications, 1)
	assert.Equal(t, "You have received an auto-reply from Bob Berg.", senderNotifications[0].Message)
	assert.Equal(t, reply.ID, *senderNotifications[0].RelatedEmailID)

	events := h.publisher.eventsFor(userA)
	require.Len(t, events, 1)
	assert.Equal(t, reply.ID, events[0].Email.ID)
	assert.True(t, events[0].Email.IsReply)

	require.Len(t, report.Replies, 1)
	assert.Equal(t, 1, report.Replies[0].Depth)
	assert.Equal(t, 2, report.Notifications())
}

func TestAutoReplyLoopTerminates(t *testing.T) {
	h := newHarness(t)
	h.store.enableAutoReply(userA, "A is away")
	h.store.enableAutoReply(userB, "B is away")

	report := h.send(t, &emailFixture{from: userA, to: []int64{userB}, subject: "Ping"})

	assert.Len(t, h.store.autoReplies(), 1, "the auto-reply itself is never answered")
	assert.Len(t, h.store.notificationsFor(userA), 1)
	assert.Len(t, h.store.notificationsFor(userB), 1)
	require.Len(t, report.Replies, 1)
	assert.Empty(t, report.Replies[0].Replies)
}

func TestDispatchDeduplicatesAudience(t *testing.T) {
	h := newHarness(t)
	h.store.enableAutoReply(userB, "Away")

	report := h.send(t, &emailFixture{from: userA, to: []int64{userB}, cc: []int64{userB}, bcc: []int64{userB}})

	assert.Equal(t, []int64{userB}, report.Audience)
	assert.Len(t, h.store.notificationsFor(userB), 1)
	assert.Len(t, h.publisher.eventsFor(userB), 1)
	assert.Len(t, h.store.autoReplies(), 1)
}

func TestDispatchEmptyAudience(t *testing.T) {
	h := newHarness(t)

	report := h.dispatcher.Dispatch(context.Background(), (&emailFixture{from: userA}).build())

	assert.Empty(t, report.Audience)
	assert.Empty(t, report.Notified)
	assert.Empty(t, h.store.notifications)
	assert.Empty(t, h.publisher.events)
}

func TestDispatchSenderInAudience(t *testing.T) {
	h := newHarness(t)
	h.store.enableAutoReply(userA, "Away")

	report := h.send(t, &emailFixture{from: userA, to: []int64{userA}, subject: "Note to self"})

	assert.Equal(t, []int64{userA}, report.Notified)
	replies := h.store.autoReplies()
	require.Len(t, replies, 1)
	assert.Equal(t, []int64{userA}, replies[0].Recipients)
	assert.Len(t, h.store.notificationsFor(userA), 2)
}

func TestAutoReplyPreconditions(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t)
		h.send(t, &emailFixture{from: userA, to: []int64{userB}})
		assert.Empty(t, h.store.autoReplies())
	})

	t.Run("missing settings", func(t *testing.T) {
		h := newHarness(t)
		delete(h.store.settings, userB)
		report := h.send(t, &emailFixture{from: userA, to: []int64{userB}})
		assert.Empty(t, h.store.autoReplies())
		assert.Equal(t, []int64{userB}, report.Notified)
	})

	t.Run("already auto-replied", func(t *testing.T) {
		h := newHarness(t)
		h.store.enableAutoReply(userB, "Away")
		h.send(t, &emailFixture{from: userA, to: []int64{userB}, autoReplied: true})
		assert.Len(t, h.store.autoReplies(), 1, "only the incoming auto-replied email")
	})

	t.Run("depth limit", func(t *testing.T) {
		h := newHarness(t)
		h.store.enableAutoReply(userB, "Away")
		email := (&emailFixture{from: userA, to: []int64{userB}}).build()
		require.NoError(t, h.store.CreateEmail(email))

		bob, err := h.store.GetUser(userB)
		require.NoError(t, err)
		assert.Nil(t, h.dispatcher.AutoReply().MaybeAutoReply(context.Background(), email, bob, MaxAutoReplyDepth))
		assert.NotNil(t, h.dispatcher.AutoReply().MaybeAutoReply(context.Background(), email, bob, 0))
	})

	t.Run("persistence failure", func(t *testing.T) {
		h := newHarness(t)
		h.store.enableAutoReply(userB, "Away")
		email := (&emailFixture{from: userA, to: []int64{userB}}).build()
		require.NoError(t, h.store.CreateEmail(email))
		h.store.failEmails = true

		report := h.dispatcher.Dispatch(context.Background(), email)
		assert.Empty(t, report.Replies)
		assert.Equal(t, []int64{userB}, report.Notified)
		assert.Empty(t, h.store.notificationsFor(userA))
	})
}

func TestDispatchIsolatesFailures(t *testing.T) {
	t.Run("notification failure", func(t *testing.T) {
		h := newHarness(t)
		h.store.failNotify[userB] = true
		h.store.enableAutoReply(userB, "Away")

		report := h.send(t, &emailFixture{from: userA, to: []int64{userB, userC}})

		assert.Contains(t, report.Failed, userB)
		assert.Equal(t, []int64{userC}, report.Notified)
		assert.Empty(t, h.publisher.eventsFor(userB))
		assert.Len(t, h.publisher.eventsFor(userC), 1)
		assert.Empty(t, h.store.autoReplies())
	})

	t.Run("push failure", func(t *testing.T) {
		h := newHarness(t)
		h.publisher.failFor[userB] = true
		h.store.enableAutoReply(userB, "Away")

		report := h.send(t, &emailFixture{from: userA, to: []int64{userB, userC}})

		assert.Empty(t, report.Failed)
		assert.Equal(t, []int64{userB, userC}, report.Notified)
		assert.Equal(t, []int64{userC}, report.Pushed)
		assert.Len(t, h.store.notificationsFor(userB), 1)
		assert.Len(t, h.store.autoReplies(), 1)
	})

	t.Run("renderer panic", func(t *testing.T) {
		h := newHarnessWithRenderer(t, panicRenderer{panicFor: map[int64]bool{userB: true}})

		var report *Report
		require.NotPanics(t, func() {
			report = h.send(t, &emailFixture{from: userA, to: []int64{userB, userC}})
		})

		require.Contains(t, report.Failed, userB)
		assert.Contains(t, report.Failed[userB].Error(), "panic")
		assert.Equal(t, []int64{userC}, report.Pushed)
		assert.Len(t, h.store.notificationsFor(userC), 1)
		assert.Len(t, h.publisher.eventsFor(userC), 1)
		assert.Empty(t, h.publisher.eventsFor(userB))
	})

	t.Run("auto-reply panic", func(t *testing.T) {
		h := newHarness(t)
		h.store.enableAutoReply(userB, "Away")
		email := (&emailFixture{from: userA, to: []int64{userB}}).build()
		require.NoError(t, h.store.CreateEmail(email))
		h.store.panicEmails = true

		bob, err := h.store.GetUser(userB)
		require.NoError(t, err)
		assert.NotPanics(t, func() {
			assert.Nil(t, h.dispatcher.AutoReply().MaybeAutoReply(context.Background(), email, bob, 0))
		})
	})

	t.Run("unknown member", func(t *testing.T) {
		h := newHarness(t)

		report := h.send(t, &emailFixture{from: userA, to: []int64{99, userC}})

		assert.Contains(t, report.Failed, int64(99))
		assert.Equal(t, []int64{userC}, report.Notified)
	})

	t.Run("unknown sender", func(t *testing.T) {
		h := newHarness(t)

		report := h.send(t, &emailFixture{from: 42, to: []int64{userB}})

		assert.Equal(t, []int64{userB}, report.Notified)
		assert.Equal(t, "You have a new email from user 42!", h.store.notificationsFor(userB)[0].Message)
	})
}
