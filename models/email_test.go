package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudienceDeduplicatesAndSorts(t *testing.T) {
	email := &Email{
		SenderID:   1,
		Recipients: []int64{3, 2},
		Cc:         []int64{2, 5},
		Bcc:        []int64{3},
	}

	assert.Equal(t, []int64{2, 3, 5}, email.Audience())
}

func TestAudienceKeepsSelfAddressedSender(t *testing.T) {
	email := &Email{SenderID: 1, Recipients: []int64{1}}
	assert.Equal(t, []int64{1}, email.Audience())
}

func TestAudienceEmpty(t *testing.T) {
	assert.Empty(t, (&Email{SenderID: 1}).Audience())
}

func TestCanView(t *testing.T) {
	email := &Email{SenderID: 1, Recipients: []int64{2}, Bcc: []int64{4}}

	assert.True(t, email.CanView(1))
	assert.True(t, email.CanView(2))
	assert.True(t, email.CanView(4))
	assert.False(t, email.CanView(3))
}

func TestInMailbox(t *testing.T) {
	received := &Email{SenderID: 1, Recipients: []int64{2}}
	starred := &Email{SenderID: 1, Cc: []int64{2}, IsStarred: true}
	trashed := &Email{SenderID: 1, Recipients: []int64{2}, IsTrashed: true}
	draft := &Email{SenderID: 2, IsDraft: true}

	tests := []struct {
		name    string
		email   *Email
		mailbox string
		user    int64
		want    bool
	}{
		{"inbox received", received, MailboxInbox, 2, true},
		{"inbox not for sender", received, MailboxInbox, 1, false},
		{"inbox hides trash", trashed, MailboxInbox, 2, false},
		{"sent", received, MailboxSent, 1, true},
		{"starred", starred, MailboxStarred, 2, true},
		{"starred requires flag", received, MailboxStarred, 2, false},
		{"all includes trash", trashed, MailboxAll, 2, true},
		{"draft", draft, MailboxDraft, 2, true},
		{"trash recipient", trashed, MailboxTrash, 2, true},
		{"trash sender", trashed, MailboxTrash, 1, true},
		{"unknown mailbox", received, "spam", 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.email.InMailbox(tt.mailbox, tt.user))
		})
	}
}

func TestDisplayNameFallsBackToEmail(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", (&User{FirstName: "Ada", LastName: "Lovelace"}).DisplayName())
	assert.Equal(t, "ada@example.com", (&User{Email: "ada@example.com"}).DisplayName())
}

func TestNewPaginatedNotifications(t *testing.T) {
	all := make([]NotificationPayload, 5)
	for i := range all {
		all[i].ID = int64(i + 1)
	}

	page := NewPaginatedNotifications(all, 2, 2)
	assert.Equal(t, 5, page.Count)
	assert.True(t, page.HasNext)
	assert.True(t, page.HasPrev)
	assert.Equal(t, []int64{3, 4}, []int64{page.Results[0].ID, page.Results[1].ID})

	last := NewPaginatedNotifications(all, 9, 2)
	assert.Empty(t, last.Results)
	assert.False(t, last.HasNext)
}
