package dispatch

import "gotmail/models"

type emailFixture struct {
	from        int64
	to, cc, bcc []int64
	subject     string
	autoReplied bool
}

func (s *emailFixture) build() *models.Email {
	return &models.Email{
		SenderID:    s.from,
		Recipients:  s.to,
		Cc:          s.cc,
		Bcc:         s.bcc,
		Subject:     s.subject,
		Body:        "body",
		AutoReplied: s.autoReplied,
	}
}
