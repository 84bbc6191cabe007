package models

// ThreadNode is an email with the replies that point to it
type ThreadNode struct {
	Email   EmailPayload  `json:"email"`
	Replies []*ThreadNode `json:"replies"`
}
