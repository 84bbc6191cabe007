package utils

import (
	"gotmail/models"
	"sort"
)

// ThreadContainer holds an email and the containers of its direct replies
type ThreadContainer struct {
	Message  *models.Email
	Parent   *ThreadContainer
	Children []*ThreadContainer
}

// ThreadBuilder links emails into reply trees through their reply_to reference
type ThreadBuilder struct {
	idTable map[int64]*ThreadContainer
}

// NewThreadBuilder creates a new thread builder
func NewThreadBuilder() *ThreadBuilder {
	return &ThreadBuilder{
		idTable: make(map[int64]*ThreadContainer),
	}
}

// Add registers emails with the builder, linking each to its parent when known
func (tb *ThreadBuilder) Add(emails ...*models.Email) {
	for _, email := range emails {
		tb.getContainer(email.ID).Message = email
	}

	for _, email := range emails {
		if email.ReplyTo == nil || *email.ReplyTo == email.ID {
			continue
		}
		child := tb.getContainer(email.ID)
		if child.Parent != nil {
			continue
		}
		parent := tb.getContainer(*email.ReplyTo)
		if tb.isAncestor(child, parent) {
			continue
		}
		child.Parent = parent
		parent.Children = append(parent.Children, child)
	}

	for _, container := range tb.idTable {
		sort.Slice(container.Children, func(i, j int) bool {
			return container.Children[i].Message.SentAt.Before(container.Children[j].Message.SentAt)
		})
	}
}

// getContainer retrieves or creates a container for an email id
func (tb *ThreadBuilder) getContainer(id int64) *ThreadContainer {
	container, exists := tb.idTable[id]
	if !exists {
		container = &ThreadContainer{Message: &models.Email{ID: id}}
		tb.idTable[id] = container
	}
	return container
}

// isAncestor reports whether c is parent or one of its ancestors, which
// would close a cycle
func (tb *ThreadBuilder) isAncestor(c, parent *ThreadContainer) bool {
	for p := parent; p != nil; p = p.Parent {
		if p == c {
			return true
		}
	}
	return false
}

// Tree renders the thread rooted at rootID. Replies are rendered through
// render and returned oldest first.
func (tb *ThreadBuilder) Tree(rootID int64, render func(*models.Email) (models.EmailPayload, error)) (*models.ThreadNode, error) {
	root, ok := tb.idTable[rootID]
	if !ok {
		return nil, nil
	}
	return tb.render(root, render)
}

func (tb *ThreadBuilder) render(container *ThreadContainer, render func(*models.Email) (models.EmailPayload, error)) (*models.ThreadNode, error) {
	payload, err := render(container.Message)
	if err != nil {
		return nil, err
	}

	node := &models.ThreadNode{Email: payload, Replies: []*models.ThreadNode{}}
	for _, child := range container.Children {
		reply, err := tb.render(child, render)
		if err != nil {
			return nil, err
		}
		node.Replies = append(node.Replies, reply)
	}
	return node, nil
}
