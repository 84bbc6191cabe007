package realtime

import (
	"context"
	"gotmail/metrics"
	"gotmail/utils"
	"sync"
)

// Subscriber is one live connection able to receive pushed messages
type Subscriber interface {
	// ID identifies the connection within its group
	ID() string
	// Deliver hands a message to the connection without blocking.
	// It returns false when the message was dropped.
	Deliver(message []byte) bool
}

// Bus delivers messages to every subscriber registered under a group name
type Bus interface {
	GroupAdd(ctx context.Context, group string, sub Subscriber) error
	GroupDiscard(ctx context.Context, group string, subscriberID string) error
	GroupSend(ctx context.Context, group string, message []byte) error
}

// MemoryBus is an in-process Bus
type MemoryBus struct {
	mu     sync.RWMutex
	groups map[string]map[string]Subscriber
}

// NewMemoryBus creates an empty in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{groups: make(map[string]map[string]Subscriber)}
}

// GroupAdd registers sub under group, replacing a subscriber with the same ID
func (b *MemoryBus) GroupAdd(ctx context.Context, group string, sub Subscriber) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.groups[group]
	if !ok {
		members = make(map[string]Subscriber)
		b.groups[group] = members
	}
	members[sub.ID()] = sub
	return nil
}

// GroupDiscard removes a subscriber from group. Unknown members are ignored.
func (b *MemoryBus) GroupDiscard(ctx context.Context, group string, subscriberID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.groups[group]
	if !ok {
		return nil
	}
	delete(members, subscriberID)
	if len(members) == 0 {
		delete(b.groups, group)
	}
	return nil
}

// GroupSend delivers message to every current member of group.
// An empty group is a no-op.
func (b *MemoryBus) GroupSend(ctx context.Context, group string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	members := make([]Subscriber, 0, len(b.groups[group]))
	for _, sub := range b.groups[group] {
		members = append(members, sub)
	}
	b.mu.RUnlock()

	for _, sub := range members {
		if sub.Deliver(message) {
			metrics.PushDelivered.Inc()
			continue
		}
		metrics.PushDropped.Inc()
		utils.Log.Warn("Push queue full for connection %s in %s, event dropped", sub.ID(), group)
	}
	return nil
}

// Members returns the number of subscribers in group
func (b *MemoryBus) Members(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}
