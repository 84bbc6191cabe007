package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// QueueSubscriber is a Subscriber backed by a bounded channel. The transport
// drains Messages and selects on Done to notice the connection going away.
type QueueSubscriber struct {
	id       string
	messages chan []byte
	done     chan struct{}
	once     sync.Once
}

// NewQueueSubscriber creates a subscriber buffering up to size messages
func NewQueueSubscriber(size int) *QueueSubscriber {
	if size <= 0 {
		size = 16
	}
	return &QueueSubscriber{
		id:       uuid.New().String(),
		messages: make(chan []byte, size),
		done:     make(chan struct{}),
	}
}

// ID returns the connection id
func (q *QueueSubscriber) ID() string {
	return q.id
}

// Deliver enqueues message unless the queue is full or the subscriber is closed
func (q *QueueSubscriber) Deliver(message []byte) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.messages <- message:
		return true
	default:
		return false
	}
}

// Messages is the outbound queue
func (q *QueueSubscriber) Messages() <-chan []byte {
	return q.messages
}

// Done is closed when the subscriber is closed
func (q *QueueSubscriber) Done() <-chan struct{} {
	return q.done
}

// Close marks the subscriber closed, unblocking every waiter on Done.
// Safe to call more than once.
func (q *QueueSubscriber) Close() {
	q.once.Do(func() { close(q.done) })
}
