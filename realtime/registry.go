package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"gotmail/metrics"
	"gotmail/models"
	"gotmail/utils"
	"sync"
	"sync/atomic"
)

// ErrRejected is returned by Connect when the token does not resolve to a user
var ErrRejected = errors.New("connection rejected")

// IdentityResolver maps a session token to its user
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (*models.User, error)
}

// State is the lifecycle state of a connection handle
type State int32

const (
	StatePending State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Handle is a registered live connection
type Handle struct {
	UserID  int64
	Channel string
	sub     Subscriber
	state   atomic.Int32
}

// ID returns the connection id
func (h *Handle) ID() string {
	return h.sub.ID()
}

// State returns the current lifecycle state
func (h *Handle) State() State {
	return State(h.state.Load())
}

// ChannelName returns the push channel of a user
func ChannelName(userID int64) string {
	return fmt.Sprintf("user_%d_emails", userID)
}

// Registry tracks the live connections of every user. A user keeps at most
// one registered connection: a new connection evicts the previous ones.
type Registry struct {
	bus      Bus
	resolver IdentityResolver
	locks    *keyedMutex

	mu     sync.RWMutex
	active map[int64]map[string]*Handle
}

// NewRegistry creates an empty registry publishing through bus
func NewRegistry(bus Bus, resolver IdentityResolver) *Registry {
	return &Registry{
		bus:      bus,
		resolver: resolver,
		locks:    newKeyedMutex(),
		active:   make(map[int64]map[string]*Handle),
	}
}

// Connect authenticates token and registers sub as the user's live connection.
// Previously registered connections of the user are removed from the channel
// first, and their subscribers are closed when they support it.
func (r *Registry) Connect(ctx context.Context, token string, sub Subscriber) (*Handle, error) {
	user, err := r.resolver.ResolveIdentity(ctx, token)
	if err != nil || user == nil {
		metrics.LiveRejected.Inc()
		utils.Log.Debug("Live connection %s rejected: %v", sub.ID(), err)
		return nil, ErrRejected
	}

	handle := &Handle{
		UserID:  user.ID,
		Channel: ChannelName(user.ID),
		sub:     sub,
	}

	unlock := r.locks.Lock(user.ID)
	defer unlock()

	for _, stale := range r.remove(user.ID) {
		if err := r.bus.GroupDiscard(ctx, stale.Channel, stale.ID()); err != nil {
			utils.Log.Debug("Discard of stale connection %s failed: %v", stale.ID(), err)
		}
		stale.state.Store(int32(StateClosed))
		if closer, ok := stale.sub.(interface{ Close() }); ok {
			closer.Close()
		}
		metrics.LiveEvictions.Inc()
		metrics.LiveConnections.Dec()
		utils.Log.Info("Evicted stale connection %s of user %d", stale.ID(), user.ID)
	}

	if err := r.bus.GroupAdd(ctx, handle.Channel, sub); err != nil {
		handle.state.Store(int32(StateClosed))
		return nil, fmt.Errorf("failed to join %s: %w", handle.Channel, err)
	}

	r.mu.Lock()
	r.active[user.ID] = map[string]*Handle{handle.ID(): handle}
	r.mu.Unlock()

	handle.state.Store(int32(StateOpen))
	metrics.LiveConnections.Inc()
	utils.Log.Info("Live connection %s opened for user %d", handle.ID(), user.ID)
	return handle, nil
}

// remove drops and returns every handle registered for userID
func (r *Registry) remove(userID int64) []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := make([]*Handle, 0, len(r.active[userID]))
	for _, h := range r.active[userID] {
		handles = append(handles, h)
	}
	delete(r.active, userID)
	return handles
}

// Disconnect unregisters a connection. Handles that were already evicted or
// disconnected are ignored, so calling it twice is harmless.
func (r *Registry) Disconnect(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}

	unlock := r.locks.Lock(h.UserID)
	defer unlock()

	r.mu.Lock()
	registered := false
	if conns, ok := r.active[h.UserID]; ok {
		if _, ok := conns[h.ID()]; ok {
			registered = true
			delete(conns, h.ID())
		}
		if len(conns) == 0 {
			delete(r.active, h.UserID)
		}
	}
	r.mu.Unlock()

	if err := r.bus.GroupDiscard(ctx, h.Channel, h.ID()); err != nil {
		utils.Log.Debug("Discard of connection %s failed: %v", h.ID(), err)
	}
	h.state.Store(int32(StateClosed))

	if registered {
		metrics.LiveConnections.Dec()
		utils.Log.Info("Live connection %s closed for user %d", h.ID(), h.UserID)
	}
}

// Publish sends event to every connection of userID. A user without live
// connections is a silent no-op.
func (r *Registry) Publish(ctx context.Context, userID int64, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode push event: %w", err)
	}
	return r.bus.GroupSend(ctx, ChannelName(userID), data)
}

// Connections returns the ids of the connections registered for userID
func (r *Registry) Connections(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.active[userID]))
	for id := range r.active[userID] {
		ids = append(ids, id)
	}
	return ids
}

// keyedMutex serializes work per user. Entries are reference counted and
// removed once nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*refMutex)}
}

// Lock acquires the mutex of key and returns its release function
func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
