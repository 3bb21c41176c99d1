package notify

import (
	"context"
	"sync"
)

// Presence resolves whether a recipient has a live delivery channel and
// performs the live write. The process-local Registry below implements it for
// a single-instance deployment; a pub/sub-backed implementation can replace
// it when the service scales horizontally.
type Presence interface {
	Deliver(notification Notification) bool
}

// Registry is the process-local map of recipient id to open real-time
// channels. Entries live only as long as their subscription context.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Notification
}

// NewRegistry constructs an empty client registry.
func NewRegistry() *Registry {
	return &Registry{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe opens a channel for the recipient. The channel is removed when
// the context is done or the returned cleanup runs, whichever comes first.
func (r *Registry) Subscribe(ctx context.Context, recipientID string) (<-chan Notification, func()) {
	if recipientID == "" {
		ch := make(chan Notification)
		close(ch)
		return ch, func() {}
	}
	entry := &subscriber{
		id:     r.nextSequence(),
		stream: make(chan Notification, r.bufferSize),
	}
	r.register(recipientID, entry)
	cleanup := func() {
		r.unregister(recipientID, entry.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return entry.stream, cleanup
}

// Deliver writes the notification to every live channel of its recipient and
// reports whether at least one channel existed. Sends never block; a full
// buffer drops the live copy, which is safe because the notification is
// already durably persisted before delivery is attempted.
func (r *Registry) Deliver(notification Notification) bool {
	if notification.RecipientID == "" {
		return false
	}
	r.mu.RLock()
	entries := r.subscribers[notification.RecipientID]
	if len(entries) == 0 {
		r.mu.RUnlock()
		return false
	}
	copies := make([]*subscriber, 0, len(entries))
	for _, entry := range entries {
		copies = append(copies, entry)
	}
	r.mu.RUnlock()
	for _, entry := range copies {
		select {
		case entry.stream <- notification:
		default:
		}
	}
	return true
}

// Connected reports whether the recipient has any live channel.
func (r *Registry) Connected(recipientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[recipientID]) > 0
}

func (r *Registry) nextSequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

func (r *Registry) register(recipientID string, entry *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribers[recipientID]; !ok {
		r.subscribers[recipientID] = make(map[int64]*subscriber)
	}
	r.subscribers[recipientID][entry.id] = entry
}

func (r *Registry) unregister(recipientID string, subscriberID int64) {
	r.mu.Lock()
	entries := r.subscribers[recipientID]
	if entries != nil {
		delete(entries, subscriberID)
		if len(entries) == 0 {
			delete(r.subscribers, recipientID)
		}
	}
	r.mu.Unlock()
}
