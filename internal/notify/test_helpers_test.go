package notify

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return "notification-" + strconv.Itoa(p.next), nil
}

// fakeStore records created notifications and fails persistence for the
// recipients listed in failFor, once per configured count.
type fakeStore struct {
	mu      sync.Mutex
	created []Notification
	failFor map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{failFor: make(map[string]int)}
}

func (s *fakeStore) Create(_ context.Context, notification *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remaining := s.failFor[notification.RecipientID]; remaining > 0 {
		s.failFor[notification.RecipientID] = remaining - 1
		return errors.New("store unavailable")
	}
	s.created = append(s.created, *notification)
	return nil
}

func (s *fakeStore) ListForRecipient(_ context.Context, recipientID string, _ int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, notification := range s.created {
		if notification.RecipientID == recipientID {
			out = append(out, notification)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkRead(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}

func (s *fakeStore) createdFor(recipientID string) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, notification := range s.created {
		if notification.RecipientID == recipientID {
			out = append(out, notification)
		}
	}
	return out
}

// fakeQueue records pushed notifications and fails for the recipients listed
// in failFor, once per configured count.
type fakeQueue struct {
	mu      sync.Mutex
	pushed  map[string][]Notification
	failFor map[string]int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		pushed:  make(map[string][]Notification),
		failFor: make(map[string]int),
	}
}

func (q *fakeQueue) Push(_ context.Context, notification Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if remaining := q.failFor[notification.RecipientID]; remaining > 0 {
		q.failFor[notification.RecipientID] = remaining - 1
		return errors.New("queue unavailable")
	}
	q.pushed[notification.RecipientID] = append([]Notification{notification}, q.pushed[notification.RecipientID]...)
	return nil
}

func (q *fakeQueue) Drain(_ context.Context, recipientID string) ([]Notification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pushed[recipientID]
	delete(q.pushed, recipientID)
	return out, nil
}

func (q *fakeQueue) queuedFor(recipientID string) []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed[recipientID]
}

// fakePresence marks the listed recipients as connected and records
// deliveries.
type fakePresence struct {
	mu        sync.Mutex
	connected map[string]bool
	delivered []Notification
}

func newFakePresence(connected ...string) *fakePresence {
	p := &fakePresence{connected: make(map[string]bool)}
	for _, recipientID := range connected {
		p.connected[recipientID] = true
	}
	return p
}

func (p *fakePresence) Deliver(notification Notification) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected[notification.RecipientID] {
		return false
	}
	p.delivered = append(p.delivered, notification)
	return true
}

func (p *fakePresence) deliveredFor(recipientID string) []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Notification
	for _, notification := range p.delivered {
		if notification.RecipientID == recipientID {
			out = append(out, notification)
		}
	}
	return out
}

func newTestDispatcher(t *testing.T, store Store, presence Presence, queue Queue) *Dispatcher {
	t.Helper()
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Store:    store,
		Presence: presence,
		Queue:    queue,
		IDs:      &sequenceIDProvider{},
		Clock:    func() time.Time { return time.Unix(1724800000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("unexpected dispatcher error: %v", err)
	}
	return dispatcher
}
