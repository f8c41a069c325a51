package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"plantcare/pkg/domain"
)

const hubBuffer = 16

// Hub is an in-process feed for single-instance deployments and tests.
// Slow subscribers drop changes instead of blocking publishers.
type Hub struct {
	mu   sync.Mutex
	subs map[string]*hubSubscription
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]*hubSubscription)}
}

// Publish delivers the change to every subscription whose root contains it.
func (h *Hub) Publish(_ context.Context, change Change) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if !domain.IsUnder(change.Path, sub.root) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription that ends when ctx is done or Close is called.
func (h *Hub) Subscribe(ctx context.Context, root string) (Subscription, error) {
	sub := &hubSubscription{
		id:   uuid.NewString(),
		root: root,
		ch:   make(chan Change, hubBuffer),
		done: make(chan struct{}),
		hub:  h,
	}
	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

type hubSubscription struct {
	id   string
	root string
	ch   chan Change
	done chan struct{}
	hub  *Hub
	once sync.Once
}

func (s *hubSubscription) C() <-chan Change {
	return s.ch
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		close(s.ch)
		close(s.done)
		s.hub.mu.Unlock()
	})
	return nil
}
