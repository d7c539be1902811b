package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handler receives events published on a Bus.
type Handler func(Event)

// Publisher is the sending side of a Bus.
type Publisher interface {
	Publish(e Event)
}

type subscription struct {
	id string
	fn Handler
}

// Bus fans events out to every subscriber, synchronously and in
// subscription order. A nil *Bus drops everything.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers fn and returns an id for Unsubscribe.
func (b *Bus) Subscribe(fn Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()
	return id
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len reports the number of subscribers.
func (b *Bus) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers e to every current subscriber. Handlers may subscribe or
// unsubscribe while being called; those changes apply from the next Publish.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("events: subscriber panicked", "subscription", s.id, "type", string(e.Type), "panic", r)
		}
	}()
	s.fn(e)
}
