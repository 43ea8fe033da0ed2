package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives a payload synchronously on the publisher's goroutine.
type Handler func(payload any)

// Bus is the in-process pub/sub hub. Handlers run synchronously in
// registration order; channel subscribers get a non-blocking copy afterwards.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
	subs     map[Event][]chan any
	log      zerolog.Logger
}

// NewBus creates an event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Event][]Handler),
		subs:     make(map[Event][]chan any),
		log:      log,
	}
}

// Handle registers a synchronous handler for e.
func (b *Bus) Handle(e Event, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[e] = append(b.handlers[e], h)
}

// Subscribe registers a buffered channel listener and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// Publish invokes every handler for e in registration order, then fans the
// payload out to channel subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(e, h, payload)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			// slow subscriber; drop
		}
	}
}

func (b *Bus) invoke(e Event, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("event", string(e)).Str("panic", fmt.Sprint(r)).Msg("event handler panicked")
		}
	}()
	h(payload)
}
