package adapter

import (
	"context"
	"sort"
	"sync"
)

// LocalBus is an in-process Bus. A single instance shared by multiple
// broadcasters behaves like a tiny message broker, which is how multi-node
// fan-out is exercised without an external backend.
type LocalBus struct {
	mu        sync.Mutex
	nextToken int
	subs      map[string]map[int]func([]byte)
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]func([]byte))}
}

// Publish delivers the payload to every subscriber of the channel,
// synchronously and in registration order.
func (b *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	handlers := make([]func([]byte), 0, len(b.subs[channel]))
	tokens := make([]int, 0, len(b.subs[channel]))
	for token := range b.subs[channel] {
		tokens = append(tokens, token)
	}
	// Map order is random; sort tokens so delivery order is stable.
	sort.Ints(tokens)
	for _, token := range tokens {
		handlers = append(handlers, b.subs[channel][token])
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(payload)
	}
	return nil
}

// Subscribe registers a handler for the channel.
func (b *LocalBus) Subscribe(_ context.Context, channel string, handler func([]byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := b.nextToken
	b.nextToken++
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]func([]byte))
	}
	b.subs[channel][token] = handler

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[channel], token)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
	}
	return cancel, nil
}
