package realtime

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus. It backs single-instance deployments
// without Redis and the component tests.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	ch   chan []byte
	drop chan struct{}
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySub]struct{})}
}

// Publish delivers payload to every listener of channel, blocking while a
// listener's queue is full.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	targets := make([]*memorySub, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		case <-s.drop:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Listen registers a listener and delivers payloads until ctx is cancelled.
// Disconnect forces a re-subscribe, which runs onConnect again.
func (b *MemoryBus) Listen(ctx context.Context, channel string, onConnect func(context.Context) error, onMessage func([]byte)) error {
	for ctx.Err() == nil {
		sub := b.register(channel)
		if sub == nil {
			return nil
		}
		if onConnect != nil {
			onConnect(ctx)
		}

	loop:
		for {
			select {
			case <-ctx.Done():
				b.unregister(channel, sub)
				return nil
			case <-sub.drop:
				break loop
			case msg := <-sub.ch:
				onMessage(msg)
			}
		}
		b.unregister(channel, sub)
	}
	return nil
}

// Disconnect drops every listener on channel, simulating transport loss.
func (b *MemoryBus) Disconnect(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[channel] {
		close(s.drop)
		delete(b.subs[channel], s)
	}
}

// Listeners returns the number of active listeners on channel.
func (b *MemoryBus) Listeners(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

// Close drops all listeners and makes further Listen calls return at once.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	for ch := range b.channels() {
		b.Disconnect(ch)
	}
	return nil
}

func (b *MemoryBus) channels() map[string]struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]struct{}, len(b.subs))
	for ch := range b.subs {
		out[ch] = struct{}{}
	}
	return out
}

func (b *MemoryBus) register(channel string) *memorySub {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	s := &memorySub{ch: make(chan []byte, 64), drop: make(chan struct{})}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySub]struct{})
	}
	b.subs[channel][s] = struct{}{}
	return s
}

func (b *MemoryBus) unregister(channel string, s *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[channel], s)
}
