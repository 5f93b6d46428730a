// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package eventbus fans UI-facing events out to subscribers.
package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
)

// DefaultDepth is the subscriber buffer used when Subscribe is given depth <= 0.
const DefaultDepth = 256

// Bus fans out events of type T. Publish never blocks: a subscriber whose
// buffer is full misses the event.
type Bus[T any] struct {
	mu   sync.Mutex
	subs map[chan T]struct{}
	log  pslog.Logger
}

// New constructs a Bus.
func New[T any](logger pslog.Logger) *Bus[T] {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus[T]{
		subs: make(map[chan T]struct{}),
		log:  logger,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// function. Cancel closes the channel and may be called more than once.
func (b *Bus[T]) Subscribe(depth int) (<-chan T, func()) {
	if b == nil {
		return nil, func() {}
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	ch := make(chan T, depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	b.log.Debug("eventbus subscribe", "subs", count)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
			b.log.Debug("eventbus unsubscribe")
		})
	}
}

// Publish delivers event to every subscriber with room in its buffer.
func (b *Bus[T]) Publish(event T) {
	if b == nil {
		return
	}
	dropped := 0
	// Sends happen under the lock so cancel cannot close a channel mid-send.
	b.mu.Lock()
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.Debug("eventbus dropped", "count", dropped)
	}
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
