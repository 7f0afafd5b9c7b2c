// Package events is the in-process broadcast used to tell decoupled observers
// (status persistence, notifications, API pollers) that a flip finished downloading.
package events

import (
	"context"
	"sync"

	"github.com/italolelis/flipcache/internal/flip"
)

// DownloadFinished is published once per FetchResource call.
type DownloadFinished struct {
	Flip *flip.Flip
	Err  error
}

// Failed mirrors the failure flag of the broadcast payload.
func (e DownloadFinished) Failed() bool {
	return e.Err != nil
}

type Handler func(ctx context.Context, e DownloadFinished)

// Bus dispatches synchronously to every subscriber registered at publish time.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		delete(b.handlers, id)
	}
}

// Publish is fire-and-forget: handlers cannot fail the publisher.
func (b *Bus) Publish(ctx context.Context, e DownloadFinished) {
	if b == nil {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))

	for id := 0; id < b.nextID; id++ {
		if h, ok := b.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, e)
	}
}
