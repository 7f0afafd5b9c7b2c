// Package inflight tracks which resource keys are being downloaded right now and
// lets concurrent requesters for the same key share one download.
package inflight

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Tracker is safe for concurrent use. The zero value is not usable; call New.
type Tracker[T any] struct {
	mu      sync.Mutex
	markers map[string]struct{}
	group   singleflight.Group
}

func New[T any]() *Tracker[T] {
	return &Tracker[T]{markers: make(map[string]struct{})}
}

// Add marks key as in flight. It returns false if key was already marked.
func (t *Tracker[T]) Add(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.markers[key]; ok {
		return false
	}

	t.markers[key] = struct{}{}

	return true
}

func (t *Tracker[T]) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.markers, key)
}

func (t *Tracker[T]) Contains(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.markers[key]

	return ok
}

// Keys returns a sorted snapshot of the marked keys.
func (t *Tracker[T]) Keys() []string {
	t.mu.Lock()
	keys := make([]string, 0, len(t.markers))

	for k := range t.markers {
		keys = append(keys, k)
	}
	t.mu.Unlock()

	sort.Strings(keys)

	return keys
}

func (t *Tracker[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.markers)
}

// Do runs fn for key unless a call for key is already in flight, in which case
// it waits for that call and returns its outcome with shared set to true.
// The key stays marked for exactly as long as fn runs.
//
// ctx only bounds the wait: a caller that gives up does not cancel fn, which keeps
// running for the other waiters.
func (t *Tracker[T]) Do(ctx context.Context, key string, fn func() (T, error)) (v T, shared bool, err error) {
	ch := t.group.DoChan(key, func() (any, error) {
		t.Add(key)
		defer t.Remove(key)

		return fn()
	})

	select {
	case <-ctx.Done():
		var zero T

		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Val != nil {
			v, _ = res.Val.(T)
		}

		return v, res.Shared, res.Err
	}
}
