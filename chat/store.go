// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import "sync"

// store is a keyed collection that remembers insertion order. Reads
// are safe from any goroutine; writes happen on the dispatch
// goroutine. Overwriting an existing key keeps its original position.
type store[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
	order   []K
}

func newStore[K comparable, V any]() *store[K, V] {
	return &store[K, V]{entries: make(map[K]V)}
}

func (s *store[K, V]) get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	return value, ok
}

func (s *store[K, V]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// values returns a snapshot in insertion order.
func (s *store[K, V]) values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]V, 0, len(s.order))
	for _, key := range s.order {
		values = append(values, s.entries[key])
	}
	return values
}

func (s *store[K, V]) set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = value
}

func (s *store[K, V]) remove(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	if !ok {
		return value, false
	}
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return value, true
}
