/*
 * Copyright 2026 The Titlekit Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache provides a size-bounded cache whose entries expire after a
// per-entry duration. The least recently used entry is evicted when the
// cache is full.
package cache

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrInvalidMaxSize is returned when the given max size is not positive.
var ErrInvalidMaxSize = errors.New("max size must be > 0")

// Cache is an expiring LRU cache keyed by string.
type Cache[V any] struct {
	mu sync.Mutex

	clock    clock.Clock
	maxSize  int
	eviction list.List
	entries  map[string]*list.Element
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// New creates an expiring cache with the given size.
func New[V any](maxSize int) (*Cache[V], error) {
	return NewWithClock[V](maxSize, clock.New())
}

// NewWithClock creates an expiring cache that reads the time from the
// given clock. Tests inject a mock to drive expiry.
func NewWithClock[V any](maxSize int, c clock.Clock) (*Cache[V], error) {
	if maxSize <= 0 {
		return nil, ErrInvalidMaxSize
	}

	return &Cache[V]{
		clock:   c,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
	}, nil
}

// Add stores the value at the given key for the given duration. Adding an
// existing key replaces its value and restarts its expiry.
func (c *Cache[V]) Add(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(ttl)
	if element, ok := c.entries[key]; ok {
		c.eviction.MoveToFront(element)
		element.Value.(*entry[V]).value = value
		element.Value.(*entry[V]).expiresAt = expiresAt
		return
	}

	if c.eviction.Len() >= c.maxSize {
		oldest := c.eviction.Back()
		c.eviction.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry[V]).key)
	}

	c.entries[key] = c.eviction.PushFront(&entry[V]{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
}

// Get returns the value at the given key unless it is absent or expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	element, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	if c.clock.Now().After(element.Value.(*entry[V]).expiresAt) {
		c.eviction.Remove(element)
		delete(c.entries, key)
		return zero, false
	}

	c.eviction.MoveToFront(element)
	return element.Value.(*entry[V]).value, true
}

// Len returns the number of stored entries, expired ones included until
// they are read.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.eviction.Len()
}
