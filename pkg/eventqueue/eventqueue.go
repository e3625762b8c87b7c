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

// Package eventqueue provides an unbounded queue that producers push to
// without ever blocking and a consumer drains in batches.
package eventqueue

import "sync"

// Item is an element of the queue paired with the sequence number it was
// assigned at push time.
type Item[T any] struct {
	// Seq is the position of the element in push order. Sequence numbers
	// start at 1, grow monotonically and never repeat.
	Seq uint64

	// Value is the pushed element.
	Value T
}

// Queue is an unbounded multi-producer queue. It is safe for concurrent
// use. Completion events pile up here until the host's frame loop pulls
// them, so pushes must stay cheap and free of I/O.
type Queue[T any] struct {
	mu      sync.Mutex
	pending []Item[T]
	seq     uint64
}

// New creates a new Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends the given element and returns its sequence number.
func (q *Queue[T]) Push(value T) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	q.pending = append(q.pending, Item[T]{Seq: q.seq, Value: value})
	return q.seq
}

// Drain removes and returns every pending element in push order. It returns
// nil when the queue is empty.
func (q *Queue[T]) Drain() []Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.pending
	q.pending = nil
	return items
}

// Len returns the number of pending elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}
