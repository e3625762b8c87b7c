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

// Package gate provides a non-blocking admission gate that admits at most
// one holder at a time.
package gate

import "sync/atomic"

// A Gate admits at most one holder at a time. Callers that fail to acquire
// it skip their turn instead of waiting, so a slow holder never piles up
// queued work behind itself.
type Gate struct {
	held atomic.Bool
}

// New creates a new Gate.
func New() *Gate {
	return &Gate{}
}

// TryAcquire attempts to take the gate. It returns false without blocking
// while another holder is inside.
func (g *Gate) TryAcquire() bool {
	return g.held.CompareAndSwap(false, true)
}

// Release opens the gate again. Releasing a gate that is not held panics.
func (g *Gate) Release() {
	if !g.held.CompareAndSwap(true, false) {
		panic("gate: release of an idle gate")
	}
}

// Held reports whether the gate currently has a holder.
func (g *Gate) Held() bool {
	return g.held.Load()
}
