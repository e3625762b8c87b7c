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

// Package presence provides the background writer that keeps registered
// users marked online on the title service. A single loop ticks for all
// users; at most one write cycle is in flight at any time and the service
// decides, through advised heartbeat intervals, how often the next one runs.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/titlekit-team/titlekit/api/types"
	"github.com/titlekit-team/titlekit/internal/logging"
	"github.com/titlekit-team/titlekit/pkg/gate"
	"github.com/titlekit-team/titlekit/server/profiling/prometheus"
	"github.com/titlekit-team/titlekit/service"
	"github.com/titlekit-team/titlekit/stats"
)

// ErrWriterClosed is returned when starting or stopping presence on a
// writer that has been closed.
var ErrWriterClosed = errors.New("presence writer closed")

const (
	// DefaultTickInterval is the cadence of the countdown loop.
	DefaultTickInterval = time.Minute

	// DefaultHeartbeatInterval is used when a write cycle yields no
	// advised interval at all.
	DefaultHeartbeatInterval = 5 * time.Minute
)

// FlushHook runs inside an admitted write cycle, after the presence
// fan-out. It returns the heartbeat interval it wants to advise, or zero
// for no opinion. The stats manager registers its FlushDirty here so dirty
// stats ride the presence cadence.
type FlushHook func(ctx context.Context) (time.Duration, error)

// Options configures how a Writer is set up.
type Options struct {
	// Clock supplies the ticker of the loop. Defaults to the wall clock;
	// tests inject a mock.
	Clock clock.Clock

	// TickInterval overrides DefaultTickInterval.
	TickInterval time.Duration

	// DefaultHeartbeat overrides DefaultHeartbeatInterval.
	DefaultHeartbeat time.Duration

	// FlushHooks run inside every admitted write cycle.
	FlushHooks []FlushHook

	// Logger is the logger of the writer. Defaults to a named SDK logger.
	Logger logging.Logger

	// Metrics collects write cycle counts. Optional.
	Metrics *prometheus.Metrics
}

type subscription struct {
	user   types.User
	client service.PresenceClient
}

// Writer keeps every subscribed user marked online. The loop starts with
// the first subscription and winds down within one tick after the last one
// is gone. Subscriptions change only under the mutex, and the mutex is
// never held across a network call.
type Writer struct {
	mu     sync.Mutex
	subs   map[string]subscription
	active bool
	closed bool
	stop   chan struct{}

	// countdown is the number of ticks until the next write cycle. Ticks
	// decrement it without the mutex; a finished cycle stores the next
	// value.
	countdown atomic.Int32
	gate      *gate.Gate

	tick     time.Duration
	fallback time.Duration
	hooks    []FlushHook
	clock    clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger  logging.Logger
	metrics *prometheus.Metrics
}

// NewWriter creates a new Writer.
func NewWriter(opts Options) *Writer {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.DefaultHeartbeat == 0 {
		opts.DefaultHeartbeat = DefaultHeartbeatInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("presence")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		subs:     make(map[string]subscription),
		gate:     gate.New(),
		tick:     opts.TickInterval,
		fallback: opts.DefaultHeartbeat,
		hooks:    opts.FlushHooks,
		clock:    opts.Clock,
		ctx:      ctx,
		cancel:   cancel,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Start subscribes the given user to background presence writes. Starting
// an already subscribed user replaces its client handle. The first
// subscription spawns the loop with an immediate write on the next tick.
func (w *Writer) Start(user types.User, client service.PresenceClient) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}

	w.subs[user.ID()] = subscription{user: user, client: client}
	count := len(w.subs)
	starting := !w.active
	if starting {
		w.active = true
		w.stop = make(chan struct{})
		w.countdown.Store(0)
		w.wg.Add(1)
	}
	stop := w.stop
	w.mu.Unlock()

	w.metrics.SetPresenceUsers(count)
	if starting {
		w.metrics.SetWriterActive(true)
		w.logger.Debugf("presence loop started")
		go func() {
			defer w.wg.Done()
			w.run(stop)
		}()
	}
	return nil
}

// Stop unsubscribes the given user and clears its presence in the
// background. The last removal deactivates the loop, which exits within
// one tick.
func (w *Writer) Stop(user types.User) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}

	sub, ok := w.subs[user.ID()]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("user %s: %w", user.ID(), stats.ErrUserNotRegistered)
	}

	delete(w.subs, user.ID())
	count := len(w.subs)
	var stop chan struct{}
	if count == 0 {
		w.active = false
		w.countdown.Store(0)
		stop = w.stop
	}
	w.wg.Add(1)
	w.mu.Unlock()

	w.metrics.SetPresenceUsers(count)
	if stop != nil {
		close(stop)
		w.metrics.SetWriterActive(false)
		w.logger.Debugf("presence loop stopping")
	}

	// The service marks silent users offline on its own eventually, so a
	// failed clear is logged and dropped.
	go func() {
		defer w.wg.Done()
		if _, err := sub.client.SetPresence(w.ctx, false); err != nil {
			w.logger.Warnf("clear presence for %s: %v", sub.user.ID(), err)
		}
	}()
	return nil
}

// Active returns whether the loop is running.
func (w *Writer) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.active
}

// Size returns the number of subscribed users.
func (w *Writer) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.subs)
}

// Close stops the loop, abandons in-flight writes and waits for the
// background work to settle. Subscribed users are dropped without a
// presence clear.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.subs = make(map[string]subscription)
	var stop chan struct{}
	if w.active {
		w.active = false
		stop = w.stop
	}
	w.mu.Unlock()

	if stop != nil {
		close(stop)
		w.metrics.SetWriterActive(false)
	}
	w.cancel()
	w.wg.Wait()
	return nil
}

func (w *Writer) run(stop chan struct{}) {
	ticker := w.clock.Ticker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			w.handleTick()
		}
	}
}

// handleTick counts the tick down and starts a write cycle when it is due.
// A cycle still in flight from an earlier tick keeps the gate, and the due
// tick is dropped rather than queued.
func (w *Writer) handleTick() {
	if w.countdown.Add(-1) > 0 {
		return
	}

	if !w.gate.TryAcquire() {
		w.metrics.AddSkippedPresenceCycle()
		w.logger.Debugf("write cycle still in flight, tick skipped")
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.gate.Release()
		w.writeCycle()
	}()
}

// writeCycle fans SetPresence out to every subscriber, runs the flush
// hooks and schedules the next cycle from the shortest advised interval.
func (w *Writer) writeCycle() {
	w.mu.Lock()
	subs := make([]subscription, 0, len(w.subs))
	for _, sub := range w.subs {
		subs = append(subs, sub)
	}
	w.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	w.metrics.AddAdmittedPresenceCycle()

	type outcome struct {
		userID   string
		interval time.Duration
		err      error
	}
	results := make(chan outcome, len(subs))
	for _, sub := range subs {
		sub := sub
		go func() {
			interval, err := sub.client.SetPresence(w.ctx, true)
			results <- outcome{userID: sub.user.ID(), interval: interval, err: err}
		}()
	}

	var next time.Duration
	var failed error
	succeeded := 0
	for range subs {
		result := <-results
		if result.err != nil {
			failed = multierr.Append(failed, fmt.Errorf("presence for %s: %w", result.userID, result.err))
			continue
		}
		succeeded++
		if result.interval > 0 && (next == 0 || result.interval < next) {
			next = result.interval
		}
	}

	w.metrics.AddPresenceWrites(succeeded)
	w.metrics.AddPresenceWriteFailures(len(subs) - succeeded)
	if failed != nil {
		w.logger.Warnf("presence write cycle: %v", failed)
	}

	// Dirty stats ride the same cycle. A hook reports its failures through
	// its own events; only its advised interval matters here.
	for _, hook := range w.hooks {
		interval, err := hook(w.ctx)
		if err != nil {
			w.logger.Debugf("flush hook: %v", err)
			continue
		}
		if interval > 0 && (next == 0 || interval < next) {
			next = interval
		}
	}

	if next == 0 {
		next = w.fallback
	}
	w.countdown.Store(w.ticksFor(next))
	w.metrics.SetHeartbeatInterval(next.Seconds())
	w.logger.Debugf("write cycle done for %d users, next in %s", len(subs), next)
}

// ticksFor converts an advised interval into whole ticks, rounding up.
func (w *Writer) ticksFor(interval time.Duration) int32 {
	ticks := (interval + w.tick - 1) / w.tick
	if ticks < 1 {
		ticks = 1
	}
	return int32(ticks)
}
