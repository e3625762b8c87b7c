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

package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/titlekit-team/titlekit/api/types"
	"github.com/titlekit-team/titlekit/internal/logging"
	"github.com/titlekit-team/titlekit/internal/validation"
	"github.com/titlekit-team/titlekit/pkg/eventqueue"
	"github.com/titlekit-team/titlekit/server/profiling/prometheus"
	"github.com/titlekit-team/titlekit/service"
)

var (
	// ErrAlreadyRegistered is returned when the given user already has a
	// stat document registered.
	ErrAlreadyRegistered = errors.New("user already registered")

	// ErrUserNotRegistered is returned when the given user has no stat
	// document registered.
	ErrUserNotRegistered = errors.New("user not registered")

	// ErrThrottled is returned when a normal-priority flush is requested
	// before the cooldown of the previous one has passed.
	ErrThrottled = errors.New("flush requested too soon")
)

// DefaultFlushCooldown is the minimum pause between two normal-priority
// requested flushes of the same user.
const DefaultFlushCooldown = 30 * time.Second

// Options configures how a Manager is set up.
type Options struct {
	// Clock supplies the time used for flush throttling. Defaults to the
	// wall clock; tests inject a mock.
	Clock clock.Clock

	// FlushCooldown overrides DefaultFlushCooldown.
	FlushCooldown time.Duration

	// OfflineWriter receives deltas that failed with a transport error.
	// Optional.
	OfflineWriter service.OfflineWriter

	// Logger is the logger of the manager. Defaults to a named SDK logger.
	Logger logging.Logger

	// Metrics collects flush and event counts. Optional.
	Metrics *prometheus.Metrics
}

// userEntry binds a registered user to its document and service clients.
type userEntry struct {
	user      types.User
	doc       *Document
	stats     service.StatsClient
	boards    service.LeaderboardClient
	lastFlush time.Time
}

// Manager mirrors the stats of every registered local user and reconciles
// them with the title service in the background. Mutations are synchronous
// and local; every remote outcome is delivered through PollEvents.
type Manager struct {
	mu    sync.Mutex
	users map[string]*userEntry

	queue    *eventqueue.Queue[Event]
	clock    clock.Clock
	cooldown time.Duration
	offline  service.OfflineWriter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger  logging.Logger
	metrics *prometheus.Metrics
}

// NewManager creates a new Manager.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.FlushCooldown == 0 {
		opts.FlushCooldown = DefaultFlushCooldown
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("stats")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		users:    make(map[string]*userEntry),
		queue:    eventqueue.New[Event](),
		clock:    opts.Clock,
		cooldown: opts.FlushCooldown,
		offline:  opts.OfflineWriter,
		ctx:      ctx,
		cancel:   cancel,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// AddLocalUser registers the given user and starts loading its server-side
// stat document in the background. A UserAddedEvent carrying the load
// outcome is enqueued once the load settles; the document is usable for
// local writes right away.
func (m *Manager) AddLocalUser(
	user types.User,
	statsClient service.StatsClient,
	boards service.LeaderboardClient,
) error {
	m.mu.Lock()
	if _, ok := m.users[user.ID()]; ok {
		m.mu.Unlock()
		return fmt.Errorf("user %s: %w", user.ID(), ErrAlreadyRegistered)
	}

	entry := &userEntry{
		user:   user,
		doc:    NewDocument(),
		stats:  statsClient,
		boards: boards,
	}
	m.users[user.ID()] = entry
	count := len(m.users)
	m.mu.Unlock()

	m.metrics.SetStatUsers(count)
	m.logger.Debugf("user %s registered", user.ID())

	m.spawn(func() {
		m.loadEntry(entry)
	})
	return nil
}

// RemoveLocalUser unregisters the given user. When the document still
// carries unflushed changes, a final best-effort flush runs in the
// background; the UserRemovedEvent carries its outcome.
func (m *Manager) RemoveLocalUser(user types.User) error {
	m.mu.Lock()
	entry, ok := m.users[user.ID()]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("user %s: %w", user.ID(), ErrUserNotRegistered)
	}

	delete(m.users, user.ID())
	count := len(m.users)
	dirty := entry.doc.IsDirty()
	m.mu.Unlock()

	m.metrics.SetStatUsers(count)
	m.logger.Debugf("user %s unregistered", user.ID())

	if !dirty {
		m.enqueue(Event{Type: UserRemovedEvent, User: user})
		return nil
	}

	m.spawn(func() {
		_, err := m.flushEntry(m.ctx, entry)
		m.enqueue(Event{Type: UserRemovedEvent, User: user, Err: err})
	})
	return nil
}

// SetStatAsNumber writes a numeric stat of the given user.
func (m *Manager) SetStatAsNumber(user types.User, name string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.entryOf(user)
	if err != nil {
		return err
	}
	return entry.doc.SetNumber(name, value)
}

// SetStatAsInteger writes an integer stat of the given user.
func (m *Manager) SetStatAsInteger(user types.User, name string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.entryOf(user)
	if err != nil {
		return err
	}
	return entry.doc.SetInteger(name, value)
}

// SetStatAsString writes a textual stat of the given user.
func (m *Manager) SetStatAsString(user types.User, name string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.entryOf(user)
	if err != nil {
		return err
	}
	return entry.doc.SetString(name, value)
}

// Stat returns the current value of the given stat.
func (m *Manager) Stat(user types.User, name string) (types.StatValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.entryOf(user)
	if err != nil {
		return types.StatValue{}, err
	}
	return entry.doc.Value(name)
}

// StatNames returns the names of the user's stats in sorted order.
func (m *Manager) StatNames(user types.User) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.entryOf(user)
	if err != nil {
		return nil, err
	}
	return entry.doc.Names(), nil
}

// DeleteStat removes the given stat locally and schedules its deletion on
// the service at the next flush.
func (m *Manager) DeleteStat(user types.User, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.entryOf(user)
	if err != nil {
		return err
	}
	return entry.doc.Delete(name)
}

// RequestFlush asks for the user's pending changes to be pushed ahead of
// the background cadence. Normal-priority requests within the cooldown of
// the previous one fail with ErrThrottled; high-priority requests bypass
// the cooldown. Completion is delivered as a StatUpdateCompleteEvent.
func (m *Manager) RequestFlush(user types.User, highPriority bool) error {
	m.mu.Lock()
	entry, ok := m.users[user.ID()]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("user %s: %w", user.ID(), ErrUserNotRegistered)
	}

	now := m.clock.Now()
	if !highPriority && !entry.lastFlush.IsZero() && now.Sub(entry.lastFlush) < m.cooldown {
		m.mu.Unlock()
		return fmt.Errorf("user %s: %w", user.ID(), ErrThrottled)
	}
	entry.lastFlush = now
	m.mu.Unlock()

	m.spawn(func() {
		_, err := m.flushEntry(m.ctx, entry)
		m.enqueue(Event{Type: StatUpdateCompleteEvent, User: entry.user, Err: err})
	})
	return nil
}

// FlushDirty pushes the pending changes of every registered user and blocks
// until the batch settles. It returns the smallest heartbeat interval the
// service advised (zero when it gave none) and the combined error of the
// failed flushes. The presence scheduler calls it once per admitted write
// cycle, so background stat flushes ride the presence cadence.
func (m *Manager) FlushDirty(ctx context.Context) (time.Duration, error) {
	m.mu.Lock()
	var pending []*userEntry
	for _, entry := range m.users {
		if entry.doc.IsDirty() {
			pending = append(pending, entry)
		}
	}
	m.mu.Unlock()

	if len(pending) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	var resultMu sync.Mutex
	var advised time.Duration
	var combined error

	for _, entry := range pending {
		entry := entry
		wg.Add(1)
		go func() {
			defer wg.Done()

			interval, err := m.flushEntry(ctx, entry)
			m.enqueue(Event{Type: StatUpdateCompleteEvent, User: entry.user, Err: err})

			resultMu.Lock()
			defer resultMu.Unlock()
			if err != nil {
				combined = multierr.Append(combined, err)
				return
			}
			if interval > 0 && (advised == 0 || interval < advised) {
				advised = interval
			}
		}()
	}
	wg.Wait()

	return advised, combined
}

// QueryLeaderboard fetches one page of the global leaderboard of the given
// stat in the background. Completion is delivered as a
// LeaderboardCompleteEvent; the stat does not have to exist locally.
func (m *Manager) QueryLeaderboard(user types.User, statName string, query types.LeaderboardQuery) error {
	query.StatName = statName
	query.SocialGroup = ""
	return m.queryLeaderboard(user, query)
}

// QuerySocialLeaderboard fetches one page of the leaderboard of the given
// stat restricted to members of the given social group.
func (m *Manager) QuerySocialLeaderboard(
	user types.User,
	statName string,
	socialGroup string,
	query types.LeaderboardQuery,
) error {
	query.StatName = statName
	query.SocialGroup = socialGroup
	return m.queryLeaderboard(user, query)
}

func (m *Manager) queryLeaderboard(user types.User, query types.LeaderboardQuery) error {
	if err := validation.ValidateStatName(query.StatName); err != nil {
		return fmt.Errorf("stat name %q: %w", query.StatName, ErrStatNameInvalid)
	}

	m.mu.Lock()
	entry, ok := m.users[user.ID()]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("user %s: %w", user.ID(), ErrUserNotRegistered)
	}

	m.spawn(func() {
		result, err := entry.boards.Query(m.ctx, query)
		if err != nil {
			m.logger.Warnf("leaderboard %s for %s: %v", query.StatName, entry.user.ID(), err)
		}
		m.enqueue(Event{
			Type:        LeaderboardCompleteEvent,
			User:        entry.user,
			Err:         err,
			Leaderboard: result,
		})
	})
	return nil
}

// PollEvents drains and returns the completion events accumulated since
// the previous call, in order. The host calls it from its frame loop; no
// network or blocking work happens here.
func (m *Manager) PollEvents() []Event {
	items := m.queue.Drain()
	if len(items) == 0 {
		return nil
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		event := item.Value
		event.Seq = item.Seq
		events = append(events, event)
	}
	return events
}

// Size returns the number of registered users.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.users)
}

// Close cancels the in-flight background work of the manager and waits for
// it to settle. Events already enqueued stay drainable.
func (m *Manager) Close() error {
	m.cancel()
	m.wg.Wait()
	return nil
}

// entryOf returns the entry of the given user. The caller must hold m.mu.
func (m *Manager) entryOf(user types.User) (*userEntry, error) {
	entry, ok := m.users[user.ID()]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", user.ID(), ErrUserNotRegistered)
	}
	return entry, nil
}

// loadEntry fetches the server-side document of a freshly added user and
// merges it under the manager lock. The UserAddedEvent always fires, even
// when the user was removed while the load was in flight.
func (m *Manager) loadEntry(entry *userEntry) {
	snapshot, err := entry.stats.Load(m.ctx)

	m.mu.Lock()
	if current, ok := m.users[entry.user.ID()]; ok && current == entry {
		if err != nil {
			entry.doc.MarkOffline()
		} else {
			entry.doc.Merge(snapshot)
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warnf("load stats for %s: %v", entry.user.ID(), err)
	}
	m.enqueue(Event{Type: UserAddedEvent, User: entry.user, Err: err})
}

// flushEntry pushes the entry's pending changes and returns the heartbeat
// interval the service advised. The callers enqueue the completion events.
func (m *Manager) flushEntry(ctx context.Context, entry *userEntry) (time.Duration, error) {
	m.mu.Lock()
	state := entry.doc.State()
	m.mu.Unlock()

	// Catch up with the server-side document before pushing on top of it.
	// A failed load keeps the document offline; the delta is pushed anyway
	// so progress does not stall on a flaky read path.
	if state != StateLoaded {
		if snapshot, err := entry.stats.Load(ctx); err != nil {
			m.mu.Lock()
			entry.doc.MarkOffline()
			m.mu.Unlock()
			m.logger.Warnf("load stats for %s: %v", entry.user.ID(), err)
		} else {
			m.mu.Lock()
			entry.doc.Merge(snapshot)
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	delta, versions := entry.doc.Snapshot()
	m.mu.Unlock()

	if delta.Empty() {
		return 0, nil
	}

	advised, err := entry.stats.Flush(ctx, delta)
	if err != nil {
		m.metrics.AddStatFlush(true)
		m.writeOffline(ctx, entry.user, delta, err)
		return 0, fmt.Errorf("flush stats for %s: %w", entry.user.ID(), err)
	}

	m.mu.Lock()
	entry.doc.Commit(delta, versions)
	m.mu.Unlock()

	m.metrics.AddStatFlush(false)
	m.metrics.AddStatFlushChanges(delta.Size())
	m.logger.Debugf("flushed %d changes for %s", delta.Size(), entry.user.ID())
	return advised, nil
}

// writeOffline journals a delta that failed to flush. Only transport
// failures are journaled; the journal is best-effort.
func (m *Manager) writeOffline(ctx context.Context, user types.User, delta types.StatDelta, cause error) {
	if m.offline == nil {
		return
	}
	if _, ok := service.AsTransportError(cause); !ok {
		return
	}

	if err := m.offline.WriteOffline(ctx, user, delta); err != nil {
		m.logger.Warnf("offline journal for %s: %v", user.ID(), err)
		return
	}
	m.metrics.AddOfflineWrite()
}

func (m *Manager) enqueue(event Event) {
	m.queue.Push(event)
	m.metrics.AddEnqueuedEvent(string(event.Type))
}

func (m *Manager) spawn(task func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		task()
	}()
}
