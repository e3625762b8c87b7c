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

package stats_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titlekit-team/titlekit/api/types"
	"github.com/titlekit-team/titlekit/service"
	"github.com/titlekit-team/titlekit/stats"
)

type fakeStatsClient struct {
	mu       sync.Mutex
	snapshot map[string]types.StatValue
	loadErr  error
	flushErr error
	advised  time.Duration
	loads    int
	flushes  []types.StatDelta
}

func (c *fakeStatsClient) Load(_ context.Context) (map[string]types.StatValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loads++
	if c.loadErr != nil {
		return nil, c.loadErr
	}

	snapshot := make(map[string]types.StatValue, len(c.snapshot))
	for name, value := range c.snapshot {
		snapshot[name] = value
	}
	return snapshot, nil
}

func (c *fakeStatsClient) Flush(_ context.Context, delta types.StatDelta) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flushErr != nil {
		return 0, c.flushErr
	}
	c.flushes = append(c.flushes, delta)
	return c.advised, nil
}

func (c *fakeStatsClient) setFlushErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushErr = err
}

func (c *fakeStatsClient) flushed() []types.StatDelta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.StatDelta(nil), c.flushes...)
}

func (c *fakeStatsClient) loadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

type fakeBoardsClient struct {
	mu      sync.Mutex
	result  *types.LeaderboardResult
	err     error
	queries []types.LeaderboardQuery
}

func (c *fakeBoardsClient) Query(_ context.Context, query types.LeaderboardQuery) (*types.LeaderboardResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queries = append(c.queries, query)
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func (c *fakeBoardsClient) queried() []types.LeaderboardQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.LeaderboardQuery(nil), c.queries...)
}

type fakeOfflineWriter struct {
	mu     sync.Mutex
	err    error
	writes []types.StatDelta
}

func (w *fakeOfflineWriter) WriteOffline(_ context.Context, _ types.User, delta types.StatDelta) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, delta)
	return nil
}

func (w *fakeOfflineWriter) written() []types.StatDelta {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]types.StatDelta(nil), w.writes...)
}

// pollEvents drains the manager until at least count events arrived.
func pollEvents(t *testing.T, manager *stats.Manager, count int) []stats.Event {
	t.Helper()

	var events []stats.Event
	require.Eventually(t, func() bool {
		events = append(events, manager.PollEvents()...)
		return len(events) >= count
	}, time.Second, 5*time.Millisecond)
	return events
}

func eventsOfType(events []stats.Event, eventType stats.EventType) []stats.Event {
	var filtered []stats.Event
	for _, event := range events {
		if event.Type == eventType {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

func TestManager(t *testing.T) {
	t.Run("register and remove user test", func(t *testing.T) {
		manager := stats.NewManager(stats.Options{})
		defer func() { assert.NoError(t, manager.Close()) }()

		user := types.UserOf("user-a")
		client := &fakeStatsClient{snapshot: map[string]types.StatValue{
			"kills": types.Integer(7),
		}}

		assert.NoError(t, manager.AddLocalUser(user, client, &fakeBoardsClient{}))
		assert.ErrorIs(
			t,
			manager.AddLocalUser(user, client, &fakeBoardsClient{}),
			stats.ErrAlreadyRegistered,
		)
		assert.Equal(t, 1, manager.Size())

		events := pollEvents(t, manager, 1)
		assert.Equal(t, stats.UserAddedEvent, events[0].Type)
		assert.Equal(t, user.ID(), events[0].User.ID())
		assert.NoError(t, events[0].Err)

		// The merged server snapshot is readable right away.
		value, err := manager.Stat(user, "kills")
		assert.NoError(t, err)
		assert.Equal(t, int64(7), value.AsInteger())

		assert.NoError(t, manager.RemoveLocalUser(user))
		assert.ErrorIs(t, manager.RemoveLocalUser(user), stats.ErrUserNotRegistered)
		assert.Equal(t, 0, manager.Size())

		events = pollEvents(t, manager, 1)
		assert.Equal(t, stats.UserRemovedEvent, events[0].Type)
		assert.NoError(t, events[0].Err)
	})

	t.Run("operations on unknown user test", func(t *testing.T) {
		manager := stats.NewManager(stats.Options{})
		defer func() { assert.NoError(t, manager.Close()) }()

		user := types.UserOf("ghost")
		assert.ErrorIs(t, manager.SetStatAsNumber(user, "x", 1), stats.ErrUserNotRegistered)
		assert.ErrorIs(t, manager.SetStatAsInteger(user, "x", 1), stats.ErrUserNotRegistered)
		assert.ErrorIs(t, manager.SetStatAsString(user, "x", "y"), stats.ErrUserNotRegistered)
		assert.ErrorIs(t, manager.DeleteStat(user, "x"), stats.ErrUserNotRegistered)
		assert.ErrorIs(t, manager.RequestFlush(user, false), stats.ErrUserNotRegistered)

		_, err := manager.Stat(user, "x")
		assert.ErrorIs(t, err, stats.ErrUserNotRegistered)
		_, err = manager.StatNames(user)
		assert.ErrorIs(t, err, stats.ErrUserNotRegistered)
	})

	t.Run("requested flush with cooldown test", func(t *testing.T) {
		mock := clock.NewMock()
		manager := stats.NewManager(stats.Options{Clock: mock})
		defer func() { assert.NoError(t, manager.Close()) }()

		user := types.UserOf("user-a")
		client := &fakeStatsClient{}
		require.NoError(t, manager.AddLocalUser(user, client, &fakeBoardsClient{}))
		pollEvents(t, manager, 1)

		require.NoError(t, manager.SetStatAsInteger(user, "kills", 3))
		require.NoError(t, manager.RequestFlush(user, false))

		events := pollEvents(t, manager, 1)
		require.Equal(t, stats.StatUpdateCompleteEvent, events[0].Type)
		assert.NoError(t, events[0].Err)

		flushes := client.flushed()
		require.Len(t, flushes, 1)
		assert.Equal(t, int64(3), flushes[0].Values["kills"].AsInteger())

		// A second normal-priority request inside the cooldown is rejected.
		require.NoError(t, manager.SetStatAsInteger(user, "kills", 4))
		assert.ErrorIs(t, manager.RequestFlush(user, false), stats.ErrThrottled)

		// A high-priority request goes through regardless.
		require.NoError(t, manager.RequestFlush(user, true))
		pollEvents(t, manager, 1)

		// After the cooldown the normal priority works again.
		require.NoError(t, manager.SetStatAsInteger(user, "kills", 5))
		mock.Add(stats.DefaultFlushCooldown)
		assert.NoError(t, manager.RequestFlush(user, false))
		pollEvents(t, manager, 1)
	})

	t.Run("flush failure journals delta test", func(t *testing.T) {
		journal := &fakeOfflineWriter{}
		manager := stats.NewManager(stats.Options{OfflineWriter: journal})
		defer func() { assert.NoError(t, manager.Close()) }()

		user := types.UserOf("user-a")
		client := &fakeStatsClient{flushErr: service.NewTransportError(503, "unavailable")}
		require.NoError(t, manager.AddLocalUser(user, client, &fakeBoardsClient{}))
		pollEvents(t, manager, 1)

		require.NoError(t, manager.SetStatAsInteger(user, "kills", 3))
		require.NoError(t, manager.RequestFlush(user, true))

		events := pollEvents(t, manager, 1)
		require.Equal(t, stats.StatUpdateCompleteEvent, events[0].Type)
		require.Error(t, events[0].Err)

		transportErr, ok := service.AsTransportError(events[0].Err)
		require.True(t, ok)
		assert.Equal(t, 503, transportErr.Code)

		written := journal.written()
		require.Len(t, written, 1)
		assert.Equal(t, int64(3), written[0].Values["kills"].AsInteger())

		// The delta stays dirty and goes through once the service recovers.
		client.setFlushErr(nil)
		require.NoError(t, manager.RequestFlush(user, true))
		events = pollEvents(t, manager, 1)
		assert.NoError(t, events[0].Err)

		flushes := client.flushed()
		require.Len(t, flushes, 1)
		assert.Equal(t, int64(3), flushes[0].Values["kills"].AsInteger())
	})

	t.Run("non-transport failure skips journal test", func(t *testing.T) {
		journal := &fakeOfflineWriter{}
		manager := stats.NewManager(stats.Options{OfflineWriter: journal})
		defer func() { assert.NoError(t, manager.Close()) }()

		user := types.UserOf("user-a")
		client := &fakeStatsClient{flushErr: errors.New("marshal failure")}
		require.NoError(t, manager.AddLocalUser(user, client, &fakeBoardsClient{}))
		pollEvents(t, manager, 1)

		require.NoError(t, manager.SetStatAsInteger(user, "kills", 3))
		require.NoError(t, manager.RequestFlush(user, true))

		events := pollEvents(t, manager, 1)
		require.Error(t, events[0].Err)
		assert.Empty(t, journal.written())
	})

	t.Run("flush dirty users test", func(t *testing.T) {
		manager := stats.NewManager(stats.Options{})
		defer func() { assert.NoError(t, manager.Close()) }()

		userA := types.UserOf("user-a")
		userB := types.UserOf("user-b")
		userC := types.UserOf("user-c")
		clientA := &fakeStatsClient{advised: 10 * time.Second}
		clientB := &fakeStatsClient{advised: 5 * time.Second}
		clientC := &fakeStatsClient{}

		require.NoError(t, manager.AddLocalUser(userA, clientA, &fakeBoardsClient{}))
		require.NoError(t, manager.AddLocalUser(userB, clientB, &fakeBoardsClient{}))
		require.NoError(t, manager.AddLocalUser(userC, clientC, &fakeBoardsClient{}))
		pollEvents(t, manager, 3)

		require.NoError(t, manager.SetStatAsInteger(userA, "kills", 1))
		require.NoError(t, manager.SetStatAsInteger(userB, "kills", 2))

		advised, err := manager.FlushDirty(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 5*time.Second, advised)

		events := eventsOfType(pollEvents(t, manager, 2), stats.StatUpdateCompleteEvent)
		assert.Len(t, events, 2)

		assert.Len(t, clientA.flushed(), 1)
		assert.Len(t, clientB.flushed(), 1)
		// The clean user is not flushed at all.
		assert.Empty(t, clientC.flushed())

		// Nothing dirty, nothing pushed.
		advised, err = manager.FlushDirty(context.Background())
		assert.NoError(t, err)
		assert.Zero(t, advised)
	})

	t.Run("flush dirty combines failures test", func(t *testing.T) {
		manager := stats.NewManager(stats.Options{})
		defer func() { assert.NoError(t, manager.Close()) }()

		userA := types.UserOf("user-a")
		userB := types.UserOf("user-b")
		clientA := &fakeStatsClient{advised: 8 * time.Second}
		clientB := &fakeStatsClient{flushErr: service.NewTransportError(500, "boom")}

		require.NoError(t, manager.AddLocalUser(userA, clientA, &fakeBoardsClient{}))
		require.NoError(t, manager.AddLocalUser(userB, clientB, &fakeBoardsClient{}))
		pollEvents(t, manager, 2)

		require.NoError(t, manager.SetStatAsInteger(userA, "kills", 1))
		require.NoError(t, manager.SetStatAsInteger(userB, "kills", 2))

		advised, err := manager.FlushDirty(context.Background())
		assert.Error(t, err)
		assert.Equal(t, 8*time.Second, advised)
	})

	t.Run("leaderboard query test", func(t *testing.T) {
		manager := stats.NewManager(stats.Options{})
		defer func() { assert.NoError(t, manager.Close()) }()

		user := types.UserOf("user-a")
		boards := &fakeBoardsClient{result: &types.LeaderboardResult{
			StatName:   "kills",
			TotalCount: 2,
			Rows: []types.LeaderboardRow{
				{Rank: 1, UserID: "user-b", Value: types.Integer(9)},
				{Rank: 2, UserID: "user-a", Value: types.Integer(7)},
			},
		}}
		require.NoError(t, manager.AddLocalUser(user, &fakeStatsClient{}, boards))
		pollEvents(t, manager, 1)

		assert.ErrorIs(
			t,
			manager.QueryLeaderboard(types.UserOf("ghost"), "kills", types.LeaderboardQuery{}),
			stats.ErrUserNotRegistered,
		)
		assert.ErrorIs(
			t,
			manager.QueryLeaderboard(user, "no spaces", types.LeaderboardQuery{}),
			stats.ErrStatNameInvalid,
		)

		require.NoError(t, manager.QueryLeaderboard(user, "kills", types.LeaderboardQuery{MaxItems: 10}))
		events := pollEvents(t, manager, 1)
		require.Equal(t, stats.LeaderboardCompleteEvent, events[0].Type)
		require.NoError(t, events[0].Err)
		require.NotNil(t, events[0].Leaderboard)
		assert.Len(t, events[0].Leaderboard.Rows, 2)
		assert.Equal(t, uint32(1), events[0].Leaderboard.Rows[0].Rank)

		require.NoError(t, manager.QuerySocialLeaderboard(user, "kills", "guild-1", types.LeaderboardQuery{}))
		pollEvents(t, manager, 1)

		queries := boards.queried()
		require.Len(t, queries, 2)
		assert.Empty(t, queries[0].SocialGroup)
		assert.Equal(t, "guild-1", queries[1].SocialGroup)
		assert.Equal(t, "kills", queries[1].StatName)
	})

	t.Run("remove user flushes pending changes test", func(t *testing.T) {
		manager := stats.NewManager(stats.Options{})
		defer func() { assert.NoError(t, manager.Close()) }()

		user := types.UserOf("user-a")
		client := &fakeStatsClient{}
		require.NoError(t, manager.AddLocalUser(user, client, &fakeBoardsClient{}))
		pollEvents(t, manager, 1)

		require.NoError(t, manager.SetStatAsInteger(user, "kills", 3))
		require.NoError(t, manager.RemoveLocalUser(user))
		assert.Equal(t, 0, manager.Size())

		events := pollEvents(t, manager, 1)
		require.Equal(t, stats.UserRemovedEvent, events[0].Type)
		assert.NoError(t, events[0].Err)

		flushes := client.flushed()
		require.Len(t, flushes, 1)
		assert.Equal(t, int64(3), flushes[0].Values["kills"].AsInteger())
	})

	t.Run("load failure then recovery test", func(t *testing.T) {
		manager := stats.NewManager(stats.Options{})
		defer func() { assert.NoError(t, manager.Close()) }()

		user := types.UserOf("user-a")
		client := &fakeStatsClient{loadErr: errors.New("network down")}
		require.NoError(t, manager.AddLocalUser(user, client, &fakeBoardsClient{}))

		events := pollEvents(t, manager, 1)
		require.Equal(t, stats.UserAddedEvent, events[0].Type)
		assert.Error(t, events[0].Err)

		// Local writes keep working while the document is offline.
		require.NoError(t, manager.SetStatAsInteger(user, "kills", 3))

		// The next flush retries the load before pushing.
		client.mu.Lock()
		client.loadErr = nil
		client.snapshot = map[string]types.StatValue{"wins": types.Integer(1)}
		client.mu.Unlock()

		require.NoError(t, manager.RequestFlush(user, true))
		events = pollEvents(t, manager, 1)
		assert.NoError(t, events[0].Err)
		assert.GreaterOrEqual(t, client.loadCount(), 2)

		value, err := manager.Stat(user, "wins")
		assert.NoError(t, err)
		assert.Equal(t, int64(1), value.AsInteger())
	})

	t.Run("event sequence is monotonic test", func(t *testing.T) {
		manager := stats.NewManager(stats.Options{})
		defer func() { assert.NoError(t, manager.Close()) }()

		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, manager.AddLocalUser(types.UserOf(id), &fakeStatsClient{}, &fakeBoardsClient{}))
		}

		events := pollEvents(t, manager, 3)
		for i := 1; i < len(events); i++ {
			assert.Greater(t, events[i].Seq, events[i-1].Seq)
		}
	})
}
