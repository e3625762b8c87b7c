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

package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titlekit-team/titlekit/api/types"
	"github.com/titlekit-team/titlekit/client"
	"github.com/titlekit-team/titlekit/service"
	"github.com/titlekit-team/titlekit/service/memory"
	"github.com/titlekit-team/titlekit/stats"
)

// drainEvents polls the client until at least count events arrived.
func drainEvents(t *testing.T, cli *client.Client, count int) []stats.Event {
	t.Helper()

	var events []stats.Event
	require.Eventually(t, func() bool {
		events = append(events, cli.PollEvents()...)
		return len(events) >= count
	}, time.Second, 5*time.Millisecond)
	return events
}

func eventOfType(t *testing.T, events []stats.Event, eventType stats.EventType) stats.Event {
	t.Helper()

	for _, event := range events {
		if event.Type == eventType {
			return event
		}
	}
	t.Fatalf("no %s event in %v", eventType, events)
	return stats.Event{}
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("nil provider test", func(t *testing.T) {
		_, err := client.New(nil)
		assert.ErrorIs(t, err, client.ErrNilProvider)
	})

	t.Run("session lifecycle test", func(t *testing.T) {
		backend, err := memory.New(memory.Options{AdvisedInterval: time.Minute})
		require.NoError(t, err)
		defer func() { assert.NoError(t, backend.Close()) }()

		mock := clock.NewMock()
		cli, err := client.New(
			backend,
			client.WithKey("session-1"),
			client.WithClock(mock),
			client.WithTickInterval(time.Minute),
			client.WithOfflineWriter(backend),
		)
		require.NoError(t, err)
		defer func() { assert.NoError(t, cli.Close()) }()
		assert.Equal(t, "session-1", cli.Key())

		user := types.UserOf("user-a")
		require.NoError(t, cli.AddLocalUser(user))
		events := drainEvents(t, cli, 1)
		assert.NoError(t, eventOfType(t, events, stats.UserAddedEvent).Err)

		require.NoError(t, cli.StartWriter(user))
		assert.True(t, cli.WriterActive())

		// Let the presence loop register its ticker before the clock moves.
		time.Sleep(50 * time.Millisecond)
		mock.Add(time.Minute)
		require.Eventually(t, func() bool {
			online, err := backend.IsOnline(ctx, "user-a")
			return err == nil && online
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, cli.SetStatAsInteger(user, "kills", 3))
		require.NoError(t, cli.SetStatAsString(user, "rank", "gold"))

		names, err := cli.StatNames(user)
		require.NoError(t, err)
		assert.Equal(t, []string{"kills", "rank"}, names)

		require.NoError(t, cli.RequestFlush(user, true))
		events = drainEvents(t, cli, 1)
		assert.NoError(t, eventOfType(t, events, stats.StatUpdateCompleteEvent).Err)

		snapshot, err := backend.LoadStats(ctx, "user-a")
		require.NoError(t, err)
		assert.Equal(t, int64(3), snapshot["kills"].AsInteger())
		assert.Equal(t, "gold", snapshot["rank"].AsString())

		require.NoError(t, cli.StopWriter(user))
		assert.False(t, cli.WriterActive())
		require.Eventually(t, func() bool {
			online, err := backend.IsOnline(ctx, "user-a")
			return err == nil && !online
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, cli.RemoveLocalUser(user))
		events = drainEvents(t, cli, 1)
		assert.NoError(t, eventOfType(t, events, stats.UserRemovedEvent).Err)
	})

	t.Run("background flush rides presence cycle test", func(t *testing.T) {
		backend, err := memory.New(memory.Options{AdvisedInterval: time.Minute})
		require.NoError(t, err)
		defer func() { assert.NoError(t, backend.Close()) }()

		mock := clock.NewMock()
		cli, err := client.New(backend, client.WithClock(mock), client.WithTickInterval(time.Minute))
		require.NoError(t, err)
		defer func() { assert.NoError(t, cli.Close()) }()

		user := types.UserOf("user-a")
		require.NoError(t, cli.AddLocalUser(user))
		drainEvents(t, cli, 1)
		require.NoError(t, cli.StartWriter(user))

		// No explicit flush request: the dirty stat goes out with the
		// next presence write cycle.
		require.NoError(t, cli.SetStatAsInteger(user, "kills", 9))

		require.Eventually(t, func() bool {
			mock.Add(time.Minute)
			snapshot, err := backend.LoadStats(ctx, "user-a")
			return err == nil && snapshot["kills"].AsInteger() == 9
		}, time.Second, 10*time.Millisecond)

		events := drainEvents(t, cli, 1)
		assert.NoError(t, eventOfType(t, events, stats.StatUpdateCompleteEvent).Err)
	})

	t.Run("offline journal integration test", func(t *testing.T) {
		backend, err := memory.New(memory.Options{})
		require.NoError(t, err)
		defer func() { assert.NoError(t, backend.Close()) }()

		cli, err := client.New(
			backend,
			client.WithClock(clock.NewMock()),
			client.WithOfflineWriter(backend),
		)
		require.NoError(t, err)
		defer func() { assert.NoError(t, cli.Close()) }()

		user := types.UserOf("user-a")
		require.NoError(t, cli.AddLocalUser(user))
		drainEvents(t, cli, 1)

		backend.SetUnavailable(true)
		require.NoError(t, cli.SetStatAsInteger(user, "kills", 5))
		require.NoError(t, cli.RequestFlush(user, true))

		events := drainEvents(t, cli, 1)
		flushEvent := eventOfType(t, events, stats.StatUpdateCompleteEvent)
		require.Error(t, flushEvent.Err)
		transportErr, ok := service.AsTransportError(flushEvent.Err)
		require.True(t, ok)
		assert.Equal(t, 503, transportErr.Code)

		journal, err := backend.Journal(ctx, "user-a")
		require.NoError(t, err)
		require.Len(t, journal, 1)
		assert.Equal(t, int64(5), journal[0].Values["kills"].AsInteger())

		// Once the service is back, the delta goes through unchanged.
		backend.SetUnavailable(false)
		require.NoError(t, cli.RequestFlush(user, true))
		events = drainEvents(t, cli, 1)
		assert.NoError(t, eventOfType(t, events, stats.StatUpdateCompleteEvent).Err)

		snapshot, err := backend.LoadStats(ctx, "user-a")
		require.NoError(t, err)
		assert.Equal(t, int64(5), snapshot["kills"].AsInteger())
	})

	t.Run("leaderboard through events test", func(t *testing.T) {
		backend, err := memory.New(memory.Options{})
		require.NoError(t, err)
		defer func() { assert.NoError(t, backend.Close()) }()

		for userID, score := range map[string]int64{
			"user-a": 10,
			"user-b": 30,
			"user-c": 20,
		} {
			_, err := backend.ApplyDelta(ctx, userID, types.StatDelta{
				Values: map[string]types.StatValue{"score": types.Integer(score)},
			})
			require.NoError(t, err)
		}
		require.NoError(t, backend.AddToGroup(ctx, "guild-1", "user-a"))
		require.NoError(t, backend.AddToGroup(ctx, "guild-1", "user-c"))

		cli, err := client.New(backend, client.WithClock(clock.NewMock()))
		require.NoError(t, err)
		defer func() { assert.NoError(t, cli.Close()) }()

		user := types.UserOf("user-a")
		require.NoError(t, cli.AddLocalUser(user))
		drainEvents(t, cli, 1)

		require.NoError(t, cli.QueryLeaderboard(user, "score", types.LeaderboardQuery{MaxItems: 10}))
		events := drainEvents(t, cli, 1)
		boardEvent := eventOfType(t, events, stats.LeaderboardCompleteEvent)
		require.NoError(t, boardEvent.Err)
		require.NotNil(t, boardEvent.Leaderboard)
		require.Len(t, boardEvent.Leaderboard.Rows, 3)
		assert.Equal(t, "user-b", boardEvent.Leaderboard.Rows[0].UserID)

		require.NoError(t, cli.QuerySocialLeaderboard(user, "score", "guild-1", types.LeaderboardQuery{}))
		events = drainEvents(t, cli, 1)
		boardEvent = eventOfType(t, events, stats.LeaderboardCompleteEvent)
		require.NoError(t, boardEvent.Err)
		require.Len(t, boardEvent.Leaderboard.Rows, 2)
		assert.Equal(t, "user-c", boardEvent.Leaderboard.Rows[0].UserID)
	})
}
