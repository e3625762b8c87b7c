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

// Package client provides the host-facing surface of the SDK. A Client is
// one session: it keeps registered users present on the title service,
// mirrors their stat documents and hands remote outcomes back to the host
// as drainable events.
package client

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/titlekit-team/titlekit/api/types"
	"github.com/titlekit-team/titlekit/internal/logging"
	"github.com/titlekit-team/titlekit/presence"
	"github.com/titlekit-team/titlekit/service"
	"github.com/titlekit-team/titlekit/stats"
)

// ErrNilProvider is returned when a client is created without a service
// provider.
var ErrNilProvider = errors.New("service provider is required")

// Client is the entry point of the SDK. Every call returning an error does
// so synchronously and only for local reasons; remote outcomes arrive
// through PollEvents.
type Client struct {
	key      string
	provider service.Provider
	writer   *presence.Writer
	manager  *stats.Manager
	logger   logging.Logger
}

// New creates an instance of Client backed by the given service provider.
func New(provider service.Provider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}

	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	key := options.Key
	if key == "" {
		key = uuid.New().String()
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.New("client")
	}

	manager := stats.NewManager(stats.Options{
		Clock:         options.Clock,
		FlushCooldown: options.FlushCooldown,
		OfflineWriter: options.OfflineWriter,
		Logger:        options.Logger,
		Metrics:       options.Metrics,
	})
	writer := presence.NewWriter(presence.Options{
		Clock:            options.Clock,
		TickInterval:     options.TickInterval,
		DefaultHeartbeat: options.DefaultHeartbeat,
		FlushHooks:       []presence.FlushHook{manager.FlushDirty},
		Logger:           options.Logger,
		Metrics:          options.Metrics,
	})

	logger.Debugf("client %s created", key)
	return &Client{
		key:      key,
		provider: provider,
		writer:   writer,
		manager:  manager,
		logger:   logger,
	}, nil
}

// Key returns the key of this client.
func (c *Client) Key() string {
	return c.key
}

// StartWriter subscribes the given user to background presence writes.
func (c *Client) StartWriter(user types.User) error {
	return c.writer.Start(user, c.provider.Presence(user))
}

// StopWriter unsubscribes the given user from background presence writes
// and clears its presence best-effort.
func (c *Client) StopWriter(user types.User) error {
	return c.writer.Stop(user)
}

// WriterActive returns whether the background presence loop is running.
func (c *Client) WriterActive() bool {
	return c.writer.Active()
}

// AddLocalUser registers the given user for stat tracking and starts
// loading its server-side document.
func (c *Client) AddLocalUser(user types.User) error {
	return c.manager.AddLocalUser(user, c.provider.Stats(user), c.provider.Leaderboards(user))
}

// RemoveLocalUser unregisters the given user, flushing its pending changes
// best-effort.
func (c *Client) RemoveLocalUser(user types.User) error {
	return c.manager.RemoveLocalUser(user)
}

// SetStatAsNumber writes a numeric stat of the given user.
func (c *Client) SetStatAsNumber(user types.User, name string, value float64) error {
	return c.manager.SetStatAsNumber(user, name, value)
}

// SetStatAsInteger writes an integer stat of the given user.
func (c *Client) SetStatAsInteger(user types.User, name string, value int64) error {
	return c.manager.SetStatAsInteger(user, name, value)
}

// SetStatAsString writes a textual stat of the given user.
func (c *Client) SetStatAsString(user types.User, name string, value string) error {
	return c.manager.SetStatAsString(user, name, value)
}

// Stat returns the current local value of the given stat.
func (c *Client) Stat(user types.User, name string) (types.StatValue, error) {
	return c.manager.Stat(user, name)
}

// StatNames returns the names of the user's stats in sorted order.
func (c *Client) StatNames(user types.User) ([]string, error) {
	return c.manager.StatNames(user)
}

// DeleteStat removes the given stat locally and schedules its deletion on
// the service.
func (c *Client) DeleteStat(user types.User, name string) error {
	return c.manager.DeleteStat(user, name)
}

// RequestFlush asks for the user's pending stat changes to be pushed ahead
// of the background cadence.
func (c *Client) RequestFlush(user types.User, highPriority bool) error {
	return c.manager.RequestFlush(user, highPriority)
}

// QueryLeaderboard fetches one page of the global leaderboard of the given
// stat in the background.
func (c *Client) QueryLeaderboard(user types.User, statName string, query types.LeaderboardQuery) error {
	return c.manager.QueryLeaderboard(user, statName, query)
}

// QuerySocialLeaderboard fetches one page of the leaderboard of the given
// stat restricted to the given social group.
func (c *Client) QuerySocialLeaderboard(
	user types.User,
	statName string,
	socialGroup string,
	query types.LeaderboardQuery,
) error {
	return c.manager.QuerySocialLeaderboard(user, statName, socialGroup, query)
}

// PollEvents drains the completion events accumulated since the previous
// call. Hosts call it from their frame loop; it never blocks on I/O.
func (c *Client) PollEvents() []stats.Event {
	return c.manager.PollEvents()
}

// Close winds the presence loop and the in-flight background work down.
// The injected provider stays open; closing it is up to its owner.
func (c *Client) Close() error {
	if err := multierr.Append(c.writer.Close(), c.manager.Close()); err != nil {
		return err
	}

	c.logger.Debugf("client %s closed", c.key)
	return nil
}
