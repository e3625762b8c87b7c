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

package client

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/titlekit-team/titlekit/internal/logging"
	"github.com/titlekit-team/titlekit/server/profiling/prometheus"
	"github.com/titlekit-team/titlekit/service"
)

// Option configures Options.
type Option func(*Options)

// Options configures how we set up the client.
type Options struct {
	// Key is the key of the client. It is used to identify the client.
	Key string

	// Clock supplies the time for the presence loop and flush throttling.
	Clock clock.Clock

	// TickInterval is the cadence of the presence loop.
	TickInterval time.Duration

	// DefaultHeartbeat is the heartbeat interval used when the service
	// advises none.
	DefaultHeartbeat time.Duration

	// FlushCooldown is the minimum pause between two normal-priority
	// requested flushes of the same user.
	FlushCooldown time.Duration

	// OfflineWriter receives stat deltas that failed with a transport
	// error.
	OfflineWriter service.OfflineWriter

	// Logger is the Logger of the client.
	Logger logging.Logger

	// Metrics collects the counters of the client.
	Metrics *prometheus.Metrics
}

// WithKey configures the key of the client.
func WithKey(key string) Option {
	return func(o *Options) { o.Key = key }
}

// WithClock configures the clock of the client. Tests inject a mock.
func WithClock(c clock.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithTickInterval configures the cadence of the presence loop.
func WithTickInterval(interval time.Duration) Option {
	return func(o *Options) { o.TickInterval = interval }
}

// WithDefaultHeartbeat configures the fallback heartbeat interval.
func WithDefaultHeartbeat(interval time.Duration) Option {
	return func(o *Options) { o.DefaultHeartbeat = interval }
}

// WithFlushCooldown configures the cooldown of requested flushes.
func WithFlushCooldown(cooldown time.Duration) Option {
	return func(o *Options) { o.FlushCooldown = cooldown }
}

// WithOfflineWriter configures the offline journal of the client.
func WithOfflineWriter(writer service.OfflineWriter) Option {
	return func(o *Options) { o.OfflineWriter = writer }
}

// WithLogger configures the Logger of the client.
func WithLogger(logger logging.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics configures the metrics collector of the client.
func WithMetrics(metrics *prometheus.Metrics) Option {
	return func(o *Options) { o.Metrics = metrics }
}
