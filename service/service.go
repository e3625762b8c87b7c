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

// Package service defines the interfaces the SDK uses to reach the remote
// title service. Transport implementations plug in through Provider; the
// in-memory implementation in service/memory backs tests and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/titlekit-team/titlekit/api/types"
)

// PresenceClient reports a user's in-title activity to the title service.
type PresenceClient interface {
	// SetPresence reports whether the user is currently active in the title
	// and returns the heartbeat interval the service advises until the next
	// report.
	SetPresence(ctx context.Context, active bool) (time.Duration, error)
}

// StatsClient reads and writes a user's stat document on the title service.
type StatsClient interface {
	// Load fetches the current server-side stat document of the user.
	Load(ctx context.Context) (map[string]types.StatValue, error)

	// Flush pushes the given delta of local changes. It returns the
	// heartbeat interval the service advises until the next write.
	Flush(ctx context.Context, delta types.StatDelta) (time.Duration, error)
}

// LeaderboardClient queries the leaderboards of the title.
type LeaderboardClient interface {
	// Query fetches one page of the leaderboard described by the query.
	Query(ctx context.Context, query types.LeaderboardQuery) (*types.LeaderboardResult, error)
}

// Provider hands out per-user service clients. It is injected into the SDK
// so hosts and tests control which service implementation backs a session.
type Provider interface {
	// Presence returns the presence client of the given user.
	Presence(user types.User) PresenceClient

	// Stats returns the stats client of the given user.
	Stats(user types.User) StatsClient

	// Leaderboards returns the leaderboard client of the given user.
	Leaderboards(user types.User) LeaderboardClient

	// Close releases all resources held by the provider.
	Close() error
}

// OfflineWriter journals deltas that could not reach the service so that a
// later session can replay them. Replaying is up to the host.
type OfflineWriter interface {
	// WriteOffline appends the given delta to the user's offline journal.
	WriteOffline(ctx context.Context, user types.User, delta types.StatDelta) error
}

// TransportError is returned by service clients when a call fails on the
// wire or on the service side.
type TransportError struct {
	// Code is the transport-level status code.
	Code int

	// Message describes the failure.
	Message string
}

// NewTransportError creates a new TransportError.
func NewTransportError(code int, message string) *TransportError {
	return &TransportError{Code: code, Message: message}
}

// Error returns the error message.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error %d: %s", e.Code, e.Message)
}

// AsTransportError unwraps the given error into a TransportError.
func AsTransportError(err error) (*TransportError, bool) {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr, true
	}
	return nil, false
}
