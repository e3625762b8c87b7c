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

import "github.com/titlekit-team/titlekit/api/types"

// EventType represents the kind of completion the engine delivers to the
// host.
type EventType string

const (
	// UserAddedEvent occurs when the initial stat document load after
	// AddLocalUser has settled.
	UserAddedEvent EventType = "user-added"

	// UserRemovedEvent occurs when a user's removal has settled, including
	// the final flush of unsaved changes when one was needed.
	UserRemovedEvent EventType = "user-removed"

	// StatUpdateCompleteEvent occurs when a flush of local stat changes to
	// the title service has settled.
	StatUpdateCompleteEvent EventType = "stat-update-complete"

	// LeaderboardCompleteEvent occurs when a leaderboard query has settled.
	LeaderboardCompleteEvent EventType = "leaderboard-complete"
)

// Event is a completion notice delivered to the host through PollEvents.
// Remote outcomes only ever reach the host this way; mutation calls report
// local validation errors synchronously instead.
type Event struct {
	// Seq orders events across the whole engine. It grows monotonically
	// and never repeats.
	Seq uint64

	// Type is the kind of completion the event reports.
	Type EventType

	// User is the user the completion belongs to.
	User types.User

	// Err carries the failure when the operation settled unsuccessfully.
	Err error

	// Leaderboard carries the result page of a LeaderboardCompleteEvent.
	Leaderboard *types.LeaderboardResult
}
