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

package types

// SortOrder represents the ranking direction of a leaderboard.
type SortOrder int

const (
	// Descending ranks the highest value first. It is the default.
	Descending SortOrder = iota

	// Ascending ranks the lowest value first.
	Ascending
)

// String returns the textual representation of the sort order.
func (o SortOrder) String() string {
	if o == Ascending {
		return "ascending"
	}
	return "descending"
}

// LeaderboardQuery describes a single page of a leaderboard to fetch.
type LeaderboardQuery struct {
	// StatName is the stat the leaderboard ranks.
	StatName string `json:"stat_name"`

	// SocialGroup restricts the ranking to members of the given group.
	// Empty means the global leaderboard.
	SocialGroup string `json:"social_group,omitempty"`

	// MaxItems caps the number of rows returned. Zero means the service
	// default.
	MaxItems uint32 `json:"max_items,omitempty"`

	// SkipToRank starts the page at the given 1-based rank.
	SkipToRank uint32 `json:"skip_to_rank,omitempty"`

	// SkipToMe starts the page at the requesting user's own row.
	SkipToMe bool `json:"skip_to_me,omitempty"`

	// Order is the ranking direction.
	Order SortOrder `json:"order,omitempty"`

	// ContinuationToken resumes a previous query at its next page.
	ContinuationToken string `json:"continuation_token,omitempty"`
}

// LeaderboardRow is a single ranked entry of a leaderboard.
type LeaderboardRow struct {
	// Rank is the 1-based position of the entry.
	Rank uint32 `json:"rank"`

	// UserID is the identifier of the ranked user.
	UserID string `json:"user_id"`

	// Value is the stat value the entry is ranked by.
	Value StatValue `json:"value"`
}

// LeaderboardResult is one page of a leaderboard.
type LeaderboardResult struct {
	// StatName is the stat the leaderboard ranks.
	StatName string `json:"stat_name"`

	// Rows are the entries of this page in rank order.
	Rows []LeaderboardRow `json:"rows"`

	// TotalCount is the total number of entries in the leaderboard.
	TotalCount int `json:"total_count"`

	// ContinuationToken fetches the next page when non-empty.
	ContinuationToken string `json:"continuation_token,omitempty"`
}

// HasNext reports whether another page can be fetched with the result's
// continuation token.
func (r *LeaderboardResult) HasNext() bool {
	return r.ContinuationToken != ""
}
