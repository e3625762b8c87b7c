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

// Package memory implements the title service interfaces on an in-memory
// database, for tests and local simulation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/rs/xid"

	"github.com/titlekit-team/titlekit/api/types"
	"github.com/titlekit-team/titlekit/internal/validation"
	"github.com/titlekit-team/titlekit/pkg/cache"
	"github.com/titlekit-team/titlekit/service"
)

const (
	// DefaultAdvisedInterval is the heartbeat interval the backend advises
	// unless configured otherwise.
	DefaultAdvisedInterval = 5 * time.Minute

	// DefaultMaxItems is the leaderboard page size used when the query
	// does not set one.
	DefaultMaxItems = 10

	cursorCacheSize = 512
	cursorTTL       = 10 * time.Minute
)

// Options configures how a Backend is set up.
type Options struct {
	// AdvisedInterval is returned from presence writes and stat flushes as
	// the advised heartbeat interval. Defaults to DefaultAdvisedInterval.
	AdvisedInterval time.Duration
}

// statRecord is a stored stat row keyed by user and stat name.
type statRecord struct {
	ID        string
	UserID    string
	Name      string
	Value     types.StatValue
	UpdatedAt time.Time
}

// presenceRecord is the last presence report of a user.
type presenceRecord struct {
	UserID    string
	Online    bool
	UpdatedAt time.Time
}

// membershipRecord binds a user to a social group.
type membershipRecord struct {
	ID     string
	Group  string
	UserID string
}

// journalRecord is one offline-journaled delta of a user.
type journalRecord struct {
	ID        string
	UserID    string
	Delta     types.StatDelta
	WrittenAt time.Time
}

// Backend is an in-memory title service. It implements service.Provider
// and service.OfflineWriter, so a whole SDK session can run against it
// without any network.
type Backend struct {
	db     *memdb.MemDB
	advise time.Duration

	// unavailable turns every service call into a transport failure, to
	// exercise offline paths. The journal stays writable.
	unavailable atomic.Bool

	// cursors backs the continuation tokens; unused tokens fall out after
	// cursorTTL.
	cursors *cache.Cache[int]
}

// New returns a new in-memory backend.
func New(opts Options) (*Backend, error) {
	if opts.AdvisedInterval == 0 {
		opts.AdvisedInterval = DefaultAdvisedInterval
	}

	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}

	cursors, err := cache.New[int](cursorCacheSize)
	if err != nil {
		return nil, err
	}

	return &Backend{
		db:      memDB,
		advise:  opts.AdvisedInterval,
		cursors: cursors,
	}, nil
}

// Close closes the backend.
func (b *Backend) Close() error {
	return nil
}

// SetUnavailable switches the simulated transport failure mode on or off.
func (b *Backend) SetUnavailable(on bool) {
	b.unavailable.Store(on)
}

// Presence returns the presence client of the given user.
func (b *Backend) Presence(user types.User) service.PresenceClient {
	return &presenceClient{backend: b, user: user}
}

// Stats returns the stats client of the given user.
func (b *Backend) Stats(user types.User) service.StatsClient {
	return &statsClient{backend: b, user: user}
}

// Leaderboards returns the leaderboard client of the given user.
func (b *Backend) Leaderboards(user types.User) service.LeaderboardClient {
	return &leaderboardClient{backend: b, user: user}
}

// SetPresence stores the presence report of the given user and returns the
// advised heartbeat interval.
func (b *Backend) SetPresence(_ context.Context, userID string, online bool) (time.Duration, error) {
	if err := b.transportErr(); err != nil {
		return 0, err
	}

	txn := b.db.Txn(true)
	defer txn.Abort()

	record := &presenceRecord{
		UserID:    userID,
		Online:    online,
		UpdatedAt: time.Now(),
	}
	if err := txn.Insert(tblPresences, record); err != nil {
		return 0, fmt.Errorf("set presence of %s: %w", userID, err)
	}

	txn.Commit()
	return b.advise, nil
}

// IsOnline returns the last reported presence of the given user.
func (b *Backend) IsOnline(_ context.Context, userID string) (bool, error) {
	txn := b.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblPresences, "id", userID)
	if err != nil {
		return false, fmt.Errorf("find presence of %s: %w", userID, err)
	}
	if raw == nil {
		return false, nil
	}
	return raw.(*presenceRecord).Online, nil
}

// LoadStats returns the stored stat document of the given user.
func (b *Backend) LoadStats(_ context.Context, userID string) (map[string]types.StatValue, error) {
	if err := b.transportErr(); err != nil {
		return nil, err
	}

	txn := b.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tblStats, "user_id", userID)
	if err != nil {
		return nil, fmt.Errorf("find stats of %s: %w", userID, err)
	}

	snapshot := make(map[string]types.StatValue)
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		record := raw.(*statRecord)
		snapshot[record.Name] = record.Value
	}
	return snapshot, nil
}

// ApplyDelta applies the given delta to the stored stat document of the
// user and returns the advised heartbeat interval. Name, length and type
// rules are enforced service-side again; violations fail the whole delta.
func (b *Backend) ApplyDelta(_ context.Context, userID string, delta types.StatDelta) (time.Duration, error) {
	if err := b.transportErr(); err != nil {
		return 0, err
	}

	txn := b.db.Txn(true)
	defer txn.Abort()

	now := time.Now()
	for name, value := range delta.Values {
		if err := validation.ValidateStatName(name); err != nil {
			return 0, service.NewTransportError(400, fmt.Sprintf("invalid stat name %q", name))
		}
		if value.Type() == types.TypeString && len(value.AsString()) > types.MaxStatStringLen {
			return 0, service.NewTransportError(400, fmt.Sprintf("value of %q too long", name))
		}

		raw, err := txn.First(tblStats, "id", statID(userID, name))
		if err != nil {
			return 0, fmt.Errorf("find stat %s of %s: %w", name, userID, err)
		}
		if raw != nil && raw.(*statRecord).Value.Type() != value.Type() {
			return 0, service.NewTransportError(409, fmt.Sprintf(
				"stat %q holds a %s", name, raw.(*statRecord).Value.Type(),
			))
		}

		record := &statRecord{
			ID:        statID(userID, name),
			UserID:    userID,
			Name:      name,
			Value:     value,
			UpdatedAt: now,
		}
		if err := txn.Insert(tblStats, record); err != nil {
			return 0, fmt.Errorf("insert stat %s of %s: %w", name, userID, err)
		}
	}

	for _, name := range delta.Deleted {
		raw, err := txn.First(tblStats, "id", statID(userID, name))
		if err != nil {
			return 0, fmt.Errorf("find stat %s of %s: %w", name, userID, err)
		}
		if raw == nil {
			continue
		}
		if err := txn.Delete(tblStats, raw.(*statRecord)); err != nil {
			return 0, fmt.Errorf("delete stat %s of %s: %w", name, userID, err)
		}
	}

	txn.Commit()
	return b.advise, nil
}

// AddToGroup adds the given user to a social group.
func (b *Backend) AddToGroup(_ context.Context, group string, userID string) error {
	if group == "" {
		return fmt.Errorf("group name is required")
	}

	txn := b.db.Txn(true)
	defer txn.Abort()

	record := &membershipRecord{
		ID:     group + "/" + userID,
		Group:  group,
		UserID: userID,
	}
	if err := txn.Insert(tblMemberships, record); err != nil {
		return fmt.Errorf("insert membership of %s: %w", userID, err)
	}

	txn.Commit()
	return nil
}

// RemoveFromGroup removes the given user from a social group. Removing a
// user that is not a member is a no-op.
func (b *Backend) RemoveFromGroup(_ context.Context, group string, userID string) error {
	txn := b.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblMemberships, "id", group+"/"+userID)
	if err != nil {
		return fmt.Errorf("find membership of %s: %w", userID, err)
	}
	if raw == nil {
		return nil
	}
	if err := txn.Delete(tblMemberships, raw.(*membershipRecord)); err != nil {
		return fmt.Errorf("delete membership of %s: %w", userID, err)
	}

	txn.Commit()
	return nil
}

// GroupMembers returns the sorted member ids of the given social group.
func (b *Backend) GroupMembers(_ context.Context, group string) ([]string, error) {
	txn := b.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tblMemberships, "group", group)
	if err != nil {
		return nil, fmt.Errorf("find members of %s: %w", group, err)
	}

	var members []string
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		members = append(members, raw.(*membershipRecord).UserID)
	}
	sort.Strings(members)
	return members, nil
}

// QueryLeaderboard ranks the stored values of the queried stat and returns
// one page. The whole ranking is computed on the fly; rows tie-break by
// user id so pagination is stable.
func (b *Backend) QueryLeaderboard(
	ctx context.Context,
	callerID string,
	query types.LeaderboardQuery,
) (*types.LeaderboardResult, error) {
	if err := b.transportErr(); err != nil {
		return nil, err
	}
	if err := validation.ValidateStatName(query.StatName); err != nil {
		return nil, service.NewTransportError(400, fmt.Sprintf("invalid stat name %q", query.StatName))
	}

	var members map[string]struct{}
	if query.SocialGroup != "" {
		ids, err := b.GroupMembers(ctx, query.SocialGroup)
		if err != nil {
			return nil, err
		}
		members = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			members[id] = struct{}{}
		}
	}

	txn := b.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tblStats, "name", query.StatName)
	if err != nil {
		return nil, fmt.Errorf("find stat %s: %w", query.StatName, err)
	}

	var rows []boardRow
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		record := raw.(*statRecord)
		if members != nil {
			if _, ok := members[record.UserID]; !ok {
				continue
			}
		}
		rows = append(rows, boardRow{userID: record.UserID, value: record.Value})
	}

	sort.Slice(rows, func(i, j int) bool {
		return rankLess(rows[i], rows[j], query.Order)
	})

	start, err := b.pageStart(callerID, query, rows)
	if err != nil {
		return nil, err
	}

	limit := int(query.MaxItems)
	if limit <= 0 {
		limit = DefaultMaxItems
	}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}
	if start > end {
		start = end
	}

	result := &types.LeaderboardResult{
		StatName:   query.StatName,
		TotalCount: len(rows),
	}
	for i := start; i < end; i++ {
		result.Rows = append(result.Rows, types.LeaderboardRow{
			Rank:   uint32(i + 1),
			UserID: rows[i].userID,
			Value:  rows[i].value,
		})
	}
	if end < len(rows) {
		result.ContinuationToken = b.storeCursor(end)
	}
	return result, nil
}

// WriteOffline appends the given delta to the user's journal. The journal
// is local, so it keeps working while the backend simulates downtime.
func (b *Backend) WriteOffline(_ context.Context, user types.User, delta types.StatDelta) error {
	txn := b.db.Txn(true)
	defer txn.Abort()

	record := &journalRecord{
		ID:        xid.New().String(),
		UserID:    user.ID(),
		Delta:     delta,
		WrittenAt: time.Now(),
	}
	if err := txn.Insert(tblJournal, record); err != nil {
		return fmt.Errorf("insert journal of %s: %w", user.ID(), err)
	}

	txn.Commit()
	return nil
}

// Journal returns the journaled deltas of the given user in write order.
func (b *Backend) Journal(_ context.Context, userID string) ([]types.StatDelta, error) {
	txn := b.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tblJournal, "user_id", userID)
	if err != nil {
		return nil, fmt.Errorf("find journal of %s: %w", userID, err)
	}

	var records []*journalRecord
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		records = append(records, raw.(*journalRecord))
	}
	// xid encodes the creation time, so the id order is the write order.
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})

	deltas := make([]types.StatDelta, 0, len(records))
	for _, record := range records {
		deltas = append(deltas, record.Delta)
	}
	return deltas, nil
}

func (b *Backend) transportErr() error {
	if b.unavailable.Load() {
		return service.NewTransportError(503, "service unavailable")
	}
	return nil
}

// pageStart resolves the index the page begins at. A continuation token
// wins over SkipToMe, which wins over SkipToRank.
func (b *Backend) pageStart(callerID string, query types.LeaderboardQuery, rows []boardRow) (int, error) {
	if query.ContinuationToken != "" {
		start, ok := b.loadCursor(query.ContinuationToken)
		if !ok {
			return 0, service.NewTransportError(400, "unknown continuation token")
		}
		return start, nil
	}

	if query.SkipToMe {
		for i, row := range rows {
			if row.userID == callerID {
				return i, nil
			}
		}
		return len(rows), nil
	}

	if query.SkipToRank > 0 {
		return int(query.SkipToRank) - 1, nil
	}
	return 0, nil
}

func (b *Backend) storeCursor(offset int) string {
	token := xid.New().String()
	b.cursors.Add(token, offset, cursorTTL)
	return token
}

func (b *Backend) loadCursor(token string) (int, bool) {
	return b.cursors.Get(token)
}

func statID(userID string, name string) string {
	return userID + "/" + name
}

type boardRow struct {
	userID string
	value  types.StatValue
}

// rankLess orders rows for the given direction. Numeric rows rank ahead of
// textual ones when a stat mixes types across users; ties break by user id.
func rankLess(a, b boardRow, order types.SortOrder) bool {
	aType, bType := a.value.Type(), b.value.Type()
	if aType != bType {
		return aType == types.TypeNumber
	}

	var less, equal bool
	if aType == types.TypeString {
		less = a.value.AsString() < b.value.AsString()
		equal = a.value.AsString() == b.value.AsString()
	} else {
		less = a.value.AsNumber() < b.value.AsNumber()
		equal = a.value.AsNumber() == b.value.AsNumber()
	}

	if equal {
		return a.userID < b.userID
	}
	if order == types.Ascending {
		return less
	}
	return !less
}

type presenceClient struct {
	backend *Backend
	user    types.User
}

func (c *presenceClient) SetPresence(ctx context.Context, active bool) (time.Duration, error) {
	return c.backend.SetPresence(ctx, c.user.ID(), active)
}

type statsClient struct {
	backend *Backend
	user    types.User
}

func (c *statsClient) Load(ctx context.Context) (map[string]types.StatValue, error) {
	return c.backend.LoadStats(ctx, c.user.ID())
}

func (c *statsClient) Flush(ctx context.Context, delta types.StatDelta) (time.Duration, error) {
	return c.backend.ApplyDelta(ctx, c.user.ID(), delta)
}

type leaderboardClient struct {
	backend *Backend
	user    types.User
}

func (c *leaderboardClient) Query(ctx context.Context, query types.LeaderboardQuery) (*types.LeaderboardResult, error) {
	return c.backend.QueryLeaderboard(ctx, c.user.ID(), query)
}
