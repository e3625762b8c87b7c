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

package memory

import "github.com/hashicorp/go-memdb"

var (
	tblStats       = "stats"
	tblPresences   = "presences"
	tblMemberships = "memberships"
	tblJournal     = "journal"
)

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblStats: {
			Name: tblStats,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"user_id": {
					Name:    "user_id",
					Indexer: &memdb.StringFieldIndex{Field: "UserID"},
				},
				"name": {
					Name:    "name",
					Indexer: &memdb.StringFieldIndex{Field: "Name"},
				},
			},
		},
		tblPresences: {
			Name: tblPresences,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "UserID"},
				},
			},
		},
		tblMemberships: {
			Name: tblMemberships,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"group": {
					Name:    "group",
					Indexer: &memdb.StringFieldIndex{Field: "Group"},
				},
				"user_id": {
					Name:    "user_id",
					Indexer: &memdb.StringFieldIndex{Field: "UserID"},
				},
			},
		},
		tblJournal: {
			Name: tblJournal,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"user_id": {
					Name:    "user_id",
					Indexer: &memdb.StringFieldIndex{Field: "UserID"},
				},
			},
		},
	},
}
