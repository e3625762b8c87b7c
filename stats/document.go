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

// Package stats mirrors the per-user stat documents of the title locally
// and reconciles them with the title service in the background.
package stats

import (
	"errors"
	"fmt"
	"sort"

	"github.com/titlekit-team/titlekit/api/types"
	"github.com/titlekit-team/titlekit/internal/validation"
)

var (
	// ErrStatNotFound is returned when the given stat does not exist in the
	// local document.
	ErrStatNotFound = errors.New("stat not found")

	// ErrTypeMismatch is returned when a write does not match the type the
	// stat was created with. The stored value is left untouched.
	ErrTypeMismatch = errors.New("stat type mismatch")

	// ErrValueTooLong is returned when a string value exceeds
	// types.MaxStatStringLen characters.
	ErrValueTooLong = errors.New("stat value too long")

	// ErrStatNameInvalid is returned when a stat name is empty, exceeds
	// types.MaxStatNameLen characters, or breaks the service naming rules.
	ErrStatNameInvalid = errors.New("stat name invalid")
)

// LoadState represents how far a Document has caught up with its
// server-side counterpart.
type LoadState int

const (
	// StateNotLoaded means the server-side document has not been fetched.
	StateNotLoaded LoadState = iota

	// StateLoaded means a server snapshot has been merged into the document.
	StateLoaded

	// StateOffline means the fetch failed; the document keeps working from
	// local writes until a later load succeeds.
	StateOffline
)

type entry struct {
	value   types.StatValue
	dirty   bool
	version uint64
}

// Document is the local mirror of one user's stats. Writes land here
// synchronously and are pushed to the title service by the Manager's flush
// paths.
//
// A Document is not safe for concurrent use. The Manager serializes access
// to it under its own mutex.
type Document struct {
	entries map[string]*entry
	removed map[string]struct{}
	state   LoadState

	// version counts writes. Snapshot records it per entry so Commit can
	// tell flushed values from ones overwritten while the flush was in
	// flight.
	version uint64
}

// NewDocument creates a new Document.
func NewDocument() *Document {
	return &Document{
		entries: make(map[string]*entry),
		removed: make(map[string]struct{}),
	}
}

// SetNumber writes a numeric stat.
func (d *Document) SetNumber(name string, value float64) error {
	return d.set(name, types.Number(value))
}

// SetInteger writes an integer stat. The value is stored as a number and
// read back with AsInteger.
func (d *Document) SetInteger(name string, value int64) error {
	return d.set(name, types.Integer(value))
}

// SetString writes a textual stat.
func (d *Document) SetString(name string, value string) error {
	if err := validation.ValidateStatString(value); err != nil {
		return fmt.Errorf("stat %q: %w", name, ErrValueTooLong)
	}
	return d.set(name, types.String(value))
}

func (d *Document) set(name string, value types.StatValue) error {
	if err := validation.ValidateStatName(name); err != nil {
		return fmt.Errorf("stat name %q: %w", name, ErrStatNameInvalid)
	}

	if prev, ok := d.entries[name]; ok {
		if prev.value.Type() != value.Type() {
			return fmt.Errorf("stat %q holds a %s: %w", name, prev.value.Type(), ErrTypeMismatch)
		}
		d.version++
		prev.value = value
		prev.dirty = true
		prev.version = d.version
		return nil
	}

	d.version++
	d.entries[name] = &entry{value: value, dirty: true, version: d.version}

	// A pending deletion of the same name is superseded by the new write.
	delete(d.removed, name)
	return nil
}

// Value returns the current value of the given stat.
func (d *Document) Value(name string) (types.StatValue, error) {
	ent, ok := d.entries[name]
	if !ok {
		return types.StatValue{}, fmt.Errorf("stat %q: %w", name, ErrStatNotFound)
	}
	return ent.value, nil
}

// Names returns the names of all stats in the document in sorted order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete removes the given stat locally and schedules its deletion on the
// service at the next flush.
func (d *Document) Delete(name string) error {
	if _, ok := d.entries[name]; !ok {
		return fmt.Errorf("stat %q: %w", name, ErrStatNotFound)
	}

	delete(d.entries, name)
	d.removed[name] = struct{}{}
	return nil
}

// Len returns the number of stats in the document.
func (d *Document) Len() int {
	return len(d.entries)
}

// IsDirty reports whether the document carries changes not yet flushed.
func (d *Document) IsDirty() bool {
	if len(d.removed) > 0 {
		return true
	}
	for _, ent := range d.entries {
		if ent.dirty {
			return true
		}
	}
	return false
}

// State returns the load state of the document.
func (d *Document) State() LoadState {
	return d.state
}

// Merge folds a server-side snapshot into the document. Entries with
// unflushed local changes win over their server versions; everything else
// is adopted clean. Deletions not yet flushed stay deletions.
func (d *Document) Merge(snapshot map[string]types.StatValue) {
	for name, value := range snapshot {
		if _, ok := d.removed[name]; ok {
			continue
		}
		if ent, ok := d.entries[name]; ok && ent.dirty {
			continue
		}

		d.version++
		d.entries[name] = &entry{value: value, version: d.version}
	}
	d.state = StateLoaded
}

// MarkOffline records that a load failed. The state flips back to loaded
// once a later load succeeds.
func (d *Document) MarkOffline() {
	if d.state != StateLoaded {
		d.state = StateOffline
	}
}

// Snapshot captures the pending changes as a delta to flush, together with
// the entry versions the delta was taken at.
func (d *Document) Snapshot() (types.StatDelta, map[string]uint64) {
	delta := types.StatDelta{}
	versions := make(map[string]uint64)

	for name, ent := range d.entries {
		if !ent.dirty {
			continue
		}
		if delta.Values == nil {
			delta.Values = make(map[string]types.StatValue)
		}
		delta.Values[name] = ent.value
		versions[name] = ent.version
	}

	for name := range d.removed {
		delta.Deleted = append(delta.Deleted, name)
	}
	sort.Strings(delta.Deleted)

	return delta, versions
}

// Commit marks the changes captured at the given versions as flushed.
// Entries written again since their snapshot stay dirty and ride the next
// flush.
func (d *Document) Commit(delta types.StatDelta, versions map[string]uint64) {
	for name, version := range versions {
		ent, ok := d.entries[name]
		if !ok || ent.version != version {
			continue
		}
		ent.dirty = false
	}

	for _, name := range delta.Deleted {
		if _, ok := d.entries[name]; ok {
			// Re-created since the snapshot; the pending write keeps it alive.
			continue
		}
		delete(d.removed, name)
	}
}
