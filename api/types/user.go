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

// Package types provides the value types shared between the SDK surface and
// the title service clients.
package types

// User is an opaque handle to a signed-in user of the title. Hosts that keep
// their own account objects can implement it directly; UserOf wraps a raw
// identifier otherwise. The identifier must be stable for the lifetime of
// the session.
type User interface {
	// ID returns the stable identifier of the user.
	ID() string
}

type userID string

// ID implements the User interface.
func (u userID) ID() string {
	return string(u)
}

// UserOf returns a User backed by the given raw identifier.
func UserOf(id string) User {
	return userID(id)
}
