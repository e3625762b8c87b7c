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

package cache_test

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"

	"github.com/titlekit-team/titlekit/pkg/cache"
)

func TestCache(t *testing.T) {
	t.Run("create cache test", func(t *testing.T) {
		lruCache, err := cache.New[string](1)
		assert.NoError(t, err)
		assert.NotNil(t, lruCache)

		lruCache, err = cache.New[string](0)
		assert.ErrorIs(t, err, cache.ErrInvalidMaxSize)
		assert.Nil(t, lruCache)
	})

	t.Run("evict oldest entry test", func(t *testing.T) {
		lruCache, err := cache.New[string](1)
		assert.NoError(t, err)

		lruCache.Add("request1", "response1", time.Minute)
		response1, ok := lruCache.Get("request1")
		assert.True(t, ok)
		assert.Equal(t, "response1", response1)

		lruCache.Add("request2", "response2", time.Minute)
		response2, ok := lruCache.Get("request2")
		assert.True(t, ok)
		assert.Equal(t, "response2", response2)

		// max size of the current cache is 1
		response1, ok = lruCache.Get("request1")
		assert.False(t, ok)
		assert.Empty(t, response1)
		assert.Equal(t, 1, lruCache.Len())
	})

	t.Run("expire entry test", func(t *testing.T) {
		mock := clock.NewMock()
		lruCache, err := cache.NewWithClock[string](4, mock)
		assert.NoError(t, err)

		lruCache.Add("request", "response", time.Minute)

		mock.Add(30 * time.Second)
		response, ok := lruCache.Get("request")
		assert.True(t, ok)
		assert.Equal(t, "response", response)

		mock.Add(time.Minute)
		response, ok = lruCache.Get("request")
		assert.False(t, ok)
		assert.Empty(t, response)
		assert.Zero(t, lruCache.Len())
	})

	t.Run("replace restarts expiry test", func(t *testing.T) {
		mock := clock.NewMock()
		lruCache, err := cache.NewWithClock[string](4, mock)
		assert.NoError(t, err)

		lruCache.Add("request", "response1", time.Minute)
		mock.Add(30 * time.Second)
		lruCache.Add("request", "response2", time.Minute)

		// The first TTL would have expired here; the replacement holds.
		mock.Add(45 * time.Second)
		response, ok := lruCache.Get("request")
		assert.True(t, ok)
		assert.Equal(t, "response2", response)
	})
}
