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

// Package profiling provides a profiling server exposing the metrics of a
// running titlekit instance.
package profiling

import (
	"errors"
	"fmt"
)

const (
	minPort = 1
	maxPort = 65535
)

// ErrInvalidProfilingPort occurs when the port in the config is out of range.
var ErrInvalidProfilingPort = errors.New("invalid profiling port")

// Config is the configuration for creating a Server instance.
type Config struct {
	Port        int  `yaml:"Port"`
	EnablePprof bool `yaml:"EnablePprof"`
}

// Validate checks that the port is usable.
func (c *Config) Validate() error {
	if c.Port < minPort || maxPort < c.Port {
		return fmt.Errorf("port must be between %d and %d, given %d: %w",
			minPort, maxPort, c.Port, ErrInvalidProfilingPort)
	}

	return nil
}
