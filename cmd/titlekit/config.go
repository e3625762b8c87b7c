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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/titlekit-team/titlekit/internal/validation"
	"github.com/titlekit-team/titlekit/server/profiling"
)

const (
	// DefaultUsers is the number of simulated players.
	DefaultUsers = 4

	// DefaultRounds is the number of played rounds.
	DefaultRounds = 8

	// DefaultStatName is the stat the simulation scores on.
	DefaultStatName = "score"

	// DefaultSocialGroup is the group half of the players join.
	DefaultSocialGroup = "crew"

	// DefaultProfilingPort is the port of the optional profiling server.
	DefaultProfilingPort = 11102
)

// Config is the configuration of the simulate command.
type Config struct {
	Users       int               `yaml:"Users" validate:"gte=1"`
	Rounds      int               `yaml:"Rounds" validate:"gte=1"`
	StatName    string            `yaml:"StatName" validate:"required,statname,max=63"`
	SocialGroup string            `yaml:"SocialGroup" validate:"required,statname,max=63"`
	Profiling   *profiling.Config `yaml:"Profiling"`
}

// NewConfig returns a Config struct that contains reasonable defaults.
func NewConfig() *Config {
	conf := &Config{}
	conf.ensureDefaultValue()
	return conf
}

// NewConfigFromFile returns a Config struct for the given conf file.
func NewConfigFromFile(path string) (*Config, error) {
	conf := &Config{}
	bytes, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err = yaml.Unmarshal(bytes, conf); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	conf.ensureDefaultValue()
	return conf, nil
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid simulate config: %w", err)
	}
	if err := c.Profiling.Validate(); err != nil {
		return err
	}

	return nil
}

// ensureDefaultValue sets the value of the option to which the default
// value of the option is applied when the user does not input it.
func (c *Config) ensureDefaultValue() {
	if c.Users == 0 {
		c.Users = DefaultUsers
	}
	if c.Rounds == 0 {
		c.Rounds = DefaultRounds
	}
	if c.StatName == "" {
		c.StatName = DefaultStatName
	}
	if c.SocialGroup == "" {
		c.SocialGroup = DefaultSocialGroup
	}
	if c.Profiling == nil {
		c.Profiling = &profiling.Config{}
	}
	if c.Profiling.Port == 0 {
		c.Profiling.Port = DefaultProfilingPort
	}
}
