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
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/titlekit-team/titlekit/api/types"
	"github.com/titlekit-team/titlekit/client"
	"github.com/titlekit-team/titlekit/server/profiling"
	"github.com/titlekit-team/titlekit/server/profiling/prometheus"
	"github.com/titlekit-team/titlekit/service/memory"
	"github.com/titlekit-team/titlekit/stats"
)

var (
	flagConfig      string
	flagUsers       int
	flagRounds      int
	flagStatName    string
	flagSocialGroup string
	flagProfiling   bool
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted multi-user session against the in-memory service",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := NewConfig()
			if flagConfig != "" {
				loaded, err := NewConfigFromFile(flagConfig)
				if err != nil {
					return err
				}
				conf = loaded
			}
			if cmd.Flags().Changed("users") {
				conf.Users = flagUsers
			}
			if cmd.Flags().Changed("rounds") {
				conf.Rounds = flagRounds
			}
			if cmd.Flags().Changed("stat") {
				conf.StatName = flagStatName
			}
			if cmd.Flags().Changed("group") {
				conf.SocialGroup = flagSocialGroup
			}
			if err := conf.Validate(); err != nil {
				return err
			}

			return runSimulation(cmd, conf)
		},
	}

	cmd.Flags().StringVarP(&flagConfig, "config", "c", "", "Config file path")
	cmd.Flags().IntVar(&flagUsers, "users", DefaultUsers, "Number of simulated players")
	cmd.Flags().IntVar(&flagRounds, "rounds", DefaultRounds, "Number of played rounds")
	cmd.Flags().StringVar(&flagStatName, "stat", DefaultStatName, "Stat the simulation scores on")
	cmd.Flags().StringVar(&flagSocialGroup, "group", DefaultSocialGroup, "Group half of the players join")
	cmd.Flags().BoolVar(&flagProfiling, "profiling", false, "Expose /metrics and pprof while the simulation runs")
	return cmd
}

// runSimulation plays a full session: users come online, score across a
// few rounds while the mock clock drives the heartbeat loop, then the
// final leaderboard is printed.
func runSimulation(cmd *cobra.Command, conf *Config) error {
	ctx := context.Background()

	backend, err := memory.New(memory.Options{AdvisedInterval: time.Minute})
	if err != nil {
		return err
	}
	defer func() {
		_ = backend.Close()
	}()

	metrics, err := prometheus.NewMetrics()
	if err != nil {
		return err
	}
	if flagProfiling {
		profilingServer := profiling.NewServer(conf.Profiling, metrics)
		if err := profilingServer.Start(); err != nil {
			return err
		}
		defer profilingServer.Shutdown(true)
		cmd.Printf("profiling server listening on :%d\n", conf.Profiling.Port)
	}

	mock := clock.NewMock()
	cli, err := client.New(
		backend,
		client.WithClock(mock),
		client.WithTickInterval(time.Minute),
		client.WithOfflineWriter(backend),
		client.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer func() {
		_ = cli.Close()
	}()

	users := make([]types.User, conf.Users)
	for i := range users {
		users[i] = types.UserOf(fmt.Sprintf("player-%02d", i+1))
		if err := cli.AddLocalUser(users[i]); err != nil {
			return err
		}
		if err := cli.StartWriter(users[i]); err != nil {
			return err
		}
		// Odd players form a social group for the group leaderboard.
		if i%2 == 0 {
			if err := backend.AddToGroup(ctx, conf.SocialGroup, users[i].ID()); err != nil {
				return err
			}
		}
	}

	eventCounts := make(map[stats.EventType]int)
	scores := make(map[string]int64)
	for round := 1; round <= conf.Rounds; round++ {
		for _, user := range users {
			scores[user.ID()] += int64(rand.Intn(100))
			if err := cli.SetStatAsInteger(user, conf.StatName, scores[user.ID()]); err != nil {
				return err
			}
		}

		// One simulated minute per round; the heartbeat loop flushes the
		// dirty stats along with the presence writes.
		mock.Add(time.Minute)
		time.Sleep(50 * time.Millisecond)
		for _, event := range cli.PollEvents() {
			eventCounts[event.Type]++
			if event.Err != nil {
				cmd.PrintErrf("round %d: %s of %s failed: %v\n", round, event.Type, event.User.ID(), event.Err)
			}
		}
	}

	// Push whatever the last round left behind before reading the board.
	for _, user := range users {
		if err := cli.RequestFlush(user, true); err != nil {
			return err
		}
	}
	time.Sleep(100 * time.Millisecond)
	for _, event := range cli.PollEvents() {
		eventCounts[event.Type]++
	}

	if err := printLeaderboard(cmd, backend, conf, ""); err != nil {
		return err
	}
	if err := printLeaderboard(cmd, backend, conf, conf.SocialGroup); err != nil {
		return err
	}
	printEventCounts(cmd, eventCounts)

	for _, user := range users {
		if err := cli.StopWriter(user); err != nil {
			return err
		}
		if err := cli.RemoveLocalUser(user); err != nil {
			return err
		}
	}
	return nil
}

func printLeaderboard(cmd *cobra.Command, backend *memory.Backend, conf *Config, group string) error {
	result, err := backend.QueryLeaderboard(context.Background(), "", types.LeaderboardQuery{
		StatName:    conf.StatName,
		SocialGroup: group,
		MaxItems:    uint32(conf.Users),
	})
	if err != nil {
		return err
	}

	title := fmt.Sprintf("leaderboard %q", conf.StatName)
	if group != "" {
		title = fmt.Sprintf("leaderboard %q of group %q", conf.StatName, group)
	}
	cmd.Printf("%s (%d players)\n", title, result.TotalCount)

	tw := table.NewWriter()
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateFooter = false
	tw.Style().Options.SeparateHeader = false
	tw.Style().Options.SeparateRows = false
	tw.AppendHeader(table.Row{
		"RANK",
		"PLAYER",
		"VALUE",
	})
	for _, row := range result.Rows {
		tw.AppendRow(table.Row{
			row.Rank,
			row.UserID,
			row.Value.Format(),
		})
	}
	cmd.Printf("%s\n", tw.Render())
	return nil
}

func printEventCounts(cmd *cobra.Command, counts map[stats.EventType]int) {
	tw := table.NewWriter()
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateFooter = false
	tw.Style().Options.SeparateHeader = false
	tw.Style().Options.SeparateRows = false
	tw.AppendHeader(table.Row{
		"EVENT",
		"COUNT",
	})
	for _, eventType := range []stats.EventType{
		stats.UserAddedEvent,
		stats.UserRemovedEvent,
		stats.StatUpdateCompleteEvent,
		stats.LeaderboardCompleteEvent,
	} {
		tw.AppendRow(table.Row{
			string(eventType),
			counts[eventType],
		})
	}
	cmd.Printf("%s\n", tw.Render())
}

func init() {
	rootCmd.AddCommand(newSimulateCmd())
}
