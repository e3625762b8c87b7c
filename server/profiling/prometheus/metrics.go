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

// Package prometheus provides a Prometheus metrics exporter.
package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/titlekit-team/titlekit/internal/version"
)

const (
	namespace       = "titlekit"
	sdkVersionLabel = "sdk_version"
	resultLabel     = "result"
	eventTypeLabel  = "event_type"
)

const (
	resultAdmitted = "admitted"
	resultSkipped  = "skipped"
	resultOK       = "ok"
	resultError    = "error"
)

// Metrics manages the metric information that titlekit measures about its
// background synchronization. A nil *Metrics is a valid no-op collector.
type Metrics struct {
	registry *prometheus.Registry

	sdkVersion *prometheus.GaugeVec

	presenceWriteCyclesTotal *prometheus.CounterVec
	presenceWritesTotal      *prometheus.CounterVec
	presenceUsers            prometheus.Gauge
	writerActive             prometheus.Gauge
	heartbeatIntervalSeconds prometheus.Gauge

	statFlushesTotal      *prometheus.CounterVec
	statFlushChangesTotal prometheus.Counter
	statUsers             prometheus.Gauge
	offlineWritesTotal    prometheus.Counter

	eventsEnqueuedTotal *prometheus.CounterVec
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	metrics := &Metrics{
		registry: reg,
		sdkVersion: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sdk",
			Name:      "version",
			Help:      "Which version is running. 1 for 'sdk_version' label with current version.",
		}, []string{sdkVersionLabel}),
		presenceWriteCyclesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "write_cycles_total",
			Help:      "The total number of scheduler write cycles, split by admitted and skipped.",
		}, []string{resultLabel}),
		presenceWritesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "writes_total",
			Help:      "The total number of per-user presence writes, split by outcome.",
		}, []string{resultLabel}),
		presenceUsers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "users",
			Help:      "The number of users the presence writer currently heartbeats for.",
		}),
		writerActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "writer_active",
			Help:      "Whether the scheduler loop is running. 1 while at least one user is registered.",
		}),
		heartbeatIntervalSeconds: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "heartbeat_interval_seconds",
			Help:      "The heartbeat interval chosen by the latest settled write cycle.",
		}),
		statFlushesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "flushes_total",
			Help:      "The total number of stat document flushes, split by outcome.",
		}, []string{resultLabel}),
		statFlushChangesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "flush_changes_total",
			Help:      "The total number of stat changes included in flushed deltas.",
		}),
		statUsers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "users",
			Help:      "The number of users with a registered stat document.",
		}),
		offlineWritesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "offline_writes_total",
			Help:      "The total number of deltas written to the offline journal after transport failures.",
		}),
		eventsEnqueuedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "enqueued_total",
			Help:      "The total number of completion events enqueued for the host.",
		}, []string{eventTypeLabel}),
	}

	metrics.sdkVersion.With(prometheus.Labels{
		sdkVersionLabel: version.Version,
	}).Set(1)

	return metrics, nil
}

// AddAdmittedPresenceCycle adds an admitted scheduler write cycle.
func (m *Metrics) AddAdmittedPresenceCycle() {
	if m == nil {
		return
	}
	m.presenceWriteCyclesTotal.With(prometheus.Labels{resultLabel: resultAdmitted}).Inc()
}

// AddSkippedPresenceCycle adds a write cycle that was skipped because the
// previous one was still in flight.
func (m *Metrics) AddSkippedPresenceCycle() {
	if m == nil {
		return
	}
	m.presenceWriteCyclesTotal.With(prometheus.Labels{resultLabel: resultSkipped}).Inc()
}

// AddPresenceWrites adds the number of per-user presence writes that
// succeeded in a cycle.
func (m *Metrics) AddPresenceWrites(count int) {
	if m == nil {
		return
	}
	m.presenceWritesTotal.With(prometheus.Labels{resultLabel: resultOK}).Add(float64(count))
}

// AddPresenceWriteFailures adds the number of per-user presence writes that
// failed in a cycle.
func (m *Metrics) AddPresenceWriteFailures(count int) {
	if m == nil {
		return
	}
	m.presenceWritesTotal.With(prometheus.Labels{resultLabel: resultError}).Add(float64(count))
}

// SetPresenceUsers sets the number of users the writer heartbeats for.
func (m *Metrics) SetPresenceUsers(count int) {
	if m == nil {
		return
	}
	m.presenceUsers.Set(float64(count))
}

// SetWriterActive sets whether the scheduler loop is running.
func (m *Metrics) SetWriterActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.writerActive.Set(1)
		return
	}
	m.writerActive.Set(0)
}

// SetHeartbeatInterval sets the interval chosen by the latest write cycle.
func (m *Metrics) SetHeartbeatInterval(seconds float64) {
	if m == nil {
		return
	}
	m.heartbeatIntervalSeconds.Set(seconds)
}

// AddStatFlush adds a settled stat document flush.
func (m *Metrics) AddStatFlush(failed bool) {
	if m == nil {
		return
	}
	result := resultOK
	if failed {
		result = resultError
	}
	m.statFlushesTotal.With(prometheus.Labels{resultLabel: result}).Inc()
}

// AddStatFlushChanges adds the number of changes a flushed delta carried.
func (m *Metrics) AddStatFlushChanges(count int) {
	if m == nil {
		return
	}
	m.statFlushChangesTotal.Add(float64(count))
}

// SetStatUsers sets the number of users with a registered stat document.
func (m *Metrics) SetStatUsers(count int) {
	if m == nil {
		return
	}
	m.statUsers.Set(float64(count))
}

// AddOfflineWrite adds a delta journaled after a transport failure.
func (m *Metrics) AddOfflineWrite() {
	if m == nil {
		return
	}
	m.offlineWritesTotal.Inc()
}

// AddEnqueuedEvent adds a completion event enqueued for the host.
func (m *Metrics) AddEnqueuedEvent(eventType string) {
	if m == nil {
		return
	}
	m.eventsEnqueuedTotal.With(prometheus.Labels{eventTypeLabel: eventType}).Inc()
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
