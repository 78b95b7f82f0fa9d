/*
 * Copyright 2019 The CovenantSQL Authors.
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

package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
)

const (
	sourceDirect = "direct"

	reasonMalformed   = "malformed"
	reasonRemoved     = "removed"
	reasonUnsupported = "unsupported"
	reasonStore       = "store"
	reasonGateway     = "gateway"
)

var (
	appliedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creditsync",
		Subsystem: "reconcile",
		Name:      "applied_events_total",
		Help:      "Credit events applied to the projection.",
	}, []string{"kind", "source"})
	failedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creditsync",
		Subsystem: "reconcile",
		Name:      "failed_events_total",
		Help:      "Notifications or events which could not be applied.",
	}, []string{"reason"})
	duplicateEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creditsync",
		Subsystem: "reconcile",
		Name:      "duplicate_events_total",
		Help:      "Events which were already reflected in the projection.",
	}, []string{"kind"})
	cursorBlock = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "creditsync",
		Subsystem: "reconcile",
		Name:      "cursor_block",
		Help:      "Highest ledger block fully synchronized.",
	})
	backfillSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "creditsync",
		Subsystem: "reconcile",
		Name:      "backfill_duration_seconds",
		Help:      "Duration of backfill passes.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		version.NewCollector("creditsync"),
		appliedEvents,
		failedEvents,
		duplicateEvents,
		cursorBlock,
		backfillSeconds,
	)
}
