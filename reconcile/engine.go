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

// Package reconcile applies credit registry events to the projection and keeps it converged
// with the ledger through live subscriptions and historical backfill.
package reconcile

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/normalizer"
	"github.com/CovenantSQL/creditsync/projection"
	"github.com/CovenantSQL/creditsync/types"
	"github.com/CovenantSQL/creditsync/utils/log"
)

// CursorName is the synchronization cursor of the credit registry stream.
const CursorName = "credits"

const (
	// DefaultMaxLookback is the backfill depth when no position is known.
	DefaultMaxLookback uint64 = 10000
	// DefaultBatchBlocks is the block span of a single historical query.
	DefaultBatchBlocks uint64 = 2000
	// DefaultBackfillInterval is the period of scheduled backfill passes.
	DefaultBackfillInterval = time.Minute
	// DefaultReconnectDelay is the wait before resubscribing a dropped live stream.
	DefaultReconnectDelay = 5 * time.Second
	// DefaultRecentCacheSize is the number of live notification keys remembered.
	DefaultRecentCacheSize = 4096
)

// Config defines the reconciliation options.
type Config struct {
	MaxLookback      uint64
	BatchBlocks      uint64
	Confirmations    uint64
	BackfillInterval time.Duration
	ReconnectDelay   time.Duration
	RecentCacheSize  int
}

func (c *Config) fill() {
	if c.MaxLookback == 0 {
		c.MaxLookback = DefaultMaxLookback
	}
	if c.BatchBlocks == 0 {
		c.BatchBlocks = DefaultBatchBlocks
	}
	if c.BackfillInterval <= 0 {
		c.BackfillInterval = DefaultBackfillInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.RecentCacheSize <= 0 {
		c.RecentCacheSize = DefaultRecentCacheSize
	}
}

// Engine is the single writer path from ledger events to the projection.
type Engine struct {
	cfg        Config
	store      projection.Store
	gateway    ledger.Gateway
	normalizer *normalizer.Normalizer
	recent     *lru.Cache

	onResubscribe func()
}

// NewEngine returns an engine reading from gateway and writing to store.
func NewEngine(cfg Config, store projection.Store, gateway ledger.Gateway, n *normalizer.Normalizer) (
	e *Engine, err error) {
	cfg.fill()

	e = &Engine{
		cfg:        cfg,
		store:      store,
		gateway:    gateway,
		normalizer: n,
	}
	if e.recent, err = lru.New(cfg.RecentCacheSize); err != nil {
		err = errors.Wrap(err, "create recent notification cache failed")
		e = nil
	}
	return
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Normalizer returns the notification normalizer of the engine.
func (e *Engine) Normalizer() *normalizer.Normalizer {
	return e.normalizer
}

// Cursor returns the persisted synchronization position.
func (e *Engine) Cursor(ctx context.Context) (uint64, bool, error) {
	return e.store.Cursor(ctx, CursorName)
}

// ApplyEvent merges ev into the projection, it is idempotent and order tolerant.
func (e *Engine) ApplyEvent(ctx context.Context, ev types.Event) error {
	return e.apply(ctx, ev, sourceDirect)
}

func (e *Engine) apply(ctx context.Context, ev types.Event, source string) (err error) {
	var (
		now       = time.Now().Unix()
		fn        projection.MergeFunc
		duplicate bool
	)

	switch v := ev.(type) {
	case *types.Issued:
		fn = mergeIssued(v, now)
	case *types.Retired:
		fn = mergeRetired(v, now, &duplicate)
	default:
		failedEvents.WithLabelValues(reasonUnsupported).Inc()
		return errors.Wrapf(ErrUnsupportedEventKind, "event %T", ev)
	}

	if _, err = e.store.Merge(ctx, ev.TokenID(), fn); err != nil {
		failedEvents.WithLabelValues(reasonStore).Inc()
		return errors.Wrapf(ErrStoreWriteFailed, "apply %s of credit %s: %v", ev.Kind(), ev.TokenID(), err)
	}

	if duplicate {
		duplicateEvents.WithLabelValues(ev.Kind().String()).Inc()
		log.WithFields(log.Fields{
			"id":     ev.TokenID(),
			"tx":     ev.At().TxHash,
			"source": source,
		}).Debug("credit already retired")
	}
	appliedEvents.WithLabelValues(ev.Kind().String(), source).Inc()

	return
}

// normalize converts raw and records the rejection reason on failure.
func (e *Engine) normalize(raw *ledger.RawNotification) (types.Event, error) {
	ev, err := e.normalizer.Normalize(raw)
	if err != nil {
		if errors.Cause(err) == normalizer.ErrRemovedNotification {
			failedEvents.WithLabelValues(reasonRemoved).Inc()
		} else {
			failedEvents.WithLabelValues(reasonMalformed).Inc()
		}
	}
	return ev, err
}
