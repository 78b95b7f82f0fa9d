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
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CovenantSQL/creditsync/utils/log"
)

// BackfillStatus records the outcome of the last finished backfill pass.
type BackfillStatus struct {
	Result   *BackfillResult `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Finished int64           `json:"finished"`
}

// Syncer owns the live subscription loop and the scheduled backfill passes of an engine.
type Syncer struct {
	engine    *Engine
	ctx       context.Context
	cancel    context.CancelFunc
	triggerCh chan struct{}
	running   int32
	wg        sync.WaitGroup

	lastLock sync.RWMutex
	last     *BackfillStatus
}

// NewSyncer returns a stopped syncer of engine.
func NewSyncer(engine *Engine) *Syncer {
	s := &Syncer{
		engine:    engine,
		triggerCh: make(chan struct{}, 1),
	}
	engine.onResubscribe = s.Trigger
	return s
}

// Engine returns the reconciliation engine.
func (s *Syncer) Engine() *Engine {
	return s.engine
}

// Start launches the live loop and the backfill schedule, the first pass runs immediately.
func (s *Syncer) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.engine.RunLiveSubscription(s.ctx)
	}()
	go s.run()
}

// Stop cancels both loops and waits for in-flight applies.
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Trigger requests a backfill pass, requests made while one is pending are coalesced.
func (s *Syncer) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Running reports whether a backfill pass is in flight.
func (s *Syncer) Running() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// LastBackfill returns the status of the last finished pass, nil before the first one.
func (s *Syncer) LastBackfill() *BackfillStatus {
	s.lastLock.RLock()
	defer s.lastLock.RUnlock()
	return s.last
}

// Backfill runs an explicit pass over [from, to], to defaults to the latest confirmed block.
func (s *Syncer) Backfill(ctx context.Context, from, to *uint64) (r *BackfillResult, err error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil, ErrBackfillRunning
	}
	defer atomic.StoreInt32(&s.running, 0)

	if to == nil {
		var head uint64
		if head, err = s.engine.gateway.HeadBlock(ctx); err != nil {
			return
		}
		end := uint64(0)
		if head > s.engine.cfg.Confirmations {
			end = head - s.engine.cfg.Confirmations
		}
		to = &end
	}

	r, err = s.engine.RunBackfill(ctx, from, *to)
	s.record(r, err)
	return
}

func (s *Syncer) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.engine.cfg.BackfillInterval)
	defer ticker.Stop()

	s.scheduled()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.scheduled()
		case <-s.triggerCh:
			s.scheduled()
		}
	}
}

func (s *Syncer) scheduled() {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		log.Debug("backfill in flight, scheduled pass skipped")
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	r, err := s.engine.BackfillLatest(s.ctx)
	if err != nil && s.ctx.Err() == nil {
		log.WithError(err).Warning("scheduled backfill failed, retry at next run")
	}
	s.record(r, err)
}

func (s *Syncer) record(r *BackfillResult, err error) {
	st := &BackfillStatus{
		Result:   r,
		Finished: time.Now().Unix(),
	}
	if err != nil {
		st.Error = err.Error()
	}

	s.lastLock.Lock()
	defer s.lastLock.Unlock()
	s.last = st
}
