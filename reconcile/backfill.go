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
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/types"
	"github.com/CovenantSQL/creditsync/utils/log"
)

// BackfillResult summarizes a backfill pass.
type BackfillResult struct {
	From          uint64        `json:"fromBlock"`
	To            uint64        `json:"toBlock"`
	Chunks        int           `json:"chunks"`
	Notifications int           `json:"notifications"`
	Applied       int           `json:"applied"`
	Skipped       int           `json:"skipped"`
	Failed        int           `json:"failed"`
	Cursor        uint64        `json:"cursor"`
	CursorHeld    bool          `json:"cursorHeld"`
	Elapsed       time.Duration `json:"elapsed"`
}

// BackfillLatest backfills up to the latest confirmed block.
func (e *Engine) BackfillLatest(ctx context.Context) (r *BackfillResult, err error) {
	head, err := e.gateway.HeadBlock(ctx)
	if err != nil {
		failedEvents.WithLabelValues(reasonGateway).Inc()
		return
	}
	if head < e.cfg.Confirmations {
		r = &BackfillResult{}
		return
	}
	return e.RunBackfill(ctx, nil, head-e.cfg.Confirmations)
}

// RunBackfill queries the ledger history within [rangeStart, rangeEnd] chunk by chunk and applies it.
//
// Without rangeStart the pass starts after the persisted cursor, else MaxLookback blocks before
// rangeEnd, or earlier when the projection already holds records older than that window. The cursor advances after each chunk until
// a chunk hits a store failure, later chunks are still applied but leave the cursor in place.
func (e *Engine) RunBackfill(ctx context.Context, rangeStart *uint64, rangeEnd uint64) (
	r *BackfillResult, err error) {
	begin := time.Now()
	r = &BackfillResult{To: rangeEnd}

	defer func() {
		r.Elapsed = time.Since(begin)
		result := "ok"
		if err != nil {
			result = "error"
		} else if r.CursorHeld {
			result = "held"
		}
		backfillSeconds.WithLabelValues(result).Observe(r.Elapsed.Seconds())
	}()

	cursor, hasCursor, err := e.store.Cursor(ctx, CursorName)
	if err != nil {
		err = errors.Wrapf(ErrStoreWriteFailed, "read cursor: %v", err)
		return
	}
	r.Cursor = cursor

	if rangeStart != nil {
		r.From = *rangeStart
	} else if r.From, err = e.defaultStart(ctx, cursor, hasCursor, rangeEnd); err != nil {
		return
	}

	if r.From > rangeEnd {
		if rangeStart != nil {
			err = errors.Wrapf(ErrInvalidRange, "[%d, %d]", r.From, rangeEnd)
		}
		return
	}

	log.WithFields(log.Fields{"from": r.From, "to": rangeEnd}).Info("backfill started")

	for from := r.From; ; {
		to := from + e.cfg.BatchBlocks - 1
		if to < from || to > rangeEnd {
			to = rangeEnd
		}

		var failed int
		if failed, err = e.backfillChunk(ctx, from, to, r); err != nil {
			log.WithError(err).WithFields(log.Fields{"from": from, "to": to}).Warning("backfill aborted")
			return
		}
		r.Chunks++

		if failed > 0 && !r.CursorHeld {
			r.CursorHeld = true
			log.WithFields(log.Fields{
				"from":   from,
				"to":     to,
				"failed": failed,
			}).Warning("backfill chunk had store failures, cursor held")
		}

		// a chunk past a gap in coverage must not move the cursor over the gap
		contiguous := !hasCursor || (cursor != math.MaxUint64 && from <= cursor+1)
		if !r.CursorHeld && contiguous {
			if cursor, err = e.store.AdvanceCursor(ctx, CursorName, to); err != nil {
				err = errors.Wrapf(ErrStoreWriteFailed, "advance cursor to %d: %v", to, err)
				return
			}
			hasCursor = true
			r.Cursor = cursor
			cursorBlock.Set(float64(cursor))
		}

		if to == rangeEnd {
			break
		}
		from = to + 1
	}

	log.WithFields(log.Fields{
		"from":    r.From,
		"to":      r.To,
		"applied": r.Applied,
		"skipped": r.Skipped,
		"failed":  r.Failed,
		"cursor":  r.Cursor,
	}).Info("backfill finished")

	return
}

func (e *Engine) defaultStart(ctx context.Context, cursor uint64, hasCursor bool, rangeEnd uint64) (
	start uint64, err error) {
	if hasCursor {
		if cursor == math.MaxUint64 {
			return cursor, nil
		}
		return cursor + 1, nil
	}

	start = 0
	if rangeEnd > e.cfg.MaxLookback {
		start = rangeEnd - e.cfg.MaxLookback
	}

	// the highest projected block may widen the window, never narrow it
	derived, ok, err := e.store.MaxBlock(ctx)
	if err != nil {
		err = errors.Wrapf(ErrStoreWriteFailed, "derive cursor: %v", err)
		return
	}
	if ok && derived < start {
		start = derived
	}
	return
}

func (e *Engine) backfillChunk(ctx context.Context, from, to uint64, r *BackfillResult) (failed int, err error) {
	var events []types.Event

	for _, kind := range types.EventKinds {
		var notifications []*ledger.RawNotification
		if notifications, err = e.gateway.QueryHistorical(ctx, kind, from, to); err != nil {
			failedEvents.WithLabelValues(reasonGateway).Inc()
			if errors.Cause(err) != ledger.ErrGatewayUnavailable {
				err = errors.Wrapf(ledger.ErrGatewayUnavailable, "query %s [%d, %d]: %v", kind, from, to, err)
			}
			return
		}
		r.Notifications += len(notifications)

		for _, n := range notifications {
			ev, nerr := e.normalize(n)
			if nerr != nil {
				r.Skipped++
				log.WithError(nerr).WithField("tx", n.TxHash).Warning("skip historical notification")
				continue
			}
			events = append(events, ev)
		}
	}

	sortEvents(events)

	for _, ev := range events {
		if aerr := e.apply(ctx, ev, ledger.ChannelHistorical.String()); aerr != nil {
			failed++
			r.Failed++
			log.WithError(aerr).WithField("id", ev.TokenID()).Error("apply historical event failed")
			continue
		}
		r.Applied++
	}

	return
}

// sortEvents orders events by block, issuance before retirement, then log index.
func sortEvents(events []types.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		pi, pj := events[i].At(), events[j].At()
		if pi.BlockNumber != pj.BlockNumber {
			return pi.BlockNumber < pj.BlockNumber
		}
		if events[i].Kind() != events[j].Kind() {
			return events[i].Kind() < events[j].Kind()
		}
		return pi.LogIndex < pj.LogIndex
	})
}
