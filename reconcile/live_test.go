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
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/types"
)

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestLiveSubscription(t *testing.T) {
	Convey("Given a running live loop", t, func() {
		f, err := newFixture(Config{ReconnectDelay: 10 * time.Millisecond})
		So(err, ShouldBeNil)

		var resubscribed int32
		f.engine.onResubscribe = func() { atomic.AddInt32(&resubscribed, 1) }

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			f.engine.RunLiveSubscription(ctx)
		}()
		Reset(func() {
			cancel()
			<-done
			f.close()
		})

		So(eventually(func() bool { return f.ledger.Subscribers() == 2 }), ShouldBeTrue)

		Convey("Issued and retired credits should be projected", func() {
			id, _ := f.ledger.Issue(alice, "P1", "Delta", "V1")
			_, err := f.ledger.Retire(id, alice)
			So(err, ShouldBeNil)

			So(eventually(func() bool {
				c, err := f.sql.Get(ctx, id)
				return err == nil && c.Retired && c.Owner == alice.Hex()
			}), ShouldBeTrue)
		})
		Convey("Duplicated live notifications should be written once", func() {
			id, tx := f.ledger.Issue(alice, "P1", "", "V1")
			raw, err := f.ledger.QueryHistorical(ctx, types.KindIssued, 0, 10)
			So(err, ShouldBeNil)
			So(raw, ShouldHaveLength, 1)
			So(raw[0].TxHash, ShouldEqual, tx)

			key := types.Position{BlockNumber: raw[0].BlockNumber, TxHash: tx, LogIndex: raw[0].LogIndex}.Key()
			So(eventually(func() bool { return f.engine.recent.Contains(key) }), ShouldBeTrue)
			_, err = f.sql.Get(ctx, id)
			So(err, ShouldBeNil)

			applied := testutil.ToFloat64(appliedEvents.WithLabelValues("Issued", "live"))
			dup := *raw[0]
			dup.Channel = ledger.ChannelLive
			f.ledger.InjectLive(&dup)
			f.ledger.InjectLive(&dup)

			// a malformed notification behind the duplicates marks their consumption
			malformed := testutil.ToFloat64(failedEvents.WithLabelValues(reasonMalformed))
			f.ledger.InjectLive(&ledger.RawNotification{Kind: types.KindIssued, Channel: ledger.ChannelLive})
			So(eventually(func() bool {
				return testutil.ToFloat64(failedEvents.WithLabelValues(reasonMalformed)) == malformed+1
			}), ShouldBeTrue)
			So(testutil.ToFloat64(appliedEvents.WithLabelValues("Issued", "live")), ShouldEqual, applied)

			Convey("but the same log re-included in another block should be applied again", func() {
				reorged := *raw[0]
				reorged.Channel = ledger.ChannelLive
				reorged.BlockNumber++
				f.ledger.InjectLive(&reorged)

				moved := types.Position{BlockNumber: reorged.BlockNumber, TxHash: tx, LogIndex: raw[0].LogIndex}.Key()
				So(moved, ShouldNotEqual, key)
				So(eventually(func() bool { return f.engine.recent.Contains(moved) }), ShouldBeTrue)
				So(testutil.ToFloat64(appliedEvents.WithLabelValues("Issued", "live")), ShouldEqual, applied+1)
			})
		})
		Convey("A broken stream should be resubscribed and followed by a backfill request", func() {
			f.ledger.BreakSubscriptions()
			So(eventually(func() bool { return atomic.LoadInt32(&resubscribed) == 1 }), ShouldBeTrue)
			So(eventually(func() bool { return f.ledger.Subscribers() == 2 }), ShouldBeTrue)
			So(f.ledger.SubscribeCount(), ShouldEqual, 4)

			id, _ := f.ledger.Issue(bob, "P2", "", "V2")
			So(eventually(func() bool {
				_, err := f.sql.Get(ctx, id)
				return err == nil
			}), ShouldBeTrue)
		})
	})
}

func TestSyncer(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("Given a started syncer", t, func() {
		ctx := context.Background()
		f, err := newFixture(Config{
			BackfillInterval: time.Hour,
			ReconnectDelay:   10 * time.Millisecond,
			MaxLookback:      100,
		})
		So(err, ShouldBeNil)

		id, _ := f.ledger.Issue(alice, "P1", "", "V1")
		f.ledger.Mine(9)

		s := NewSyncer(f.engine)
		s.Start()
		Reset(func() {
			s.Stop()
			f.close()
		})

		Convey("The first pass should run at startup", func() {
			So(eventually(func() bool { return s.LastBackfill() != nil }), ShouldBeTrue)
			st := s.LastBackfill()
			So(st.Error, ShouldBeEmpty)
			So(st.Result.Cursor, ShouldEqual, 10)

			c, err := f.sql.Get(ctx, id)
			So(err, ShouldBeNil)
			So(c.Owner, ShouldEqual, alice.Hex())
		})
		Convey("Missed notifications should be recovered after a reconnect", func() {
			So(eventually(func() bool { return s.LastBackfill() != nil && f.ledger.Subscribers() == 2 }), ShouldBeTrue)

			f.ledger.DropLive(true)
			missed, _ := f.ledger.Issue(bob, "P2", "", "V2")
			f.ledger.DropLive(false)
			f.ledger.BreakSubscriptions()

			So(eventually(func() bool {
				_, err := f.sql.Get(ctx, missed)
				return err == nil
			}), ShouldBeTrue)
			So(eventually(func() bool {
				cursor, _, _ := f.engine.Cursor(ctx)
				return cursor == 11
			}), ShouldBeTrue)
		})
		Convey("Explicit passes should not overlap", func() {
			So(eventually(func() bool { return s.LastBackfill() != nil && !s.Running() }), ShouldBeTrue)

			atomic.StoreInt32(&s.running, 1)
			_, err := s.Backfill(ctx, nil, nil)
			So(err, ShouldEqual, ErrBackfillRunning)
			atomic.StoreInt32(&s.running, 0)

			from, to := uint64(0), uint64(5)
			r, err := s.Backfill(ctx, &from, &to)
			So(err, ShouldBeNil)
			So(r.From, ShouldEqual, 0)
			So(r.To, ShouldEqual, 5)
			So(r.Applied, ShouldEqual, 1)
			So(s.LastBackfill().Result, ShouldEqual, r)
		})
		Convey("Triggers should be coalesced", func() {
			for i := 0; i < 10; i++ {
				s.Trigger()
			}
			So(len(s.triggerCh), ShouldBeLessThanOrEqualTo, 1)
		})
	})
}
