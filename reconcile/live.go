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
	"time"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/types"
	"github.com/CovenantSQL/creditsync/utils/log"
)

// RunLiveSubscription consumes live notifications of every credit event kind until ctx is done.
// A dropped stream is resubscribed after the reconnect delay and followed by a backfill request.
func (e *Engine) RunLiveSubscription(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		err := e.consumeLive(ctx, attempt > 0)
		if ctx.Err() != nil {
			return
		}

		log.WithError(err).WithField("attempt", attempt).Warning("live subscription dropped")

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.ReconnectDelay):
		}
	}
}

func (e *Engine) consumeLive(ctx context.Context, resubscribed bool) (err error) {
	subs := make([]ledger.Subscription, 0, len(types.EventKinds))
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	for _, kind := range types.EventKinds {
		var s ledger.Subscription
		if s, err = e.gateway.SubscribeLive(ctx, kind); err != nil {
			return
		}
		subs = append(subs, s)
	}

	if resubscribed && e.onResubscribe != nil {
		// notifications during the outage are only recoverable from history
		e.onResubscribe()
	}

	issued, retired := subs[0], subs[1]
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-issued.Notifications():
			if !ok {
				return errors.Wrap(ledger.ErrGatewayUnavailable, "issued stream closed")
			}
			e.handleLive(ctx, n)
		case n, ok := <-retired.Notifications():
			if !ok {
				return errors.Wrap(ledger.ErrGatewayUnavailable, "retired stream closed")
			}
			e.handleLive(ctx, n)
		case err = <-issued.Err():
			return
		case err = <-retired.Err():
			return
		}
	}
}

func (e *Engine) handleLive(ctx context.Context, n *ledger.RawNotification) {
	ev, err := e.normalize(n)
	if err != nil {
		log.WithError(err).WithField("tx", n.TxHash).Warning("skip live notification")
		return
	}

	key := ev.At().Key()
	if e.recent.Contains(key) {
		log.WithField("key", key).Debug("live notification already applied")
		return
	}

	if err = e.apply(ctx, ev, n.Channel.String()); err != nil {
		log.WithError(err).WithField("id", ev.TokenID()).Error("apply live event failed")
		return
	}
	e.recent.Add(key, struct{}{})
}
