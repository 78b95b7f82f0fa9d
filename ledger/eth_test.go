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


package ledger

import (
	"context"
	"testing"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type stubSubscription struct {
	errCh chan error
}

func (s *stubSubscription) Unsubscribe() {}

func (s *stubSubscription) Err() <-chan error {
	return s.errCh
}

func newStubLogSubscription() (*logSubscription, *stubSubscription) {
	stub := &stubSubscription{errCh: make(chan error, 1)}
	return &logSubscription{
		notifyCh: make(chan *RawNotification),
		errCh:    make(chan error, 1),
		quit:     make(chan struct{}),
		sub:      stub,
	}, stub
}

func TestLogSubscriptionForward(t *testing.T) {
	Convey("Given a forwarding log subscription", t, func() {
		s, stub := newStubLogSubscription()
		done := make(chan struct{})
		go func() {
			s.forward(context.Background(), nil, make(chan ethtypes.Log))
			close(done)
		}()

		Convey("A dropped stream should be reported as unavailable", func() {
			stub.errCh <- errors.New("connection reset")
			err := <-s.Err()
			So(errors.Cause(err), ShouldEqual, ErrGatewayUnavailable)
			<-done
		})
		Convey("A stream closed with a nil error should be reported as unavailable", func() {
			close(stub.errCh)
			select {
			case err := <-s.Err():
				So(errors.Cause(err), ShouldEqual, ErrGatewayUnavailable)
			case <-time.After(5 * time.Second):
				So("no error reported", ShouldBeEmpty)
			}
			<-done
		})
		Convey("Unsubscribing should stop forwarding silently", func() {
			s.Unsubscribe()
			<-done
			So(len(s.Err()), ShouldEqual, 0)
		})
	})
}
