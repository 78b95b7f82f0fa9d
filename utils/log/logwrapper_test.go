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

package log

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStandardLogger(t *testing.T) {
	Convey("standard logger wrapper", t, func() {
		var buf bytes.Buffer
		SetOutput(&buf)
		defer SetOutput(logrus.StandardLogger().Out)

		SetStringLevel("debug", InfoLevel)
		So(GetLevel(), ShouldEqual, DebugLevel)
		SetStringLevel("not-a-level", InfoLevel)
		So(GetLevel(), ShouldEqual, InfoLevel)

		SetStringFormat("json")
		WithFields(Fields{"id": "1"}).WithError(errors.New("boom")).Error("apply failed")
		So(buf.String(), ShouldContainSubstring, `"id":"1"`)
		So(buf.String(), ShouldContainSubstring, `"error":"boom"`)
		So(buf.String(), ShouldContainSubstring, `"caller"`)

		buf.Reset()
		Debug("hidden")
		So(buf.Len(), ShouldEqual, 0)

		SetStringFormat("text")
		WithField("block", 10).Info("advanced")
		So(buf.String(), ShouldContainSubstring, "block=10")

		buf.Reset()
		SetStringFormat("none")
		Warning("discarded")
		So(buf.Len(), ShouldEqual, 0)
		SetStringFormat("text")
	})
}

func TestNilFormatter(t *testing.T) {
	Convey("nil formatter discards entries", t, func() {
		n := NilFormatter{}
		b, err := n.Format(&logrus.Entry{})
		So(b, ShouldBeNil)
		So(err, ShouldBeNil)
	})
}
