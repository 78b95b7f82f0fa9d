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

package normalizer

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/types"
)

var (
	contract = common.HexToAddress("0x3333333333333333333333333333333333333333")
	owner    = common.HexToAddress("0x4444444444444444444444444444444444444444")
	txHash   = common.HexToHash("0xabcdef")
)

func TestNormalize(t *testing.T) {
	Convey("Given a normalizer", t, func() {
		codec, err := ledger.NewCodec()
		So(err, ShouldBeNil)
		n := New(codec)

		Convey("Both envelopes of an issuance should produce the same event", func() {
			l, err := codec.PackIssued(contract, big.NewInt(5), owner, "P-1", "Delta", "V-1")
			So(err, ShouldBeNil)
			l.BlockNumber = 120
			l.Index = 3
			l.TxHash = txHash

			fromLog, err := n.Normalize(&ledger.RawNotification{
				Kind:      types.KindIssued,
				Channel:   ledger.ChannelLive,
				Log:       l,
				BlockTime: 1000,
			})
			So(err, ShouldBeNil)

			fromArgs, err := n.Normalize(&ledger.RawNotification{
				Kind:    types.KindIssued,
				Channel: ledger.ChannelHistorical,
				Args: ledger.Args{
					"tokenId":        "5",
					"to":             strings.ToLower(owner.Hex()),
					"projectId":      "P-1",
					"location":       "Delta",
					"verificationId": "V-1",
				},
				TxHash:      txHash.Hex(),
				BlockNumber: 120,
				LogIndex:    3,
				BlockTime:   1000,
			})
			So(err, ShouldBeNil)
			So(fromArgs, ShouldResemble, fromLog)

			ev := fromLog.(*types.Issued)
			So(ev.Kind(), ShouldEqual, types.KindIssued)
			So(ev.TokenID(), ShouldEqual, "5")
			So(ev.Owner, ShouldEqual, owner.Hex())
			So(ev.At().BlockNumber, ShouldEqual, 120)
			So(ev.At().Timestamp, ShouldEqual, 1000)
			So(ev.At().Key(), ShouldEqual, "120:"+txHash.Hex()+":3")
		})
		Convey("Retirements should decode from a log", func() {
			l := codec.PackRetired(contract, big.NewInt(9), owner)
			l.TxHash = txHash
			l.BlockNumber = 7

			ev, err := n.Normalize(&ledger.RawNotification{Kind: types.KindRetired, Log: l})
			So(err, ShouldBeNil)
			So(ev, ShouldResemble, &types.Retired{
				ID:        "9",
				RetiredBy: owner.Hex(),
				Position:  types.Position{BlockNumber: 7, TxHash: txHash.Hex()},
			})
		})
		Convey("Id values of every accepted type should normalize to decimal", func() {
			for _, v := range []interface{}{big.NewInt(11), uint64(11), 11, int64(11), "11", " 11 "} {
				ev, err := n.Normalize(&ledger.RawNotification{
					Kind:   types.KindRetired,
					Args:   ledger.Args{"tokenId": v, "retiredBy": owner},
					TxHash: txHash.Hex(),
				})
				So(err, ShouldBeNil)
				So(ev.TokenID(), ShouldEqual, "11")
			}
		})
		Convey("Location is optional", func() {
			ev, err := n.Normalize(&ledger.RawNotification{
				Kind: types.KindIssued,
				Args: ledger.Args{
					"tokenId": uint64(1), "to": owner, "projectId": "P", "verificationId": "V",
				},
				TxHash: txHash.Hex(),
			})
			So(err, ShouldBeNil)
			So(ev.(*types.Issued).Location, ShouldBeEmpty)
		})
		Convey("Malformed notifications should be rejected", func() {
			cases := []*ledger.RawNotification{
				nil,
				{Kind: types.KindIssued, TxHash: txHash.Hex()},
				{Kind: types.KindUnknown, Args: ledger.Args{"tokenId": "1"}, TxHash: txHash.Hex()},
				{Kind: types.KindRetired, Args: ledger.Args{"tokenId": "1", "retiredBy": owner}},
				{Kind: types.KindRetired, Args: ledger.Args{"tokenId": "x", "retiredBy": owner}, TxHash: "0x1"},
				{Kind: types.KindRetired, Args: ledger.Args{"tokenId": -1, "retiredBy": owner}, TxHash: "0x1"},
				{Kind: types.KindRetired, Args: ledger.Args{"tokenId": "1", "retiredBy": "nobody"}, TxHash: "0x1"},
				{Kind: types.KindRetired, Args: ledger.Args{"tokenId": "1", "retiredBy": common.Address{}}, TxHash: "0x1"},
				{Kind: types.KindRetired, Args: ledger.Args{"tokenId": "1"}, TxHash: "0x1"},
				{Kind: types.KindIssued, Args: ledger.Args{
					"tokenId": "1", "to": owner, "projectId": "", "verificationId": "V"}, TxHash: "0x1"},
				{Kind: types.KindIssued, Args: ledger.Args{
					"tokenId": "1", "to": owner, "projectId": 1, "verificationId": "V"}, TxHash: "0x1"},
				{Kind: types.KindRetired, Log: issuedLog(codec), TxHash: "0x1"},
			}
			for _, raw := range cases {
				ev, err := n.Normalize(raw)
				So(ev, ShouldBeNil)
				So(errors.Cause(err), ShouldEqual, ErrMalformedNotification)
			}
		})
		Convey("Removed logs should be reported separately", func() {
			l := codec.PackRetired(contract, big.NewInt(9), owner)
			l.Removed = true
			_, err := n.Normalize(&ledger.RawNotification{Log: l})
			So(errors.Cause(err), ShouldEqual, ErrRemovedNotification)

			_, err = n.Normalize(&ledger.RawNotification{
				Kind: types.KindRetired, Removed: true, Args: ledger.Args{"tokenId": "1"}})
			So(errors.Cause(err), ShouldEqual, ErrRemovedNotification)
		})
	})
}

func issuedLog(codec *ledger.Codec) *ethtypes.Log {
	l, _ := codec.PackIssued(contract, big.NewInt(1), owner, "P", "L", "V")
	l.TxHash = txHash
	return l
}
