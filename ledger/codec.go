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
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/creditsync/types"
)

// RegistryABI is the subset of the BlueCarbonRegistry contract interface used by the synchronizer.
const RegistryABI = `[
	{"type":"function","name":"issueCredit","constant":false,"stateMutability":"nonpayable","inputs":[
		{"name":"to","type":"address"},
		{"name":"projectId","type":"string"},
		{"name":"location","type":"string"},
		{"name":"verificationId","type":"string"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"retire","constant":false,"stateMutability":"nonpayable","inputs":[
		{"name":"tokenId","type":"uint256"}],
	 "outputs":[]},
	{"type":"function","name":"credits","constant":true,"stateMutability":"view","inputs":[
		{"name":"","type":"uint256"}],
	 "outputs":[
		{"name":"projectId","type":"string"},
		{"name":"location","type":"string"},
		{"name":"verificationId","type":"string"},
		{"name":"issuedAt","type":"uint256"},
		{"name":"retired","type":"bool"}]},
	{"type":"function","name":"ownerOf","constant":true,"stateMutability":"view","inputs":[
		{"name":"tokenId","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"CreditIssued","anonymous":false,"inputs":[
		{"name":"tokenId","type":"uint256","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"projectId","type":"string","indexed":false},
		{"name":"location","type":"string","indexed":false},
		{"name":"verificationId","type":"string","indexed":false}]},
	{"type":"event","name":"CreditRetired","anonymous":false,"inputs":[
		{"name":"tokenId","type":"uint256","indexed":true},
		{"name":"retiredBy","type":"address","indexed":true}]}
]`

// creditIssuedData mirrors the non-indexed CreditIssued event arguments.
type creditIssuedData struct {
	ProjectId      string
	Location       string
	VerificationId string
}

// creditTuple mirrors the credits(uint256) call outputs.
type creditTuple struct {
	ProjectId      string
	Location       string
	VerificationId string
	IssuedAt       *big.Int
	Retired        bool
}

// Codec encodes and decodes registry contract events.
type Codec struct {
	abi    abi.ABI
	topics map[common.Hash]types.EventKind
}

// NewCodec parses the registry contract interface.
func NewCodec() (c *Codec, err error) {
	c = &Codec{
		topics: make(map[common.Hash]types.EventKind),
	}
	if c.abi, err = abi.JSON(strings.NewReader(RegistryABI)); err != nil {
		err = errors.Wrap(err, "parse registry abi failed")
		return
	}

	for _, kind := range types.EventKinds {
		ev, ok := c.abi.Events[kind.EventName()]
		if !ok {
			err = errors.Errorf("event %s missing in registry abi", kind.EventName())
			return
		}
		c.topics[ev.Id()] = kind
	}

	return
}

// ABI returns the parsed registry contract interface.
func (c *Codec) ABI() abi.ABI {
	return c.abi
}

// Topic returns the signature topic of the event kind.
func (c *Codec) Topic(kind types.EventKind) common.Hash {
	return c.abi.Events[kind.EventName()].Id()
}

// KindOf returns the event kind of a registry log.
func (c *Codec) KindOf(l *ethtypes.Log) types.EventKind {
	if l == nil || len(l.Topics) == 0 {
		return types.KindUnknown
	}
	return c.topics[l.Topics[0]]
}

// UnpackLog decodes a registry log into its kind and arguments.
func (c *Codec) UnpackLog(l *ethtypes.Log) (kind types.EventKind, args Args, err error) {
	kind = c.KindOf(l)

	switch kind {
	case types.KindIssued:
		if len(l.Topics) != 3 {
			err = errors.Errorf("CreditIssued log with %d topics", len(l.Topics))
			return
		}
		var data creditIssuedData
		if err = c.abi.Unpack(&data, kind.EventName(), l.Data); err != nil {
			err = errors.Wrap(err, "unpack CreditIssued data failed")
			return
		}
		args = Args{
			"tokenId":        new(big.Int).SetBytes(l.Topics[1].Bytes()),
			"to":             common.BytesToAddress(l.Topics[2].Bytes()),
			"projectId":      data.ProjectId,
			"location":       data.Location,
			"verificationId": data.VerificationId,
		}
	case types.KindRetired:
		if len(l.Topics) != 3 {
			err = errors.Errorf("CreditRetired log with %d topics", len(l.Topics))
			return
		}
		args = Args{
			"tokenId":   new(big.Int).SetBytes(l.Topics[1].Bytes()),
			"retiredBy": common.BytesToAddress(l.Topics[2].Bytes()),
		}
	default:
		err = ErrUnknownEvent
	}

	return
}

// PackIssued encodes a CreditIssued log as emitted by the contract at addr.
func (c *Codec) PackIssued(addr common.Address, tokenID *big.Int, to common.Address,
	projectID, location, verificationID string) (l *ethtypes.Log, err error) {
	var data []byte
	ev := c.abi.Events[types.KindIssued.EventName()]
	if data, err = ev.Inputs.NonIndexed().Pack(projectID, location, verificationID); err != nil {
		err = errors.Wrap(err, "pack CreditIssued data failed")
		return
	}

	l = &ethtypes.Log{
		Address: addr,
		Topics:  []common.Hash{ev.Id(), common.BigToHash(tokenID), common.BytesToHash(to.Bytes())},
		Data:    data,
	}
	return
}

// PackRetired encodes a CreditRetired log as emitted by the contract at addr.
func (c *Codec) PackRetired(addr common.Address, tokenID *big.Int, retiredBy common.Address) *ethtypes.Log {
	ev := c.abi.Events[types.KindRetired.EventName()]
	return &ethtypes.Log{
		Address: addr,
		Topics:  []common.Hash{ev.Id(), common.BigToHash(tokenID), common.BytesToHash(retiredBy.Bytes())},
	}
}
