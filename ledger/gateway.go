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
	"math/big"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/CovenantSQL/creditsync/types"
)

// Channel defines the delivery channel of a raw notification.
type Channel int8

const (
	// ChannelLive defines notifications pushed by a live subscription.
	ChannelLive Channel = iota
	// ChannelHistorical defines notifications returned by a block range query.
	ChannelHistorical
	// ChannelReceipt defines notifications extracted from a transaction receipt.
	ChannelReceipt
)

// String implements the Stringer interface.
func (c Channel) String() string {
	switch c {
	case ChannelLive:
		return "live"
	case ChannelHistorical:
		return "historical"
	case ChannelReceipt:
		return "receipt"
	default:
		return "unknown"
	}
}

// Args defines decoded event arguments keyed by their ABI names.
type Args map[string]interface{}

// RawNotification defines a ledger notification as delivered by the gateway.
//
// Live and receipt notifications carry the raw EVM log in Log, historical ones carry
// already decoded arguments in Args with the metadata fields set.
type RawNotification struct {
	Kind    types.EventKind
	Channel Channel

	Log *ethtypes.Log

	Args        Args
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	Removed     bool

	// BlockTime is the block timestamp in epoch seconds, zero if unknown.
	BlockTime int64
}

// Call defines a state-changing registry contract call.
type Call interface {
	Method() string
}

// IssueCall issues a new credit token to an address.
type IssueCall struct {
	To             string
	ProjectID      string
	Location       string
	VerificationID string
}

// Method implements Call.Method.
func (c *IssueCall) Method() string { return "issueCredit" }

// RetireCall retires an existing credit token.
type RetireCall struct {
	TokenID string
}

// Method implements Call.Method.
func (c *RetireCall) Method() string { return "retire" }

// Receipt defines a confirmed call.
type Receipt struct {
	TxHash        string
	From          string
	BlockNumber   uint64
	Notifications []*RawNotification
}

// RecordView defines the current on-ledger state of a credit.
type RecordView struct {
	TokenID        string `json:"tokenId"`
	Owner          string `json:"owner"`
	ProjectID      string `json:"projectId"`
	Location       string `json:"location"`
	VerificationID string `json:"verificationId"`
	IssuedAt       int64  `json:"issuedAt"`
	Retired        bool   `json:"retired"`
}

// Status defines the ledger connection state.
type Status struct {
	ChainID       string `json:"chainId"`
	HeadBlock     uint64 `json:"headBlock"`
	Contract      string `json:"contract"`
	Signer        string `json:"signer"`
	SignerBalance string `json:"signerBalance"`
}

// Subscription defines a live notification stream.
type Subscription interface {
	// Notifications returns the notification channel.
	Notifications() <-chan *RawNotification
	// Err delivers at most one error when the stream breaks.
	Err() <-chan error
	// Unsubscribe stops the stream, it is safe to call multiple times.
	Unsubscribe()
}

// Gateway defines the ledger operations consumed by the synchronizer and the request surface.
type Gateway interface {
	// Submit sends a signed call and blocks until it is mined.
	Submit(ctx context.Context, call Call) (*Receipt, error)
	// QueryHistorical returns the notifications of kind within [from, to].
	QueryHistorical(ctx context.Context, kind types.EventKind, from, to uint64) ([]*RawNotification, error)
	// SubscribeLive opens a best-effort live stream of kind.
	SubscribeLive(ctx context.Context, kind types.EventKind) (Subscription, error)
	// ReadRecord reads the credit state from the ledger.
	ReadRecord(ctx context.Context, tokenID string) (*RecordView, error)
	// HeadBlock returns the latest block number.
	HeadBlock(ctx context.Context) (uint64, error)
	// Status returns the connection state.
	Status(ctx context.Context) (*Status, error)
	// Close releases the connection.
	Close()
}

// ParseTokenID parses a decimal token id, ids must fit the uint256 of the contract.
func ParseTokenID(tokenID string) (id *big.Int, err error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok || id.Sign() < 0 || id.BitLen() > 256 {
		err = ErrInvalidTokenID
		id = nil
	}
	return
}
