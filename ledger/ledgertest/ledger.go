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

// Package ledgertest provides an in-memory registry ledger for tests.
package ledgertest

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/types"
)

const (
	// BaseTime is the timestamp of block zero.
	BaseTime int64 = 1560000000
	// BlockInterval is the seconds between two blocks.
	BlockInterval int64 = 12

	subscriberBuffer = 1024
)

var (
	// ContractAddress is the registry address of the in-memory ledger.
	ContractAddress = common.HexToAddress("0x00000000000000000000000000000000000c0ffe")
	// SignerAddress is the submitting account of the in-memory ledger.
	SignerAddress = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

type record struct {
	view  ledger.RecordView
	owner common.Address
}

type subscriber struct {
	kind     types.EventKind
	notifyCh chan *ledger.RawNotification
	errCh    chan error
	once     sync.Once
	l        *Ledger
}

// Ledger is a deterministic registry ledger living in memory.
type Ledger struct {
	codec *ledger.Codec

	mu          sync.Mutex
	head        uint64
	nextID      int64
	records     map[string]*record
	logs        []ethtypes.Log
	subscribers map[*subscriber]struct{}
	dropLive    bool
	failQueries bool
	failSubmits bool

	submits    int32
	subscribes int32
}

// New returns an empty ledger with head block zero.
func New() *Ledger {
	codec, err := ledger.NewCodec()
	if err != nil {
		panic(err)
	}
	return &Ledger{
		codec:       codec,
		nextID:      1,
		records:     make(map[string]*record),
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Codec returns the codec of emitted logs.
func (l *Ledger) Codec() *ledger.Codec {
	return l.codec
}

// BlockTime returns the timestamp of block number.
func BlockTime(number uint64) int64 {
	return BaseTime + int64(number)*BlockInterval
}

// Mine advances the head by n empty blocks.
func (l *Ledger) Mine(n uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head += n
	return l.head
}

// DropLive makes the ledger stop delivering live notifications while on is set.
func (l *Ledger) DropLive(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropLive = on
}

// FailQueries makes historical queries fail while on is set.
func (l *Ledger) FailQueries(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failQueries = on
}

// FailSubmits makes submissions fail as retryable while on is set.
func (l *Ledger) FailSubmits(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSubmits = on
}

// SubmitCount returns the number of Submit invocations.
func (l *Ledger) SubmitCount() int {
	return int(atomic.LoadInt32(&l.submits))
}

// SubscribeCount returns the number of successful SubscribeLive invocations.
func (l *Ledger) SubscribeCount() int {
	return int(atomic.LoadInt32(&l.subscribes))
}

// Subscribers returns the number of open live subscriptions.
func (l *Ledger) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subscribers)
}

// BreakSubscriptions fails every open live subscription.
func (l *Ledger) BreakSubscriptions() {
	l.mu.Lock()
	subs := make([]*subscriber, 0, len(l.subscribers))
	for s := range l.subscribers {
		subs = append(subs, s)
		delete(l.subscribers, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		s.errCh <- errors.Wrap(ledger.ErrGatewayUnavailable, "subscription broken")
	}
}

// InjectLive pushes an arbitrary notification to live subscribers of its kind.
func (l *Ledger) InjectLive(n *ledger.RawNotification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publishLocked(n)
}

// Issue appends an issuance at the next block without going through Submit.
func (l *Ledger) Issue(to common.Address, projectID, location, verificationID string) (tokenID string, txHash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, _ := l.issueLocked(to, projectID, location, verificationID)
	return r.Notifications[0].Args["tokenId"].(*big.Int).String(), r.TxHash
}

// Retire appends a retirement at the next block without going through Submit.
func (l *Ledger) Retire(tokenID string, by common.Address) (txHash string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, err := l.retireLocked(tokenID, by)
	if err != nil {
		return
	}
	txHash = r.TxHash
	return
}

// Submit implements ledger.Gateway.Submit.
func (l *Ledger) Submit(ctx context.Context, call ledger.Call) (r *ledger.Receipt, err error) {
	atomic.AddInt32(&l.submits, 1)

	if err = ctx.Err(); err != nil {
		err = &ledger.SubmissionError{Retryable: true, Err: err}
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failSubmits {
		err = &ledger.SubmissionError{Retryable: true, Err: ledger.ErrGatewayUnavailable}
		return
	}

	switch c := call.(type) {
	case *ledger.IssueCall:
		if !common.IsHexAddress(c.To) {
			err = &ledger.SubmissionError{Err: errors.Errorf("invalid recipient address %q", c.To)}
			return
		}
		return l.issueLocked(common.HexToAddress(c.To), c.ProjectID, c.Location, c.VerificationID)
	case *ledger.RetireCall:
		if r, err = l.retireLocked(c.TokenID, SignerAddress); err != nil {
			err = &ledger.SubmissionError{Err: err}
		}
		return
	default:
		err = &ledger.SubmissionError{Err: ledger.ErrUnknownCall}
		return
	}
}

func (l *Ledger) issueLocked(to common.Address, projectID, location, verificationID string) (
	r *ledger.Receipt, err error) {
	id := big.NewInt(l.nextID)
	l.nextID++

	block := l.nextBlockLocked()
	lg, err := l.codec.PackIssued(ContractAddress, id, to, projectID, location, verificationID)
	if err != nil {
		return
	}

	l.records[id.String()] = &record{
		owner: to,
		view: ledger.RecordView{
			TokenID:        id.String(),
			Owner:          to.Hex(),
			ProjectID:      projectID,
			Location:       location,
			VerificationID: verificationID,
			IssuedAt:       BlockTime(block),
		},
	}

	return l.commitLocked(block, lg), nil
}

func (l *Ledger) retireLocked(tokenID string, by common.Address) (r *ledger.Receipt, err error) {
	id, err := ledger.ParseTokenID(tokenID)
	if err != nil {
		return
	}
	rec, ok := l.records[id.String()]
	if !ok {
		err = errors.Wrapf(ledger.ErrTxReverted, "credit %s does not exist", id)
		return
	}
	if rec.view.Retired {
		err = errors.Wrapf(ledger.ErrTxReverted, "credit %s already retired", id)
		return
	}
	rec.view.Retired = true

	block := l.nextBlockLocked()
	return l.commitLocked(block, l.codec.PackRetired(ContractAddress, id, by)), nil
}

func (l *Ledger) nextBlockLocked() uint64 {
	l.head++
	return l.head
}

func (l *Ledger) commitLocked(block uint64, lg *ethtypes.Log) *ledger.Receipt {
	lg.BlockNumber = block
	lg.TxHash = common.BytesToHash(ethcrypto.Keccak256(
		new(big.Int).SetUint64(block).Bytes(), lg.Data, lg.Topics[1].Bytes()))
	lg.Index = uint(len(l.logs))
	l.logs = append(l.logs, *lg)

	receiptLog := *lg
	r := &ledger.Receipt{
		TxHash:      lg.TxHash.Hex(),
		From:        SignerAddress.Hex(),
		BlockNumber: block,
		Notifications: []*ledger.RawNotification{
			l.notification(ledger.ChannelReceipt, &receiptLog),
		},
	}
	// receipt notifications carry decoded args like the historical channel
	if kind, args, err := l.codec.UnpackLog(&receiptLog); err == nil {
		r.Notifications[0].Kind = kind
		r.Notifications[0].Args = args
	}

	if !l.dropLive {
		liveLog := *lg
		l.publishLocked(l.notification(ledger.ChannelLive, &liveLog))
	}

	return r
}

func (l *Ledger) notification(ch ledger.Channel, lg *ethtypes.Log) *ledger.RawNotification {
	return &ledger.RawNotification{
		Kind:        l.codec.KindOf(lg),
		Channel:     ch,
		Log:         lg,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		BlockTime:   BlockTime(lg.BlockNumber),
	}
}

func (l *Ledger) publishLocked(n *ledger.RawNotification) {
	for s := range l.subscribers {
		if s.kind != n.Kind {
			continue
		}
		select {
		case s.notifyCh <- n:
		default:
		}
	}
}

// QueryHistorical implements ledger.Gateway.QueryHistorical.
func (l *Ledger) QueryHistorical(ctx context.Context, kind types.EventKind, from, to uint64) (
	notifications []*ledger.RawNotification, err error) {
	if err = ctx.Err(); err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failQueries {
		err = errors.Wrapf(ledger.ErrGatewayUnavailable, "query %s [%d, %d]", kind, from, to)
		return
	}

	for i := range l.logs {
		lg := l.logs[i]
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		k, args, uerr := l.codec.UnpackLog(&lg)
		if uerr != nil || k != kind {
			continue
		}
		notifications = append(notifications, &ledger.RawNotification{
			Kind:        kind,
			Channel:     ledger.ChannelHistorical,
			Args:        args,
			TxHash:      lg.TxHash.Hex(),
			BlockNumber: lg.BlockNumber,
			LogIndex:    lg.Index,
			BlockTime:   BlockTime(lg.BlockNumber),
		})
	}

	return
}

// SubscribeLive implements ledger.Gateway.SubscribeLive.
func (l *Ledger) SubscribeLive(ctx context.Context, kind types.EventKind) (s ledger.Subscription, err error) {
	if err = ctx.Err(); err != nil {
		return
	}

	sub := &subscriber{
		kind:     kind,
		notifyCh: make(chan *ledger.RawNotification, subscriberBuffer),
		errCh:    make(chan error, 1),
		l:        l,
	}

	l.mu.Lock()
	l.subscribers[sub] = struct{}{}
	l.mu.Unlock()

	atomic.AddInt32(&l.subscribes, 1)
	return sub, nil
}

// ReadRecord implements ledger.Gateway.ReadRecord.
func (l *Ledger) ReadRecord(ctx context.Context, tokenID string) (v *ledger.RecordView, err error) {
	id, err := ledger.ParseTokenID(tokenID)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failQueries {
		err = errors.Wrapf(ledger.ErrGatewayUnavailable, "read credit %s", tokenID)
		return
	}

	rec, ok := l.records[id.String()]
	if !ok {
		err = errors.Wrapf(ledger.ErrRecordNotFound, "credit %s", tokenID)
		return
	}
	view := rec.view
	return &view, nil
}

// HeadBlock implements ledger.Gateway.HeadBlock.
func (l *Ledger) HeadBlock(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failQueries {
		return 0, errors.Wrap(ledger.ErrGatewayUnavailable, "fetch head block")
	}
	return l.head, nil
}

// Status implements ledger.Gateway.Status.
func (l *Ledger) Status(ctx context.Context) (*ledger.Status, error) {
	head, err := l.HeadBlock(ctx)
	if err != nil {
		return nil, err
	}
	return &ledger.Status{
		ChainID:       "1337",
		HeadBlock:     head,
		Contract:      ContractAddress.Hex(),
		Signer:        SignerAddress.Hex(),
		SignerBalance: "1000000000000000000",
	}, nil
}

// Close implements ledger.Gateway.Close.
func (l *Ledger) Close() {
	l.mu.Lock()
	subs := l.subscribers
	l.subscribers = make(map[*subscriber]struct{})
	l.mu.Unlock()

	for s := range subs {
		s.Unsubscribe()
	}
}

func (s *subscriber) Notifications() <-chan *ledger.RawNotification {
	return s.notifyCh
}

func (s *subscriber) Err() <-chan error {
	return s.errCh
}

func (s *subscriber) Unsubscribe() {
	s.once.Do(func() {
		s.l.mu.Lock()
		delete(s.l.subscribers, s)
		s.l.mu.Unlock()
	})
}
